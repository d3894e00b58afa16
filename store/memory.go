package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 🧠 内存实现（测试与单机运行）
// =============================================================================

// MemoryCheckpointStore 内存检查点存储。保存与加载都走 JSON 编解码，
// 以保证和持久化后端完全相同的序列化往返语义。
type MemoryCheckpointStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryCheckpointStore 创建内存检查点存储。
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{states: make(map[string][]byte)}
}

// Save 保存线程状态。
func (s *MemoryCheckpointStore) Save(ctx context.Context, state *types.WorkflowState) error {
	if state.ThreadID == "" {
		return fmt.Errorf("checkpoint requires a thread id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ThreadID] = data
	return nil
}

// Load 加载线程状态。
func (s *MemoryCheckpointStore) Load(ctx context.Context, threadID string) (*types.WorkflowState, error) {
	s.mu.RLock()
	data, ok := s.states[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	var state types.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &state, nil
}

// Delete 删除线程检查点。
func (s *MemoryCheckpointStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, threadID)
	return nil
}

// MemoryPreferenceStore 内存偏好存储。
type MemoryPreferenceStore struct {
	mu       sync.Mutex
	profiles map[types.Namespace]*types.PreferenceProfile
}

// NewMemoryPreferenceStore 创建内存偏好存储。
func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{profiles: make(map[types.Namespace]*types.PreferenceProfile)}
}

// Get 读取档案，缺失时用默认策略创建。
func (s *MemoryPreferenceStore) Get(ctx context.Context, ns types.Namespace, defaultPolicy string) (*types.PreferenceProfile, error) {
	if !ns.Valid() {
		return nil, fmt.Errorf("unknown preference namespace: %s", ns)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[ns]
	if !ok {
		profile = &types.PreferenceProfile{
			Namespace: ns,
			Policy:    defaultPolicy,
			Revision:  1,
			UpdatedAt: time.Now().UTC(),
		}
		s.profiles[ns] = profile
	}
	cp := *profile
	return &cp, nil
}

// CompareAndSwap 乐观并发提交。
func (s *MemoryPreferenceStore) CompareAndSwap(ctx context.Context, ns types.Namespace, policy string, expectedRevision int64) (*types.PreferenceProfile, error) {
	if !ns.Valid() {
		return nil, fmt.Errorf("unknown preference namespace: %s", ns)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[ns]
	if !ok || profile.Revision != expectedRevision {
		return nil, ErrRevisionConflict
	}
	profile.Policy = policy
	profile.Revision++
	profile.UpdatedAt = time.Now().UTC()
	cp := *profile
	return &cp, nil
}

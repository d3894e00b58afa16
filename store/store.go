package store

import (
	"context"
	"errors"

	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 💾 存储接口
// =============================================================================

// ErrCheckpointNotFound 线程没有对应检查点。
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrRevisionConflict 乐观并发检查失败：期望的修订号已经过期。
var ErrRevisionConflict = errors.New("preference revision conflict")

// CheckpointStore 按线程 ID 持久化完整工作流状态。
// 引擎自身永远不删除检查点；Delete 仅供外部清理策略使用。
type CheckpointStore interface {
	// Save 覆盖写入线程的最新状态快照
	Save(ctx context.Context, state *types.WorkflowState) error

	// Load 加载线程状态；不存在时返回 ErrCheckpointNotFound
	Load(ctx context.Context, threadID string) (*types.WorkflowState, error)

	// Delete 删除线程检查点（外部清理用）
	Delete(ctx context.Context, threadID string) error
}

// PreferenceStore 按命名空间存储偏好档案。
// Get 在档案缺失时用默认策略创建（首次读取即初始化，revision 从 1 开始）。
// CompareAndSwap 仅在当前修订号等于 expectedRevision 时提交新策略，
// 否则返回 ErrRevisionConflict；成功时修订号严格递增。
type PreferenceStore interface {
	Get(ctx context.Context, ns types.Namespace, defaultPolicy string) (*types.PreferenceProfile, error)

	CompareAndSwap(ctx context.Context, ns types.Namespace, policy string, expectedRevision int64) (*types.PreferenceProfile, error)
}

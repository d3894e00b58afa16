package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 🔴 Redis 实现
// =============================================================================

// RedisConfig Redis 存储配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀
	Prefix string `yaml:"prefix" json:"prefix"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		DB:       0,
		Prefix:   "inboxflow",
		PoolSize: 10,
	}
}

// NewRedisClient 创建并探活 Redis 客户端。
func NewRedisClient(config RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisCheckpointStore Redis 检查点存储。检查点没有 TTL：
// 中断永远有效，过期清理属于外部策略。
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisCheckpointStore 创建 Redis 检查点存储。
func NewRedisCheckpointStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisCheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("store", "redis_checkpoint")),
	}
}

// Save 保存线程状态。
func (s *RedisCheckpointStore) Save(ctx context.Context, state *types.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	key := s.checkpointKey(state.ThreadID)
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.logger.Debug("checkpoint saved",
		zap.String("thread_id", state.ThreadID),
		zap.String("status", string(state.Status)),
	)
	return nil
}

// Load 加载线程状态。
func (s *RedisCheckpointStore) Load(ctx context.Context, threadID string) (*types.WorkflowState, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var state types.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &state, nil
}

// Delete 删除线程检查点。
func (s *RedisCheckpointStore) Delete(ctx context.Context, threadID string) error {
	return s.client.Del(ctx, s.checkpointKey(threadID)).Err()
}

func (s *RedisCheckpointStore) checkpointKey(threadID string) string {
	return fmt.Sprintf("%s:checkpoint:%s", s.prefix, threadID)
}

// RedisPreferenceStore Redis 偏好存储，CAS 通过 WATCH 事务实现。
type RedisPreferenceStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisPreferenceStore 创建 Redis 偏好存储。
func NewRedisPreferenceStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisPreferenceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPreferenceStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("store", "redis_preference")),
	}
}

// Get 读取档案，缺失时用默认策略创建（SetNX 保证并发创建只有一个赢家）。
func (s *RedisPreferenceStore) Get(ctx context.Context, ns types.Namespace, defaultPolicy string) (*types.PreferenceProfile, error) {
	if !ns.Valid() {
		return nil, fmt.Errorf("unknown preference namespace: %s", ns)
	}
	key := s.preferenceKey(ns)

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		initial := &types.PreferenceProfile{
			Namespace: ns,
			Policy:    defaultPolicy,
			Revision:  1,
			UpdatedAt: time.Now().UTC(),
		}
		raw, merr := json.Marshal(initial)
		if merr != nil {
			return nil, fmt.Errorf("marshal preference profile: %w", merr)
		}
		if err := s.client.SetNX(ctx, key, raw, 0).Err(); err != nil {
			return nil, fmt.Errorf("initialize preference profile: %w", err)
		}
		// 可能有并发创建者赢了 SetNX，重读取最终值
		data, err = s.client.Get(ctx, key).Bytes()
	}
	if err != nil {
		return nil, fmt.Errorf("load preference profile: %w", err)
	}

	var profile types.PreferenceProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("unmarshal preference profile: %w", err)
	}
	return &profile, nil
}

// CompareAndSwap 乐观并发提交；WATCH 失败或修订号不匹配都视为冲突。
func (s *RedisPreferenceStore) CompareAndSwap(ctx context.Context, ns types.Namespace, policy string, expectedRevision int64) (*types.PreferenceProfile, error) {
	if !ns.Valid() {
		return nil, fmt.Errorf("unknown preference namespace: %s", ns)
	}
	key := s.preferenceKey(ns)
	var updated types.PreferenceProfile

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRevisionConflict
		}
		if err != nil {
			return err
		}
		var profile types.PreferenceProfile
		if err := json.Unmarshal(data, &profile); err != nil {
			return fmt.Errorf("unmarshal preference profile: %w", err)
		}
		if profile.Revision != expectedRevision {
			return ErrRevisionConflict
		}

		profile.Policy = policy
		profile.Revision++
		profile.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(&profile)
		if err != nil {
			return fmt.Errorf("marshal preference profile: %w", err)
		}
		updated = profile

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrRevisionConflict
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("preference profile updated",
		zap.String("namespace", string(ns)),
		zap.Int64("revision", updated.Revision),
	)
	return &updated, nil
}

func (s *RedisPreferenceStore) preferenceKey(ns types.Namespace) string {
	return fmt.Sprintf("%s:preference:%s", s.prefix, ns)
}

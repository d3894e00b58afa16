package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 🗄️ GORM 实现（SQLite / PostgreSQL）
// =============================================================================

// CheckpointRecord 检查点表模型。状态整体作为 JSON 存储，
// 往返序列化语义与 Redis 后端一致。
type CheckpointRecord struct {
	ThreadID  string `gorm:"primaryKey;size:64"`
	Data      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (CheckpointRecord) TableName() string { return "workflow_checkpoints" }

// PreferenceRecord 偏好档案表模型
type PreferenceRecord struct {
	Namespace string `gorm:"primaryKey;size:64"`
	Policy    string `gorm:"type:text;not null"`
	Revision  int64  `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (PreferenceRecord) TableName() string { return "preference_profiles" }

// AutoMigrate 建表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CheckpointRecord{}, &PreferenceRecord{})
}

// GormCheckpointStore 基于 GORM 的检查点存储。
type GormCheckpointStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormCheckpointStore 创建 GORM 检查点存储。
func NewGormCheckpointStore(db *gorm.DB, logger *zap.Logger) *GormCheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormCheckpointStore{
		db:     db,
		logger: logger.With(zap.String("store", "gorm_checkpoint")),
	}
}

// Save 保存线程状态（upsert）。
func (s *GormCheckpointStore) Save(ctx context.Context, state *types.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	record := CheckpointRecord{
		ThreadID:  state.ThreadID,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "thread_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load 加载线程状态。
func (s *GormCheckpointStore) Load(ctx context.Context, threadID string) (*types.WorkflowState, error) {
	var record CheckpointRecord
	err := s.db.WithContext(ctx).First(&record, "thread_id = ?", threadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var state types.WorkflowState
	if err := json.Unmarshal(record.Data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &state, nil
}

// Delete 删除线程检查点。
func (s *GormCheckpointStore) Delete(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).Delete(&CheckpointRecord{}, "thread_id = ?", threadID).Error
}

// GormPreferenceStore 基于 GORM 的偏好存储，CAS 通过条件 UPDATE 实现。
type GormPreferenceStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormPreferenceStore 创建 GORM 偏好存储。
func NewGormPreferenceStore(db *gorm.DB, logger *zap.Logger) *GormPreferenceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormPreferenceStore{
		db:     db,
		logger: logger.With(zap.String("store", "gorm_preference")),
	}
}

// Get 读取档案，缺失时用默认策略创建。
func (s *GormPreferenceStore) Get(ctx context.Context, ns types.Namespace, defaultPolicy string) (*types.PreferenceProfile, error) {
	if !ns.Valid() {
		return nil, fmt.Errorf("unknown preference namespace: %s", ns)
	}

	initial := PreferenceRecord{
		Namespace: string(ns),
		Policy:    defaultPolicy,
		Revision:  1,
		UpdatedAt: time.Now().UTC(),
	}
	// 并发创建时 DoNothing 保证只有一个赢家
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&initial).Error; err != nil {
		return nil, fmt.Errorf("initialize preference profile: %w", err)
	}

	var record PreferenceRecord
	if err := s.db.WithContext(ctx).First(&record, "namespace = ?", string(ns)).Error; err != nil {
		return nil, fmt.Errorf("load preference profile: %w", err)
	}
	return recordToProfile(record), nil
}

// CompareAndSwap 条件更新：修订号匹配才提交，零行受影响即冲突。
func (s *GormPreferenceStore) CompareAndSwap(ctx context.Context, ns types.Namespace, policy string, expectedRevision int64) (*types.PreferenceProfile, error) {
	if !ns.Valid() {
		return nil, fmt.Errorf("unknown preference namespace: %s", ns)
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&PreferenceRecord{}).
		Where("namespace = ? AND revision = ?", string(ns), expectedRevision).
		Updates(map[string]any{
			"policy":     policy,
			"revision":   expectedRevision + 1,
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("update preference profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRevisionConflict
	}

	s.logger.Debug("preference profile updated",
		zap.String("namespace", string(ns)),
		zap.Int64("revision", expectedRevision+1),
	)
	return &types.PreferenceProfile{
		Namespace: ns,
		Policy:    policy,
		Revision:  expectedRevision + 1,
		UpdatedAt: now,
	}, nil
}

func recordToProfile(record PreferenceRecord) *types.PreferenceProfile {
	return &types.PreferenceProfile{
		Namespace: types.Namespace(record.Namespace),
		Policy:    record.Policy,
		Revision:  record.Revision,
		UpdatedAt: record.UpdatedAt,
	}
}

package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inboxflow/internal/metrics"
	"github.com/BaSui01/inboxflow/oracle"
	"github.com/BaSui01/inboxflow/prompts"
	"github.com/BaSui01/inboxflow/store"
	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 🧠 偏好学习器
// =============================================================================

// defaultPolicy 每个命名空间的初始策略文本。
func defaultPolicy(ns types.Namespace) string {
	switch ns {
	case types.NamespaceTriage:
		return prompts.DefaultTriagePreferences
	case types.NamespaceResponse:
		return prompts.DefaultResponsePreferences
	case types.NamespaceCalendar:
		return prompts.DefaultCalendarPreferences
	}
	return ""
}

// preferenceLearner 把观测到的人工纠正合并进偏好档案。
// 更新是尽力而为的：旧策略 + 纠正交给 Oracle 汇总出新策略，
// 用读取时的修订号做乐观提交；冲突时对最新修订重试一次，
// 再失败就丢弃并记录。任何失败都不会阻塞主控制流。
type preferenceLearner struct {
	store   store.PreferenceStore
	oracle  oracle.Oracle
	metrics *metrics.Collector
	logger  *zap.Logger
}

func newPreferenceLearner(ps store.PreferenceStore, o oracle.Oracle, collector *metrics.Collector, logger *zap.Logger) *preferenceLearner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &preferenceLearner{
		store:   ps,
		oracle:  o,
		metrics: collector,
		logger:  logger.With(zap.String("component", "preference_learner")),
	}
}

// Update 合并一次人工纠正。永远不返回错误：偏好学习失败只记录。
func (l *preferenceLearner) Update(ctx context.Context, ns types.Namespace, observations ...types.Message) {
	profile, err := l.store.Get(ctx, ns, defaultPolicy(ns))
	if err != nil {
		l.logger.Warn("preference read failed, update skipped",
			zap.String("namespace", string(ns)), zap.Error(err))
		l.metrics.PreferenceUpdate(string(ns), "error")
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		start := time.Now()
		revised, err := l.oracle.SummarizePreferences(ctx, ns, profile.Policy, observations)
		l.metrics.OracleCall("summarize_preferences", time.Since(start), err)
		if err != nil {
			l.logger.Warn("preference summarization failed, update skipped",
				zap.String("namespace", string(ns)), zap.Error(err))
			l.metrics.PreferenceUpdate(string(ns), "error")
			return
		}

		updated, err := l.store.CompareAndSwap(ctx, ns, revised, profile.Revision)
		if err == nil {
			l.logger.Info("preference profile updated",
				zap.String("namespace", string(ns)),
				zap.Int64("revision", updated.Revision),
			)
			l.metrics.PreferenceUpdate(string(ns), "applied")
			return
		}
		if !errors.Is(err, store.ErrRevisionConflict) {
			l.logger.Warn("preference write failed, update skipped",
				zap.String("namespace", string(ns)), zap.Error(err))
			l.metrics.PreferenceUpdate(string(ns), "error")
			return
		}

		// 输给了并发写入者：对最新修订重试一次
		if attempt == 0 {
			profile, err = l.store.Get(ctx, ns, defaultPolicy(ns))
			if err != nil {
				l.logger.Warn("preference re-read failed, update dropped",
					zap.String("namespace", string(ns)), zap.Error(err))
				l.metrics.PreferenceUpdate(string(ns), "error")
				return
			}
			continue
		}

		l.logger.Warn("preference update dropped after lost revision race",
			zap.String("namespace", string(ns)),
			zap.Int64("base_revision", profile.Revision),
		)
		l.metrics.PreferenceUpdate(string(ns), "dropped")
	}
}

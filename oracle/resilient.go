package oracle

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 🛡️ 弹性包装器：超时 + 有界重试 + 限速
// =============================================================================

// ResilientConfig 弹性包装器配置
type ResilientConfig struct {
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// 失败后的重试次数（瞬时失败重试一次后放弃）
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 每秒允许的 Oracle 调用数；0 表示不限速
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// 限速突发容量
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// DefaultResilientConfig 返回默认弹性配置
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 1,
		RateLimit:  0,
		RateBurst:  1,
	}
}

// Resilient 用超时、限速和单次重试包装底层 Oracle。
// 第二次失败由调用方决定如何落盘（工作流进入 Failed 终态）。
type Resilient struct {
	inner   Oracle
	config  ResilientConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewResilient 创建弹性 Oracle 包装器。
func NewResilient(inner Oracle, config ResilientConfig, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return &Resilient{
		inner:   inner,
		config:  config,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "oracle")),
	}
}

// call 执行一次带超时/限速/重试的调用。
func (r *Resilient) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return types.NewError(types.ErrOracleFailure, "oracle rate limiter interrupted").WithCause(err)
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if r.config.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		}
		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		r.logger.Warn("oracle call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		// 调用方的 ctx 已经结束时不再重试
		if ctx.Err() != nil {
			break
		}
	}
	return types.NewError(types.ErrOracleFailure, "oracle "+op+" failed after retries").
		WithCause(lastErr).
		WithRetryable(false)
}

// Triage 带弹性的分诊调用。
func (r *Resilient) Triage(ctx context.Context, item types.EmailInput, triagePolicy string) (*TriageDecision, error) {
	var decision *TriageDecision
	err := r.call(ctx, "triage", func(ctx context.Context) error {
		d, err := r.inner.Triage(ctx, item, triagePolicy)
		if err != nil {
			return err
		}
		if d == nil || !d.Classification.Valid() {
			return types.NewError(types.ErrOracleFailure, "oracle returned malformed classification")
		}
		decision = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// PlanAction 带弹性的动作规划调用。
func (r *Resilient) PlanAction(ctx context.Context, history []types.Message, responsePolicy, calendarPolicy string) (*types.ToolCall, error) {
	var call *types.ToolCall
	err := r.call(ctx, "plan_action", func(ctx context.Context) error {
		c, err := r.inner.PlanAction(ctx, history, responsePolicy, calendarPolicy)
		if err != nil {
			return err
		}
		if c == nil || c.Name == "" {
			return types.NewError(types.ErrOracleFailure, "oracle returned malformed tool call")
		}
		call = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return call, nil
}

// SummarizePreferences 带弹性的偏好合并调用。
func (r *Resilient) SummarizePreferences(ctx context.Context, namespace types.Namespace, currentPolicy string, observations []types.Message) (string, error) {
	var revised string
	err := r.call(ctx, "summarize_preferences", func(ctx context.Context) error {
		s, err := r.inner.SummarizePreferences(ctx, namespace, currentPolicy, observations)
		if err != nil {
			return err
		}
		revised = s
		return nil
	})
	if err != nil {
		return "", err
	}
	return revised, nil
}

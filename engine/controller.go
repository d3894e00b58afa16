package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/inboxflow/internal/metrics"
	"github.com/BaSui01/inboxflow/oracle"
	"github.com/BaSui01/inboxflow/store"
	"github.com/BaSui01/inboxflow/tools"
	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 🎛️ 工作流控制器
// =============================================================================

// Config 引擎配置
type Config struct {
	// 动作循环的规划轮次上限，超出后工作流进入 Failed 终态
	MaxTurns int `yaml:"max_turns" json:"max_turns"`
}

// DefaultConfig 返回默认引擎配置
func DefaultConfig() Config {
	return Config{MaxTurns: 25}
}

// Controller 每线程串行推进的工作流状态机。
// 挂起是纯逻辑的：start/resume 返回后进程里不保留任何阻塞任务，
// 检查点是挂起状态的唯一载体，进程可以在两次调用之间随意重启。
type Controller struct {
	checkpoints store.CheckpointStore
	preferences store.PreferenceStore
	oracle      oracle.Oracle
	registry    *tools.Registry
	learner     *preferenceLearner
	config      Config
	metrics     *metrics.Collector
	tracer      trace.Tracer
	logger      *zap.Logger

	// 每线程一个互斥量；同一线程的并发请求快速失败（Busy）而不是排队
	locks sync.Map
}

// NewController 创建工作流控制器。
func NewController(
	checkpoints store.CheckpointStore,
	preferences store.PreferenceStore,
	o oracle.Oracle,
	registry *tools.Registry,
	config Config,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultConfig().MaxTurns
	}
	return &Controller{
		checkpoints: checkpoints,
		preferences: preferences,
		oracle:      o,
		registry:    registry,
		learner:     newPreferenceLearner(preferences, o, collector, logger),
		config:      config,
		metrics:     collector,
		tracer:      otel.Tracer("inboxflow/engine"),
		logger:      logger.With(zap.String("component", "controller")),
	}
}

// Start 为新邮件创建工作流并推进到第一个挂起点或终态。
func (c *Controller) Start(ctx context.Context, item types.EmailInput) (*Result, error) {
	begin := time.Now()
	defer func() { c.metrics.StepDuration("start", time.Since(begin)) }()

	if err := item.Validate(); err != nil {
		return nil, err
	}

	threadID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "workflow.start",
		trace.WithAttributes(attribute.String("thread_id", threadID)))
	defer span.End()

	unlock, err := c.tryLock(threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := time.Now().UTC()
	state := &types.WorkflowState{
		ThreadID:  threadID,
		Item:      item,
		Status:    types.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.metrics.WorkflowStarted()
	c.logger.Info("workflow started",
		zap.String("thread_id", threadID),
		zap.String("author", item.Author),
		zap.String("subject", item.Subject),
	)

	return c.runTriage(ctx, state)
}

// Resume 用一次人工响应恢复挂起的工作流并推进到下一个挂起点或终态。
func (c *Controller) Resume(ctx context.Context, threadID string, response types.HumanResponse) (*Result, error) {
	begin := time.Now()
	defer func() { c.metrics.StepDuration("resume", time.Since(begin)) }()

	ctx, span := c.tracer.Start(ctx, "workflow.resume",
		trace.WithAttributes(
			attribute.String("thread_id", threadID),
			attribute.String("response_type", string(response.Type)),
		))
	defer span.End()

	unlock, err := c.tryLock(threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := c.load(ctx, threadID)
	if err != nil {
		c.releaseLock(threadID)
		return nil, err
	}

	// 以下校验都在修改状态之前完成：被拒绝的 resume 不留痕迹
	if state.Status.Terminal() {
		c.releaseLock(threadID)
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("workflow %s is already %s", threadID, state.Status))
	}
	interrupt := state.PendingInterrupt
	if interrupt == nil {
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("workflow %s has no pending interrupt", threadID))
	}
	if !interrupt.Allows(response.Type) {
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("response type %q not allowed for action %q", response.Type, interrupt.Action))
	}
	if response.Type == types.ResponseEdit {
		if err := tools.ValidateArgs(interrupt.Action, response.Args); err != nil {
			return nil, err
		}
	}

	c.metrics.ResumeProcessed(string(response.Type))
	c.logger.Info("workflow resumed",
		zap.String("thread_id", threadID),
		zap.String("action", interrupt.Action),
		zap.String("response_type", string(response.Type)),
	)

	// 中断恰好消费一次
	state.PendingInterrupt = nil
	state.Status = types.StatusRunning

	if interrupt.Action == actionNotify {
		return c.resumeNotify(ctx, state, response)
	}
	return c.resumeAction(ctx, state, interrupt, response)
}

// Inspect 返回线程状态的只读快照，不推进也不持久化。
func (c *Controller) Inspect(ctx context.Context, threadID string) (*types.WorkflowState, error) {
	state, err := c.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return state.Snapshot(), nil
}

// =============================================================================
// 🔒 每线程串行化
// =============================================================================

func (c *Controller) tryLock(threadID string) (func(), error) {
	v, _ := c.locks.LoadOrStore(threadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, types.NewError(types.ErrBusy,
			fmt.Sprintf("workflow %s has a request in flight", threadID)).
			WithRetryable(true)
	}
	return mu.Unlock, nil
}

// releaseLock 回收线程的互斥量。只在持有锁且线程不会再推进时调用：
// 之后的请求会重建一个新互斥量，但加载状态后都会被终态/不存在校验拒绝。
func (c *Controller) releaseLock(threadID string) {
	c.locks.Delete(threadID)
}

// =============================================================================
// 🧱 状态持久化辅助
// =============================================================================

func (c *Controller) load(ctx context.Context, threadID string) (*types.WorkflowState, error) {
	state, err := c.checkpoints.Load(ctx, threadID)
	if errors.Is(err, store.ErrCheckpointNotFound) {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("unknown thread: %s", threadID))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "failed to load checkpoint").WithCause(err)
	}
	return state, nil
}

func (c *Controller) persist(ctx context.Context, state *types.WorkflowState) error {
	state.UpdatedAt = time.Now().UTC()
	if err := c.checkpoints.Save(ctx, state); err != nil {
		return types.NewError(types.ErrStoreFailure, "failed to save checkpoint").WithCause(err)
	}
	return nil
}

// complete 将工作流置为成功终态。
func (c *Controller) complete(ctx context.Context, state *types.WorkflowState) (*Result, error) {
	state.Done = true
	state.Status = types.StatusCompleted
	if err := c.persist(ctx, state); err != nil {
		return nil, err
	}
	c.releaseLock(state.ThreadID)
	c.metrics.WorkflowFinished(string(types.StatusCompleted), "", state.Turn)
	c.logger.Info("workflow completed",
		zap.String("thread_id", state.ThreadID),
		zap.String("classification", string(state.Classification)),
		zap.Int("turns", state.Turn),
	)
	return &Result{
		ThreadID: state.ThreadID,
		Status:   types.StatusCompleted,
		Outcome: &Outcome{
			Classification: state.Classification,
			ActionTaken:    state.LastAction,
			ActionResult:   state.LastActionResult,
			Rationale:      state.Rationale,
		},
	}, nil
}

// fail 将工作流置为失败终态。失败先落盘再返回，之后的 inspect 能看到原因。
func (c *Controller) fail(ctx context.Context, state *types.WorkflowState, code types.ErrorCode, cause string) (*Result, error) {
	state.Done = true
	state.Status = types.StatusFailed
	state.FailureCause = fmt.Sprintf("%s: %s", code, cause)
	if err := c.persist(ctx, state); err != nil {
		// 失败状态落盘失败只能记录，原始原因仍然返回给调用方
		c.logger.Error("failed to persist failure state",
			zap.String("thread_id", state.ThreadID), zap.Error(err))
	}
	c.releaseLock(state.ThreadID)
	c.metrics.WorkflowFinished(string(types.StatusFailed), string(code), state.Turn)
	c.logger.Warn("workflow failed",
		zap.String("thread_id", state.ThreadID),
		zap.String("cause", state.FailureCause),
	)
	return &Result{
		ThreadID:     state.ThreadID,
		Status:       types.StatusFailed,
		FailureCause: state.FailureCause,
	}, nil
}

// suspend 挂起到一个中断并落盘。
func (c *Controller) suspend(ctx context.Context, state *types.WorkflowState, interrupt *types.Interrupt) (*Result, error) {
	state.PendingInterrupt = interrupt
	state.Status = types.StatusInterrupted
	if err := c.persist(ctx, state); err != nil {
		return nil, err
	}
	c.metrics.InterruptCreated(interrupt.Action)
	c.logger.Info("workflow interrupted",
		zap.String("thread_id", state.ThreadID),
		zap.String("action", interrupt.Action),
	)
	return &Result{
		ThreadID:  state.ThreadID,
		Status:    types.StatusInterrupted,
		Interrupt: interrupt,
	}, nil
}

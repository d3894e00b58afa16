package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inboxflow/oracle"
	"github.com/BaSui01/inboxflow/store"
	"github.com/BaSui01/inboxflow/tools"
	"github.com/BaSui01/inboxflow/types"
)

// fakeOracle 函数回调式测试替身
type fakeOracle struct {
	mu        sync.Mutex
	triage    func(item types.EmailInput, policy string) (*oracle.TriageDecision, error)
	plan      []*types.ToolCall // 逐次弹出的脚本
	planErr   error
	summaries []types.Namespace // 记录偏好更新调用
}

func (f *fakeOracle) Triage(ctx context.Context, item types.EmailInput, policy string) (*oracle.TriageDecision, error) {
	return f.triage(item, policy)
}

func (f *fakeOracle) PlanAction(ctx context.Context, history []types.Message, responsePolicy, calendarPolicy string) (*types.ToolCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.planErr != nil {
		return nil, f.planErr
	}
	if len(f.plan) == 0 {
		return nil, types.NewError(types.ErrOracleFailure, "plan script exhausted")
	}
	call := f.plan[0]
	f.plan = f.plan[1:]
	return call, nil
}

func (f *fakeOracle) SummarizePreferences(ctx context.Context, ns types.Namespace, currentPolicy string, observations []types.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, ns)
	return currentPolicy + "\n- learned", nil
}

func classify(c types.Classification) func(types.EmailInput, string) (*oracle.TriageDecision, error) {
	return func(types.EmailInput, string) (*oracle.TriageDecision, error) {
		return &oracle.TriageDecision{Classification: c, Reasoning: "test"}, nil
	}
}

func call(name string, args string) *types.ToolCall {
	return &types.ToolCall{ID: "call_" + uuid.NewString(), Name: name, Arguments: json.RawMessage(args)}
}

func newTestController(o oracle.Oracle) (*Controller, *store.MemoryCheckpointStore, *store.MemoryPreferenceStore) {
	checkpoints := store.NewMemoryCheckpointStore()
	preferences := store.NewMemoryPreferenceStore()
	c := NewController(checkpoints, preferences, o, tools.NewRegistry(nil), DefaultConfig(), nil, nil)
	return c, checkpoints, preferences
}

var testEmail = types.EmailInput{
	Author:  "alice@corp.com",
	To:      "me@corp.com",
	Subject: "Quick sync?",
	Body:    "Do you have 30 minutes this week to sync on the launch?",
}

func TestStartValidatesInput(t *testing.T) {
	c, _, _ := newTestController(&fakeOracle{triage: classify(types.ClassificationIgnore)})

	_, err := c.Start(context.Background(), types.EmailInput{Author: "a@x.com"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestIgnoreCompletesImmediately(t *testing.T) {
	c, _, _ := newTestController(&fakeOracle{triage: classify(types.ClassificationIgnore)})

	res, err := c.Start(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, types.ClassificationIgnore, res.Outcome.Classification)
	assert.Nil(t, res.Interrupt)
}

func TestNotifyIgnoredUpdatesTriagePreferences(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{triage: classify(types.ClassificationNotify)}
	c, _, prefs := newTestController(o)

	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)
	require.Equal(t, types.StatusInterrupted, res.Status)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, "notify", res.Interrupt.Action)
	assert.ElementsMatch(t,
		[]types.ResponseType{types.ResponseIgnore, types.ResponseFeedback},
		res.Interrupt.AllowedResponseTypes)
	assert.Contains(t, res.Interrupt.Description, testEmail.Subject)

	res, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseIgnore})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)

	assert.Equal(t, []types.Namespace{types.NamespaceTriage}, o.summaries)
	profile, err := prefs.Get(ctx, types.NamespaceTriage, "unused")
	require.NoError(t, err)
	assert.Equal(t, int64(2), profile.Revision)
	assert.Contains(t, profile.Policy, "- learned")
}

func TestNotifyRespondedEntersActionLoop(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{
		triage: classify(types.ClassificationNotify),
		plan: []*types.ToolCall{
			call(tools.ToolWriteEmail, `{"to":"alice@corp.com","subject":"Re: Quick sync?","content":"Sure."}`),
		},
	}
	c, _, _ := newTestController(o)

	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)
	require.Equal(t, types.StatusInterrupted, res.Status)

	feedback, _ := json.Marshal("Reply and propose Thursday afternoon.")
	res, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseFeedback, Args: feedback})
	require.NoError(t, err)
	require.Equal(t, types.StatusInterrupted, res.Status)
	assert.Equal(t, tools.ToolWriteEmail, res.Interrupt.Action)

	state, err := c.Inspect(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, types.ClassificationRespond, state.Classification)
}

func TestRespondAcceptRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{
		triage: classify(types.ClassificationRespond),
		plan: []*types.ToolCall{
			call(tools.ToolWriteEmail, `{"to":"alice@corp.com","subject":"Re: Quick sync?","content":"Thursday 15:00 works."}`),
			call(tools.ToolDone, `{"done":true}`),
		},
	}
	c, _, _ := newTestController(o)

	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)
	require.Equal(t, types.StatusInterrupted, res.Status)
	assert.Equal(t, tools.ToolWriteEmail, res.Interrupt.Action)
	assert.Contains(t, res.Interrupt.Description, "# Email Draft")

	res, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseAccept})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, tools.ToolWriteEmail, res.Outcome.ActionTaken)
	assert.Contains(t, res.Outcome.ActionResult, "Thursday 15:00 works.")
}

func TestScheduleFlowAutoExecutesCalendarCheck(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{
		triage: classify(types.ClassificationRespond),
		plan: []*types.ToolCall{
			call(tools.ToolCheckCalendar, `{"attendees":["alice@corp.com"],"preferred_day":"2026-09-03","duration_minutes":30}`),
			call(tools.ToolScheduleMeeting, `{"attendees":["alice@corp.com"],"subject":"Launch sync","duration_minutes":30,"preferred_day":"2026-09-03","start_time":14}`),
			call(tools.ToolDone, `{"done":true}`),
		},
	}
	c, _, prefs := newTestController(o)

	// check_calendar 自动执行，不产生中断；挂起点是 schedule_meeting
	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)
	require.Equal(t, types.StatusInterrupted, res.Status)
	assert.Equal(t, tools.ToolScheduleMeeting, res.Interrupt.Action)

	state, err := c.Inspect(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Turn)
	var sawCalendarResult bool
	for _, m := range state.MessageHistory {
		if m.Role == types.RoleTool && m.Name == tools.ToolCheckCalendar {
			sawCalendarResult = true
		}
	}
	assert.True(t, sawCalendarResult)

	// 人工编辑参数：执行的是编辑后的版本，并更新日程偏好
	edited, _ := json.Marshal(map[string]any{
		"attendees":        []string{"alice@corp.com"},
		"subject":          "Launch sync",
		"duration_minutes": 15,
		"preferred_day":    "2026-09-03",
		"start_time":       16,
	})
	res, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseEdit, Args: edited})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Contains(t, res.Outcome.ActionResult, "16:00")
	assert.Contains(t, res.Outcome.ActionResult, "15 minutes")

	assert.Contains(t, o.summaries, types.NamespaceCalendar)
	profile, err := prefs.Get(ctx, types.NamespaceCalendar, "unused")
	require.NoError(t, err)
	assert.Equal(t, int64(2), profile.Revision)
}

func TestQuestionFeedbackLoopsBackToPlanner(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{
		triage: classify(types.ClassificationRespond),
		plan: []*types.ToolCall{
			call(tools.ToolQuestion, `{"content":"Which week works for the sync?"}`),
			call(tools.ToolWriteEmail, `{"to":"alice@corp.com","subject":"Re: Quick sync?","content":"Next week works."}`),
			call(tools.ToolDone, `{"done":true}`),
		},
	}
	c, _, _ := newTestController(o)

	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)
	require.Equal(t, types.StatusInterrupted, res.Status)
	assert.Equal(t, tools.ToolQuestion, res.Interrupt.Action)
	// 提问不能被 accept 或 edit
	assert.False(t, res.Interrupt.Allows(types.ResponseAccept))
	assert.False(t, res.Interrupt.Allows(types.ResponseEdit))

	answer, _ := json.Marshal("Next week, ideally Tuesday.")
	res, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseFeedback, Args: answer})
	require.NoError(t, err)
	require.Equal(t, types.StatusInterrupted, res.Status)
	assert.Equal(t, tools.ToolWriteEmail, res.Interrupt.Action)

	// 回答问题不触发偏好更新
	assert.Empty(t, o.summaries)
}

func TestDraftIgnoredEndsWorkflow(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{
		triage: classify(types.ClassificationRespond),
		plan: []*types.ToolCall{
			call(tools.ToolWriteEmail, `{"to":"alice@corp.com","subject":"Re: Quick sync?","content":"Draft."}`),
		},
	}
	c, _, _ := newTestController(o)

	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)
	require.Equal(t, types.StatusInterrupted, res.Status)

	res, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseIgnore})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, []types.Namespace{types.NamespaceTriage}, o.summaries)
}

func TestResumeRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown thread", func(t *testing.T) {
		c, _, _ := newTestController(&fakeOracle{triage: classify(types.ClassificationIgnore)})
		_, err := c.Resume(ctx, "no-such-thread", types.HumanResponse{Type: types.ResponseAccept})
		require.Error(t, err)
		assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
	})

	t.Run("terminal workflow rejects resume", func(t *testing.T) {
		c, _, _ := newTestController(&fakeOracle{triage: classify(types.ClassificationIgnore)})
		res, err := c.Start(ctx, testEmail)
		require.NoError(t, err)
		require.Equal(t, types.StatusCompleted, res.Status)

		_, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseIgnore})
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
	})

	t.Run("disallowed response type leaves interrupt intact", func(t *testing.T) {
		c, _, _ := newTestController(&fakeOracle{
			triage: classify(types.ClassificationNotify),
		})
		res, err := c.Start(ctx, testEmail)
		require.NoError(t, err)
		require.Equal(t, types.StatusInterrupted, res.Status)

		// notify 不允许 accept
		_, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseAccept})
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))

		state, err := c.Inspect(ctx, res.ThreadID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusInterrupted, state.Status)
		require.NotNil(t, state.PendingInterrupt)
		assert.Equal(t, res.Interrupt.ID, state.PendingInterrupt.ID)
	})

	t.Run("malformed edit args leave interrupt intact", func(t *testing.T) {
		c, _, _ := newTestController(&fakeOracle{
			triage: classify(types.ClassificationRespond),
			plan: []*types.ToolCall{
				call(tools.ToolWriteEmail, `{"to":"a@x.com","subject":"s","content":"c"}`),
			},
		})
		res, err := c.Start(ctx, testEmail)
		require.NoError(t, err)
		require.Equal(t, types.StatusInterrupted, res.Status)

		_, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{
			Type: types.ResponseEdit,
			Args: json.RawMessage(`{"to":"a@x.com","bogus_field":true}`),
		})
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))

		state, err := c.Inspect(ctx, res.ThreadID)
		require.NoError(t, err)
		assert.NotNil(t, state.PendingInterrupt)
	})
}

func TestOracleFailureFailsWorkflow(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(&fakeOracle{
		triage: func(types.EmailInput, string) (*oracle.TriageDecision, error) {
			return nil, types.NewError(types.ErrOracleFailure, "model unavailable")
		},
	})

	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Contains(t, res.FailureCause, string(types.ErrOracleFailure))

	// 失败先落盘：之后的 inspect 能看到原因
	state, err := c.Inspect(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, state.Status)
	assert.Contains(t, state.FailureCause, "model unavailable")
}

func TestMaxTurnsExceeded(t *testing.T) {
	ctx := context.Background()
	// 规划器永远只查日历，永不收敛
	script := make([]*types.ToolCall, 0, 30)
	for i := 0; i < 30; i++ {
		script = append(script, call(tools.ToolCheckCalendar,
			`{"attendees":["a@x.com"],"preferred_day":"2026-09-03","duration_minutes":30}`))
	}
	o := &fakeOracle{triage: classify(types.ClassificationRespond), plan: script}

	checkpoints := store.NewMemoryCheckpointStore()
	preferences := store.NewMemoryPreferenceStore()
	c := NewController(checkpoints, preferences, o, tools.NewRegistry(nil),
		Config{MaxTurns: 5}, nil, nil)

	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Contains(t, res.FailureCause, string(types.ErrMaxTurnsExceeded))

	state, err := c.Inspect(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, 5, state.Turn)
}

func TestBusyOnConcurrentResume(t *testing.T) {
	ctx := context.Background()

	c, checkpoints, _ := newTestController(&fakeOracle{triage: classify(types.ClassificationIgnore)})

	// 预置一个挂起线程，Resume 持锁期间另一个 Resume 必须快速失败
	seed := &types.WorkflowState{
		ThreadID: "thread-busy",
		Item:     testEmail,
		Status:   types.StatusInterrupted,
		PendingInterrupt: &types.Interrupt{
			ID:                   "int_seed",
			Action:               "notify",
			AllowedResponseTypes: []types.ResponseType{types.ResponseIgnore, types.ResponseFeedback},
		},
	}
	require.NoError(t, checkpoints.Save(ctx, seed))

	unlock, err := c.tryLock("thread-busy")
	require.NoError(t, err)
	_, err = c.Resume(ctx, "thread-busy", types.HumanResponse{Type: types.ResponseIgnore})
	require.Error(t, err)
	assert.Equal(t, types.ErrBusy, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	unlock()

	// 锁释放后同一请求成功
	res, err := c.Resume(ctx, "thread-busy", types.HumanResponse{Type: types.ResponseIgnore})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
}

func TestSuspendedWorkflowSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	checkpoints := store.NewMemoryCheckpointStore()
	preferences := store.NewMemoryPreferenceStore()
	o := &fakeOracle{
		triage: classify(types.ClassificationRespond),
		plan: []*types.ToolCall{
			call(tools.ToolWriteEmail, `{"to":"alice@corp.com","subject":"Re: Quick sync?","content":"Sure."}`),
			call(tools.ToolDone, `{"done":true}`),
		},
	}

	first := NewController(checkpoints, preferences, o, tools.NewRegistry(nil), DefaultConfig(), nil, nil)
	res, err := first.Start(ctx, testEmail)
	require.NoError(t, err)
	require.Equal(t, types.StatusInterrupted, res.Status)

	// 新控制器实例共享检查点存储，模拟进程重启
	second := NewController(checkpoints, preferences, o, tools.NewRegistry(nil), DefaultConfig(), nil, nil)
	resumed, err := second.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseAccept})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, resumed.Status)
}

func TestInspectReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(&fakeOracle{
		triage: classify(types.ClassificationNotify),
	})

	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)

	snap, err := c.Inspect(ctx, res.ThreadID)
	require.NoError(t, err)
	snap.Status = types.StatusFailed
	snap.PendingInterrupt = nil

	again, err := c.Inspect(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInterrupted, again.Status)
	assert.NotNil(t, again.PendingInterrupt)
}

func TestTerminalWorkflowReleasesLock(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(&fakeOracle{
		triage: classify(types.ClassificationIgnore),
	})

	res, err := c.Start(ctx, testEmail)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, res.Status)

	// 终态线程的串行化互斥量随之回收
	_, held := c.locks.Load(res.ThreadID)
	assert.False(t, held)

	// 对未知线程的 resume 同样不留互斥量
	_, err = c.Resume(ctx, "no-such-thread", types.HumanResponse{Type: types.ResponseIgnore})
	require.Error(t, err)
	_, held = c.locks.Load("no-such-thread")
	assert.False(t, held)

	// 对终态线程的重复 resume 会重建互斥量，被拒绝后再次回收
	_, err = c.Resume(ctx, res.ThreadID, types.HumanResponse{Type: types.ResponseIgnore})
	require.Error(t, err)
	_, held = c.locks.Load(res.ThreadID)
	assert.False(t, held)
}

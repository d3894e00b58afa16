package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/inboxflow/tools"
	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 🔁 动作循环
// =============================================================================

// advance 推进动作循环直到下一个挂起点或终态。
// 每轮恰好规划一个动作：Done 完成工作流，自动安全工具就地执行后继续，
// 敏感工具挂起等人工审查。每次状态转移都先落盘。
func (c *Controller) advance(ctx context.Context, state *types.WorkflowState) (*Result, error) {
	for {
		if state.Turn >= c.config.MaxTurns {
			return c.fail(ctx, state, types.ErrMaxTurnsExceeded,
				fmt.Sprintf("planning exceeded %d turns", c.config.MaxTurns))
		}
		state.Turn++

		// 每轮重读策略：同进程其他线程的偏好更新立即可见
		responsePolicy := c.policyFor(ctx, types.NamespaceResponse)
		calendarPolicy := c.policyFor(ctx, types.NamespaceCalendar)

		start := time.Now()
		call, err := c.oracle.PlanAction(ctx, state.MessageHistory, responsePolicy, calendarPolicy)
		c.metrics.OracleCall("plan_action", time.Since(start), err)
		if err != nil {
			return c.fail(ctx, state, types.ErrOracleFailure, "action planning failed: "+err.Error())
		}
		if call == nil || call.Name == "" {
			return c.fail(ctx, state, types.ErrOracleFailure, "action planning returned no tool call")
		}
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}

		state.Append(types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{*call}))
		c.logger.Debug("action planned",
			zap.String("thread_id", state.ThreadID),
			zap.String("tool", call.Name),
			zap.Int("turn", state.Turn),
		)

		if call.Name == tools.ToolDone {
			return c.complete(ctx, state)
		}

		if !c.registry.Sensitive(call.Name) {
			result, err := c.registry.Execute(ctx, *call)
			if err != nil {
				// 规划器产出了无法执行的调用，按 Oracle 故障处理
				return c.fail(ctx, state, types.ErrOracleFailure,
					fmt.Sprintf("tool %s rejected planned arguments: %v", call.Name, err))
			}
			state.Append(types.NewToolMessage(call.ID, call.Name, result))
			state.LastAction = call.Name
			state.LastActionResult = result
			if err := c.persist(ctx, state); err != nil {
				return nil, err
			}
			continue
		}

		// 敏感工具：参数在挂起前校验，坏参数不留下无法恢复的中断
		if err := tools.ValidateArgs(call.Name, call.Arguments); err != nil {
			return c.fail(ctx, state, types.ErrOracleFailure,
				fmt.Sprintf("tool %s planned with malformed arguments: %v", call.Name, err))
		}
		return c.suspend(ctx, state, c.newActionInterrupt(state, call))
	}
}

// newActionInterrupt 构造敏感工具的审查中断。描述里带上原始邮件和
// 渲染后的工具调用，让审查者不看历史也能做决定。
func (c *Controller) newActionInterrupt(state *types.WorkflowState, call *types.ToolCall) *types.Interrupt {
	spec, _ := c.registry.Lookup(call.Name)
	return &types.Interrupt{
		ID:                   newInterruptID(),
		Action:               call.Name,
		Args:                 call.Arguments,
		Description:          state.Item.Markdown() + "\n" + tools.FormatForDisplay(*call),
		AllowedResponseTypes: spec.Allowed,
		CreatedAt:            time.Now().UTC(),
	}
}

// =============================================================================
// 🧑‍⚖️ 敏感工具的人工处置
// =============================================================================

// resumeAction 处理敏感工具审查的人工处置。
func (c *Controller) resumeAction(ctx context.Context, state *types.WorkflowState, interrupt *types.Interrupt, response types.HumanResponse) (*Result, error) {
	spec, ok := c.registry.Lookup(interrupt.Action)
	if !ok {
		return c.fail(ctx, state, types.ErrInternalError,
			fmt.Sprintf("pending interrupt references unknown tool %s", interrupt.Action))
	}
	call := pendingToolCall(state, interrupt)

	switch response.Type {
	case types.ResponseAccept:
		result, err := c.registry.Execute(ctx, call)
		if err != nil {
			return c.fail(ctx, state, types.ErrInternalError,
				fmt.Sprintf("tool %s failed on accepted arguments: %v", call.Name, err))
		}
		state.Append(types.NewToolMessage(call.ID, call.Name, result))
		state.LastAction = call.Name
		state.LastActionResult = result
		return c.advance(ctx, state)

	case types.ResponseEdit:
		edited := types.ToolCall{ID: call.ID, Name: call.Name, Arguments: response.Args}
		result, err := c.registry.Execute(ctx, edited)
		if err != nil {
			return nil, err
		}
		state.Append(types.NewToolMessage(edited.ID, edited.Name, result))
		state.LastAction = edited.Name
		state.LastActionResult = result
		if spec.Namespace != "" {
			c.learner.Update(ctx, spec.Namespace,
				types.NewUserMessage(fmt.Sprintf(
					"The user edited a %s draft before sending. Update preferences to reflect the edit.\n\n"+
						"Initial draft:\n%s\nEdited version:\n%s",
					call.Name, tools.FormatForDisplay(call), tools.FormatForDisplay(edited))),
			)
		}
		return c.advance(ctx, state)

	case types.ResponseIgnore:
		state.Append(types.NewToolMessage(call.ID, call.Name,
			fmt.Sprintf("User ignored this %s draft. Ignore this email and end the workflow.", call.Name)))
		c.learner.Update(ctx, types.NamespaceTriage,
			types.NewUserMessage(fmt.Sprintf(
				"The user ignored a proposed %s for the email below. Update triage preferences so "+
					"similar emails are classified as ignore.\n\n%s", call.Name, state.Item.Markdown())),
		)
		return c.complete(ctx, state)

	default: // response：自由文本反馈，交还规划器重新起草
		feedback := response.FeedbackText()
		state.Append(types.NewToolMessage(call.ID, call.Name,
			fmt.Sprintf("User gave feedback instead of approving the %s. Incorporate the feedback and "+
				"plan again. Feedback: %s", call.Name, feedback)))
		if spec.Namespace != "" {
			c.learner.Update(ctx, spec.Namespace,
				types.NewUserMessage(fmt.Sprintf(
					"The user gave feedback on a proposed %s. Update preferences to reflect it.\n\n"+
						"Proposed:\n%s\nFeedback: %s",
					call.Name, tools.FormatForDisplay(call), feedback)),
			)
		}
		return c.advance(ctx, state)
	}
}

// pendingToolCall 找回触发中断的那次工具调用（需要它的 ID 来配对工具结果）。
func pendingToolCall(state *types.WorkflowState, interrupt *types.Interrupt) types.ToolCall {
	for i := len(state.MessageHistory) - 1; i >= 0; i-- {
		m := state.MessageHistory[i]
		if m.Role == types.RoleAssistant && len(m.ToolCalls) > 0 {
			return m.ToolCalls[len(m.ToolCalls)-1]
		}
	}
	return types.ToolCall{ID: interrupt.ID, Name: interrupt.Action, Arguments: interrupt.Args}
}

func newInterruptID() string {
	return "int_" + uuid.NewString()
}

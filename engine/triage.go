package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inboxflow/types"
)

// actionNotify 通知审查中断的 action 名称（区别于工具名）
const actionNotify = "notify"

// =============================================================================
// 📥 分诊阶段
// =============================================================================

// runTriage 对新邮件做一次分诊并按分类分派：
// ignore 直接完成，notify 挂起等人工处置，respond 进入动作循环。
func (c *Controller) runTriage(ctx context.Context, state *types.WorkflowState) (*Result, error) {
	triagePolicy := c.policyFor(ctx, types.NamespaceTriage)

	start := time.Now()
	decision, err := c.oracle.Triage(ctx, state.Item, triagePolicy)
	c.metrics.OracleCall("triage", time.Since(start), err)
	if err != nil {
		return c.fail(ctx, state, types.ErrOracleFailure, "triage failed: "+err.Error())
	}
	if decision == nil || !decision.Classification.Valid() {
		return c.fail(ctx, state, types.ErrOracleFailure, "triage returned an unknown classification")
	}

	state.Classification = decision.Classification
	state.Rationale = decision.Reasoning
	c.logger.Info("email triaged",
		zap.String("thread_id", state.ThreadID),
		zap.String("classification", string(decision.Classification)),
	)

	switch decision.Classification {
	case types.ClassificationIgnore:
		return c.complete(ctx, state)

	case types.ClassificationNotify:
		return c.suspend(ctx, state, c.newNotifyInterrupt(state))

	default: // respond
		state.Append(types.NewUserMessage("Respond to the email:\n\n" + state.Item.Markdown()))
		return c.advance(ctx, state)
	}
}

// newNotifyInterrupt 构造通知审查中断：人工只能忽略或转为回信。
func (c *Controller) newNotifyInterrupt(state *types.WorkflowState) *types.Interrupt {
	return &types.Interrupt{
		ID:          newInterruptID(),
		Action:      actionNotify,
		Description: "Email requires notification:\n\n" + state.Item.Markdown(),
		AllowedResponseTypes: []types.ResponseType{
			types.ResponseIgnore, types.ResponseFeedback,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// resumeNotify 处理通知审查的人工处置。
func (c *Controller) resumeNotify(ctx context.Context, state *types.WorkflowState, response types.HumanResponse) (*Result, error) {
	switch response.Type {
	case types.ResponseIgnore:
		// 通知被忽略是分诊偏好的负样本
		c.learner.Update(ctx, types.NamespaceTriage,
			types.NewUserMessage("The email below was classified as notify, but the user ignored "+
				"the notification. Update triage preferences so similar emails are classified as ignore.\n\n"+
				state.Item.Markdown()),
		)
		return c.complete(ctx, state)

	default: // response
		feedback := response.FeedbackText()
		state.Classification = types.ClassificationRespond
		state.Append(
			types.NewUserMessage("Respond to the email:\n\n"+state.Item.Markdown()),
			types.NewUserMessage("User wants to reply to the email. Use this feedback when drafting the reply: "+feedback),
		)
		c.learner.Update(ctx, types.NamespaceTriage,
			types.NewUserMessage("The email below was classified as notify, but the user decided to respond "+
				"to it. Update triage preferences so similar emails are classified as respond.\n\n"+
				state.Item.Markdown()+"\nUser feedback: "+feedback),
		)
		return c.advance(ctx, state)
	}
}

// policyFor 读取命名空间的当前策略；读失败时退回默认策略而不是中止工作流。
func (c *Controller) policyFor(ctx context.Context, ns types.Namespace) string {
	profile, err := c.preferences.Get(ctx, ns, defaultPolicy(ns))
	if err != nil {
		c.logger.Warn("preference read failed, falling back to default policy",
			zap.String("namespace", string(ns)), zap.Error(err))
		return defaultPolicy(ns)
	}
	return profile.Policy
}

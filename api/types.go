package api

import (
	"encoding/json"

	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 工作流请求类型
// =============================================================================

// StartWorkflowRequest 创建工作流请求。
// @Description 新邮件入队请求结构
type StartWorkflowRequest struct {
	// 发件人
	Author string `json:"author" example:"alice@corp.com" binding:"required"`
	// 收件人
	To string `json:"to,omitempty" example:"me@corp.com"`
	// 主题
	Subject string `json:"subject,omitempty" example:"Quick sync?"`
	// 正文
	Body string `json:"body" example:"Do you have 30 minutes this week?" binding:"required"`
}

// Email 转换为引擎输入。
func (r StartWorkflowRequest) Email() types.EmailInput {
	return types.EmailInput{Author: r.Author, To: r.To, Subject: r.Subject, Body: r.Body}
}

// ResumeWorkflowRequest 恢复工作流请求。
// @Description 人工处置请求结构
type ResumeWorkflowRequest struct {
	// 处置类型（accept、edit、ignore、response）
	Type string `json:"type" example:"accept" binding:"required"`
	// 处置参数：edit 为编辑后的工具参数，response 为反馈文本
	Args json.RawMessage `json:"args,omitempty"`
}

// Response 转换为引擎输入。
func (r ResumeWorkflowRequest) Response() types.HumanResponse {
	return types.HumanResponse{Type: types.ResponseType(r.Type), Args: r.Args}
}

// =============================================================================
// 工作流响应类型
// =============================================================================

// WorkflowStateResponse 线程状态查询响应。
// @Description 工作流状态结构
type WorkflowStateResponse struct {
	// 线程 ID
	ThreadID string `json:"thread_id" example:"6b1f..."`
	// 当前状态（running、interrupted、completed、failed）
	Status string `json:"status" example:"interrupted"`
	// 分诊分类
	Classification string `json:"classification,omitempty" example:"respond"`
	// 待处置的中断
	PendingInterrupt *types.Interrupt `json:"pending_interrupt,omitempty"`
	// 已消耗的规划轮次
	Turn int `json:"turn" example:"2"`
	// 失败原因（仅失败态）
	FailureCause string `json:"failure_cause,omitempty"`
	// 消息历史长度
	HistoryLength int `json:"history_length" example:"5"`
}

// NewWorkflowStateResponse 从引擎状态快照构造响应。
func NewWorkflowStateResponse(state *types.WorkflowState) WorkflowStateResponse {
	return WorkflowStateResponse{
		ThreadID:         state.ThreadID,
		Status:           string(state.Status),
		Classification:   string(state.Classification),
		PendingInterrupt: state.PendingInterrupt,
		Turn:             state.Turn,
		FailureCause:     state.FailureCause,
		HistoryLength:    len(state.MessageHistory),
	}
}

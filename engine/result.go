package engine

import "github.com/BaSui01/inboxflow/types"

// Outcome 终态工作流的结果摘要。
type Outcome struct {
	Classification types.Classification `json:"classification"`
	ActionTaken    string               `json:"action_taken,omitempty"`
	ActionResult   string               `json:"action_result,omitempty"`
	Rationale      string               `json:"rationale,omitempty"`
}

// Result 一次 start/resume 调用推进后的对外状态。
// Interrupt 与 Outcome 互斥：挂起时只有 Interrupt，终态时只有 Outcome。
type Result struct {
	ThreadID     string               `json:"thread_id"`
	Status       types.WorkflowStatus `json:"status"`
	Interrupt    *types.Interrupt     `json:"interrupt,omitempty"`
	Outcome      *Outcome             `json:"result,omitempty"`
	FailureCause string               `json:"failure_cause,omitempty"`
}

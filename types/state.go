package types

import "time"

// WorkflowStatus is the externally visible status of a workflow thread.
type WorkflowStatus string

const (
	StatusRunning     WorkflowStatus = "running"
	StatusInterrupted WorkflowStatus = "interrupted"
	StatusCompleted   WorkflowStatus = "completed"
	StatusFailed      WorkflowStatus = "failed"
)

// Terminal reports whether no further transitions are accepted.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// WorkflowState is the complete state of one workflow thread. It is the
// unit the checkpoint store persists: serializing and restoring it must
// round-trip exactly, because the checkpoint is the sole carrier of
// suspended state across process restarts.
//
// Mutated exclusively by the workflow controller. MessageHistory is
// append-only and never reordered. At most one PendingInterrupt exists at
// any time.
type WorkflowState struct {
	ThreadID         string         `json:"thread_id"`
	Item             EmailInput     `json:"item"`
	Classification   Classification `json:"classification,omitempty"`
	Rationale        string         `json:"rationale,omitempty"`
	MessageHistory   []Message      `json:"message_history"`
	PendingInterrupt *Interrupt     `json:"pending_interrupt,omitempty"`
	Done             bool           `json:"done"`
	Status           WorkflowStatus `json:"status"`
	FailureCause     string         `json:"failure_cause,omitempty"`

	// Turn counts Planning steps; the action loop fails the workflow with
	// MAX_TURNS_EXCEEDED once the configured cap is crossed.
	Turn int `json:"turn"`

	// LastActionResult is the result text of the most recently executed
	// tool, surfaced in the final result of completed workflows.
	LastActionResult string `json:"last_action_result,omitempty"`
	LastAction       string `json:"last_action,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds messages to the history. The history never shrinks or
// reorders; this is the only sanctioned mutation.
func (s *WorkflowState) Append(msgs ...Message) {
	s.MessageHistory = append(s.MessageHistory, msgs...)
}

// Snapshot returns a deep copy safe to hand to readers while the engine
// may keep mutating the original.
func (s *WorkflowState) Snapshot() *WorkflowState {
	cp := *s
	cp.MessageHistory = make([]Message, len(s.MessageHistory))
	copy(cp.MessageHistory, s.MessageHistory)
	for i, m := range cp.MessageHistory {
		if len(m.ToolCalls) > 0 {
			calls := make([]ToolCall, len(m.ToolCalls))
			copy(calls, m.ToolCalls)
			cp.MessageHistory[i].ToolCalls = calls
		}
	}
	if s.PendingInterrupt != nil {
		interrupt := *s.PendingInterrupt
		interrupt.AllowedResponseTypes = append([]ResponseType(nil), s.PendingInterrupt.AllowedResponseTypes...)
		cp.PendingInterrupt = &interrupt
	}
	return &cp
}

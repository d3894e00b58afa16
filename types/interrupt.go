package types

import (
	"encoding/json"
	"time"
)

// ResponseType is the kind of disposition a human can give to a pending
// interrupt. "response" carries free-form feedback text in Args.
type ResponseType string

const (
	ResponseAccept   ResponseType = "accept"
	ResponseEdit     ResponseType = "edit"
	ResponseIgnore   ResponseType = "ignore"
	ResponseFeedback ResponseType = "response"
)

// Interrupt is a suspend point awaiting human disposition. It is created by
// a stage, persisted inside the workflow checkpoint, and consumed exactly
// once by the matching resume call.
type Interrupt struct {
	ID                   string          `json:"id"`
	Action               string          `json:"action"`
	Args                 json.RawMessage `json:"args,omitempty"`
	Description          string          `json:"description"`
	AllowedResponseTypes []ResponseType  `json:"allowed_response_types"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Allows reports whether the given response type may resume this interrupt.
func (i *Interrupt) Allows(t ResponseType) bool {
	for _, allowed := range i.AllowedResponseTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// HumanResponse is the transient input that resumes a suspended workflow.
// Only its effect (state transition plus preference delta) persists.
// Args shape depends on Type: edited tool arguments for "edit", feedback
// text for "response", absent for "accept" and "ignore".
type HumanResponse struct {
	Type ResponseType    `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

// FeedbackText extracts the free-form feedback carried by a "response"
// disposition. Accepts either a bare JSON string or any other JSON value,
// which is returned verbatim.
func (r HumanResponse) FeedbackText() string {
	if len(r.Args) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Args, &s); err == nil {
		return s
	}
	return string(r.Args)
}

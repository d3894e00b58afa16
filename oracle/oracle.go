// Package oracle defines the Decision Oracle boundary: the external
// component that performs classification, action planning, and preference
// summarization. The engine only depends on this interface; the actual
// natural-language model sits behind it.
package oracle

import (
	"context"

	"github.com/BaSui01/inboxflow/types"
)

// TriageDecision is the structured result of classifying an inbound email.
type TriageDecision struct {
	Classification types.Classification `json:"classification"`
	Reasoning      string               `json:"reasoning"`
}

// Oracle is the Decision Oracle contract. Each method corresponds to one of
// the oracle's structured output modes, so callers switch on typed results
// instead of parsing free text:
//
//   - Triage returns a classification,
//   - PlanAction returns exactly one planned tool call (the terminal "Done"
//     action is a tool call named tools.ToolDone),
//   - SummarizePreferences returns a revised policy text.
//
// All methods are network-bound and must respect ctx cancellation.
type Oracle interface {
	Triage(ctx context.Context, item types.EmailInput, triagePolicy string) (*TriageDecision, error)

	PlanAction(ctx context.Context, history []types.Message, responsePolicy, calendarPolicy string) (*types.ToolCall, error)

	SummarizePreferences(ctx context.Context, namespace types.Namespace, currentPolicy string, observations []types.Message) (string, error)
}

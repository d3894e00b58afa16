package types

import "time"

// Namespace identifies one of the three independently versioned preference
// profiles. Profiles are process-wide: keyed only by namespace, never by
// workflow thread.
type Namespace string

const (
	NamespaceTriage   Namespace = "triage_preferences"
	NamespaceResponse Namespace = "response_preferences"
	NamespaceCalendar Namespace = "cal_preferences"
)

// Valid reports whether the namespace is one of the three known profiles.
func (n Namespace) Valid() bool {
	switch n {
	case NamespaceTriage, NamespaceResponse, NamespaceCalendar:
		return true
	}
	return false
}

// PreferenceProfile holds the free-form policy text for one namespace.
// Revision strictly increases on every accepted mutation and is used to
// detect lost-update races between concurrent workflows.
type PreferenceProfile struct {
	Namespace Namespace `json:"namespace"`
	Policy    string    `json:"policy"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

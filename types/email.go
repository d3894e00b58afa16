package types

import (
	"fmt"
	"strings"
)

// EmailInput is an inbound email submitted to the engine. It is immutable
// once received and owned by the workflow instance created for it.
type EmailInput struct {
	Author  string `json:"author"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate checks that the email carries the minimum fields the triage
// stage needs. Author and body must be non-empty.
func (e EmailInput) Validate() error {
	if strings.TrimSpace(e.Author) == "" {
		return NewError(ErrInvalidInput, "email author must not be empty")
	}
	if strings.TrimSpace(e.Body) == "" {
		return NewError(ErrInvalidInput, "email body must not be empty")
	}
	return nil
}

// Markdown formats the email for human review in interrupt descriptions.
func (e EmailInput) Markdown() string {
	return fmt.Sprintf("**Subject**: %s\n**From**: %s\n**To**: %s\n\n%s\n\n---\n",
		e.Subject, e.Author, e.To, e.Body)
}

// Classification is the triage decision for an inbound email.
type Classification string

const (
	// ClassificationUnset is the zero value before triage has run.
	ClassificationUnset Classification = ""

	ClassificationRespond Classification = "respond"
	ClassificationNotify  Classification = "notify"
	ClassificationIgnore  Classification = "ignore"
)

// Valid reports whether the classification is one of the three triage
// outcomes. The unset zero value is not valid.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationRespond, ClassificationNotify, ClassificationIgnore:
		return true
	}
	return false
}

// Package engine implements the resumable human-in-the-loop workflow over
// inbound email: triage, notification review, the tool-planning action loop
// with per-tool human review, and the controller that checkpoints state at
// every transition so a workflow can suspend indefinitely and resume across
// process restarts.
package engine

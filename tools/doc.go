// Package tools defines the typed action set the planner may choose from:
// each tool carries its own argument structure, a static sensitivity
// classification, and the human response types it admits under review.
package tools

// Package handlers contains the HTTP handlers of the workflow service:
// workflow lifecycle (start/resume/inspect) and health endpoints, plus the
// shared response envelope and error mapping.
package handlers

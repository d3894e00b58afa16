// Package telemetry wraps OpenTelemetry SDK setup for traces. Metrics are
// served by the Prometheus collector; only the trace pipeline goes through
// OTLP. When telemetry is disabled, global providers remain noop.
package telemetry

// Package instrumentation provides OpenTelemetry metrics, tracing, and
// audit logging for the bridge.
//
// A Provider owns the meter and tracer providers and the exporters behind
// them (Prometheus pull, OTLP push, or stdout for development). Metrics is
// the recording surface handed to the HTTP layer and the calendar adapter;
// all of its methods are safe to call on a nil or uninitialized receiver so
// instrumentation can be disabled without sprinkling conditionals through
// call sites.
//
// Audit logging records credential lifecycle events (stored, validated,
// deleted) separately from operational logs. Audit records identify users by
// an anonymized hash unless PII inclusion is explicitly enabled.
package instrumentation

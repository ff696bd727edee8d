package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrResult    = "result"
	attrUser      = "user"
)

// Metrics provides methods for recording observability metrics.
// All recording methods are nil-safe: a nil *Metrics or a Metrics whose
// instruments were never created records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Remote calendar operation metrics
	ewsOperationsTotal   metric.Int64Counter
	ewsOperationDuration metric.Float64Histogram

	// Credential lifecycle metrics
	credentialValidationsTotal metric.Int64Counter

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
// The detailedLabels parameter controls whether high-cardinality labels are
// included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.ewsOperationsTotal, err = meter.Int64Counter(
		"ews_operations_total",
		metric.WithDescription("Total number of Exchange Web Services operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ews_operations_total counter: %w", err)
	}

	m.ewsOperationDuration, err = meter.Float64Histogram(
		"ews_operation_duration_seconds",
		metric.WithDescription("Exchange Web Services operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ews_operation_duration_seconds histogram: %w", err)
	}

	m.credentialValidationsTotal, err = meter.Int64Counter(
		"credential_validations_total",
		metric.WithDescription("Total number of credential validation attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential_validations_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordEWSOperation records a remote calendar operation with its outcome
// and duration. The operation string names the adapter operation (for
// example "create_event"), not the wire-level SOAP action.
func (m *Metrics) RecordEWSOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil || m.ewsOperationsTotal == nil || m.ewsOperationDuration == nil {
		return // Instrumentation not initialized
	}

	status := StatusSuccess
	if err != nil {
		status = StatusError
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.ewsOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ewsOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCredentialValidation records a credential validation attempt.
// Result should be one of: "success", "error". The userHash is only added
// as a label when detailed labels are enabled; pass an anonymized hash,
// never a raw mailbox address.
func (m *Metrics) RecordCredentialValidation(ctx context.Context, result, userHash string) {
	if m == nil || m.credentialValidationsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrResult, result),
	}
	if m.detailedLabels && userHash != "" {
		attrs = append(attrs, attribute.String(attrUser, userHash))
	}

	m.credentialValidationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

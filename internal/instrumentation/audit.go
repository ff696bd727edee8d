package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/schedkit/exchange-bridge/internal/logging"
)

// Credential audit actions.
const (
	AuditActionStored    = "credential_stored"
	AuditActionValidated = "credential_validated"
	AuditActionDeleted   = "credential_deleted"
)

// CredentialEvent captures a credential lifecycle action for audit logging.
//
// The Username field contains PII. Audit records use an anonymized hash of
// it unless the audit logger is explicitly configured to include PII.
type CredentialEvent struct {
	// Action is one of the AuditAction constants.
	Action string

	// Username is the mailbox address the credential belongs to.
	Username string

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
}

// NewCredentialEvent creates a CredentialEvent with timing started.
// Call Complete when the action finishes.
func NewCredentialEvent(action, username string) *CredentialEvent {
	return &CredentialEvent{
		Action:    action,
		Username:  username,
		StartTime: time.Now(),
	}
}

// WithSpanContext extracts the trace ID from the current span.
func (e *CredentialEvent) WithSpanContext(ctx context.Context) *CredentialEvent {
	if id := GetTraceID(ctx); id != "" {
		e.TraceID = id
	}
	return e
}

// Complete marks the event as finished and calculates duration.
func (e *CredentialEvent) Complete(err error) *CredentialEvent {
	e.Duration = time.Since(e.StartTime)
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Status returns "success" or "error" based on the Success field.
func (e *CredentialEvent) Status() string {
	if e.Success {
		return StatusSuccess
	}
	return StatusError
}

// logAttrs returns slog attributes for the event. When includePII is false
// the username is replaced with its anonymized hash.
func (e *CredentialEvent) logAttrs(includePII bool) []slog.Attr {
	user := logging.AnonymizeEmail(e.Username)
	if includePII {
		user = e.Username
	}

	attrs := []slog.Attr{
		slog.String("action", e.Action),
		slog.String("user", user),
		slog.Duration("duration", e.Duration),
		slog.Bool("success", e.Success),
	}
	if e.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.TraceID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	return attrs
}

// AuditLogger provides structured audit logging for credential lifecycle
// events. It wraps slog.Logger with PII handling per configuration.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger with the given configuration.
// A nil logger falls back to slog.Default.
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogCredentialEvent logs a completed credential lifecycle event.
func (al *AuditLogger) LogCredentialEvent(e *CredentialEvent) {
	if al == nil || !al.enabled {
		return
	}

	attrs := e.logAttrs(al.includePII)
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if e.Success {
		al.logger.Info("credential_audit", args...)
	} else {
		al.logger.Warn("credential_audit", args...)
	}
}

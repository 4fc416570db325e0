package negotiate

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NIST SP 800-92 event types
const (
	EventCredential     = "credential"
	EventAuthentication = "authentication"
	EventContext        = "context_lifecycle"
)

// Security event subtypes
const (
	SubtypeCredAcquired = "acquired"
	SubtypeCredFreed    = "freed"
	SubtypeAuthSuccess  = "success"
	SubtypeAuthFailure  = "failure"
	SubtypeCtxImported  = "imported"
	SubtypeCtxExported  = "exported"
	SubtypeCtxDeleted   = "deleted"
)

// Security event outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Security event severities
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// SecurityEvent is a structured security log event following NIST SP 800-92.
type SecurityEvent struct {
	Timestamp string `json:"timestamp"` // ISO 8601 UTC
	EventType string `json:"event_type"`
	Subtype   string `json:"subtype"`
	Severity  string `json:"severity"`

	Package       string `json:"package"`
	Side          string `json:"side,omitempty"`
	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id"` // negotiation-scoped UUID

	Outcome string         `json:"outcome"`
	Details map[string]any `json:"details,omitempty"`
}

// SecurityLogger writes security events for one credential or context.
// A nil *SecurityLogger discards events.
type SecurityLogger struct {
	logger        *slog.Logger
	pkg           string
	side          string
	correlationID string
}

// NewSecurityLogger returns a logger with a fresh correlation ID.
func NewSecurityLogger(logger *slog.Logger, pkg, side string) *SecurityLogger {
	if logger == nil {
		return nil
	}
	return &SecurityLogger{
		logger:        logger,
		pkg:           pkg,
		side:          side,
		correlationID: uuid.New().String(),
	}
}

// CorrelationID returns the ID shared by every event of this logger.
func (l *SecurityLogger) CorrelationID() string {
	if l == nil {
		return ""
	}
	return l.correlationID
}

// LogEvent constructs and logs a security event.
func (l *SecurityLogger) LogEvent(eventType, subtype, severity, outcome string, details map[string]any) {
	if l == nil {
		return
	}
	event := &SecurityEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EventType:     eventType,
		Subtype:       subtype,
		Severity:      severity,
		Package:       l.pkg,
		Side:          l.side,
		Source:        "go-sspi",
		CorrelationID: l.correlationID,
		Outcome:       outcome,
		Details:       details,
	}

	switch severity {
	case SeverityWarning:
		l.logger.Warn("SecurityEvent", "event", event)
	case SeverityError:
		l.logger.Error("SecurityEvent", "event", event)
	default:
		l.logger.Info("SecurityEvent", "event", event)
	}
}

// LogCredential logs credential lifecycle events.
func (l *SecurityLogger) LogCredential(subtype, outcome, severity string, details map[string]any) {
	l.LogEvent(EventCredential, subtype, severity, outcome, details)
}

// LogAuthentication logs the outcome of a negotiation.
func (l *SecurityLogger) LogAuthentication(subtype, outcome, severity string, details map[string]any) {
	l.LogEvent(EventAuthentication, subtype, severity, outcome, details)
}

// LogContext logs context lifecycle events.
func (l *SecurityLogger) LogContext(subtype, outcome, severity string, details map[string]any) {
	l.LogEvent(EventContext, subtype, severity, outcome, details)
}

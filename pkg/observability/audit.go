package observability

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// EventKind names the audit record categories MAMMON emits. Every fatal or
// state-changing step in the transport, wallet, executor, and scheduler
// routes through one of these instead of an ad-hoc log line.
type EventKind string

const (
	EventRPCRequest              EventKind = "rpc_request"
	EventRPCUsageSummary          EventKind = "rpc_usage_summary"
	EventRPCEndpointFailure       EventKind = "rpc_endpoint_failure"
	EventRPCCircuitBreakerOpened  EventKind = "rpc_circuit_breaker_opened"
	EventTransactionInitiated     EventKind = "transaction_initiated"
	EventTransactionSigned        EventKind = "transaction_signed"
	EventTransactionExecuted      EventKind = "transaction_executed"
	EventTransactionFailed        EventKind = "transaction_failed"
	EventApprovalRequested        EventKind = "approval_requested"
	EventApprovalApproved         EventKind = "approval_approved"
	EventApprovalRejected         EventKind = "approval_rejected"
	EventApprovalExpired          EventKind = "approval_expired"
	EventSecurityViolation        EventKind = "security_violation"
	EventSpendingLimitExceeded    EventKind = "spending_limit_exceeded"
	EventPositionOpened           EventKind = "position_opened"
	EventPositionUpdated          EventKind = "position_updated"
	EventPositionClosed           EventKind = "position_closed"
	EventDecisionRecorded         EventKind = "decision_recorded"
	EventOracleFallbackToMock     EventKind = "oracle_fallback_to_mock"
	EventOracleStale              EventKind = "oracle_stale"
	EventTickCompleted            EventKind = "tick_completed"
	EventRebalanceExecuted        EventKind = "rebalance_executed"
)

// Event is one immutable audit record. Fields carries kind-specific detail
// (endpoint, amount_usd, protocol_id, ...); it is always sanitized before
// reaching the logger, never before.
type Event struct {
	ID        string                 `json:"id"`
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// EventLogger is MAMMON's audit sink. It is the single choke point through
// which RPC endpoint URLs reach a log line: every field map passed to
// Record is sanitized first, so an API key embedded in a query string never
// leaves this package.
type EventLogger struct {
	logger *Logger
}

// NewEventLogger wraps a Logger as an audit event sink.
func NewEventLogger(logger *Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

// Record builds, sanitizes, logs, and returns an audit event. The event is
// only logged: internal/store has no audit-event table and does not
// persist it.
func (el *EventLogger) Record(ctx context.Context, kind EventKind, fields map[string]interface{}) Event {
	sanitized := sanitizeFields(fields)

	evt := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Fields:    sanitized,
	}

	logFields := map[string]interface{}{
		"audit_id":   evt.ID,
		"audit_kind": string(kind),
		"component":  "audit",
	}
	for k, v := range sanitized {
		logFields[k] = v
	}

	switch kind {
	case EventSecurityViolation, EventTransactionFailed, EventRPCCircuitBreakerOpened, EventOracleStale, EventOracleFallbackToMock:
		el.logger.Warn(ctx, string(kind), logFields)
	default:
		el.logger.Info(ctx, string(kind), logFields)
	}

	return evt
}

// sanitizeFields rewrites any field whose key suggests a URL or secret so
// that API keys embedded in query strings or path segments never reach a
// log line.
func sanitizeFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if isSanitizableKey(k) {
			if s, ok := v.(string); ok {
				out[k] = SanitizeURL(s)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isSanitizableKey(key string) bool {
	switch key {
	case "endpoint", "endpoint_url", "url", "rpc_url", "raw_url":
		return true
	default:
		return false
	}
}

// SanitizeURL strips query parameters, userinfo, and any embedded API key
// path segment from a raw endpoint URL, leaving only scheme://host/path.
// Applied before an endpoint URL is ever logged or persisted.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.Scheme + "://" + u.Host + u.Path
}

package security

import (
	"context"
	"log/slog"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// ContextWithRequestID stores the request ID used to correlate events.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID, or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Event names.
const (
	EventRateLimited         = "rate_limit_exceeded"
	EventMalformedRequest    = "malformed_request"
	EventInvalidTable        = "invalid_table"
	EventMaliciousInput      = "malicious_input"
	EventMaliciousIdentifier = "malicious_identifier"
	EventUnauthenticated     = "unauthenticated"
	EventUnauthorized        = "unauthorized"
	EventUnsupportedMethod   = "unsupported_method"
	EventStoreFailed         = "store_operation_failed"
	EventStoreUnavailable    = "store_unavailable"
	EventUnexpected          = "unexpected_failure"
	EventPanic               = "panic_recovered"
	EventLoginSuccess        = "login_success"
	EventLoginFailed         = "login_failed"
	EventLoginLocked         = "login_locked"
	EventRateLimitReset      = "rate_limit_reset"
)

var kindEvents = map[apperr.Kind]string{
	apperr.RateLimitExceeded:    EventRateLimited,
	apperr.MalformedRequest:     EventMalformedRequest,
	apperr.InvalidTable:         EventInvalidTable,
	apperr.MaliciousInput:       EventMaliciousInput,
	apperr.MaliciousIdentifier:  EventMaliciousIdentifier,
	apperr.Unauthenticated:      EventUnauthenticated,
	apperr.Unauthorized:         EventUnauthorized,
	apperr.UnsupportedMethod:    EventUnsupportedMethod,
	apperr.StoreOperationFailed: EventStoreFailed,
	apperr.StoreUnavailable:     EventStoreUnavailable,
}

// EventFor names the event logged for a rejection of the given kind.
func EventFor(kind apperr.Kind) string {
	if name, ok := kindEvents[kind]; ok {
		return name
	}
	return EventUnexpected
}

// Event is one security-relevant occurrence. Reason names the condition that
// triggered it.
type Event struct {
	Name    string
	Success bool
	Reason  string
	IP      string
	Path    string
	Method  string
	UserID  string
	Table   string
	Op      string
	Details map[string]any
}

// EventLogger writes security events as single structured records.
type EventLogger struct {
	logger *slog.Logger
}

func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger.With("component", "security")}
}

func (l *EventLogger) Log(ctx context.Context, ev Event) {
	attrs := []slog.Attr{
		slog.String("event", ev.Name),
		slog.Bool("success", ev.Success),
	}
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	if ev.IP != "" {
		attrs = append(attrs, slog.String("ip", ev.IP))
	}
	if ev.Path != "" {
		attrs = append(attrs, slog.String("path", ev.Path))
	}
	if ev.Method != "" {
		attrs = append(attrs, slog.String("http_method", ev.Method))
	}
	if ev.UserID != "" {
		attrs = append(attrs, slog.String("user_id", ev.UserID))
	}
	if ev.Table != "" {
		attrs = append(attrs, slog.String("table", ev.Table))
	}
	if ev.Op != "" {
		attrs = append(attrs, slog.String("operation", ev.Op))
	}
	for k, v := range ev.Details {
		attrs = append(attrs, slog.Any(k, v))
	}

	level := slog.LevelWarn
	if ev.Success {
		level = slog.LevelInfo
	}
	l.logger.LogAttrs(ctx, level, "Security event", attrs...)
}

package audit

import (
	"context"
	"log/slog"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// SlogLogger writes audit events to a structured logger. It satisfies
// Logger but does not retain events; Query always returns nothing. Use the
// postgres store when a queryable trail is required.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates an audit logger writing to log. A nil log uses
// slog.Default().
func NewSlogLogger(log *slog.Logger) *SlogLogger {
	if log == nil {
		log = slog.Default()
	}
	return &SlogLogger{log: log}
}

// Log records the event as a structured log line.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	l.log.InfoContext(ctx, "audit",
		"event_id", event.ID,
		"entity_kind", event.EntityKind,
		"entity_id", event.EntityID,
		"action", event.Action,
		"actor", event.Actor,
		"amount", event.Amount,
		"success", event.Success,
		"detail", event.Detail,
	)
	return nil
}

// Query returns no events; the slog backend is write-only.
func (*SlogLogger) Query(context.Context, QueryFilter) ([]Event, error) {
	return nil, nil
}

// Close is a no-op.
func (*SlogLogger) Close() error { return nil }

// NopLogger discards all events.
type NopLogger struct{}

// Log discards the event.
func (NopLogger) Log(context.Context, Event) error { return nil }

// Query returns no events.
func (NopLogger) Query(context.Context, QueryFilter) ([]Event, error) { return nil, nil }

// Close is a no-op.
func (NopLogger) Close() error { return nil }

// Verify interface compliance.
var (
	_ Logger = (*SlogLogger)(nil)
	_ Logger = NopLogger{}
)

// Package postgres provides PostgreSQL storage for audit events.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/agoramesh/facilitator/pkg/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryCapacity = 100
	maxQueryLimit        = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// eventColumns lists columns returned by audit SELECT queries.
var eventColumns = []string{
	"id", "timestamp", "entity_kind", "entity_id", "action",
	"actor", "amount", "success", "detail",
}

// Store implements audit.Logger using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL audit store.
type Config struct {
	RetentionDays int
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events
		(id, timestamp, entity_kind, entity_id, action, actor, amount, success, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		event.EntityKind,
		event.EntityID,
		event.Action,
		event.Actor,
		event.Amount,
		event.Success,
		event.Detail,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// applyFilter adds filter conditions to a SELECT builder.
func applyFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.EntityKind != "" {
		qb = qb.Where(sq.Eq{"entity_kind": filter.EntityKind})
	}
	if filter.EntityID != "" {
		qb = qb.Where(sq.Eq{"entity_id": filter.EntityID})
	}
	if filter.Action != "" {
		qb = qb.Where(sq.Eq{"action": filter.Action})
	}
	if filter.Actor != "" {
		qb = qb.Where(sq.Eq{"actor": filter.Actor})
	}
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.Success != nil {
		qb = qb.Where(sq.Eq{"success": *filter.Success})
	}
	return qb
}

// Query retrieves audit events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	qb := applyFilter(psq.Select(eventColumns...).From("audit_events"), filter)
	qb = qb.OrderBy("timestamp DESC")
	if filter.Limit > 0 && filter.Limit <= maxQueryLimit {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	capacity := filter.Limit
	if capacity <= 0 || capacity > defaultQueryCapacity {
		capacity = defaultQueryCapacity
	}
	events := make([]audit.Event, 0, capacity)
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.EntityKind, &e.EntityID, &e.Action,
			&e.Actor, &e.Amount, &e.Success, &e.Detail,
		); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return events, nil
}

// Cleanup removes events older than the retention window.
func (s *Store) Cleanup(ctx context.Context) error {
	query := `DELETE FROM audit_events WHERE timestamp < NOW() - $1::interval`
	_, err := s.db.ExecContext(ctx, query, fmt.Sprintf("%d days", s.retentionDays))
	if err != nil {
		return fmt.Errorf("cleaning up audit events: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// events past retention. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Cleanup(ctx); err != nil {
					slog.Warn("audit cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ audit.Logger = (*Store)(nil)

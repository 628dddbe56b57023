// Package postgres provides PostgreSQL storage for spending sessions,
// receipts, and settlements.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"id", "client", "agent", "policy_id", "max_total", "max_per_request",
	"rate_limit", "rate_window_seconds", "duration_blocks", "valid_until",
	"require_proofs", "spent", "settled", "request_count",
	"window_start", "window_count", "status", "created_at", "updated_at",
}

// Store implements session.Store using PostgreSQL. The manager serializes
// mutations per session; the store additionally wraps admission and
// settlement in a transaction so the accounting row and its append-only
// record commit together.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new session.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	query := `
		INSERT INTO sessions
		(id, client, agent, policy_id, max_total, max_per_request, rate_limit, rate_window_seconds,
		 duration_blocks, valid_until, require_proofs, spent, settled, request_count,
		 window_start, window_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.Client.String(), sess.Agent.String(), sess.PolicyID,
		sess.MaxTotal, sess.MaxPerRequest, sess.RateLimit, sess.RateWindowSeconds,
		int64(sess.DurationBlocks), int64(sess.ValidUntil), sess.RequireProofs,
		sess.Spent, sess.Settled, sess.RequestCount,
		sess.WindowStart, sess.WindowCount, string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `
		SELECT id, client, agent, policy_id, max_total, max_per_request, rate_limit, rate_window_seconds,
		       duration_blocks, valid_until, require_proofs, spent, settled, request_count,
		       window_start, window_count, status, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, id)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return sess, nil
}

// Update persists mutated session fields.
func (s *Store) Update(ctx context.Context, sess *session.Session) error {
	query := `
		UPDATE sessions
		SET spent = $2, settled = $3, request_count = $4, window_start = $5,
		    window_count = $6, status = $7, updated_at = $8
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.Spent, sess.Settled, sess.RequestCount, sess.WindowStart,
		sess.WindowCount, string(sess.Status), sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// Admit persists the admission accounting and appends the receipt in one
// transaction.
func (s *Store) Admit(ctx context.Context, sess *session.Session, r *session.Receipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning admission tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	updateQuery := `
		UPDATE sessions
		SET spent = $2, request_count = $3, window_start = $4, window_count = $5, updated_at = $6
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, updateQuery,
		sess.ID, sess.Spent, sess.RequestCount, sess.WindowStart, sess.WindowCount, sess.UpdatedAt,
	); err != nil {
		return fmt.Errorf("updating session accounting: %w", err)
	}

	insertQuery := `
		INSERT INTO receipts (id, session_id, request_hash, amount, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, insertQuery,
		r.ID, r.SessionID, r.RequestHash, r.Amount, r.Timestamp,
	); err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing admission: %w", err)
	}
	return nil
}

// Settle persists the settled counter and appends the settlement in one
// transaction.
func (s *Store) Settle(ctx context.Context, sess *session.Session, st *session.Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning settlement tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	updateQuery := `
		UPDATE sessions
		SET settled = $2, updated_at = $3
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, updateQuery, sess.ID, sess.Settled, sess.UpdatedAt); err != nil {
		return fmt.Errorf("updating settled counter: %w", err)
	}

	insertQuery := `
		INSERT INTO settlements (id, session_id, amount, settled_total, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, insertQuery,
		st.ID, st.SessionID, st.Amount, st.SettledTotal, st.Timestamp,
	); err != nil {
		return fmt.Errorf("inserting settlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settlement: %w", err)
	}
	return nil
}

// List returns sessions matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter session.Filter) ([]*session.Session, error) {
	qb := psq.Select(sessionColumns...).From("sessions").OrderBy("created_at DESC")
	if !filter.Client.IsZero() {
		qb = qb.Where(sq.Eq{"client": filter.Client.String()})
	}
	if !filter.Agent.IsZero() {
		qb = qb.Where(sq.Eq{"agent": filter.Agent.String()})
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Eq{"status": string(filter.Status)})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// Receipts returns a session's receipts in admission order.
func (s *Store) Receipts(ctx context.Context, sessionID string) ([]*session.Receipt, error) {
	query := `
		SELECT id, session_id, request_hash, amount, timestamp
		FROM receipts
		WHERE session_id = $1
		ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var receipts []*session.Receipt
	for rows.Next() {
		var r session.Receipt
		if err := rows.Scan(&r.ID, &r.SessionID, &r.RequestHash, &r.Amount, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipt rows: %w", err)
	}
	return receipts, nil
}

// Settlements returns a session's settlements in order.
func (s *Store) Settlements(ctx context.Context, sessionID string) ([]*session.Settlement, error) {
	query := `
		SELECT id, session_id, amount, settled_total, timestamp
		FROM settlements
		WHERE session_id = $1
		ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing settlements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var settlements []*session.Settlement
	for rows.Next() {
		var st session.Settlement
		if err := rows.Scan(&st.ID, &st.SessionID, &st.Amount, &st.SettledTotal, &st.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning settlement: %w", err)
		}
		settlements = append(settlements, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settlement rows: %w", err)
	}
	return settlements, nil
}

// Close releases resources. The *sql.DB is owned by the caller.
func (*Store) Close() error { return nil }

// scanSession scans one row using the given scan function.
func scanSession(scan func(dest ...any) error) (*session.Session, error) {
	var sess session.Session
	var client, agent, status string
	var durationBlocks, validUntil int64

	err := scan(
		&sess.ID, &client, &agent, &sess.PolicyID, &sess.MaxTotal, &sess.MaxPerRequest,
		&sess.RateLimit, &sess.RateWindowSeconds, &durationBlocks, &validUntil,
		&sess.RequireProofs, &sess.Spent, &sess.Settled, &sess.RequestCount,
		&sess.WindowStart, &sess.WindowCount, &status, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Client = address.Address(client)
	sess.Agent = address.Address(agent)
	sess.DurationBlocks = uint64(durationBlocks)
	sess.ValidUntil = uint64(validUntil)
	sess.Status = session.Status(status)
	return &sess, nil
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)

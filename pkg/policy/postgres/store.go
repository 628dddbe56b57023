// Package postgres provides PostgreSQL storage for spending policies.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/policy"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// policyColumns lists columns returned by policy SELECT queries.
var policyColumns = []string{
	"id", "owner", "max_session_value", "max_single_request",
	"allowed_tiers", "allowed_categories", "require_proofs", "created_at",
}

// Store implements policy.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL policy store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new policy. Policies are immutable; there is no update.
func (s *Store) Create(ctx context.Context, p *policy.Policy) error {
	query := `
		INSERT INTO policies
		(id, owner, max_session_value, max_single_request, allowed_tiers, allowed_categories, require_proofs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Owner.String(),
		p.MaxSessionValue,
		p.MaxSingleRequest,
		int64(p.AllowedTiers),
		int64(p.AllowedCategories),
		p.RequireProofs,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting policy: %w", err)
	}
	return nil
}

// Get retrieves a policy by ID. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*policy.Policy, error) {
	query := `
		SELECT id, owner, max_session_value, max_single_request, allowed_tiers, allowed_categories, require_proofs, created_at
		FROM policies
		WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, id)
	p, err := scanPolicy(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning policy: %w", err)
	}
	return p, nil
}

// List returns policies, optionally filtered by owner, newest first.
func (s *Store) List(ctx context.Context, owner address.Address) ([]*policy.Policy, error) {
	qb := psq.Select(policyColumns...).From("policies").OrderBy("created_at DESC")
	if !owner.IsZero() {
		qb = qb.Where(sq.Eq{"owner": owner.String()})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building policy query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []*policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating policy rows: %w", err)
	}
	return policies, nil
}

// Close releases resources. The *sql.DB is owned by the caller.
func (*Store) Close() error { return nil }

// scanPolicy scans one row using the given scan function.
func scanPolicy(scan func(dest ...any) error) (*policy.Policy, error) {
	var p policy.Policy
	var owner string
	var tiers, categories int64

	err := scan(
		&p.ID, &owner, &p.MaxSessionValue, &p.MaxSingleRequest,
		&tiers, &categories, &p.RequireProofs, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Owner = address.Address(owner)
	p.AllowedTiers = uint64(tiers)
	p.AllowedCategories = uint64(categories)
	return &p, nil
}

// Verify interface compliance.
var _ policy.Store = (*Store)(nil)

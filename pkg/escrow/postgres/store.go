// Package postgres provides PostgreSQL storage for multi-sig escrows.
// Signer slots and their approvals are stored as three aligned column
// pairs; the slot count is fixed by the escrow design.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/escrow"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// escrowColumns lists columns returned by escrow SELECT queries.
var escrowColumns = []string{
	"job_hash", "owner", "agent", "amount", "secret_hash",
	"signer_1", "signer_2", "signer_3",
	"approval_1", "approval_2", "approval_3",
	"required_sigs", "status", "created_at", "updated_at",
}

// Store implements escrow.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL escrow store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new escrow.
func (s *Store) Create(ctx context.Context, e *escrow.MultiSigEscrow) error {
	query := `
		INSERT INTO escrows
		(job_hash, owner, agent, amount, secret_hash,
		 signer_1, signer_2, signer_3, approval_1, approval_2, approval_3,
		 required_sigs, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.JobHash, e.Owner.String(), e.Agent.String(), e.Amount, e.SecretHash,
		e.Signers[0].String(), e.Signers[1].String(), e.Signers[2].String(),
		e.Approvals[0], e.Approvals[1], e.Approvals[2],
		e.RequiredSigs, string(e.Status), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting escrow: %w", err)
	}
	return nil
}

// Get retrieves an escrow by job hash. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, jobHash string) (*escrow.MultiSigEscrow, error) {
	query := `
		SELECT job_hash, owner, agent, amount, secret_hash,
		       signer_1, signer_2, signer_3, approval_1, approval_2, approval_3,
		       required_sigs, status, created_at, updated_at
		FROM escrows
		WHERE job_hash = $1
	`
	row := s.db.QueryRowContext(ctx, query, jobHash)
	e, err := scanEscrow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning escrow: %w", err)
	}
	return e, nil
}

// Update persists mutated escrow fields.
func (s *Store) Update(ctx context.Context, e *escrow.MultiSigEscrow) error {
	query := `
		UPDATE escrows
		SET approval_1 = $2, approval_2 = $3, approval_3 = $4, status = $5, updated_at = $6
		WHERE job_hash = $1
	`
	_, err := s.db.ExecContext(ctx, query,
		e.JobHash, e.Approvals[0], e.Approvals[1], e.Approvals[2],
		string(e.Status), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating escrow: %w", err)
	}
	return nil
}

// PendingFor returns locked escrows where addr occupies an unapproved
// signer slot, oldest first.
func (s *Store) PendingFor(ctx context.Context, addr address.Address) ([]*escrow.MultiSigEscrow, error) {
	a := addr.String()
	qb := psq.Select(escrowColumns...).From("escrows").
		Where(sq.Eq{"status": string(escrow.StatusLocked)}).
		Where(sq.Or{
			sq.And{sq.Eq{"signer_1": a}, sq.Eq{"approval_1": false}},
			sq.And{sq.Eq{"signer_2": a}, sq.Eq{"approval_2": false}},
			sq.And{sq.Eq{"signer_3": a}, sq.Eq{"approval_3": false}},
		}).
		OrderBy("created_at ASC")

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building pending query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending escrows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var escrows []*escrow.MultiSigEscrow
	for rows.Next() {
		e, err := scanEscrow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning escrow row: %w", err)
		}
		escrows = append(escrows, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating escrow rows: %w", err)
	}
	return escrows, nil
}

// Close releases resources. The *sql.DB is owned by the caller.
func (*Store) Close() error { return nil }

// scanEscrow scans one row using the given scan function.
func scanEscrow(scan func(dest ...any) error) (*escrow.MultiSigEscrow, error) {
	var e escrow.MultiSigEscrow
	var owner, agent, status string
	var signers [escrow.SignerSlots]string

	err := scan(
		&e.JobHash, &owner, &agent, &e.Amount, &e.SecretHash,
		&signers[0], &signers[1], &signers[2],
		&e.Approvals[0], &e.Approvals[1], &e.Approvals[2],
		&e.RequiredSigs, &status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Owner = address.Address(owner)
	e.Agent = address.Address(agent)
	for i, signer := range signers {
		e.Signers[i] = address.Address(signer)
	}
	e.Status = escrow.Status(status)
	return &e, nil
}

// Verify interface compliance.
var _ escrow.Store = (*Store)(nil)

// Package escrow owns multi-signer escrows: amounts locked per job and
// released when an M-of-N signer threshold is met, or refunded by an
// external dispute decision. Threshold approval is a simple counter over
// three signer slots, not a consensus protocol.
package escrow

import (
	"context"
	"time"

	"github.com/agoramesh/facilitator/pkg/address"
)

// SignerSlots is the fixed number of signer slots per escrow.
const SignerSlots = 3

// Status is an escrow lifecycle state.
type Status string

const (
	// StatusLocked accepts approvals.
	StatusLocked Status = "locked"

	// StatusReleased is terminal: the threshold was met.
	StatusReleased Status = "released"

	// StatusRefunded is terminal: an external dispute decision returned
	// the amount to the owner.
	StatusRefunded Status = "refunded"
)

// MultiSigEscrow is an escrow amount guarded by an M-of-3 signer threshold.
// Approvals align by index with Signers; SigCount only increases, and each
// signer approves at most once.
type MultiSigEscrow struct {
	// JobHash uniquely identifies the job backing the escrow.
	JobHash string `json:"job_hash"`

	// Owner funds the escrow.
	Owner address.Address `json:"owner"`

	// Agent receives the amount on release.
	Agent address.Address `json:"agent"`

	// Amount is the escrowed value in microcredits.
	Amount int64 `json:"amount"`

	// SecretHash is stored opaque; release requires only the signature
	// threshold.
	SecretHash string `json:"secret_hash,omitempty"`

	// Signers are the three signer slots. Empty slots are allowed;
	// duplicate non-empty addresses are rejected at creation because they
	// would silently collapse the effective signer set.
	Signers [SignerSlots]address.Address `json:"signers"`

	// RequiredSigs is the release threshold, 1..3.
	RequiredSigs int `json:"required_signatures"`

	// Approvals align by index with Signers.
	Approvals [SignerSlots]bool `json:"approvals"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// CreatedAt is when the escrow was locked.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last mutation timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// SigCount returns the number of collected approvals.
func (e *MultiSigEscrow) SigCount() int {
	count := 0
	for _, approved := range e.Approvals {
		if approved {
			count++
		}
	}
	return count
}

// SlotOf returns the signer slot index occupied by addr, or -1.
func (e *MultiSigEscrow) SlotOf(addr address.Address) int {
	for i, signer := range e.Signers {
		if !signer.IsZero() && signer == addr {
			return i
		}
	}
	return -1
}

// Store defines the interface for escrow persistence. Mutations are
// serialized per job hash by the Coordinator.
type Store interface {
	// Create persists a new escrow.
	Create(ctx context.Context, e *MultiSigEscrow) error

	// Get retrieves an escrow by job hash. Returns nil, nil if not found.
	Get(ctx context.Context, jobHash string) (*MultiSigEscrow, error)

	// Update persists mutated escrow fields.
	Update(ctx context.Context, e *MultiSigEscrow) error

	// PendingFor returns locked escrows where addr occupies an unapproved
	// signer slot.
	PendingFor(ctx context.Context, addr address.Address) ([]*MultiSigEscrow, error)

	// Close releases resources.
	Close() error
}

// Package session owns the lifecycle of bounded spending sessions and the
// per-request admission control that accounts spend against their caps.
// A session is a pre-authorized grant from a client to an agent: the agent
// may spend up to a total cap across many requests, each bounded by a
// per-request cap and a rate limit, without per-request signatures.
package session

import (
	"context"
	"time"

	"github.com/agoramesh/facilitator/pkg/address"
)

// Status is a session lifecycle state.
type Status string

const (
	// StatusActive allows request admission.
	StatusActive Status = "active"

	// StatusPaused suspends admission; accounting is untouched.
	StatusPaused Status = "paused"

	// StatusClosed is terminal. No transition leaves it.
	StatusClosed Status = "closed"
)

// Session is a bounded spending grant from a client to an agent.
// Spent is monotonically non-decreasing until close; every admitted
// request satisfies amount <= MaxPerRequest and Spent+amount <= MaxTotal.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"session_id"`

	// Client is the address funding the session.
	Client address.Address `json:"client"`

	// Agent is the address authorized to spend from it.
	Agent address.Address `json:"agent"`

	// PolicyID references the policy the session was created under, if any.
	PolicyID string `json:"policy_id,omitempty"`

	// MaxTotal is the session budget cap in microcredits.
	MaxTotal int64 `json:"max_total"`

	// MaxPerRequest caps a single admitted request, <= MaxTotal.
	MaxPerRequest int64 `json:"max_per_request"`

	// RateLimit is the number of requests admitted per rate window.
	RateLimit int `json:"rate_limit"`

	// RateWindowSeconds is the fixed rate window length. Windows are
	// aligned to CreatedAt: window index = floor((now-CreatedAt)/window).
	RateWindowSeconds int `json:"rate_window_seconds"`

	// DurationBlocks is the session validity span in blocks.
	DurationBlocks uint64 `json:"duration_blocks"`

	// ValidUntil is the derived expiry block height. Zero means block
	// expiry is not enforced (no height was observed at creation).
	ValidUntil uint64 `json:"valid_until,omitempty"`

	// RequireProofs is inherited from the policy the session was created
	// under; settlement of such sessions carries per-request proofs.
	RequireProofs bool `json:"require_proofs,omitempty"`

	// Spent is the total admitted so far, 0 <= Spent <= MaxTotal.
	Spent int64 `json:"spent"`

	// Settled is the cumulative settled amount, always <= Spent.
	Settled int64 `json:"settled"`

	// RequestCount is the number of admitted requests; it always equals
	// the number of receipts.
	RequestCount int `json:"request_count"`

	// WindowStart is the start of the current rate window.
	WindowStart time.Time `json:"window_start"`

	// WindowCount is the number of admissions in the current window.
	WindowCount int `json:"window_count"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// CreatedAt anchors the rate window alignment.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last mutation timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// Receipt is an immutable record of one admitted spend within a session.
type Receipt struct {
	// ID is the unique receipt identifier.
	ID string `json:"receipt_id"`

	// SessionID is the owning session.
	SessionID string `json:"session_id"`

	// RequestHash identifies the unit of work; generated when the caller
	// omits it.
	RequestHash string `json:"request_hash"`

	// Amount is the admitted spend in microcredits.
	Amount int64 `json:"amount"`

	// Timestamp is when the request was admitted.
	Timestamp time.Time `json:"timestamp"`
}

// Settlement records one release of previously-accounted spend to the
// agent. Multiple partial settlements are allowed; their sum never
// exceeds the session's Spent.
type Settlement struct {
	// ID is the unique settlement identifier.
	ID string `json:"settlement_id"`

	// SessionID is the owning session.
	SessionID string `json:"session_id"`

	// Amount is the amount settled by this record.
	Amount int64 `json:"amount"`

	// SettledTotal is the cumulative settled amount after this record.
	SettledTotal int64 `json:"settled_total"`

	// Timestamp is when the settlement was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Filter selects sessions in List queries. Zero fields match everything.
type Filter struct {
	Client address.Address
	Agent  address.Address
	Status Status
}

// Store defines the interface for session persistence. All mutating calls
// are made by the Manager while holding the session's key mutex; stores do
// not need to serialize calls on the same session themselves.
type Store interface {
	// Create persists a new session.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID. Returns nil, nil if not found.
	Get(ctx context.Context, id string) (*Session, error)

	// Update persists mutated session fields.
	Update(ctx context.Context, s *Session) error

	// Admit persists the session's admission accounting and appends the
	// receipt in one atomic operation.
	Admit(ctx context.Context, s *Session, r *Receipt) error

	// Settle persists the session's settled counter and appends the
	// settlement in one atomic operation.
	Settle(ctx context.Context, s *Session, st *Settlement) error

	// List returns sessions matching the filter.
	List(ctx context.Context, filter Filter) ([]*Session, error)

	// Receipts returns a session's receipts in admission order.
	Receipts(ctx context.Context, sessionID string) ([]*Receipt, error)

	// Settlements returns a session's settlements in order.
	Settlements(ctx context.Context, sessionID string) ([]*Settlement, error)

	// Close releases resources.
	Close() error
}

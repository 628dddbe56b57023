// Package fault defines the error taxonomy shared by the facilitator core.
// Every error a component returns belongs to exactly one kind: validation
// errors are rejected synchronously and never retried, conflict errors are
// domain decisions surfaced to the caller, not-found errors map to missing
// entities, and transient errors are the only ones worth retrying.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that branch on failure class
// rather than on specific sentinels (HTTP status mapping, retry loops).
type Kind string

const (
	// KindValidation marks inputs rejected before any state change.
	KindValidation Kind = "validation"

	// KindConflict marks operations illegal in the entity's current state.
	KindConflict Kind = "conflict"

	// KindNotFound marks lookups of entities that do not exist.
	KindNotFound Kind = "not_found"

	// KindTransient marks failures that may succeed on retry.
	KindTransient Kind = "transient"

	// KindUnknown is reported for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// Error is a kinded error. Sentinels below are all *Error values, so
// errors.Is works on them and KindOf works on anything wrapping them.
type Error struct {
	kind Kind
	msg  string
}

// Error implements the error interface.
func (e *Error) Error() string { return e.msg }

// Kind returns the error's class.
func (e *Error) Kind() Kind { return e.kind }

// New creates a kinded error with the given message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Validation errors: bad bounds or malformed inputs.
var (
	// ErrInvalidBounds is returned when numeric bounds are zero, negative,
	// or mutually inconsistent (e.g. per-request cap above the total cap).
	ErrInvalidBounds = New(KindValidation, "invalid bounds")

	// ErrInvalidAddress is returned when an address fails syntactic validation.
	ErrInvalidAddress = New(KindValidation, "invalid address")

	// ErrExceedsPolicyBound is returned when proposed session bounds exceed
	// the policy they are created under.
	ErrExceedsPolicyBound = New(KindValidation, "exceeds policy bound")

	// ErrTierNotAllowed is returned when the agent tier bit is not set in
	// the policy's allowed-tiers mask.
	ErrTierNotAllowed = New(KindValidation, "agent tier not allowed by policy")

	// ErrCategoryNotAllowed is returned when the agent category bit is not
	// set in the policy's allowed-categories mask.
	ErrCategoryNotAllowed = New(KindValidation, "agent category not allowed by policy")

	// ErrPerRequestCapExceeded is returned when a single request amount
	// exceeds the session's per-request cap.
	ErrPerRequestCapExceeded = New(KindValidation, "amount exceeds per-request cap")

	// ErrInvalidSigners is returned when an escrow's signer slots are
	// malformed or contain duplicate non-empty addresses.
	ErrInvalidSigners = New(KindValidation, "invalid signers")

	// ErrInvalidThreshold is returned when required signatures are outside
	// 1..3 or exceed the number of valid signer slots.
	ErrInvalidThreshold = New(KindValidation, "invalid signature threshold")
)

// Conflict errors: the operation is legal in some state, just not this one.
var (
	// ErrSessionNotActive is returned when admission is attempted against a
	// paused or closed session.
	ErrSessionNotActive = New(KindConflict, "session not active")

	// ErrSessionNotPaused is returned when Resume is called on a session
	// that is not paused.
	ErrSessionNotPaused = New(KindConflict, "session not paused")

	// ErrSessionClosed is returned for any transition attempted after close.
	ErrSessionClosed = New(KindConflict, "session closed")

	// ErrSessionExpired is returned when the observed block height has
	// passed the session's valid_until bound.
	ErrSessionExpired = New(KindConflict, "session expired")

	// ErrBudgetExceeded is returned when an admission would push spent past
	// the session's total cap.
	ErrBudgetExceeded = New(KindConflict, "session budget exceeded")

	// ErrRateLimitExceeded is returned when an admission would exceed the
	// session's rate limit within the current window.
	ErrRateLimitExceeded = New(KindConflict, "rate limit exceeded")

	// ErrExceedsSpent is returned when cumulative settlements would exceed
	// the session's accounted spend.
	ErrExceedsSpent = New(KindConflict, "settlement exceeds spent")

	// ErrEscrowNotLocked is returned when an approval or refund arrives
	// after the escrow left the locked state.
	ErrEscrowNotLocked = New(KindConflict, "escrow not locked")

	// ErrNotASigner is returned when the approving address occupies no
	// signer slot.
	ErrNotASigner = New(KindConflict, "address is not a signer")

	// ErrAlreadyApproved is returned when a signer approves twice.
	ErrAlreadyApproved = New(KindConflict, "signer already approved")

	// ErrEscrowExists is returned when an escrow with the same job hash
	// already exists. The caller can resume the job/escrow pairing from the
	// existing escrow instead of redoing the compound operation.
	ErrEscrowExists = New(KindConflict, "escrow already exists")
)

// Not-found errors.
var (
	// ErrSessionNotFound is returned when no session has the given id.
	ErrSessionNotFound = New(KindNotFound, "session not found")

	// ErrPolicyNotFound is returned when no policy has the given id.
	ErrPolicyNotFound = New(KindNotFound, "policy not found")

	// ErrEscrowNotFound is returned when no escrow has the given job hash.
	ErrEscrowNotFound = New(KindNotFound, "escrow not found")
)

// Transient errors.
var (
	// ErrMaxRetriesExceeded is returned when the resilient client exhausts
	// its retry budget.
	ErrMaxRetriesExceeded = New(KindTransient, "max retries exceeded")

	// ErrNetwork is returned for connection-level failures.
	ErrNetwork = New(KindTransient, "network error")
)

// KindOf reports the kind of err, unwrapping as needed.
// Errors outside the taxonomy report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind()
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTransient reports whether err is a transient error.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// Transition wraps a conflict sentinel with the attempted state change,
// e.g. "session not active: paused -> admit".
func Transition(sentinel error, from, to string) error {
	return fmt.Errorf("%w: %s -> %s", sentinel, from, to)
}

// Package audit provides the compliance trail for the facilitator core.
// Every admission, lifecycle transition, approval, release, refund, and
// settlement appends an immutable event.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind identifies the entity an event concerns.
type EntityKind string

const (
	// EntitySession marks events on spending sessions.
	EntitySession EntityKind = "session"

	// EntityPolicy marks events on spending policies.
	EntityPolicy EntityKind = "policy"

	// EntityEscrow marks events on multi-sig escrows.
	EntityEscrow EntityKind = "escrow"
)

// Actions recorded by the core.
const (
	ActionCreate  = "create"
	ActionAdmit   = "admit"
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionClose   = "close"
	ActionSettle  = "settle"
	ActionApprove = "approve"
	ActionRelease = "release"
	ActionRefund  = "refund"
)

// Event is one immutable audit record.
type Event struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	Action     string     `json:"action"`
	Actor      string     `json:"actor,omitempty"`
	Amount     int64      `json:"amount,omitempty"`
	Success    bool       `json:"success"`
	Detail     string     `json:"detail,omitempty"`
}

// NewEvent creates an event for an action on an entity, timestamped now.
func NewEvent(kind EntityKind, entityID, action string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		EntityKind: kind,
		EntityID:   entityID,
		Action:     action,
		Success:    true,
	}
}

// WithActor records the address or principal performing the action.
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

// WithAmount records the monetary amount involved, in microcredits.
func (e *Event) WithAmount(amount int64) *Event {
	e.Amount = amount
	return e
}

// WithOutcome records whether the action succeeded and an optional detail,
// typically the rejection reason.
func (e *Event) WithOutcome(success bool, detail string) *Event {
	e.Success = success
	e.Detail = detail
	return e
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	EntityKind EntityKind
	EntityID   string
	Action     string
	Actor      string
	StartTime  *time.Time
	EndTime    *time.Time
	Success    *bool
	Limit      int
	Offset     int
}

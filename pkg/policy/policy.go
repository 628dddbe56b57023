// Package policy defines reusable spending policies and the engine that
// validates proposed sessions against them. A policy is immutable after
// creation; sessions reference it by id and must fit inside its bounds.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/fault"
)

// Policy is a reusable, named upper bound for sessions created under it.
type Policy struct {
	// ID is the unique policy identifier.
	ID string `json:"policy_id"`

	// Owner is the address that created the policy.
	Owner address.Address `json:"owner"`

	// MaxSessionValue caps max_total of any session created from this
	// policy, in microcredits.
	MaxSessionValue int64 `json:"max_session_value"`

	// MaxSingleRequest caps max_per_request of any session created from
	// this policy, in microcredits.
	MaxSingleRequest int64 `json:"max_single_request"`

	// AllowedTiers is a bitmask of agent tiers sessions may be created
	// for. Zero means unrestricted.
	AllowedTiers uint64 `json:"allowed_tiers,omitempty"`

	// AllowedCategories is a bitmask of agent categories. Zero means
	// unrestricted.
	AllowedCategories uint64 `json:"allowed_categories,omitempty"`

	// RequireProofs marks sessions under this policy as requiring
	// per-request proofs at settlement.
	RequireProofs bool `json:"require_proofs"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`
}

// AllowsTier reports whether the tier bit is permitted. A zero mask
// permits everything.
func (p *Policy) AllowsTier(tier uint64) bool {
	return p.AllowedTiers == 0 || p.AllowedTiers&tier != 0
}

// AllowsCategory reports whether the category bit is permitted. A zero
// mask permits everything.
func (p *Policy) AllowsCategory(category uint64) bool {
	return p.AllowedCategories == 0 || p.AllowedCategories&category != 0
}

// Validate checks that proposed session bounds fit within the policy.
// It is a pure function with no side effects; session creation re-checks
// it under the session manager's lock because policies are used
// concurrently by multiple creation attempts.
func Validate(p *Policy, proposedMaxTotal, proposedMaxPerRequest int64) error {
	if proposedMaxTotal > p.MaxSessionValue {
		return fmt.Errorf("%w: max_total %d > policy max_session_value %d",
			fault.ErrExceedsPolicyBound, proposedMaxTotal, p.MaxSessionValue)
	}
	if proposedMaxPerRequest > p.MaxSingleRequest {
		return fmt.Errorf("%w: max_per_request %d > policy max_single_request %d",
			fault.ErrExceedsPolicyBound, proposedMaxPerRequest, p.MaxSingleRequest)
	}
	return nil
}

// Store defines the interface for policy persistence.
type Store interface {
	// Create persists a new policy.
	Create(ctx context.Context, p *Policy) error

	// Get retrieves a policy by ID. Returns nil, nil if not found.
	Get(ctx context.Context, id string) (*Policy, error)

	// List returns policies, optionally filtered by owner.
	List(ctx context.Context, owner address.Address) ([]*Policy, error)

	// Close releases resources.
	Close() error
}

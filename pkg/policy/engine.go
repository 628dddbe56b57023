package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/audit"
	"github.com/agoramesh/facilitator/pkg/fault"
)

// Engine creates policies and resolves them for session creation.
type Engine struct {
	store Store
	audit audit.Logger
	log   *slog.Logger
}

// Config configures the policy engine.
type Config struct {
	Audit  audit.Logger
	Logger *slog.Logger
}

// NewEngine creates a policy engine backed by store.
func NewEngine(store Store, cfg Config) *Engine {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store: store,
		audit: cfg.Audit,
		log:   cfg.Logger,
	}
}

// CreateParams holds the inputs for policy creation.
type CreateParams struct {
	Owner             address.Address
	MaxSessionValue   int64
	MaxSingleRequest  int64
	AllowedTiers      uint64
	AllowedCategories uint64
	RequireProofs     bool
}

// Create validates bounds, persists a new policy, and audit-logs it.
func (e *Engine) Create(ctx context.Context, params CreateParams) (*Policy, error) {
	if params.Owner.IsZero() {
		return nil, fmt.Errorf("%w: owner is required", fault.ErrInvalidAddress)
	}
	if params.MaxSessionValue <= 0 {
		return nil, fmt.Errorf("%w: max_session_value must be positive", fault.ErrInvalidBounds)
	}
	if params.MaxSingleRequest <= 0 {
		return nil, fmt.Errorf("%w: max_single_request must be positive", fault.ErrInvalidBounds)
	}
	if params.MaxSingleRequest > params.MaxSessionValue {
		return nil, fmt.Errorf("%w: max_single_request %d > max_session_value %d",
			fault.ErrInvalidBounds, params.MaxSingleRequest, params.MaxSessionValue)
	}

	p := &Policy{
		ID:                uuid.NewString(),
		Owner:             params.Owner,
		MaxSessionValue:   params.MaxSessionValue,
		MaxSingleRequest:  params.MaxSingleRequest,
		AllowedTiers:      params.AllowedTiers,
		AllowedCategories: params.AllowedCategories,
		RequireProofs:     params.RequireProofs,
		CreatedAt:         time.Now(),
	}

	if err := e.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("persisting policy: %w", err)
	}

	event := audit.NewEvent(audit.EntityPolicy, p.ID, audit.ActionCreate).
		WithActor(p.Owner.String()).
		WithAmount(p.MaxSessionValue)
	if err := e.audit.Log(ctx, *event); err != nil {
		e.log.Warn("audit log failed", "entity_id", p.ID, "error", err)
	}

	e.log.Info("policy created",
		"policy_id", p.ID,
		"owner", p.Owner,
		"max_session_value", p.MaxSessionValue,
		"max_single_request", p.MaxSingleRequest,
	)
	return p, nil
}

// Get retrieves a policy by id.
func (e *Engine) Get(ctx context.Context, id string) (*Policy, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", fault.ErrPolicyNotFound, id)
	}
	return p, nil
}

// List returns policies, optionally restricted to an owner.
func (e *Engine) List(ctx context.Context, owner address.Address) ([]*Policy, error) {
	policies, err := e.store.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	return policies, nil
}

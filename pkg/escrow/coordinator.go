package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/audit"
	"github.com/agoramesh/facilitator/pkg/fault"
	"github.com/agoramesh/facilitator/pkg/keymutex"
)

// Coordinator creates escrows and gates release on threshold approval.
// Approvals on the same escrow serialize on a per-job-hash mutex so the
// threshold is observed exactly once; distinct escrows never contend.
type Coordinator struct {
	store Store
	locks *keymutex.KeyMutex

	now   func() time.Time
	audit audit.Logger
	log   *slog.Logger
}

// Config configures the escrow coordinator.
type Config struct {
	// Audit receives approval, release, and refund events.
	Audit audit.Logger

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewCoordinator creates an escrow coordinator backed by store.
func NewCoordinator(store Store, cfg Config) *Coordinator {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Coordinator{
		store: store,
		locks: keymutex.New(),
		now:   cfg.Clock,
		audit: cfg.Audit,
		log:   cfg.Logger,
	}
}

// CreateParams holds the inputs for escrow creation. Signer slots are raw
// strings because empty slots are legal; non-empty slots must parse.
type CreateParams struct {
	Owner        address.Address
	Agent        address.Address
	Amount       int64
	JobHash      string
	SecretHash   string
	Signers      [SignerSlots]string
	RequiredSigs int
}

// Create validates the signer configuration and persists a locked escrow.
// Duplicate non-empty signer addresses are a configuration error, not a
// tolerated redundancy: a duplicated slot changes what "M-of-3" means.
// A duplicate job hash is a conflict the caller can resume from.
func (c *Coordinator) Create(ctx context.Context, params CreateParams) (*MultiSigEscrow, error) {
	if params.Owner.IsZero() || params.Agent.IsZero() {
		return nil, fmt.Errorf("%w: owner and agent are required", fault.ErrInvalidAddress)
	}
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", fault.ErrInvalidBounds)
	}
	if params.JobHash == "" {
		return nil, fmt.Errorf("%w: job_hash is required", fault.ErrInvalidBounds)
	}
	if params.RequiredSigs < 1 || params.RequiredSigs > SignerSlots {
		return nil, fmt.Errorf("%w: required_signatures %d outside 1..%d",
			fault.ErrInvalidThreshold, params.RequiredSigs, SignerSlots)
	}

	signers, validCount, err := parseSigners(params.Signers)
	if err != nil {
		return nil, err
	}
	if validCount < params.RequiredSigs {
		return nil, fmt.Errorf("%w: %d valid signer slots below threshold %d",
			fault.ErrInvalidThreshold, validCount, params.RequiredSigs)
	}

	c.locks.Lock(params.JobHash)
	defer c.locks.Unlock(params.JobHash)

	existing, err := c.store.Get(ctx, params.JobHash)
	if err != nil {
		return nil, fmt.Errorf("checking for existing escrow: %w", err)
	}
	if existing != nil {
		return existing, fmt.Errorf("%w: %s", fault.ErrEscrowExists, params.JobHash)
	}

	now := c.now()
	e := &MultiSigEscrow{
		JobHash:      params.JobHash,
		Owner:        params.Owner,
		Agent:        params.Agent,
		Amount:       params.Amount,
		SecretHash:   params.SecretHash,
		Signers:      signers,
		RequiredSigs: params.RequiredSigs,
		Status:       StatusLocked,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := c.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("persisting escrow: %w", err)
	}

	c.logAudit(ctx, audit.NewEvent(audit.EntityEscrow, e.JobHash, audit.ActionCreate).
		WithActor(e.Owner.String()).
		WithAmount(e.Amount))

	c.log.Info("escrow created",
		"job_hash", e.JobHash,
		"owner", e.Owner,
		"agent", e.Agent,
		"amount", e.Amount,
		"required_signatures", e.RequiredSigs,
	)
	return e, nil
}

// parseSigners validates the signer slots: empty slots are skipped,
// non-empty slots must parse, and duplicates are rejected.
func parseSigners(raw [SignerSlots]string) ([SignerSlots]address.Address, int, error) {
	var signers [SignerSlots]address.Address
	validCount := 0
	for i, slot := range raw {
		if slot == "" {
			continue
		}
		addr, err := address.Parse(slot)
		if err != nil {
			return signers, 0, fmt.Errorf("%w: slot %d: %v", fault.ErrInvalidSigners, i, err)
		}
		for j := range i {
			if signers[j] == addr {
				return signers, 0, fmt.Errorf("%w: slot %d duplicates slot %d", fault.ErrInvalidSigners, i, j)
			}
		}
		signers[i] = addr
		validCount++
	}
	return signers, validCount, nil
}

// Approve records one signer's approval under the escrow's key mutex.
// thresholdMet is true only on the approval that first reaches the
// threshold and transitions locked -> released; approvals arriving after
// release fail with a not-locked conflict.
func (c *Coordinator) Approve(ctx context.Context, jobHash string, signer address.Address) (e *MultiSigEscrow, thresholdMet bool, err error) {
	c.locks.Lock(jobHash)
	defer c.locks.Unlock(jobHash)

	e, err = c.load(ctx, jobHash)
	if err != nil {
		return nil, false, err
	}
	if e.Status != StatusLocked {
		return nil, false, fault.Transition(fault.ErrEscrowNotLocked, string(e.Status), "approve")
	}

	slot := e.SlotOf(signer)
	if slot < 0 {
		return nil, false, fmt.Errorf("%w: %s", fault.ErrNotASigner, signer)
	}
	if e.Approvals[slot] {
		return nil, false, fmt.Errorf("%w: %s", fault.ErrAlreadyApproved, signer)
	}

	e.Approvals[slot] = true
	e.UpdatedAt = c.now()

	if e.SigCount() >= e.RequiredSigs {
		e.Status = StatusReleased
		thresholdMet = true
	}

	if err := c.store.Update(ctx, e); err != nil {
		return nil, false, fmt.Errorf("persisting approval: %w", err)
	}

	c.logAudit(ctx, audit.NewEvent(audit.EntityEscrow, e.JobHash, audit.ActionApprove).
		WithActor(signer.String()))
	if thresholdMet {
		c.logAudit(ctx, audit.NewEvent(audit.EntityEscrow, e.JobHash, audit.ActionRelease).
			WithActor(signer.String()).
			WithAmount(e.Amount))
		c.log.Info("escrow released",
			"job_hash", e.JobHash,
			"sig_count", e.SigCount(),
			"required_signatures", e.RequiredSigs,
		)
	}
	return e, thresholdMet, nil
}

// Refund transitions a locked escrow to refunded. The decision to refund
// (e.g. dispute resolution) is external; the coordinator only enforces
// that refund happens at most once and never after release.
func (c *Coordinator) Refund(ctx context.Context, jobHash string) (*MultiSigEscrow, error) {
	c.locks.Lock(jobHash)
	defer c.locks.Unlock(jobHash)

	e, err := c.load(ctx, jobHash)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusLocked {
		return nil, fault.Transition(fault.ErrEscrowNotLocked, string(e.Status), string(StatusRefunded))
	}

	e.Status = StatusRefunded
	e.UpdatedAt = c.now()

	if err := c.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("persisting refund: %w", err)
	}

	c.logAudit(ctx, audit.NewEvent(audit.EntityEscrow, e.JobHash, audit.ActionRefund).
		WithActor(e.Owner.String()).
		WithAmount(e.Amount))
	return e, nil
}

// Get retrieves an escrow by job hash.
func (c *Coordinator) Get(ctx context.Context, jobHash string) (*MultiSigEscrow, error) {
	c.locks.Lock(jobHash)
	defer c.locks.Unlock(jobHash)
	return c.load(ctx, jobHash)
}

// PendingFor returns locked escrows awaiting addr's approval. Reads run
// unlocked against a store snapshot.
func (c *Coordinator) PendingFor(ctx context.Context, addr address.Address) ([]*MultiSigEscrow, error) {
	escrows, err := c.store.PendingFor(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("listing pending escrows: %w", err)
	}
	return escrows, nil
}

// load fetches an escrow, converting the store's nil,nil to a not-found.
func (c *Coordinator) load(ctx context.Context, jobHash string) (*MultiSigEscrow, error) {
	e, err := c.store.Get(ctx, jobHash)
	if err != nil {
		return nil, fmt.Errorf("loading escrow: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", fault.ErrEscrowNotFound, jobHash)
	}
	return e, nil
}

// logAudit appends an audit event, logging a warning on failure.
func (c *Coordinator) logAudit(ctx context.Context, event *audit.Event) {
	if err := c.audit.Log(ctx, *event); err != nil {
		c.log.Warn("audit log failed", "entity_id", event.EntityID, "action", event.Action, "error", err)
	}
}

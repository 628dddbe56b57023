package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/audit"
	"github.com/agoramesh/facilitator/pkg/fault"
	"github.com/agoramesh/facilitator/pkg/keymutex"
	"github.com/agoramesh/facilitator/pkg/policy"
)

// defaultRateWindow is the rate window length when the config leaves it zero.
const defaultRateWindow = 60 * time.Second

// Manager owns session lifecycle and request admission. Mutations on a
// session are serialized by a per-session mutex so admission's
// check-then-update is atomic; unrelated sessions proceed concurrently.
type Manager struct {
	store    Store
	policies policy.Store
	locks    *keymutex.KeyMutex

	rateWindow time.Duration
	now        func() time.Time

	audit audit.Logger
	log   *slog.Logger
}

// Config configures the session manager.
type Config struct {
	// Policies resolves policy references on session creation. Required
	// only when sessions are created from policies.
	Policies policy.Store

	// RateWindow is the fixed rate window length, aligned to each
	// session's creation time. Defaults to 60s.
	RateWindow time.Duration

	// Audit receives admission, lifecycle, and settlement events.
	Audit audit.Logger

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewManager creates a session manager backed by store.
func NewManager(store Store, cfg Config) *Manager {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaultRateWindow
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		store:      store,
		policies:   cfg.Policies,
		locks:      keymutex.New(),
		rateWindow: cfg.RateWindow,
		now:        cfg.Clock,
		audit:      cfg.Audit,
		log:        cfg.Logger,
	}
}

// CreateParams holds the inputs for session creation.
type CreateParams struct {
	Client        address.Address
	Agent         address.Address
	MaxTotal      int64
	MaxPerRequest int64
	RateLimit     int

	// DurationBlocks spans the session's validity in blocks.
	DurationBlocks uint64

	// CurrentBlock is the caller's latest observed block height. When
	// nonzero, ValidUntil = CurrentBlock + DurationBlocks and admissions
	// carrying a later height are rejected as expired.
	CurrentBlock uint64

	// PolicyID creates the session under a policy; its bounds are
	// re-checked here, not just at UI time.
	PolicyID string

	// AgentTier and AgentCategory are the agent's tier/category bits,
	// checked against the policy masks when a policy is given.
	AgentTier     uint64
	AgentCategory uint64
}

// Create validates bounds (and the policy, when given) and persists a new
// active session with zeroed accounting.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Session, error) {
	if params.Client.IsZero() || params.Agent.IsZero() {
		return nil, fmt.Errorf("%w: client and agent are required", fault.ErrInvalidAddress)
	}
	if params.MaxTotal <= 0 {
		return nil, fmt.Errorf("%w: max_total must be positive", fault.ErrInvalidBounds)
	}
	if params.MaxPerRequest <= 0 || params.MaxPerRequest > params.MaxTotal {
		return nil, fmt.Errorf("%w: max_per_request %d outside (0, max_total %d]",
			fault.ErrInvalidBounds, params.MaxPerRequest, params.MaxTotal)
	}
	if params.RateLimit <= 0 {
		return nil, fmt.Errorf("%w: rate_limit must be positive", fault.ErrInvalidBounds)
	}

	requireProofs := false
	if params.PolicyID != "" {
		pol, err := m.loadPolicy(ctx, params.PolicyID)
		if err != nil {
			return nil, err
		}
		if err := policy.Validate(pol, params.MaxTotal, params.MaxPerRequest); err != nil {
			return nil, err
		}
		if params.AgentTier != 0 && !pol.AllowsTier(params.AgentTier) {
			return nil, fmt.Errorf("%w: tier %#x against mask %#x",
				fault.ErrTierNotAllowed, params.AgentTier, pol.AllowedTiers)
		}
		if params.AgentCategory != 0 && !pol.AllowsCategory(params.AgentCategory) {
			return nil, fmt.Errorf("%w: category %#x against mask %#x",
				fault.ErrCategoryNotAllowed, params.AgentCategory, pol.AllowedCategories)
		}
		requireProofs = pol.RequireProofs
	}

	now := m.now()
	var validUntil uint64
	if params.CurrentBlock > 0 {
		validUntil = params.CurrentBlock + params.DurationBlocks
	}

	s := &Session{
		ID:                uuid.NewString(),
		Client:            params.Client,
		Agent:             params.Agent,
		PolicyID:          params.PolicyID,
		MaxTotal:          params.MaxTotal,
		MaxPerRequest:     params.MaxPerRequest,
		RateLimit:         params.RateLimit,
		RateWindowSeconds: int(m.rateWindow / time.Second),
		DurationBlocks:    params.DurationBlocks,
		ValidUntil:        validUntil,
		RequireProofs:     requireProofs,
		Status:            StatusActive,
		WindowStart:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	m.logAudit(ctx, audit.NewEvent(audit.EntitySession, s.ID, audit.ActionCreate).
		WithActor(s.Client.String()).
		WithAmount(s.MaxTotal))

	m.log.Info("session created",
		"session_id", s.ID,
		"client", s.Client,
		"agent", s.Agent,
		"max_total", s.MaxTotal,
		"policy_id", s.PolicyID,
	)
	return s, nil
}

// AdmitRequest admits one unit of work against the session: it checks the
// lifecycle state, block expiry, per-request cap, budget cap, and rate
// limit, then atomically commits the accounting and appends a receipt. The
// whole read-modify-write runs under the session's key mutex.
//
// currentBlock is the caller's latest observed block height; zero skips
// block-expiry enforcement.
func (m *Manager) AdmitRequest(ctx context.Context, id string, amount int64, requestHash string, currentBlock uint64) (*Receipt, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", fault.ErrInvalidBounds)
	}

	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.checkAdmission(s, amount, currentBlock); err != nil {
		m.logAudit(ctx, audit.NewEvent(audit.EntitySession, s.ID, audit.ActionAdmit).
			WithActor(s.Agent.String()).
			WithAmount(amount).
			WithOutcome(false, err.Error()))
		return nil, err
	}

	now := m.now()
	m.advanceWindow(s, now)

	s.Spent += amount
	s.RequestCount++
	s.WindowCount++
	s.UpdatedAt = now

	if requestHash == "" {
		requestHash = uuid.NewString()
	}
	r := &Receipt{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		RequestHash: requestHash,
		Amount:      amount,
		Timestamp:   now,
	}

	if err := m.store.Admit(ctx, s, r); err != nil {
		return nil, fmt.Errorf("committing admission: %w", err)
	}

	m.logAudit(ctx, audit.NewEvent(audit.EntitySession, s.ID, audit.ActionAdmit).
		WithActor(s.Agent.String()).
		WithAmount(amount))
	return r, nil
}

// checkAdmission applies the admission rules against a window-advanced view
// of the session without mutating it.
func (m *Manager) checkAdmission(s *Session, amount int64, currentBlock uint64) error {
	if s.Status != StatusActive {
		return fault.Transition(fault.ErrSessionNotActive, string(s.Status), "admit")
	}
	if s.ValidUntil > 0 && currentBlock > s.ValidUntil {
		return fmt.Errorf("%w: block %d past valid_until %d", fault.ErrSessionExpired, currentBlock, s.ValidUntil)
	}
	if amount > s.MaxPerRequest {
		return fmt.Errorf("%w: %d > %d", fault.ErrPerRequestCapExceeded, amount, s.MaxPerRequest)
	}
	if s.Spent+amount > s.MaxTotal {
		return fmt.Errorf("%w: spent %d + %d > max_total %d", fault.ErrBudgetExceeded, s.Spent, amount, s.MaxTotal)
	}
	if m.windowCountAt(s, m.now())+1 > s.RateLimit {
		return fmt.Errorf("%w: %d per %ds window", fault.ErrRateLimitExceeded, s.RateLimit, s.RateWindowSeconds)
	}
	return nil
}

// windowCountAt returns the session's admission count in the window
// containing now, treating a window boundary crossing as a reset.
func (*Manager) windowCountAt(s *Session, now time.Time) int {
	if currentWindowStart(s, now).After(s.WindowStart) {
		return 0
	}
	return s.WindowCount
}

// advanceWindow resets the window counter when now falls in a later window.
func (*Manager) advanceWindow(s *Session, now time.Time) {
	start := currentWindowStart(s, now)
	if start.After(s.WindowStart) {
		s.WindowStart = start
		s.WindowCount = 0
	}
}

// currentWindowStart computes the start of the fixed window containing now,
// aligned to the session's creation time.
func currentWindowStart(s *Session, now time.Time) time.Time {
	window := time.Duration(s.RateWindowSeconds) * time.Second
	if window <= 0 {
		window = defaultRateWindow
	}
	elapsed := now.Sub(s.CreatedAt)
	if elapsed < 0 {
		return s.CreatedAt
	}
	index := elapsed / window
	return s.CreatedAt.Add(index * window)
}

// Pause transitions an active session to paused. Accounting is untouched.
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.transition(ctx, id, audit.ActionPause, func(s *Session) error {
		if s.Status != StatusActive {
			return fault.Transition(fault.ErrSessionNotActive, string(s.Status), string(StatusPaused))
		}
		s.Status = StatusPaused
		return nil
	})
}

// Resume transitions a paused session back to active.
func (m *Manager) Resume(ctx context.Context, id string) error {
	return m.transition(ctx, id, audit.ActionResume, func(s *Session) error {
		if s.Status != StatusPaused {
			return fault.Transition(fault.ErrSessionNotPaused, string(s.Status), string(StatusActive))
		}
		s.Status = StatusActive
		return nil
	})
}

// Close transitions the session to the terminal closed state and returns
// the refund amount (max_total - spent). The value is informational: the
// actual fund movement is an external settlement concern.
func (m *Manager) Close(ctx context.Context, id string) (int64, error) {
	var refund int64
	err := m.transition(ctx, id, audit.ActionClose, func(s *Session) error {
		if s.Status == StatusClosed {
			return fault.Transition(fault.ErrSessionClosed, string(StatusClosed), string(StatusClosed))
		}
		s.Status = StatusClosed
		refund = s.MaxTotal - s.Spent
		return nil
	})
	if err != nil {
		return 0, err
	}
	return refund, nil
}

// transition applies a lifecycle mutation under the session's key mutex.
func (m *Manager) transition(ctx context.Context, id, action string, apply func(*Session) error) error {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	s, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if err := apply(s); err != nil {
		return err
	}
	s.UpdatedAt = m.now()

	if err := m.store.Update(ctx, s); err != nil {
		return fmt.Errorf("persisting session %s: %w", action, err)
	}

	m.logAudit(ctx, audit.NewEvent(audit.EntitySession, s.ID, action).
		WithActor(s.Client.String()))
	m.log.Info("session "+action, "session_id", s.ID, "status", s.Status)
	return nil
}

// Settle records a settlement of previously-accounted spend to the agent.
// The cumulative settled amount never exceeds spent; Spent and
// RequestCount are unaffected. Settle is legal in every lifecycle state.
func (m *Manager) Settle(ctx context.Context, id string, amount int64) (*Settlement, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: settlement amount must be positive", fault.ErrInvalidBounds)
	}

	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Settled+amount > s.Spent {
		return nil, fmt.Errorf("%w: settled %d + %d > spent %d",
			fault.ErrExceedsSpent, s.Settled, amount, s.Spent)
	}

	now := m.now()
	s.Settled += amount
	s.UpdatedAt = now

	st := &Settlement{
		ID:           uuid.NewString(),
		SessionID:    s.ID,
		Amount:       amount,
		SettledTotal: s.Settled,
		Timestamp:    now,
	}

	if err := m.store.Settle(ctx, s, st); err != nil {
		return nil, fmt.Errorf("committing settlement: %w", err)
	}

	m.logAudit(ctx, audit.NewEvent(audit.EntitySession, s.ID, audit.ActionSettle).
		WithActor(s.Agent.String()).
		WithAmount(amount))
	return st, nil
}

// Get retrieves a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)
	return m.load(ctx, id)
}

// List returns sessions matching the filter. Reads run unlocked against a
// store snapshot.
func (m *Manager) List(ctx context.Context, filter Filter) ([]*Session, error) {
	sessions, err := m.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// Receipts returns a session's receipts in admission order.
func (m *Manager) Receipts(ctx context.Context, id string) ([]*Receipt, error) {
	receipts, err := m.store.Receipts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// Settlements returns a session's settlements in order.
func (m *Manager) Settlements(ctx context.Context, id string) ([]*Settlement, error) {
	settlements, err := m.store.Settlements(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing settlements: %w", err)
	}
	return settlements, nil
}

// load fetches a session, converting the store's nil,nil to a not-found.
func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", fault.ErrSessionNotFound, id)
	}
	return s, nil
}

// loadPolicy resolves a policy reference at creation time.
func (m *Manager) loadPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	if m.policies == nil {
		return nil, fmt.Errorf("%w: %s (no policy store configured)", fault.ErrPolicyNotFound, id)
	}
	p, err := m.policies.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", fault.ErrPolicyNotFound, id)
	}
	return p, nil
}

// logAudit appends an audit event, logging a warning on failure.
func (m *Manager) logAudit(ctx context.Context, event *audit.Event) {
	if err := m.audit.Log(ctx, *event); err != nil {
		m.log.Warn("audit log failed", "entity_id", event.EntityID, "action", event.Action, "error", err)
	}
}

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/fault"
	"github.com/agoramesh/facilitator/pkg/policy"
)

var (
	testClient = address.MustParse("agora1client001")
	testAgent  = address.MustParse("agora1agent0001")
)

// fakeClock is a manually advanced clock for rate-window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore(), cfg)
}

func defaultParams() CreateParams {
	return CreateParams{
		Client:         testClient,
		Agent:          testAgent,
		MaxTotal:       10_000_000,
		MaxPerRequest:  500_000,
		RateLimit:      100,
		DurationBlocks: 1000,
	}
}

func TestManager_Create(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusActive, s.Status)
	assert.Zero(t, s.Spent)
	assert.Zero(t, s.Settled)
	assert.Zero(t, s.RequestCount)
	assert.Equal(t, 60, s.RateWindowSeconds)
	assert.Zero(t, s.ValidUntil, "no block height observed, expiry not enforced")
}

func TestManager_CreateWithCurrentBlock(t *testing.T) {
	m := newTestManager(t, Config{})

	params := defaultParams()
	params.CurrentBlock = 5000
	s, err := m.Create(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, uint64(6000), s.ValidUntil)
}

func TestManager_CreateInvalidBounds(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateParams)
		want   error
	}{
		{"zero max_total", func(p *CreateParams) { p.MaxTotal = 0 }, fault.ErrInvalidBounds},
		{"per-request above total", func(p *CreateParams) { p.MaxPerRequest = p.MaxTotal + 1 }, fault.ErrInvalidBounds},
		{"zero per-request", func(p *CreateParams) { p.MaxPerRequest = 0 }, fault.ErrInvalidBounds},
		{"zero rate limit", func(p *CreateParams) { p.RateLimit = 0 }, fault.ErrInvalidBounds},
		{"missing client", func(p *CreateParams) { p.Client = address.Empty }, fault.ErrInvalidAddress},
		{"missing agent", func(p *CreateParams) { p.Agent = address.Empty }, fault.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := defaultParams()
			tt.mutate(&params)
			_, err := m.Create(ctx, params)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestManager_CreateFromPolicy(t *testing.T) {
	policies := policy.NewMemoryStore()
	engine := policy.NewEngine(policies, policy.Config{})
	ctx := context.Background()

	pol, err := engine.Create(ctx, policy.CreateParams{
		Owner:            testClient,
		MaxSessionValue:  50_000_000,
		MaxSingleRequest: 1_000_000,
		RequireProofs:    true,
	})
	require.NoError(t, err)

	m := NewManager(NewMemoryStore(), Config{Policies: policies})

	t.Run("within bounds", func(t *testing.T) {
		params := defaultParams()
		params.PolicyID = pol.ID
		s, err := m.Create(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, pol.ID, s.PolicyID)
		assert.True(t, s.RequireProofs, "inherited from policy")
	})

	t.Run("max_total above policy bound", func(t *testing.T) {
		params := defaultParams()
		params.PolicyID = pol.ID
		params.MaxTotal = 60_000_000
		_, err := m.Create(ctx, params)
		assert.ErrorIs(t, err, fault.ErrExceedsPolicyBound)
	})

	t.Run("max_per_request above policy bound", func(t *testing.T) {
		params := defaultParams()
		params.PolicyID = pol.ID
		params.MaxPerRequest = 2_000_000
		_, err := m.Create(ctx, params)
		assert.ErrorIs(t, err, fault.ErrExceedsPolicyBound)
	})

	t.Run("unknown policy", func(t *testing.T) {
		params := defaultParams()
		params.PolicyID = "missing"
		_, err := m.Create(ctx, params)
		assert.ErrorIs(t, err, fault.ErrPolicyNotFound)
	})
}

func TestManager_CreateFromPolicyTierMask(t *testing.T) {
	policies := policy.NewMemoryStore()
	engine := policy.NewEngine(policies, policy.Config{})
	ctx := context.Background()

	pol, err := engine.Create(ctx, policy.CreateParams{
		Owner:             testClient,
		MaxSessionValue:   50_000_000,
		MaxSingleRequest:  1_000_000,
		AllowedTiers:      0b01,
		AllowedCategories: 0b10,
	})
	require.NoError(t, err)

	m := NewManager(NewMemoryStore(), Config{Policies: policies})

	params := defaultParams()
	params.PolicyID = pol.ID
	params.AgentTier = 0b10
	_, err = m.Create(ctx, params)
	assert.ErrorIs(t, err, fault.ErrTierNotAllowed)

	params = defaultParams()
	params.PolicyID = pol.ID
	params.AgentTier = 0b01
	params.AgentCategory = 0b01
	_, err = m.Create(ctx, params)
	assert.ErrorIs(t, err, fault.ErrCategoryNotAllowed)

	params.AgentCategory = 0b10
	_, err = m.Create(ctx, params)
	assert.NoError(t, err)
}

func TestManager_AdmitRequest(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)

	r, err := m.AdmitRequest(ctx, s.ID, 250_000, "req-hash-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "req-hash-1", r.RequestHash)
	assert.Equal(t, int64(250_000), r.Amount)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250_000), got.Spent)
	assert.Equal(t, 1, got.RequestCount)

	receipts, err := m.Receipts(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, receipts, got.RequestCount, "request_count equals number of receipts")
}

func TestManager_AdmitRequestGeneratesHash(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)

	r, err := m.AdmitRequest(ctx, s.ID, 100, "", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, r.RequestHash)
}

func TestManager_AdmitRequestPerRequestCap(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)

	_, err = m.AdmitRequest(ctx, s.ID, 600_000, "", 0)
	assert.ErrorIs(t, err, fault.ErrPerRequestCapExceeded)

	// Rejection is a no-op on accounting.
	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Spent)
	assert.Zero(t, got.RequestCount)
}

func TestManager_AdmitRequestBudgetScenario(t *testing.T) {
	// Policy {50M, 1M}; session {10M, 500k}; 600k fails the per-request
	// cap; 500k succeeds 20 times until spent reaches 10M; the 21st fails
	// the budget.
	policies := policy.NewMemoryStore()
	engine := policy.NewEngine(policies, policy.Config{})
	ctx := context.Background()

	pol, err := engine.Create(ctx, policy.CreateParams{
		Owner:            testClient,
		MaxSessionValue:  50_000_000,
		MaxSingleRequest: 1_000_000,
	})
	require.NoError(t, err)

	m := NewManager(NewMemoryStore(), Config{Policies: policies})
	params := defaultParams()
	params.PolicyID = pol.ID
	s, err := m.Create(ctx, params)
	require.NoError(t, err)

	_, err = m.AdmitRequest(ctx, s.ID, 600_000, "", 0)
	assert.ErrorIs(t, err, fault.ErrPerRequestCapExceeded)

	for i := range 20 {
		_, err := m.AdmitRequest(ctx, s.ID, 500_000, "", 0)
		require.NoErrorf(t, err, "admission %d should succeed", i+1)
	}

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), got.Spent)

	_, err = m.AdmitRequest(ctx, s.ID, 500_000, "", 0)
	assert.ErrorIs(t, err, fault.ErrBudgetExceeded)

	// The failed admission changed nothing.
	got, err = m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), got.Spent)
	assert.Equal(t, 20, got.RequestCount)
}

func TestManager_AdmitRequestRateLimit(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(NewMemoryStore(), Config{
		RateWindow: time.Second,
		Clock:      clock.Now,
	})
	ctx := context.Background()

	params := defaultParams()
	params.RateLimit = 2
	s, err := m.Create(ctx, params)
	require.NoError(t, err)

	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 0)
	require.NoError(t, err)
	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 0)
	require.NoError(t, err)

	// Third admission inside the same 1s window is rejected.
	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 0)
	assert.ErrorIs(t, err, fault.ErrRateLimitExceeded)

	// Crossing the window boundary admits again; earlier spend still
	// counts against the budget.
	clock.Advance(time.Second)
	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 0)
	require.NoError(t, err)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Spent)
	assert.Equal(t, 3, got.RequestCount)
	assert.Equal(t, 1, got.WindowCount)
}

func TestManager_AdmitRequestExpired(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	params := defaultParams()
	params.CurrentBlock = 5000
	params.DurationBlocks = 10
	s, err := m.Create(ctx, params)
	require.NoError(t, err)

	// At or before valid_until the session admits.
	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 5010)
	require.NoError(t, err)

	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 5011)
	assert.ErrorIs(t, err, fault.ErrSessionExpired)

	// Callers that do not observe block heights are not expired.
	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 0)
	assert.NoError(t, err)
}

func TestManager_PauseResume(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)

	require.NoError(t, m.Pause(ctx, s.ID))

	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 0)
	assert.ErrorIs(t, err, fault.ErrSessionNotActive)

	// Pause is not idempotent; a paused session is not active.
	assert.ErrorIs(t, m.Pause(ctx, s.ID), fault.ErrSessionNotActive)

	require.NoError(t, m.Resume(ctx, s.ID))
	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 0)
	assert.NoError(t, err)

	// Resume requires paused.
	assert.ErrorIs(t, m.Resume(ctx, s.ID), fault.ErrSessionNotPaused)
}

func TestManager_Close(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)

	_, err = m.AdmitRequest(ctx, s.ID, 400_000, "", 0)
	require.NoError(t, err)

	refund, err := m.Close(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9_600_000), refund)

	// Closed is terminal.
	_, err = m.AdmitRequest(ctx, s.ID, 100, "", 0)
	assert.ErrorIs(t, err, fault.ErrSessionNotActive)
	assert.ErrorIs(t, m.Pause(ctx, s.ID), fault.ErrSessionNotActive)
	assert.ErrorIs(t, m.Resume(ctx, s.ID), fault.ErrSessionNotPaused)

	_, err = m.Close(ctx, s.ID)
	assert.ErrorIs(t, err, fault.ErrSessionClosed)
}

func TestManager_ClosePaused(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)
	require.NoError(t, m.Pause(ctx, s.ID))

	refund, err := m.Close(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.MaxTotal, refund)
}

func TestManager_Settle(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)

	_, err = m.AdmitRequest(ctx, s.ID, 500_000, "", 0)
	require.NoError(t, err)

	st, err := m.Settle(ctx, s.ID, 300_000)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), st.Amount)
	assert.Equal(t, int64(300_000), st.SettledTotal)

	// Partial settlements accumulate up to spent.
	st, err = m.Settle(ctx, s.ID, 200_000)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), st.SettledTotal)

	// Settling past spent fails and changes nothing.
	_, err = m.Settle(ctx, s.ID, 1)
	assert.ErrorIs(t, err, fault.ErrExceedsSpent)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), got.Settled)
	assert.Equal(t, int64(500_000), got.Spent, "settlement never alters spent")
	assert.Equal(t, 1, got.RequestCount)

	settlements, err := m.Settlements(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, settlements, 2)
}

func TestManager_SettleAfterClose(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)
	_, err = m.AdmitRequest(ctx, s.ID, 100_000, "", 0)
	require.NoError(t, err)
	_, err = m.Close(ctx, s.ID)
	require.NoError(t, err)

	// Settlement releases already-accounted spend even after close.
	_, err = m.Settle(ctx, s.ID, 100_000)
	assert.NoError(t, err)
}

func TestManager_NotFound(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.AdmitRequest(ctx, "missing", 100, "", 0)
	assert.ErrorIs(t, err, fault.ErrSessionNotFound)
	assert.ErrorIs(t, m.Pause(ctx, "missing"), fault.ErrSessionNotFound)
	_, err = m.Close(ctx, "missing")
	assert.ErrorIs(t, err, fault.ErrSessionNotFound)
}

func TestManager_List(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	s1, err := m.Create(ctx, defaultParams())
	require.NoError(t, err)
	_, err = m.Create(ctx, defaultParams())
	require.NoError(t, err)
	require.NoError(t, m.Pause(ctx, s1.ID))

	paused, err := m.List(ctx, Filter{Status: StatusPaused})
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, s1.ID, paused[0].ID)

	byClient, err := m.List(ctx, Filter{Client: testClient})
	require.NoError(t, err)
	assert.Len(t, byClient, 2)
}

func TestManager_ConcurrentAdmissionsNeverExceedBudget(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	params := defaultParams()
	params.MaxTotal = 1_000_000
	params.MaxPerRequest = 100_000
	params.RateLimit = 10_000
	s, err := m.Create(ctx, params)
	require.NoError(t, err)

	const goroutines = 50
	var wg sync.WaitGroup
	admitted := make(chan int64, goroutines)

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r, err := m.AdmitRequest(ctx, s.ID, 100_000, "", 0); err == nil {
				admitted <- r.Amount
			}
		}()
	}
	wg.Wait()
	close(admitted)

	var total int64
	count := 0
	for amount := range admitted {
		total += amount
		count++
	}
	assert.Equal(t, 10, count, "exactly budget/amount admissions succeed")
	assert.Equal(t, int64(1_000_000), total)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), got.Spent)
	assert.LessOrEqual(t, got.Spent, got.MaxTotal)

	receipts, err := m.Receipts(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, receipts, got.RequestCount)
}

package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/fault"
)

var (
	testOwner = address.MustParse("agora1owner0001")
	testOther = address.MustParse("agora1owner0002")
)

func newTestEngine() *Engine {
	return NewEngine(NewMemoryStore(), Config{})
}

func TestEngine_Create(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	p, err := engine.Create(ctx, CreateParams{
		Owner:            testOwner,
		MaxSessionValue:  50_000_000,
		MaxSingleRequest: 1_000_000,
		RequireProofs:    true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, testOwner, p.Owner)
	assert.Equal(t, int64(50_000_000), p.MaxSessionValue)
	assert.Equal(t, int64(1_000_000), p.MaxSingleRequest)
	assert.True(t, p.RequireProofs)
	assert.False(t, p.CreatedAt.IsZero())

	got, err := engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestEngine_CreateInvalidBounds(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreateParams
		want   error
	}{
		{
			name:   "single request above session value",
			params: CreateParams{Owner: testOwner, MaxSessionValue: 100, MaxSingleRequest: 200},
			want:   fault.ErrInvalidBounds,
		},
		{
			name:   "zero session value",
			params: CreateParams{Owner: testOwner, MaxSessionValue: 0, MaxSingleRequest: 1},
			want:   fault.ErrInvalidBounds,
		},
		{
			name:   "negative single request",
			params: CreateParams{Owner: testOwner, MaxSessionValue: 100, MaxSingleRequest: -1},
			want:   fault.ErrInvalidBounds,
		},
		{
			name:   "missing owner",
			params: CreateParams{MaxSessionValue: 100, MaxSingleRequest: 10},
			want:   fault.ErrInvalidAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Create(ctx, tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEngine_GetNotFound(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, fault.ErrPolicyNotFound)
}

func TestEngine_ListByOwner(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	for _, owner := range []address.Address{testOwner, testOwner, testOther} {
		_, err := engine.Create(ctx, CreateParams{
			Owner:            owner,
			MaxSessionValue:  1000,
			MaxSingleRequest: 100,
		})
		require.NoError(t, err)
	}

	mine, err := engine.List(ctx, testOwner)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := engine.List(ctx, address.Empty)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestValidate(t *testing.T) {
	p := &Policy{MaxSessionValue: 50_000_000, MaxSingleRequest: 1_000_000}

	assert.NoError(t, Validate(p, 10_000_000, 500_000))
	assert.NoError(t, Validate(p, 50_000_000, 1_000_000))

	err := Validate(p, 60_000_000, 500_000)
	assert.ErrorIs(t, err, fault.ErrExceedsPolicyBound)

	err = Validate(p, 10_000_000, 2_000_000)
	assert.ErrorIs(t, err, fault.ErrExceedsPolicyBound)
}

func TestPolicy_Masks(t *testing.T) {
	unrestricted := &Policy{}
	assert.True(t, unrestricted.AllowsTier(0b100))
	assert.True(t, unrestricted.AllowsCategory(0b1))

	restricted := &Policy{AllowedTiers: 0b011, AllowedCategories: 0b10}
	assert.True(t, restricted.AllowsTier(0b001))
	assert.True(t, restricted.AllowsTier(0b010))
	assert.False(t, restricted.AllowsTier(0b100))
	assert.True(t, restricted.AllowsCategory(0b10))
	assert.False(t, restricted.AllowsCategory(0b01))
}

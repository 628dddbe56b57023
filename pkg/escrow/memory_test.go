package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramesh/facilitator/pkg/address"
)

func memoryEscrow(jobHash string) *MultiSigEscrow {
	now := time.Now().UTC()
	return &MultiSigEscrow{
		JobHash:    jobHash,
		Owner:      address.MustParse("agora1owner0001"),
		Agent:      address.MustParse("agora1agent0001"),
		Amount:     1_000_000,
		SecretHash: "cafe",
		Signers: [3]address.Address{
			address.MustParse("agora1signer00a"),
			address.MustParse("agora1signer00b"),
			address.MustParse("agora1signer00c"),
		},
		RequiredSigs: 2,
		Status:       StatusLocked,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e := memoryEscrow("job-1")
	require.NoError(t, store.Create(ctx, e))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Owner, got.Owner)
	assert.Equal(t, e.Signers, got.Signers)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	got, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e := memoryEscrow("job-1")
	require.NoError(t, store.Create(ctx, e))

	e.Approvals[0] = true
	e.Approvals[1] = true
	e.Status = StatusReleased
	require.NoError(t, store.Update(ctx, e))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, got.Status)
	assert.Equal(t, 2, got.SigCount())
}

func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, memoryEscrow("job-1")))

	first, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	first.Approvals[0] = true
	first.Status = StatusRefunded

	second, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, second.Approvals[0])
	assert.Equal(t, StatusLocked, second.Status)
}

func TestMemoryStore_PendingFor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	open := memoryEscrow("job-open")
	require.NoError(t, store.Create(ctx, open))

	signed := memoryEscrow("job-signed")
	signed.Approvals[0] = true
	require.NoError(t, store.Create(ctx, signed))

	released := memoryEscrow("job-done")
	released.Status = StatusReleased
	require.NoError(t, store.Create(ctx, released))

	signer := address.MustParse("agora1signer00a")
	pending, err := store.PendingFor(ctx, signer)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "job-open", pending[0].JobHash)

	// A non-signer has nothing pending regardless of escrow state.
	none, err := store.PendingFor(ctx, address.MustParse("agora1stranger0"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

package escrow

import (
	"context"
	"sync"

	"github.com/agoramesh/facilitator/pkg/address"
)

// MemoryStore implements Store using an in-memory map. Reads return deep
// copies so snapshots cannot be mutated behind the lock.
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[string]*MultiSigEscrow
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{escrows: make(map[string]*MultiSigEscrow)}
}

// Create persists a new escrow.
func (s *MemoryStore) Create(_ context.Context, e *MultiSigEscrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *e
	s.escrows[e.JobHash] = &clone
	return nil
}

// Get retrieves an escrow by job hash. Returns nil, nil if not found.
func (s *MemoryStore) Get(_ context.Context, jobHash string) (*MultiSigEscrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.escrows[jobHash]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	clone := *e
	return &clone, nil
}

// Update persists mutated escrow fields.
func (s *MemoryStore) Update(_ context.Context, e *MultiSigEscrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *e
	s.escrows[e.JobHash] = &clone
	return nil
}

// PendingFor returns locked escrows where addr occupies an unapproved
// signer slot.
func (s *MemoryStore) PendingFor(_ context.Context, addr address.Address) ([]*MultiSigEscrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*MultiSigEscrow
	for _, e := range s.escrows {
		if e.Status != StatusLocked {
			continue
		}
		slot := e.SlotOf(addr)
		if slot < 0 || e.Approvals[slot] {
			continue
		}
		clone := *e
		result = append(result, &clone)
	}
	return result, nil
}

// Close releases resources.
func (*MemoryStore) Close() error { return nil }

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)

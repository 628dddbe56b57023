package policy

import (
	"context"
	"sync"

	"github.com/agoramesh/facilitator/pkg/address"
)

// MemoryStore implements Store using an in-memory map.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

// NewMemoryStore creates a new in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]*Policy)}
}

// Create persists a new policy.
func (s *MemoryStore) Create(_ context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *p
	s.policies[p.ID] = &clone
	return nil
}

// Get retrieves a policy by ID. Returns nil, nil if not found.
func (s *MemoryStore) Get(_ context.Context, id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	clone := *p
	return &clone, nil
}

// List returns policies, optionally filtered by owner.
func (s *MemoryStore) List(_ context.Context, owner address.Address) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if !owner.IsZero() && p.Owner != owner {
			continue
		}
		clone := *p
		result = append(result, &clone)
	}
	return result, nil
}

// Close releases resources.
func (*MemoryStore) Close() error { return nil }

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)

package session

import (
	"context"
	"sync"
)

// MemoryStore implements Store using in-memory maps. Reads return deep
// copies so snapshots cannot be mutated behind the lock.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	receipts    map[string][]*Receipt
	settlements map[string][]*Settlement
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		receipts:    make(map[string][]*Receipt),
		settlements: make(map[string][]*Settlement),
	}
}

// Create persists a new session.
func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

// Get retrieves a session by ID. Returns nil, nil if not found.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	clone := *sess
	return &clone, nil
}

// Update persists mutated session fields.
func (s *MemoryStore) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

// Admit persists the admission accounting and appends the receipt.
func (s *MemoryStore) Admit(_ context.Context, sess *Session, r *Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessClone := *sess
	s.sessions[sess.ID] = &sessClone

	receiptClone := *r
	s.receipts[sess.ID] = append(s.receipts[sess.ID], &receiptClone)
	return nil
}

// Settle persists the settled counter and appends the settlement.
func (s *MemoryStore) Settle(_ context.Context, sess *Session, st *Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessClone := *sess
	s.sessions[sess.ID] = &sessClone

	settlementClone := *st
	s.settlements[sess.ID] = append(s.settlements[sess.ID], &settlementClone)
	return nil
}

// List returns sessions matching the filter.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !filter.Client.IsZero() && sess.Client != filter.Client {
			continue
		}
		if !filter.Agent.IsZero() && sess.Agent != filter.Agent {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		clone := *sess
		result = append(result, &clone)
	}
	return result, nil
}

// Receipts returns a session's receipts in admission order.
func (s *MemoryStore) Receipts(_ context.Context, sessionID string) ([]*Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipts := s.receipts[sessionID]
	result := make([]*Receipt, 0, len(receipts))
	for _, r := range receipts {
		clone := *r
		result = append(result, &clone)
	}
	return result, nil
}

// Settlements returns a session's settlements in order.
func (s *MemoryStore) Settlements(_ context.Context, sessionID string) ([]*Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settlements := s.settlements[sessionID]
	result := make([]*Settlement, 0, len(settlements))
	for _, st := range settlements {
		clone := *st
		result = append(result, &clone)
	}
	return result, nil
}

// Close releases resources.
func (*MemoryStore) Close() error { return nil }

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)

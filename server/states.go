package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// StateStore tracks the anti-forgery state values of pending authorization
// code flows. Every state is single-use and time-bounded.
type StateStore struct {
	mu      sync.Mutex
	pending map[string]time.Time
	ttl     time.Duration
}

// NewStateStore constructs a store whose states expire after ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	return &StateStore{
		pending: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Issue generates and records a fresh state value.
func (s *StateStore) Issue() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	state := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[state] = time.Now().Add(s.ttl)
	return state, nil
}

// Consume removes state from the pending set, reporting whether it was a
// known, unexpired value. A state can be consumed at most once.
func (s *StateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.pending[state]
	if !ok {
		return false
	}
	delete(s.pending, state)
	return time.Now().Before(deadline)
}

// Len reports the number of pending states, expired or not.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Sweep drops expired pending states and returns how many were removed.
func (s *StateStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for state, deadline := range s.pending {
		if !now.Before(deadline) {
			delete(s.pending, state)
			removed++
		}
	}
	return removed
}

package rogue

import (
	"context"
	"sync"
	"time"
)

type windowState struct {
	windowStart time.Time
	count       int64
	pausedUntil time.Time
	paused      bool
}

// MemoryStore is a process-local Store. Suitable for tests and single-node
// deployments; production uses the Redis store so counters survive restarts
// and are shared across workers.
type MemoryStore struct {
	mu     sync.Mutex
	window time.Duration
	state  map[string]*windowState
}

// NewMemoryStore builds an in-memory store with the given window size.
func NewMemoryStore(window time.Duration) *MemoryStore {
	return &MemoryStore{
		window: window,
		state:  make(map[string]*windowState),
	}
}

func (s *MemoryStore) get(conversationID string) *windowState {
	st, ok := s.state[conversationID]
	if !ok {
		st = &windowState{}
		s.state[conversationID] = st
	}
	return st
}

// IncrWindow implements Store.
func (s *MemoryStore) IncrWindow(_ context.Context, conversationID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(conversationID)
	if now.Sub(st.windowStart) >= s.window {
		st.windowStart = now
		st.count = 0
	}
	st.count++
	return st.count, nil
}

// SetPause implements Store.
func (s *MemoryStore) SetPause(_ context.Context, conversationID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(conversationID)
	st.pausedUntil = until
	st.paused = true
	return nil
}

// PausedUntil implements Store.
func (s *MemoryStore) PausedUntil(_ context.Context, conversationID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(conversationID)
	return st.pausedUntil, st.paused, nil
}

// ClearPause implements Store.
func (s *MemoryStore) ClearPause(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(conversationID)
	st.paused = false
	st.pausedUntil = time.Time{}
	return nil
}

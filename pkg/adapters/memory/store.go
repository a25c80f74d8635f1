package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// Store implements ports.StateStore in memory.
// Safe for concurrent use.
type Store struct {
	data    map[string]*domain.SessionState
	mu      sync.RWMutex
	journal *Journal
}

// Option configures the Store.
type Option func(*Store)

// WithJournal lets Commit drop the finished journal under the store lock.
func WithJournal(j *Journal) Option {
	return func(s *Store) {
		s.journal = j
	}
}

// NewStore creates a new in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data: make(map[string]*domain.SessionState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists the state in memory.
func (s *Store) Save(ctx context.Context, key string, state *domain.SessionState) error {
	// Copy to ensure isolation, similar to serialization
	copied := state.Snapshot()
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = copied
	return nil
}

// Commit saves state and clears the journal of the finished invocation as one step.
func (s *Store) Commit(ctx context.Context, state *domain.SessionState, finished ports.Scope) error {
	copied := state.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[state.Key] = copied
	if s.journal != nil {
		s.journal.drop(finished)
	}
	return nil
}

// Load retrieves the state from memory.
func (s *Store) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[key]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	// Copy on read so callers can't mutate store state through the pointer
	return state.Snapshot(), nil
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List returns stored session keys.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	return sessions, nil
}

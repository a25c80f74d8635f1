package middleware_test

import (
	"context"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// MockStore is a simple map-based store for testing middleware.
type MockStore struct {
	data      map[string]*domain.SessionState
	committed []ports.Scope
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]*domain.SessionState),
	}
}

func (s *MockStore) Save(ctx context.Context, key string, state *domain.SessionState) error {
	s.data[key] = state
	return nil
}

func (s *MockStore) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	state, ok := s.data[key]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return state, nil
}

func (s *MockStore) Delete(ctx context.Context, key string) error {
	delete(s.data, key)
	return nil
}

func (s *MockStore) List(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// CommittingStore adds ports.Committer to MockStore.
type CommittingStore struct {
	*MockStore
}

func (s CommittingStore) Commit(ctx context.Context, state *domain.SessionState, finished ports.Scope) error {
	s.committed = append(s.committed, finished)
	return s.Save(ctx, state.Key, state)
}

var (
	_ ports.StateStore = (*MockStore)(nil)
	_ ports.Committer  = CommittingStore{}
)

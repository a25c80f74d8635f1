package ports

import (
	"context"

	"github.com/aretw0/concierge/pkg/domain"
)

// StateStore defines the interface for persisting session state.
// A Save replaces the whole document, so active agent, transcript and seq
// are always written together.
type StateStore interface {
	// Save persists the state for a given session key.
	Save(ctx context.Context, key string, state *domain.SessionState) error

	// Load retrieves the state for a given session key.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, key string) (*domain.SessionState, error)

	// Delete removes the state for a given session key.
	Delete(ctx context.Context, key string) error

	// List returns the keys of all stored sessions.
	List(ctx context.Context) ([]string, error)
}

// Committer is implemented by stores that can persist a new state and drop the
// journal of the finished invocation in a single transaction.
type Committer interface {
	Commit(ctx context.Context, state *domain.SessionState, finished Scope) error
}

// Package middleware wraps a ports.StateStore with encryption or PII masking.
// A wrapped store keeps implementing ports.Committer when the inner store does,
// so atomic commits survive the wrapping.
package middleware

import (
	"context"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// Middleware allows wrapping a StateStore to add behavior.
type Middleware func(ports.StateStore) ports.StateStore

// Chain applies mws so that the first one is outermost.
func Chain(store ports.StateStore, mws ...Middleware) ports.StateStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

// transform rewrites a state on its way to the inner store.
type transform func(*domain.SessionState) (*domain.SessionState, error)

type committer struct {
	ports.StateStore
	next  ports.Committer
	apply transform
}

func (c *committer) Commit(ctx context.Context, state *domain.SessionState, finished ports.Scope) error {
	out, err := c.apply(state)
	if err != nil {
		return err
	}
	return c.next.Commit(ctx, out, finished)
}

// withCommit exposes Commit on wrapped only when next can commit.
func withCommit(wrapped, next ports.StateStore, apply transform) ports.StateStore {
	if c, ok := next.(ports.Committer); ok {
		return &committer{StateStore: wrapped, next: c, apply: apply}
	}
	return wrapped
}

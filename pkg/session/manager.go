package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed replica can hold a session key.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
	held bool
}

// Manager serializes access per session key. Distinct keys never block each other.
// Lock entries are reference counted and dropped once nobody holds or waits for them.
type Manager struct {
	store ports.StateStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL for the distributed lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a session Manager over store.
func NewManager(store ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST lock entry.mu and call release(key) after unlocking.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

func (m *Manager) setHeld(entry *lockEntry, held bool) {
	m.mu.Lock()
	entry.held = held
	m.mu.Unlock()
}

// Status reports whether an invocation currently holds key.
func (m *Manager) Status(key string) domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.locks[key]; ok && entry.held {
		return domain.StatusRunning
	}
	return domain.StatusIdle
}

// Load retrieves an existing session from the store.
func (m *Manager) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	var state *domain.SessionState
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		state, err = m.store.Load(ctx, key)
		return err
	})
	return state, err
}

// LoadOrStart loads a session, or returns a fresh unsaved state bound to
// agent when the key was never seen. Nothing is persisted until the first commit.
func (m *Manager) LoadOrStart(ctx context.Context, key, agent string) (*domain.SessionState, error) {
	var state *domain.SessionState
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		state, err = m.loadOrStart(ctx, key, agent)
		return err
	})
	return state, err
}

func (m *Manager) loadOrStart(ctx context.Context, key, agent string) (*domain.SessionState, error) {
	state, err := m.store.Load(ctx, key)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to check session existence: %w", err)
	}
	return domain.NewSessionState(key, agent), nil
}

// Save persists the session state.
func (m *Manager) Save(ctx context.Context, key string, state *domain.SessionState) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		return m.store.Save(ctx, key, state)
	})
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		return m.store.Delete(ctx, key)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying state store.
func (m *Manager) Store() ports.StateStore {
	return m.store
}

// WithLock runs fn while holding the lock for key. fn must not call back into
// locking Manager methods for the same key.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := m.acquire(key)
	entry.mu.Lock()
	m.setHeld(entry, true)
	defer func() {
		m.setHeld(entry, false)
		entry.mu.Unlock()
		m.release(key)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	if m.locker == nil {
		return fn(ctx)
	}

	lease, err := m.locker.Lock(ctx, key, m.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire distributed lock: %w", err)
	}
	defer func() {
		// The caller's ctx may already be canceled; the release must still go out.
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
				"session_key", key,
				"err", err,
			)
		}
	}()

	held, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.keepAlive(held, key, lease, done, cancel)
	}()

	err = fn(held)
	close(done)
	wg.Wait()

	if cause := context.Cause(held); errors.Is(cause, ports.ErrLockLost) {
		if err != nil {
			return fmt.Errorf("%w: %w", cause, err)
		}
		m.logger.Warn("Distributed lock lost after the work completed", "session_key", key)
	}
	return err
}

// keepAlive refreshes lease every third of the lock ttl until done is closed.
// When ownership is lost, or cannot be confirmed for a whole ttl, it cancels the holder's context.
func (m *Manager) keepAlive(ctx context.Context, key string, lease ports.Lease, done <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(max(m.lockTTL/3, time.Millisecond))
	defer ticker.Stop()

	confirmed := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := lease.Refresh(ctx, m.lockTTL)
		switch {
		case err == nil:
			confirmed = time.Now()
			continue
		case errors.Is(err, ports.ErrLockLost):
		case time.Since(confirmed) < m.lockTTL:
			m.logger.Warn("Failed to refresh distributed lock", "session_key", key, "err", err)
			continue
		default:
			err = fmt.Errorf("%w: not refreshed for %s: %w", ports.ErrLockLost, m.lockTTL, err)
		}
		m.logger.Error("Distributed lock lost; aborting the invocation", "session_key", key, "err", err)
		cancel(err)
		return
	}
}

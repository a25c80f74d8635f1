package ports

import (
	"context"
	"errors"
	"time"
)

// ErrLockLost is returned by Lease.Refresh when the lock expired and another
// holder may own the key.
var ErrLockLost = errors.New("distributed lock lost")

// Lease is a held distributed lock.
type Lease interface {
	// Refresh extends the lease to ttl from now. It returns ErrLockLost when
	// the lease is no longer ours.
	Refresh(ctx context.Context, ttl time.Duration) error

	// Release frees the lock if it is still ours. It MUST be called.
	Release(ctx context.Context) error
}

// DistributedLocker defines the interface for distributed concurrency control.
// It lets several replicas share one session keyspace while keeping a single writer per key.
type DistributedLocker interface {
	// Lock blocks until the lock for key is acquired or ctx is done.
	// The lease expires after ttl unless it is refreshed.
	Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

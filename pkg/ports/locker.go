package ports

import (
	"context"
	"time"
)

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker defines the interface for distributed concurrency control.
// It allows two schedulers to coordinate the rotation load-mutate-save cycle
// across processes.
type DistributedLocker interface {
	// Lock attempts to acquire a lease for the given key.
	// It blocks until the lease is acquired or the context is canceled.
	// Returns an UnlockFunc that MUST be called to release the lease.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

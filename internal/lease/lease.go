// Package lease serializes the load-mutate-save cycle across processes.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/pkg/ports"
)

// Lease runs functions while holding a distributed lock.
// A Lease without a locker runs functions directly.
type Lease struct {
	locker ports.DistributedLocker
	key    string
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// New creates a Lease. locker may be nil.
func New(locker ports.DistributedLocker, key string, ttl, wait time.Duration, logger *slog.Logger) *Lease {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Lease{locker: locker, key: key, ttl: ttl, wait: wait, logger: logger}
}

// Do runs fn under the lease. Acquisition waits at most the configured wait.
func (l *Lease) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if l == nil || l.locker == nil {
		return fn(ctx)
	}

	acquireCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	unlock, err := l.locker.Lock(acquireCtx, l.key, l.ttl)
	if err != nil {
		return fmt.Errorf("failed to acquire lease %q: %w", l.key, err)
	}
	l.logger.Debug("lease acquired", "key", l.key, "ttl", l.ttl)

	defer func() {
		// Release on a fresh context so a canceled run still frees the lease.
		if err := unlock(context.Background()); err != nil {
			l.logger.Warn("failed to release lease", "key", l.key, "err", err)
		}
	}()

	return fn(ctx)
}

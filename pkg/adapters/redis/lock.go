package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only if we still own it.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// renewScript resets the expiry only if we still own the key.
const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Locker implements ports.DistributedLocker using Redis.
// A held lease is extended in the background until it is released.
type Locker struct {
	client   *backend.Client
	prefix   string
	interval time.Duration
	renew    time.Duration
}

var _ ports.DistributedLocker = (*Locker)(nil)

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithRenewInterval sets how often a held lease is extended back to its TTL.
// Zero renews every third of the TTL.
func WithRenewInterval(d time.Duration) LockerOption {
	return func(l *Locker) {
		l.renew = d
	}
}

// NewLocker creates a new Redis locker.
func NewLocker(client *backend.Client, prefix string, opts ...LockerOption) *Locker {
	l := &Locker{
		client:   client,
		prefix:   prefix,
		interval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock acquires a lease for the given key using Redis SET NX PX.
// It polls until the lease is acquired or ctx ends; when ctx ends while
// another owner holds the key, the error wraps domain.ErrLeaseHeld and ctx.Err().
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key

	// Owner token makes the release safe: we only delete our own lease.
	val := uuid.NewString()

	acquire := func() (bool, error) {
		ok, err := l.client.SetNX(ctx, lockKey, val, ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return false, fmt.Errorf("redis error acquiring lease %s: %w", lockKey, err)
		}
		return ok, nil
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := acquire()
		if err != nil {
			return nil, err
		}
		if ok {
			renewCtx, stop := context.WithCancel(context.Background())
			done := make(chan struct{})
			go l.keepAlive(renewCtx, done, lockKey, val, ttl)

			var once sync.Once
			return func(ctx context.Context) error {
				once.Do(func() {
					stop()
					<-done
				})
				return l.client.Eval(ctx, unlockScript, []string{lockKey}, val).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrLeaseHeld, lockKey, ctx.Err())
		case <-ticker.C:
			// Retry...
		}
	}
}

// keepAlive extends the lease until ctx ends or ownership is lost.
func (l *Locker) keepAlive(ctx context.Context, done chan<- struct{}, lockKey, val string, ttl time.Duration) {
	defer close(done)

	every := l.renew
	if every <= 0 {
		every = ttl / 3
	}
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.client.Eval(ctx, renewScript, []string{lockKey}, val, ttl.Milliseconds()).Int()
			if err != nil {
				// Transient errors retry on the next tick while the TTL still covers us.
				continue
			}
			if n == 0 {
				return
			}
		}
	}
}

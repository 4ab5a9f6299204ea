// Package retry runs remote operations with bounded exponential backoff.
//
// The executor is oblivious to why an operation failed. Callers translate
// recoverable conditions (rate limits, timeouts) into errors, and terminal
// conditions (not found) into successful empty results so they are not retried.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aretw0/forkline/internal/logging"
)

// Config bounds one retried operation.
type Config struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
}

// DefaultConfig returns 3 attempts starting at 1s, doubling, capped at 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Fixed returns a Config polling every interval for at most attempts tries.
func Fixed(attempts int, interval time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1.0,
	}
}

// Delay returns the wait before retry number attempt (1-based):
// min(MaxDelay, InitialDelay * Multiplier^(attempt-1)).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := c.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// TotalDelay is the sum of every wait taken when all attempts fail.
func (c Config) TotalDelay() time.Duration {
	var total time.Duration
	for i := 1; i < c.attempts(); i++ {
		total += c.Delay(i)
	}
	return total
}

func (c Config) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Sleeper suspends the caller. Waits are plain suspend-and-resume; an
// operation in flight is always run to completion.
type Sleeper func(d time.Duration)

// Executor runs operations with backoff.
type Executor struct {
	logger  *slog.Logger
	sleep   Sleeper
	onRetry func(label string, attempt int, err error)
}

// Option configures the Executor.
type Option func(*Executor)

// WithLogger sets the logger used for per-attempt failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithSleeper replaces time.Sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		e.sleep = s
	}
}

// WithRetryHook registers a callback invoked for every failed attempt that will be retried.
func WithRetryHook(fn func(label string, attempt int, err error)) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		logger: logging.NewNop(),
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sleep exposes the executor's sleeper so settle intervals share the same clock.
func (e *Executor) Sleep(d time.Duration) {
	if d > 0 {
		e.sleep(d)
	}
}

// Do runs op until it succeeds or cfg.MaxAttempts is reached.
// The final failure is wrapped in an *ExhaustedError.
func Do[T any](ctx context.Context, e *Executor, cfg Config, label string, op func(context.Context) (T, error)) (T, error) {
	if e == nil {
		e = NewExecutor()
	}
	maxAttempts := cfg.attempts()

	var zero T
	for attempt := 1; ; attempt++ {
		e.logger.Debug("attempting operation", "op", label, "attempt", attempt, "max_attempts", maxAttempts)

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Debug("operation succeeded after retry", "op", label, "attempt", attempt)
			}
			return result, nil
		}

		if attempt >= maxAttempts {
			e.logger.Warn("operation failed, giving up", "op", label, "attempts", attempt, "err", err)
			return zero, &ExhaustedError{Label: label, Attempts: attempt, Err: err}
		}

		delay := cfg.Delay(attempt)
		e.logger.Warn("operation failed, retrying",
			"op", label,
			"attempt", attempt,
			"delay", delay,
			"err", err,
		)
		if e.onRetry != nil {
			e.onRetry(label, attempt, err)
		}
		e.Sleep(delay)
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, e *Executor, cfg Config, label string, op func(context.Context) error) error {
	_, err := Do(ctx, e, cfg, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/forkline/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	waits []time.Duration
}

func (r *recorder) sleep(d time.Duration) { r.waits = append(r.waits, d) }

func (r *recorder) total() time.Duration {
	var sum time.Duration
	for _, d := range r.waits {
		sum += d
	}
	return sum
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	rec := &recorder{}
	exec := retry.NewExecutor(retry.WithSleeper(rec.sleep))
	cfg := retry.Config{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2}

	calls := 0
	got, err := retry.Do(context.Background(), exec, cfg, "flaky", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("simulated failure")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.waits)
}

func TestDo_ExhaustsWithCappedGeometricDelay(t *testing.T) {
	rec := &recorder{}
	var hooks []int
	exec := retry.NewExecutor(
		retry.WithSleeper(rec.sleep),
		retry.WithRetryHook(func(label string, attempt int, err error) { hooks = append(hooks, attempt) }),
	)
	cfg := retry.Config{MaxAttempts: 6, InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	boom := errors.New("always fails")

	calls := 0
	_, err := retry.Do(context.Background(), exec, cfg, "doomed", func(context.Context) (string, error) {
		calls++
		return "", boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 6, exhausted.Attempts)
	assert.Equal(t, "doomed", exhausted.Label)
	assert.Contains(t, err.Error(), "doomed failed after 6 attempts")

	assert.Equal(t, 6, calls)
	// 1 + 2 + 4 + 5 + 5, no wait after the last attempt
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, rec.waits)
	assert.Equal(t, 17*time.Second, rec.total())
	assert.Equal(t, cfg.TotalDelay(), rec.total())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, hooks)
}

func TestDo_SingleAttemptNeverSleeps(t *testing.T) {
	rec := &recorder{}
	exec := retry.NewExecutor(retry.WithSleeper(rec.sleep))

	err := retry.Run(context.Background(), exec, retry.Config{MaxAttempts: 1, InitialDelay: time.Second}, "once", func(context.Context) error {
		return errors.New("nope")
	})

	require.Error(t, err)
	assert.Empty(t, rec.waits)
}

func TestConfig_Delay(t *testing.T) {
	cfg := retry.DefaultConfig()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{12, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Delay(tt.attempt), "attempt %d", tt.attempt)
	}

	fixed := retry.Fixed(24, 5*time.Second)
	assert.Equal(t, 5*time.Second, fixed.Delay(1))
	assert.Equal(t, 5*time.Second, fixed.Delay(20))
	assert.Equal(t, 115*time.Second, fixed.TotalDelay())
}

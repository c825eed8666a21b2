package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelaySchedule(t *testing.T) {
	cfg := DefaultBackoffConfig()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, cfg.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, cfg.Delay(0))
}

func TestDelayMonotonic(t *testing.T) {
	cfg := BackoffConfig{
		InitialInterval: 300 * time.Millisecond,
		MaxInterval:     7 * time.Second,
		Multiplier:      1.7,
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 40; attempt++ {
		d := cfg.Delay(attempt)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		require.LessOrEqual(t, d, cfg.MaxInterval)
		prev = d
	}
	assert.Equal(t, cfg.MaxInterval, prev)
}

func TestDelayJitterBounds(t *testing.T) {
	cfg := BackoffConfig{
		InitialInterval: time.Second,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Jitter:          true,
	}
	for i := 0; i < 100; i++ {
		d := cfg.Delay(3)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, time.Second)
	}
}

func TestWithRetryEventuallySucceeds(t *testing.T) {
	cfg := BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2, MaxRetries: 3}

	calls := 0
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhausted(t *testing.T) {
	cfg := BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 2, MaxRetries: 2}
	boom := errors.New("boom")

	calls := 0
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStop(t *testing.T) {
	cfg := BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 2, MaxRetries: 5}
	denied := errors.New("denied")

	calls := 0
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return Stop(denied)
	})
	assert.Same(t, denied, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, Stop(denied), denied)
}

func TestWithRetryContextCancelled(t *testing.T) {
	cfg := BackoffConfig{InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 2, MaxRetries: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, cfg, func() error { return errors.New("fail") })
	require.ErrorIs(t, err, context.Canceled)
}

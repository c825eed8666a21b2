// Package retry provides exponential backoff for transient failures.
//
// The same BackoffConfig drives two things: the event stream's reconnect
// schedule, which calls Delay directly and owns its own timer, and
// WithRetry for one-shot REST calls.
//
//	cfg := retry.BackoffConfig{
//		InitialInterval: time.Second,
//		MaxInterval:     30 * time.Second,
//		Multiplier:      2,
//		MaxRetries:      3,
//	}
//	err := retry.WithRetry(ctx, cfg, func() error {
//		return callAPI()
//	})
//
// Wrap an error with Stop to end retries early, e.g. on 401.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// BackoffConfig describes an exponential schedule: InitialInterval grows
// by Multiplier per attempt up to MaxInterval. MaxRetries counts retries
// after the first try.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter spreads each delay over [d/2, d). Leave it off where delays
	// must be monotonic.
	Jitter     bool
	MaxRetries int
}

// DefaultBackoffConfig is the reconnect policy of the event stream:
// 1s, 2s, 4s, 8s, 16s, capped at 30s, five attempts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxRetries:      5,
	}
}

// Delay returns the wait before retry number attempt (1-based). Attempts
// below 1 get the initial interval.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(c.InitialInterval)
	for i := 1; i < attempt; i++ {
		d *= mult
		if c.MaxInterval > 0 && d >= float64(c.MaxInterval) {
			d = float64(c.MaxInterval)
			break
		}
	}
	if c.MaxInterval > 0 && d > float64(c.MaxInterval) {
		d = float64(c.MaxInterval)
	}

	duration := time.Duration(d)
	if c.Jitter && duration > 1 {
		duration = duration/2 + time.Duration(rand.Int63n(int64(duration/2)))
	}
	return duration
}

// RetryableFunc is one try of an operation.
type RetryableFunc func() error

// WithRetry runs fn up to MaxRetries+1 times, sleeping Delay(n) before
// retry n. A StopError ends the loop and its wrapped error is returned
// as is.
func WithRetry(ctx context.Context, cfg BackoffConfig, fn RetryableFunc) error {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		attempts = attempt + 1
		if attempt > 0 {
			t := time.NewTimer(cfg.Delay(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
			case <-t.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		var stopErr StopError
		if errors.As(err, &stopErr) {
			return stopErr.Err
		}
		lastErr = err
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// StopError marks an error as final. WithRetry returns the wrapped error
// without further tries.
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps err so WithRetry gives up at once.
func Stop(err error) error {
	return StopError{Err: err}
}

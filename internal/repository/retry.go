package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prn-tf/alexander-library/internal/domain"
)

const (
	defaultRetryAttempts = 5
	defaultRetryDelay    = 10 * time.Millisecond
	defaultJitterFactor  = 0.3
)

// RetryPolicy configures exponential backoff for transient store failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles each time.
	BaseDelay time.Duration

	// JitterFactor adds up to this fraction of the delay at random (0.0-1.0).
	JitterFactor float64

	// OnRetry is called before each retry with the attempt number and the error.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns sensible defaults.
//
// Retry schedule: 0 ms, 10 ms, 20 ms, 40 ms, 80 ms (with 30% jitter).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  defaultRetryAttempts,
		BaseDelay:    defaultRetryDelay,
		JitterFactor: defaultJitterFactor,
	}
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// attempts run out. Exhausted retries and context deadlines surface as
// domain.ErrStoreUnavailable.
//
// Only ErrTransient is retried. A context.DeadlineExceeded is not retried.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: baseDelay * 2^(attempt-1)
			delay := policy.BaseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * policy.JitterFactor //nolint:gosec // math/rand is sufficient for jitter

			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr)
			}

			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, ctx.Err())
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, lastErr)
		}

		if !errors.Is(lastErr, ErrTransient) {
			return lastErr
		}
	}

	return fmt.Errorf("%w: retries exhausted: %v", domain.ErrStoreUnavailable, lastErr)
}

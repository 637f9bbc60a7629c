package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-library/internal/domain"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	retries := 0
	policy := fastPolicy(3)
	policy.OnRetry = func(attempt int, err error) { retries++ }

	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: database is locked", ErrTransient)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetry_PermanentErrorFailsFast(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return domain.ErrNoCopiesAvailable
	})

	assert.ErrorIs(t, err, domain.ErrNoCopiesAvailable)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustedIsStoreUnavailable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: serialization failure", ErrTransient)
	})

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 2, calls)
}

func TestRetry_DeadlineIsStoreUnavailable(t *testing.T) {
	err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		return fmt.Errorf("query: %w", context.DeadlineExceeded)
	})

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.False(t, errors.Is(err, ErrTransient))
}

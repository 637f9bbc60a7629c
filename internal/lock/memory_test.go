package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	m := NewMemoryLocker()
	defer m.Stop()
	ctx := context.Background()
	key := Keys.ReaderIssue("LIBABCD1234")

	ok, err := m.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	held, err := m.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.True(t, held)

	released, err := m.Release(ctx, key)
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = m.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	m := NewMemoryLocker()
	defer m.Stop()
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken")
}

func TestLock_AcquireWithRetry(t *testing.T) {
	m := NewMemoryLocker()
	defer m.Stop()
	ctx := context.Background()
	key := Keys.ReaderIssue("LIBABCD1234")

	_, err := m.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = m.Release(ctx, key)
	}()

	l := NewLock(m, key)
	ok, err := l.AcquireWithRetry(ctx, time.Minute, 50, 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, l.IsHeld())

	require.NoError(t, l.Release(ctx))
	assert.False(t, l.IsHeld())
}

func TestLock_AcquireWithRetryContextDone(t *testing.T) {
	m := NewMemoryLocker()
	defer m.Stop()
	key := Keys.OverdueSweep()

	_, err := m.Acquire(context.Background(), key, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	l := NewLock(m, key)
	ok, err := l.AcquireWithRetry(ctx, time.Minute, 100, 5*time.Millisecond)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

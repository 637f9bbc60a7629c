package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-library/internal/config"
	"github.com/prn-tf/alexander-library/internal/lock"
	"github.com/prn-tf/alexander-library/internal/repository"
)

// newTestClient connects to LIBRARY_TEST_REDIS_HOST or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	host := os.Getenv("LIBRARY_TEST_REDIS_HOST")
	if host == "" || testing.Short() {
		t.Skip("LIBRARY_TEST_REDIS_HOST not set")
	}

	c, err := NewClient(context.Background(), config.RedisConfig{
		Host:        host,
		Port:        6379,
		PoolSize:    4,
		DialTimeout: time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Cache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "test:" + t.Name()

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, key, []byte("v"), time.Minute))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	require.NoError(t, c.Delete(ctx, key))
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, repository.ErrCacheMiss)
}

func TestClient_Lock(t *testing.T) {
	a := newTestClient(t)
	b := newTestClient(t)
	ctx := context.Background()
	key := lock.Keys.ReaderIssue("test-" + t.Name())

	ok, err := a.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer a.Release(ctx, key) //nolint:errcheck

	ok, err = b.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// b never owned the key, so its release is a no-op.
	released, err := b.Release(ctx, key)
	require.NoError(t, err)
	assert.False(t, released)

	extended, err := a.Extend(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	released, err = a.Release(ctx, key)
	require.NoError(t, err)
	assert.True(t, released)

	held, err := a.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.False(t, held)
}

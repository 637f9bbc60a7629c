package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-library/internal/lock"
	"github.com/prn-tf/alexander-library/internal/metrics"
)

func TestOverdueMonitor_RunOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One loan issued three weeks ago, one today.
	env.circulation.now = func() time.Time { return time.Now().Add(-21 * 24 * time.Hour) }
	late := env.issue(t, "U1", "b002")
	env.circulation.now = time.Now
	env.issue(t, "U2", "b003")

	monitor := NewOverdueMonitor(env.repos.Issues, env.locker, metrics.New(), zerolog.Nop(), OverdueConfig{
		Interval:  time.Hour,
		BatchSize: 10,
	})

	result, err := monitor.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, late.IssueRecord.ID, result.Records[0].ID)
	assert.Equal(t, 1, result.Total)
	assert.False(t, result.Truncated)
	assert.False(t, result.Skipped)

	// The scan lock is released afterwards.
	held, err := env.locker.IsHeld(ctx, lock.Keys.OverdueSweep())
	require.NoError(t, err)
	assert.False(t, held)
}

func TestOverdueMonitor_CountsPastBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.circulation.now = func() time.Time { return time.Now().Add(-21 * 24 * time.Hour) }
	env.issue(t, "U1", "b002")
	env.issue(t, "U2", "b003")
	env.issue(t, "U3", "b004")
	env.circulation.now = time.Now

	m := metrics.New()
	monitor := NewOverdueMonitor(env.repos.Issues, env.locker, m, zerolog.Nop(), OverdueConfig{
		Interval:  time.Hour,
		BatchSize: 1,
	})

	result, err := monitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, 3, result.Total)
	assert.True(t, result.Truncated)

	expected := `
# HELP library_circulation_overdue_records Open issue records past their due date at the last scan.
# TYPE library_circulation_overdue_records gauge
library_circulation_overdue_records 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "library_circulation_overdue_records"))
}

func TestOverdueMonitor_SkipsWhenLocked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acquired, err := env.locker.Acquire(ctx, lock.Keys.OverdueSweep(), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	monitor := NewOverdueMonitor(env.repos.Issues, env.locker, nil, zerolog.Nop(), DefaultOverdueConfig())
	result, err := monitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, result.Records)
}

func TestOverdueMonitor_StartStop(t *testing.T) {
	env := newTestEnv(t)

	monitor := NewOverdueMonitor(env.repos.Issues, nil, nil, zerolog.Nop(), OverdueConfig{Interval: 10 * time.Millisecond})
	monitor.Start()
	monitor.Start()
	time.Sleep(30 * time.Millisecond)
	monitor.Stop()
	monitor.Stop()
}

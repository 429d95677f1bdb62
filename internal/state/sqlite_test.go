package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteFailuresRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := s.GetFailures(ctx, "gemini")
	require.NoError(t, err)
	assert.Zero(t, n, "unknown vendor reads as zero")

	require.NoError(t, s.SetFailures(ctx, "gemini", 3))
	n, err = s.GetFailures(ctx, "gemini")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// upsert replaces, not accumulates
	require.NoError(t, s.SetFailures(ctx, "gemini", 0))
	n, err = s.GetFailures(ctx, "gemini")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteHourlyCostAccumulates(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	cost, err := s.GetHourlyCost(ctx)
	require.NoError(t, err)
	assert.Zero(t, cost)

	require.NoError(t, s.IncrHourlyCost(ctx, 0.25))
	require.NoError(t, s.IncrHourlyCost(ctx, 0.50))

	cost, err = s.GetHourlyCost(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, cost, 1e-9)
}

func TestSQLiteHourlyCostBucketsByHour(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	clock := time.Date(2026, 4, 12, 19, 59, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	require.NoError(t, s.IncrHourlyCost(ctx, 10))

	clock = clock.Add(2 * time.Minute) // crosses into the next hour
	cost, err := s.GetHourlyCost(ctx)
	require.NoError(t, err)
	assert.Zero(t, cost, "a new hour starts from a fresh bucket")

	require.NoError(t, s.IncrHourlyCost(ctx, 1))
	cost, err = s.GetHourlyCost(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cost, 1e-9)
}

func TestNoopStore(t *testing.T) {
	s := Noop()
	ctx := context.Background()

	require.NoError(t, s.SetFailures(ctx, "gemini", 5))
	n, err := s.GetFailures(ctx, "gemini")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.IncrHourlyCost(ctx, 3))
	cost, err := s.GetHourlyCost(ctx)
	require.NoError(t, err)
	assert.Zero(t, cost)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/domain-insight/internal/application"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

func TestMemoryKeepsExpiredUntilPruned(t *testing.T) {
	t.Parallel()

	clock := application.NewManualClock(time.Unix(1_700_000_000, 0))
	m := NewMemory(clock)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, &analysis.CacheEntry{
		Key: "old", Report: &analysis.AggregatedReport{ID: "1"}, ReadyAt: clock.Now(), TTL: time.Minute,
	}))
	require.NoError(t, m.Set(ctx, &analysis.CacheEntry{
		Key: "new", Report: &analysis.AggregatedReport{ID: "2"}, ReadyAt: clock.Now(), TTL: time.Hour,
	}))

	clock.Advance(2 * time.Minute)
	e, err := m.Get(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, e)
	require.True(t, e.Expired(clock.Now()))

	require.Equal(t, 1, m.Prune(clock.Now()))
	e, err = m.Get(ctx, "old")
	require.NoError(t, err)
	require.Nil(t, e)
	require.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(ctx, "new"))
	require.Zero(t, m.Len())
}

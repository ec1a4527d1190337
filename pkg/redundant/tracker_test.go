package redundant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kong/redundant-db/pkg/replica"
	"github.com/kong/redundant-db/pkg/statsstore"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestSpeedTracker_SequentialMean(t *testing.T) {
	ctx := context.Background()
	samples := []float64{0.031, 0.5, 0.012, 0.25, 0.0009, 1.0, 0.044, 0.3}

	for _, atomicMode := range []bool{false, true} {
		store := statsstore.NewMemory()
		tracker := NewSpeedTracker(store, time.Hour, atomicMode, nil)
		for _, s := range samples {
			tracker.RecordConnectionSpeed(ctx, replica.Two, time.Duration(s*float64(time.Second)))
		}
		stats, found := readStats(store, replica.Two)
		require.True(t, found)
		require.Equal(t, len(samples), stats.Count)
		require.InDelta(t, stat.Mean(samples, nil), stats.AverageConnectTime, 1e-6)

		_, found = readStats(store, replica.One)
		require.False(t, found)
	}
}

func TestSpeedTracker_MalformedEntryRestarts(t *testing.T) {
	ctx := context.Background()
	store := statsstore.NewMemory()
	require.NoError(t, store.Set(ctx, replica.StatsKey(replica.One), []byte("nope"), time.Hour))

	NewSpeedTracker(store, time.Hour, false, nil).RecordConnectionSpeed(ctx, replica.One, 100*time.Millisecond)
	stats, _ := readStats(store, replica.One)
	require.Equal(t, replica.Stats{Count: 1, AverageConnectTime: 0.1}, stats)
}

func TestSpeedTracker_TTLRefreshedOnWrite(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := statsstore.NewMemory().WithClock(clock.Now)
	tracker := NewSpeedTracker(store, time.Hour, false, nil)

	tracker.RecordConnectionSpeed(ctx, replica.One, time.Millisecond)
	clock.Advance(50 * time.Minute)
	tracker.RecordConnectionSpeed(ctx, replica.One, time.Millisecond)
	clock.Advance(50 * time.Minute)
	stats, found := readStats(store, replica.One)
	require.True(t, found)
	require.Equal(t, 2, stats.Count)

	clock.Advance(time.Hour)
	_, found = readStats(store, replica.One)
	require.False(t, found)
}

func TestSpeedTracker_BrokenStore(t *testing.T) {
	require.NotPanics(t, func() {
		NewSpeedTracker(brokenStore{}, time.Hour, true, nil).
			RecordConnectionSpeed(context.Background(), replica.One, time.Millisecond)
	})
}

func TestSpeedTracker_AtomicConcurrent(t *testing.T) {
	ctx := context.Background()
	store := statsstore.NewMemory()
	tracker := NewSpeedTracker(store, time.Hour, true, nil)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordConnectionSpeed(ctx, replica.One, 10*time.Millisecond)
		}()
	}
	wg.Wait()
	stats, _ := readStats(store, replica.One)
	require.Equal(t, 64, stats.Count)
	require.InDelta(t, 0.01, stats.AverageConnectTime, 1e-12)
}

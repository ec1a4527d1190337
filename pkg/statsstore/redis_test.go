package statsstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kong/redundant-db/internal/store"
	"github.com/kong/redundant-db/pkg/replica"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	// skip in the short mode
	if testing.Short() {
		return
	}
	container, addr, err := store.SetupTestRedis()
	require.NoError(t, err)
	defer container.Terminate(context.Background())

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	s := NewRedis(client)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	t.Run("GetSet", func(t *testing.T) {
		_, found, err := s.Get(ctx, "absent")
		require.NoError(t, err)
		require.False(t, found)

		require.NoError(t, s.Set(ctx, "present", []byte("v"), time.Hour))
		v, found, err := s.Get(ctx, "present")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "v", string(v))

		ttl, err := client.TTL(ctx, "present").Result()
		require.NoError(t, err)
		require.Greater(t, ttl, 59*time.Minute)
	})

	t.Run("IncrementAverage", func(t *testing.T) {
		key := replica.StatsKey(replica.One)
		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.IncrementAverage(ctx, key, 0.25, time.Hour)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		raw, found, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, found)
		stats := replica.DecodeStats(raw)
		require.Equal(t, 40, stats.Count)
		require.InDelta(t, 0.25, stats.AverageConnectTime, 1e-12)
	})

	t.Run("IncrementAverageOverMalformed", func(t *testing.T) {
		key := replica.StatsKey(replica.Two)
		require.NoError(t, s.Set(ctx, key, []byte("junk"), time.Hour))
		stats, err := s.IncrementAverage(ctx, key, 0.125, time.Hour)
		require.NoError(t, err)
		require.Equal(t, replica.Stats{Count: 1, AverageConnectTime: 0.125}, stats)
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		stored, cur, err := s.SetIfAbsent(ctx, replica.MainKey, replica.EncodeMain(replica.Two), time.Hour)
		require.NoError(t, err)
		require.True(t, stored)
		require.Equal(t, replica.Two, replica.DecodeMain(cur))

		stored, cur, err = s.SetIfAbsent(ctx, replica.MainKey, replica.EncodeMain(replica.One), time.Hour)
		require.NoError(t, err)
		require.False(t, stored)
		require.Equal(t, replica.Two, replica.DecodeMain(cur))
	})
}

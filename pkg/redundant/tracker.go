package redundant

import (
	"context"
	"time"

	"github.com/kong/redundant-db/pkg/replica"
	"github.com/kong/redundant-db/pkg/statsstore"
	"go.uber.org/zap"
)

// SpeedTracker keeps the running mean connect time of each replica in the shared store.
//
// In the default mode every record is a plain read followed by a write, so two
// processes recording at once can drop one of the samples. With atomic set and a
// store implementing statsstore.Atomic the update is applied in a single step.
type SpeedTracker struct {
	store  statsstore.Store
	ttl    time.Duration
	atomic statsstore.Atomic
	logger *zap.Logger
}

func NewSpeedTracker(store statsstore.Store, ttl time.Duration, atomic bool, logger *zap.Logger) *SpeedTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &SpeedTracker{store: store, ttl: ttl, logger: logger}
	if a, ok := store.(statsstore.Atomic); ok && atomic {
		t.atomic = a
	}
	return t
}

// RecordConnectionSpeed folds elapsed into the stats of id. Store failures are
// logged and otherwise ignored.
func (t *SpeedTracker) RecordConnectionSpeed(ctx context.Context, id replica.ID, elapsed time.Duration) {
	key := replica.StatsKey(id)
	seconds := elapsed.Seconds()
	if t.atomic != nil {
		stats, err := t.atomic.IncrementAverage(ctx, key, seconds, t.ttl)
		if err != nil {
			t.logger.Warn("failed to record connection speed", zap.Stringer("replica", id), zap.Error(err))
			return
		}
		t.logger.Debug("recorded connection speed", zap.Stringer("replica", id),
			zap.Int("count", stats.Count), zap.Float64("avg_seconds", stats.AverageConnectTime))
		return
	}

	raw, _, err := t.store.Get(ctx, key)
	if err != nil {
		t.logger.Warn("failed to read replica stats, starting over", zap.Stringer("replica", id), zap.Error(err))
	}
	stats := replica.DecodeStats(raw).Add(seconds)
	encoded, err := replica.EncodeStats(stats)
	if err != nil {
		t.logger.Warn("failed to encode replica stats", zap.Stringer("replica", id), zap.Error(err))
		return
	}
	if err := t.store.Set(ctx, key, encoded, t.ttl); err != nil {
		t.logger.Warn("failed to record connection speed", zap.Stringer("replica", id), zap.Error(err))
		return
	}
	t.logger.Debug("recorded connection speed", zap.Stringer("replica", id),
		zap.Int("count", stats.Count), zap.Float64("avg_seconds", stats.AverageConnectTime))
}

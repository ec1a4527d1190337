package redundant

import (
	"context"
	"math/rand"
	"time"

	"github.com/kong/redundant-db/pkg/metrics"
	"github.com/kong/redundant-db/pkg/replica"
	"github.com/kong/redundant-db/pkg/statsstore"
	"go.uber.org/zap"
)

// Rand is the random source used while no main replica is known. *rand.Rand
// satisfies it but is not safe for concurrent use.
type Rand interface {
	Intn(n int) int
}

type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

// Selection is the outcome of one DetermineMainReplica call. Frozen means the
// main replica is persisted and no more stats are recorded for this call.
type Selection struct {
	Replica replica.ID
	Frozen  bool
}

// Selector decides which replica is main right now.
type Selector struct {
	store     statsstore.Store
	atomic    statsstore.Atomic
	ttl       time.Duration
	threshold int
	rnd       Rand
	metrics   metrics.Emitter
	logger    *zap.Logger
}

func NewSelector(store statsstore.Store, cfg Config) *Selector {
	cfg = cfg.withDefaults()
	s := &Selector{
		store:     store,
		ttl:       cfg.StatsTTL,
		threshold: cfg.FreezeThreshold,
		rnd:       cfg.Rand,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if a, ok := store.(statsstore.Atomic); ok && cfg.Atomic {
		s.atomic = a
	}
	return s
}

func (s *Selector) readStats(ctx context.Context, id replica.ID) replica.Stats {
	raw, _, err := s.store.Get(ctx, replica.StatsKey(id))
	if err != nil {
		s.logger.Warn("failed to read replica stats", zap.Stringer("replica", id), zap.Error(err))
		return replica.Stats{}
	}
	return replica.DecodeStats(raw)
}

func (s *Selector) readMain(ctx context.Context) replica.ID {
	raw, _, err := s.store.Get(ctx, replica.MainKey)
	if err != nil {
		s.logger.Warn("failed to read main replica", zap.Error(err))
		return replica.None
	}
	return replica.DecodeMain(raw)
}

// DetermineMainReplica returns the persisted main replica if there is one. Once
// either replica has reached the freeze threshold it picks and persists the faster
// (or only measured) one. Before that it picks at random.
func (s *Selector) DetermineMainReplica(ctx context.Context) Selection {
	if main := s.readMain(ctx); main != replica.None {
		return Selection{Replica: main, Frozen: true}
	}

	stats1 := s.readStats(ctx, replica.One)
	stats2 := s.readStats(ctx, replica.Two)
	if stats1.Count >= s.threshold || stats2.Count >= s.threshold {
		chosen := PickFasterOrAlive(stats1, stats2)
		chosen = s.freeze(ctx, chosen)
		s.logger.Info("main replica frozen", zap.Stringer("replica", chosen),
			zap.Int("count_1", stats1.Count), zap.Float64("avg_seconds_1", stats1.AverageConnectTime),
			zap.Int("count_2", stats2.Count), zap.Float64("avg_seconds_2", stats2.AverageConnectTime))
		s.metrics.Gauge(metrics.MainReplica, float64(chosen))
		return Selection{Replica: chosen, Frozen: true}
	}

	chosen := replica.ID(s.rnd.Intn(2) + 1)
	s.logger.Debug("no main replica yet, picked at random", zap.Stringer("replica", chosen))
	return Selection{Replica: chosen}
}

// freeze persists chosen. In atomic mode an earlier writer wins and its choice is
// returned instead.
func (s *Selector) freeze(ctx context.Context, chosen replica.ID) replica.ID {
	if s.atomic != nil {
		stored, current, err := s.atomic.SetIfAbsent(ctx, replica.MainKey, replica.EncodeMain(chosen), s.ttl)
		if err != nil {
			s.logger.Warn("failed to persist main replica", zap.Error(err))
			return chosen
		}
		if winner := replica.DecodeMain(current); !stored && winner != replica.None {
			return winner
		}
		return chosen
	}
	if err := s.store.Set(ctx, replica.MainKey, replica.EncodeMain(chosen), s.ttl); err != nil {
		s.logger.Warn("failed to persist main replica", zap.Error(err))
	}
	return chosen
}

// PickFasterOrAlive prefers the replica with the lower nonzero average. A zero
// average means the replica was never measured, so it loses to a measured one.
// Equal averages resolve to One.
func PickFasterOrAlive(a, b replica.Stats) replica.ID {
	if (a.AverageConnectTime < b.AverageConnectTime && a.AverageConnectTime > 0) || b.AverageConnectTime == 0 {
		return replica.One
	}
	if (b.AverageConnectTime < a.AverageConnectTime && b.AverageConnectTime > 0) || a.AverageConnectTime == 0 {
		return replica.Two
	}
	return replica.One
}

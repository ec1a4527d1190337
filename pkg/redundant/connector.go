// Package redundant routes connection requests across two presumed identical
// database replicas.
//
// Each Connect asks the Selector for the main replica, tries it once, and on any
// failure tries the other replica once. Successful attempts made before the main
// replica is frozen feed the SpeedTracker, so that after enough samples every
// process sharing the stats store settles on the faster replica.
package redundant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kong/redundant-db/pkg/metrics"
	"github.com/kong/redundant-db/pkg/replica"
	"github.com/kong/redundant-db/pkg/statsstore"
	"go.uber.org/zap"
)

var ErrAllReplicasUnreachable = errors.New("redundantdb: both replicas unreachable")

// UnreachableError is returned by Connect when both attempts failed. It matches
// ErrAllReplicasUnreachable and each attempt's cause with errors.Is.
type UnreachableError struct {
	Causes map[replica.ID]error
}

func (e *UnreachableError) Error() string {
	ids := make([]int, 0, len(e.Causes))
	for id := range e.Causes {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("replica %d: %v", id, e.Causes[replica.ID(id)]))
	}
	return ErrAllReplicasUnreachable.Error() + ": " + strings.Join(parts, "; ")
}

func (e *UnreachableError) Unwrap() []error {
	errs := []error{ErrAllReplicasUnreachable}
	for _, id := range replica.All {
		if err, ok := e.Causes[id]; ok {
			errs = append(errs, err)
		}
	}
	return errs
}

// DSNBuilder turns a replica config into a connection string.
type DSNBuilder interface {
	Build(cfg replica.Config) (string, error)
}

// Opener opens the transport connection for one attempt. Every failure, whatever
// its cause, is treated the same.
type Opener[C any] interface {
	Open(ctx context.Context, target replica.Target, timeout time.Duration) (C, error)
}

type OpenerFunc[C any] func(ctx context.Context, target replica.Target, timeout time.Duration) (C, error)

func (f OpenerFunc[C]) Open(ctx context.Context, target replica.Target, timeout time.Duration) (C, error) {
	return f(ctx, target, timeout)
}

// Connection is a successfully opened handle and the replica serving it.
type Connection[C any] struct {
	Handle  C
	Replica replica.ID
	Elapsed time.Duration
	// Frozen reports whether the main replica was already decided for this call.
	Frozen bool
}

// Connector is safe for concurrent use. All per-call state is local to Connect.
type Connector[C any] struct {
	cfg       Config
	store     statsstore.Store
	builder   DSNBuilder
	opener    Opener[C]
	selector  *Selector
	tracker   *SpeedTracker
	logger    *zap.Logger
	metrics   metrics.Emitter
	connected atomic.Int32
}

func New[C any](cfg Config, store statsstore.Store, builder DSNBuilder, opener Opener[C]) (*Connector[C], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil || builder == nil || opener == nil {
		return nil, fmt.Errorf("store, dsn builder and opener are required")
	}
	cfg = cfg.withDefaults()
	return &Connector[C]{
		cfg:      cfg,
		store:    store,
		builder:  builder,
		opener:   opener,
		selector: NewSelector(store, cfg),
		tracker:  NewSpeedTracker(store, cfg.StatsTTL, cfg.Atomic, cfg.Logger),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

func (c *Connector[C]) attempt(ctx context.Context, id replica.ID) (C, time.Duration, error) {
	var zero C
	rc := c.cfg.Replicas[id]
	connString, err := c.builder.Build(rc)
	if err != nil {
		return zero, 0, fmt.Errorf("build connection string: %w", err)
	}
	target := replica.Target{
		Replica:     id,
		Vendor:      rc.Type,
		DSN:         connString,
		Credentials: rc.Credentials(),
	}
	start := c.cfg.Now()
	handle, err := c.opener.Open(ctx, target, c.cfg.Timeout)
	elapsed := c.cfg.Now().Sub(start)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.metrics.Timing(metrics.ConnectAttempt, elapsed,
		metrics.Tag{Key: "replica", Value: id.String()}, metrics.Tag{Key: "outcome", Value: outcome})
	if err != nil {
		return zero, elapsed, err
	}
	return handle, elapsed, nil
}

// Connect opens a connection to the main replica, falling back to the other
// replica exactly once. It blocks for at most two attempt timeouts.
func (c *Connector[C]) Connect(ctx context.Context) (*Connection[C], error) {
	sel := c.selector.DetermineMainReplica(ctx)
	id := sel.Replica

	handle, elapsed, err := c.attempt(ctx, id)
	if err != nil {
		causes := map[replica.ID]error{id: err}
		c.logger.Warn("connection attempt failed, trying the other replica",
			zap.Stringer("replica", id), zap.Error(err))
		c.metrics.Count(metrics.ConnectFailover, 1, metrics.Tag{Key: "from", Value: id.String()})

		id = id.Other()
		handle, elapsed, err = c.attempt(ctx, id)
		if err != nil {
			causes[id] = err
			c.connected.Store(int32(id))
			c.metrics.Count(metrics.ConnectUnreachable, 1)
			uerr := &UnreachableError{Causes: causes}
			c.logger.Error("database connection failed", zap.Error(uerr))
			return nil, uerr
		}
	}
	c.connected.Store(int32(id))

	if !sel.Frozen {
		c.tracker.RecordConnectionSpeed(ctx, id, elapsed)
	}
	c.logger.Debug("connected", zap.Stringer("replica", id),
		zap.Duration("elapsed", elapsed), zap.Bool("frozen", sel.Frozen))
	return &Connection[C]{Handle: handle, Replica: id, Elapsed: elapsed, Frozen: sel.Frozen}, nil
}

// ConnectedServer returns the replica used by the most recently completed Connect,
// or replica.None before the first one.
func (c *Connector[C]) ConnectedServer() replica.ID {
	return replica.ID(c.connected.Load())
}

// Snapshot is the shared routing state as seen by one read.
type Snapshot struct {
	Replicas map[replica.ID]replica.Stats `json:"replicas"`
	Main     replica.ID                   `json:"main"`
}

// StatsSnapshot reads both replicas' stats and the main selection. Unlike the
// routing path it reports store errors.
func (c *Connector[C]) StatsSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Replicas: make(map[replica.ID]replica.Stats, len(replica.All))}
	for _, id := range replica.All {
		raw, _, err := c.store.Get(ctx, replica.StatsKey(id))
		if err != nil {
			return nil, err
		}
		snap.Replicas[id] = replica.DecodeStats(raw)
	}
	raw, _, err := c.store.Get(ctx, replica.MainKey)
	if err != nil {
		return nil, err
	}
	snap.Main = replica.DecodeMain(raw)
	return snap, nil
}

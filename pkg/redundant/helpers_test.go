package redundant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kong/redundant-db/pkg/metrics"
	"github.com/kong/redundant-db/pkg/replica"
	"github.com/kong/redundant-db/pkg/statsstore"
)

type fixedRand int

func (f fixedRand) Intn(int) int { return int(f) }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1700000000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errRefused = errors.New("connection refused")

type fakeHandle struct {
	replica replica.ID
}

// fakeOpener simulates both replicas. Each open advances the clock by the
// replica's latency.
type fakeOpener struct {
	mu       sync.Mutex
	clock    *testClock
	latency  map[replica.ID]time.Duration
	down     map[replica.ID]bool
	targets  []replica.Target
	timeouts []time.Duration
}

func newFakeOpener(clock *testClock) *fakeOpener {
	return &fakeOpener{
		clock: clock,
		latency: map[replica.ID]time.Duration{
			replica.One: 50 * time.Millisecond,
			replica.Two: 80 * time.Millisecond,
		},
		down: map[replica.ID]bool{},
	}
}

func (f *fakeOpener) Open(_ context.Context, target replica.Target, timeout time.Duration) (*fakeHandle, error) {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.timeouts = append(f.timeouts, timeout)
	down := f.down[target.Replica]
	latency := f.latency[target.Replica]
	f.mu.Unlock()
	if down {
		f.clock.Advance(timeout)
		return nil, errRefused
	}
	f.clock.Advance(latency)
	return &fakeHandle{replica: target.Replica}, nil
}

func (f *fakeOpener) attempts() []replica.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]replica.ID, 0, len(f.targets))
	for _, t := range f.targets {
		ids = append(ids, t.Replica)
	}
	return ids
}

type hostBuilder struct{}

func (hostBuilder) Build(cfg replica.Config) (string, error) {
	if cfg.Host == "" {
		return "", errors.New("host cannot be empty")
	}
	return cfg.Type + "://" + cfg.Host, nil
}

func testReplicas() map[replica.ID]replica.Config {
	return map[replica.ID]replica.Config{
		replica.One: {Type: "mysql", Host: "db1", Port: 3306, Database: "app", Username: "root", Password: "pw1"},
		replica.Two: {Type: "mysql", Host: "db2", Port: 3306, Database: "app", Username: "root", Password: "pw2"},
	}
}

type recordedMetric struct {
	kind  string
	name  string
	value float64
	tags  []metrics.Tag
}

type recordingEmitter struct {
	mu    sync.Mutex
	calls []recordedMetric
}

func (r *recordingEmitter) add(m recordedMetric) {
	r.mu.Lock()
	r.calls = append(r.calls, m)
	r.mu.Unlock()
}

func (r *recordingEmitter) Timing(name string, d time.Duration, tags ...metrics.Tag) {
	r.add(recordedMetric{"timing", name, d.Seconds(), tags})
}

func (r *recordingEmitter) Count(name string, value int64, tags ...metrics.Tag) {
	r.add(recordedMetric{"count", name, float64(value), tags})
}

func (r *recordingEmitter) Gauge(name string, value float64, tags ...metrics.Tag) {
	r.add(recordedMetric{"gauge", name, value, tags})
}

func (r *recordingEmitter) named(name string) []recordedMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedMetric
	for _, c := range r.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

var errStoreDown = errors.New("store down")

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errStoreDown
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}

// lateMainStore hides the main key from Get so a selector computes a fresh
// choice while another writer already froze one.
type lateMainStore struct {
	*statsstore.Memory
}

func (s lateMainStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == replica.MainKey {
		return nil, false, nil
	}
	return s.Memory.Get(ctx, key)
}

func seedStats(s statsstore.Store, id replica.ID, stats replica.Stats) {
	raw, _ := replica.EncodeStats(stats)
	_ = s.Set(context.Background(), replica.StatsKey(id), raw, time.Hour)
}

func readStats(s statsstore.Store, id replica.ID) (replica.Stats, bool) {
	raw, found, _ := s.Get(context.Background(), replica.StatsKey(id))
	return replica.DecodeStats(raw), found
}

func readMain(s statsstore.Store) replica.ID {
	raw, _, _ := s.Get(context.Background(), replica.MainKey)
	return replica.DecodeMain(raw)
}

package statsstore

import (
	"context"
	"sync"
	"time"

	"github.com/kong/redundant-db/pkg/replica"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Store with per-key expiry. It is shared state only for
// goroutines of one process; use Redis to share across processes.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

var _ Atomic = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// WithClock replaces the clock used for expiry.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *Memory) lookup(key string) ([]byte, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

func (m *Memory) store(key string, value []byte, ttl time.Duration) {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, value, ttl)
	return nil
}

// Delete removes key. Used by tests and operators, never by the router itself.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory) IncrementAverage(ctx context.Context, key string, sample float64, ttl time.Duration) (replica.Stats, error) {
	if err := ctx.Err(); err != nil {
		return replica.Stats{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, _ := m.lookup(key)
	stats := replica.DecodeStats(raw).Add(sample)
	encoded, err := replica.EncodeStats(stats)
	if err != nil {
		return replica.Stats{}, err
	}
	m.store(key, encoded, ttl)
	return stats, nil
}

func (m *Memory) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, []byte, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.lookup(key); ok {
		return false, append([]byte(nil), cur...), nil
	}
	m.store(key, value, ttl)
	return true, append([]byte(nil), value...), nil
}

package statsstore

import (
	"context"
	"time"

	"github.com/kong/redundant-db/pkg/replica"
)

// Store is the shared key/value store every process routes through. Writes are
// last-write-wins; a plain Get followed by Set can lose concurrent updates.
type Store interface {
	// Get reports found=false for absent or expired keys.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Atomic is implemented by stores that can update shared state without losing
// concurrent writes.
type Atomic interface {
	Store
	// IncrementAverage folds sample into the replica.Stats stored under key in one
	// step and refreshes its ttl.
	IncrementAverage(ctx context.Context, key string, sample float64, ttl time.Duration) (replica.Stats, error)
	// SetIfAbsent stores value only if key holds nothing. current is whatever the key
	// holds afterwards: value when stored, the earlier writer's value otherwise.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (stored bool, current []byte, err error)
}

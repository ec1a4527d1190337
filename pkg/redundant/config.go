package redundant

import (
	"fmt"
	"time"

	"github.com/kong/redundant-db/pkg/metrics"
	"github.com/kong/redundant-db/pkg/replica"
	"go.uber.org/zap"
)

var (
	defaultTimeout         = time.Second
	defaultStatsTTL        = time.Hour
	defaultFreezeThreshold = 20
)

type Config struct {
	Replicas map[replica.ID]replica.Config
	// Timeout bounds a single connection attempt.
	Timeout time.Duration
	// StatsTTL is the expiry applied on every write to the shared store.
	StatsTTL time.Duration
	// FreezeThreshold is the recorded attempt count after which the main replica is chosen.
	FreezeThreshold int
	// Atomic uses the store's atomic operations when it provides them.
	Atomic bool

	Rand    Rand
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics metrics.Emitter
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.StatsTTL <= 0 {
		c.StatsTTL = defaultStatsTTL
	}
	if c.FreezeThreshold <= 0 {
		c.FreezeThreshold = defaultFreezeThreshold
	}
	if c.Rand == nil {
		c.Rand = globalRand{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	return c
}

func (c Config) validate() error {
	for _, id := range replica.All {
		rc, ok := c.Replicas[id]
		if !ok {
			return fmt.Errorf("replica %s is not configured", id)
		}
		if rc.Type == "" {
			return fmt.Errorf("replica %s: type cannot be empty", id)
		}
	}
	if len(c.Replicas) != len(replica.All) {
		return fmt.Errorf("exactly %d replicas are supported, got %d", len(replica.All), len(c.Replicas))
	}
	return nil
}

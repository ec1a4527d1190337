package metrics

import (
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/zap"
)

const (
	ConnectAttempt     = "connect.attempt"
	ConnectFailover    = "connect.failover"
	ConnectUnreachable = "connect.unreachable"
	MainReplica        = "main.replica"
	DefaultNamespace   = "redundantdb."
)

type Tag struct {
	Key   string
	Value string
}

// Emitter receives connection routing metrics.
type Emitter interface {
	Timing(name string, d time.Duration, tags ...Tag)
	Count(name string, value int64, tags ...Tag)
	Gauge(name string, value float64, tags ...Tag)
}

type Noop struct{}

func (Noop) Timing(string, time.Duration, ...Tag) {}
func (Noop) Count(string, int64, ...Tag)          {}
func (Noop) Gauge(string, float64, ...Tag)        {}

// Statsd forwards metrics to a DogStatsD agent.
type Statsd struct {
	client statsd.ClientInterface
	logger *zap.Logger
}

func NewStatsd(addr, namespace string, logger *zap.Logger) (*Statsd, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	client, err := statsd.New(addr, statsd.WithNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}
	return NewStatsdFromClient(client, logger), nil
}

func NewStatsdFromClient(client statsd.ClientInterface, logger *zap.Logger) *Statsd {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Statsd{client: client, logger: logger}
}

func (s *Statsd) Close() error {
	return s.client.Close()
}

func toStatsdTags(tags []Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Key+":"+t.Value)
	}
	return out
}

func (s *Statsd) Timing(name string, d time.Duration, tags ...Tag) {
	if err := s.client.Timing(name, d, toStatsdTags(tags), 1); err != nil {
		s.logger.Debug("statsd timing failed", zap.String("metric", name), zap.Error(err))
	}
}

func (s *Statsd) Count(name string, value int64, tags ...Tag) {
	if err := s.client.Count(name, value, toStatsdTags(tags), 1); err != nil {
		s.logger.Debug("statsd count failed", zap.String("metric", name), zap.Error(err))
	}
}

func (s *Statsd) Gauge(name string, value float64, tags ...Tag) {
	if err := s.client.Gauge(name, value, toStatsdTags(tags), 1); err != nil {
		s.logger.Debug("statsd gauge failed", zap.String("metric", name), zap.Error(err))
	}
}

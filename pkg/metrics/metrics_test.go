package metrics

import (
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type recordingClient struct {
	statsd.NoOpClient
	calls []call
}

func (r *recordingClient) Timing(name string, value time.Duration, tags []string, rate float64) error {
	r.calls = append(r.calls, call{"timing", name, float64(value), tags})
	return nil
}

func (r *recordingClient) Count(name string, value int64, tags []string, rate float64) error {
	r.calls = append(r.calls, call{"count", name, float64(value), tags})
	return nil
}

func (r *recordingClient) Gauge(name string, value float64, tags []string, rate float64) error {
	r.calls = append(r.calls, call{"gauge", name, value, tags})
	return nil
}

func TestStatsd(t *testing.T) {
	client := &recordingClient{}
	s := NewStatsdFromClient(client, nil)

	s.Timing(ConnectAttempt, 20*time.Millisecond, Tag{"replica", "1"}, Tag{"outcome", "success"})
	s.Count(ConnectFailover, 1, Tag{"from", "2"})
	s.Gauge(MainReplica, 2)

	require.Equal(t, []call{
		{"timing", ConnectAttempt, float64(20 * time.Millisecond), []string{"replica:1", "outcome:success"}},
		{"count", ConnectFailover, 1, []string{"from:2"}},
		{"gauge", MainReplica, 2, []string{}},
	}, client.calls)
}

func TestNewStatsd(t *testing.T) {
	s, err := NewStatsd("127.0.0.1:8125", "", nil)
	require.NoError(t, err)
	s.Count(ConnectUnreachable, 1)
	require.NoError(t, s.Close())
}

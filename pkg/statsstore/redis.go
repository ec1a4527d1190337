package statsstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kong/redundant-db/pkg/replica"
	"github.com/redis/go-redis/v9"
)

var (
	defaultRetryInterval        = time.Millisecond * 20
	defaultMaxRetries    uint64 = 3
)

var errKeyVanished = errors.New("key expired between SETNX and GET")

// incrementAverageScript folds ARGV[1] into the stats stored at KEYS[1] and
// refreshes the expiry to ARGV[2] seconds. The average is returned as a string
// because Lua numbers are truncated to integers on the way back.
var incrementAverageScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local count = 0
local avg = 0
if raw then
  local ok, decoded = pcall(cjson.decode, raw)
  if ok and type(decoded) == 'table' then
    local c = tonumber(decoded['count'])
    local a = tonumber(decoded['connectTime'])
    if c and a and c >= 0 and a >= 0 then
      count = math.floor(c)
      avg = a
    end
  end
end
local sample = tonumber(ARGV[1])
avg = (avg * count + sample) / (count + 1)
count = count + 1
local avgStr = string.format('%.17g', avg)
redis.call('SET', KEYS[1], '{"count":' .. string.format('%d', count) .. ',"connectTime":' .. avgStr .. '}', 'EX', ARGV[2])
return {count, avgStr}
`)

// Redis is a Store shared by every process pointed at the same server.
type Redis struct {
	client        redis.UniversalClient
	retryInterval time.Duration
	maxRetries    uint64
}

var _ Atomic = (*Redis)(nil)

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{
		client:        client,
		retryInterval: defaultRetryInterval,
		maxRetries:    defaultMaxRetries,
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) IncrementAverage(ctx context.Context, key string, sample float64, ttl time.Duration) (replica.Stats, error) {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	res, err := incrementAverageScript.Run(ctx, r.client, []string{key},
		strconv.FormatFloat(sample, 'g', -1, 64), seconds).Slice()
	if err != nil {
		return replica.Stats{}, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return replica.Stats{}, fmt.Errorf("redis increment %s: unexpected reply %v", key, res)
	}
	count, ok := res[0].(int64)
	if !ok {
		return replica.Stats{}, fmt.Errorf("redis increment %s: unexpected count %v", key, res[0])
	}
	avgStr, ok := res[1].(string)
	if !ok {
		return replica.Stats{}, fmt.Errorf("redis increment %s: unexpected average %v", key, res[1])
	}
	avg, err := strconv.ParseFloat(avgStr, 64)
	if err != nil {
		return replica.Stats{}, fmt.Errorf("redis increment %s: %w", key, err)
	}
	return replica.Stats{Count: int(count), AverageConnectTime: avg}, nil
}

func (r *Redis) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, []byte, error) {
	var stored bool
	var current []byte
	op := func() error {
		ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			stored, current = true, value
			return nil
		}
		cur, found, err := r.Get(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return errKeyVanished
		}
		current = cur
		return nil
	}
	cb := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryInterval), r.maxRetries), ctx)
	if err := backoff.Retry(op, cb); err != nil {
		return false, nil, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return stored, current, nil
}

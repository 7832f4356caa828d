package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("pilotgate/usage")

// reserveScript increments KEYS[1] only if the result stays <= ARGV[1].
// ARGV[2] is the key TTL in milliseconds, applied when the key is created.
// Returns {accepted, count}.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current + 1 > tonumber(ARGV[1]) then
	return {0, current}
end
local n = redis.call("INCR", KEYS[1])
if n == 1 and tonumber(ARGV[2]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, n}
`)

// RedisStore keeps counters in Redis. Atomicity comes from running the
// check and the increment inside one Lua script.
type RedisStore struct {
	client *redis.Client
	opts   options
}

// NewRedisStore creates a RedisStore on client
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   buildOptions(opts),
	}
}

// TryIncrement implements Store
func (s *RedisStore) TryIncrement(ctx context.Context, key Key, limit int64) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "usage.redis.TryIncrement")
	defer span.End()

	start := time.Now()
	defer func() {
		s.opts.metrics.RecordStoreOperation("redis", "try_increment", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reserve failed")
		}
	}()

	raw, err := reserveScript.Run(ctx, s.client, []string{key.String()}, limit, s.opts.retention.Milliseconds()).Result()
	if err != nil {
		return Result{}, unavailable("redis reserve", err)
	}

	accepted, count, err := parseReserveReply(raw)
	if err != nil {
		return Result{}, unavailable("redis reserve", err)
	}

	span.SetAttributes(
		attribute.String("usage.metric", key.Metric),
		attribute.Bool("usage.accepted", accepted),
		attribute.Int64("usage.count", count),
	)
	return Result{Accepted: accepted, Count: count}, nil
}

func parseReserveReply(raw interface{}) (bool, int64, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected script reply %v", raw)
	}
	flag, ok1 := values[0].(int64)
	count, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("unexpected script reply %v", raw)
	}
	return flag == 1, count, nil
}

// Peek implements Store
func (s *RedisStore) Peek(ctx context.Context, key Key) (count int64, err error) {
	start := time.Now()
	defer func() {
		s.opts.metrics.RecordStoreOperation("redis", "peek", time.Since(start), err)
	}()

	count, err = s.client.Get(ctx, key.String()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("redis peek", err)
	}
	return count, nil
}

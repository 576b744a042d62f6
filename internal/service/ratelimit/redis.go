package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript increments the counter, sets the window on the first hit and
// returns {count, pttl}.
var consumeScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter shares counters across instances.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a limiter on client with keys under prefix.
func NewRedis(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "lendpulse"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Consume(ctx context.Context, identifier, action string, limit int, window time.Duration) (Result, error) {
	key := l.prefix + ":" + counterKey(identifier, action)
	vals, err := consumeScript.Run(ctx, l.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("%w: unexpected reply %v", ErrBackendUnavailable, vals)
	}
	return evaluate(int(vals[0]), limit, time.Duration(vals[1])*time.Millisecond)
}

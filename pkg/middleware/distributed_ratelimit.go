package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// allowScript counts a request in the key's fixed window and returns the count and
// the window's remaining milliseconds. A key that lost its expiry is given a new one.
var allowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if n == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// DistributedRateLimiter implements fixed-window rate limiting in Redis so limits are
// shared across replicas
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Config returns the limiter settings
func (rl *DistributedRateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow implements Limiter
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	reply, err := allowScript.Run(ctx, rl.redis,
		[]string{rl.prefix + ":" + key},
		rl.config.WindowDuration.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}
	if len(reply) != 2 {
		return Decision{}, fmt.Errorf("redis error: unexpected reply %v", reply)
	}
	count, _ := reply[0].(int64)
	ttl, _ := reply[1].(int64)

	limit := rl.config.capacity()
	d := Decision{
		Allowed: count <= int64(limit),
		Limit:   limit,
		ResetIn: time.Duration(ttl) * time.Millisecond,
	}
	if remaining := int64(limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	return d, nil
}

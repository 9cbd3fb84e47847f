package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDistributed(t *testing.T, cfg *RateLimitConfig) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDistributedRateLimiter(client, cfg, ""), mr
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	limiter, mr := setupDistributed(t, tinyConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
		assert.Equal(t, time.Hour, d.ResetIn)
	}
	d, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)

	assert.Equal(t, time.Hour, mr.TTL("ratelimit:user:1"))
	count, err := mr.Get("ratelimit:user:1")
	require.NoError(t, err)
	assert.Equal(t, "4", count)
}

func TestDistributedRateLimiter_WindowExpiry(t *testing.T) {
	limiter, mr := setupDistributed(t, tinyConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		limiter.Allow(ctx, "ip:10.0.0.1")
	}
	mr.FastForward(time.Hour + time.Second)

	d, err := limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestDistributedRateLimiter_RestoresMissingExpiry(t *testing.T) {
	limiter, mr := setupDistributed(t, tinyConfig())
	require.NoError(t, mr.Set("ratelimit:user:9", "1"))

	d, err := limiter.Allow(context.Background(), "user:9")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, time.Hour, mr.TTL("ratelimit:user:9"))
}

func TestDistributedRateLimiter_SharedAcrossInstances(t *testing.T) {
	first, mr := setupDistributed(t, tinyConfig())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	second := NewDistributedRateLimiter(client, tinyConfig(), "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := first.Allow(ctx, "user:1")
		require.NoError(t, err)
	}
	d, err := second.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	limiter, mr := setupDistributed(t, nil)
	mr.SetError("LOADING Redis is loading the dataset in memory")

	d, err := limiter.Allow(context.Background(), "user:1")
	assert.Error(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DefaultRateLimitConfig(), limiter.Config())
}

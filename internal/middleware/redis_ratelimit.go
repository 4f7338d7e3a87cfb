// redis_ratelimit.go implements the Limiter contract on Redis so every
// gateway replica draws from one shared budget. Uses the GCRA algorithm via
// redis_rate, which needs no clock synchronization between replicas.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces a shared per-key rate limit backed by Redis.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter creates a limiter on an existing Redis client. prefix
// namespaces the keys so the auth and api classes never collide.
func NewRedisLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
		prefix: prefix,
	}
}

// Allow consumes one unit of budget for key. Redis outages fail open: a
// broken limiter must not take down all traffic, and the in-memory limiter
// is not a safe fallback because it would silently multiply the budget by
// the replica count.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	res, err := rl.limiter.Allow(ctx, rl.prefix+":"+key, rl.limit)
	if err != nil {
		slog.Warn("redis rate limiter unavailable, allowing request", "error", err)
		return Decision{Allowed: true, Limit: rl.limit.Rate, Remaining: rl.limit.Burst}
	}

	return Decision{
		Allowed:    res.Allowed > 0,
		Limit:      rl.limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}
}

// Stop is a no-op; the Redis client is owned by the caller.
func (rl *RedisLimiter) Stop() {}

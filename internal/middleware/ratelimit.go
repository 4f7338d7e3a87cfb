// ratelimit.go enforces per-client rate limits. Two limiter backends share
// one middleware: an in-process token bucket for single-instance deployments
// and a Redis GCRA limiter (redis_ratelimit.go) when replicas must share a
// budget. Limits come in two classes — "auth" for the unauthenticated login
// and token endpoints, "api" for everything else — with the auth class much
// tighter because those endpoints are where credential stuffing lands.
package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-platform/airlock/internal/httperr"
	"github.com/airlock-platform/airlock/internal/telemetry"
)

// RateLimitConfig holds configuration for one rate limit class.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained request budget.
	RequestsPerMinute int
	// BurstSize is the maximum burst above the sustained rate.
	BurstSize int
	// CleanupInterval is how often idle client entries are dropped.
	CleanupInterval time.Duration
}

// APIRateLimitConfig returns the budget for authenticated API traffic.
func APIRateLimitConfig(requestsPerMinute, burst int) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: requestsPerMinute,
		BurstSize:         burst,
		CleanupInterval:   5 * time.Minute,
	}
}

// Decision is a limiter verdict for one request.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is the backend contract shared by the in-memory and Redis
// implementations.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
	Stop()
}

// rateLimitEntry tracks the token bucket for a single client.
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter is an in-process token bucket limiter keyed by client.
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
	stopped sync.Once
	now     func() time.Time
}

// NewRateLimiter creates an in-memory limiter and starts its cleanup
// goroutine. Call Stop on shutdown.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go rl.cleanup()
	return rl
}

// cleanup periodically drops entries idle long enough to have refilled.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopped.Do(func() { close(rl.stopCh) })
}

// Allow consumes one token for key if available.
func (rl *RateLimiter) Allow(_ context.Context, key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, exists := rl.entries[key]
	if !exists {
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return Decision{
			Allowed:   true,
			Limit:     rl.config.RequestsPerMinute,
			Remaining: rl.config.BurstSize - 1,
		}
	}

	// Refill based on elapsed time, capped at the burst size.
	elapsed := now.Sub(entry.lastUpdate)
	refill := elapsed.Seconds() * float64(rl.config.RequestsPerMinute) / 60.0
	entry.tokens = min(float64(rl.config.BurstSize), entry.tokens+refill)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return Decision{
			Allowed:   true,
			Limit:     rl.config.RequestsPerMinute,
			Remaining: int(entry.tokens),
		}
	}

	// Time until one token refills.
	perToken := time.Minute / time.Duration(rl.config.RequestsPerMinute)
	return Decision{
		Allowed:    false,
		Limit:      rl.config.RequestsPerMinute,
		Remaining:  0,
		RetryAfter: perToken,
	}
}

// RateLimitMiddleware enforces limiter on every request, tagging rejections
// with the class label. Standard X-RateLimit headers are set either way.
func RateLimitMiddleware(limiter Limiter, class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := limiter.Allow(c.Request.Context(), rateLimitKey(c))

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			telemetry.RateLimitRejectionsTotal.WithLabelValues(class).Inc()
			httperr.Abort(c, httperr.CodeTooManyRequests, "Rate limit exceeded")
			return
		}

		c.Next()
	}
}

// rateLimitKey picks the limit key with priority user > api key > client IP,
// so an authenticated caller cannot widen their budget by rotating source
// addresses, and NAT'd anonymous users share a bucket only as a last resort.
func rateLimitKey(c *gin.Context) string {
	if id := c.GetString(ContextUserID); id != "" {
		return "user:" + id
	}
	if id := c.GetString(ContextAPIKeyID); id != "" {
		return "apikey:" + id
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

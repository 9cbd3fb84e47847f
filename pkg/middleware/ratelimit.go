package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/crew/pkg/httputil"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the sustained number of requests admitted per window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns the anonymous rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig returns per-user rate limit settings
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// capacity is the most requests a fresh key may make at once
func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Decision is the outcome of admitting one request
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetIn is how long until the key can make another request
	ResetIn time.Duration
}

// Limiter decides whether one more request for key is admitted
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter is an in-process token bucket limiter. Buckets refill continuously
// at RequestsPerWindow per WindowDuration up to the burst capacity.
type RateLimiter struct {
	config  *RateLimitConfig
	rate    float64 // tokens per second
	buckets map[string]*bucket
	mu      sync.Mutex
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		rate:    float64(config.RequestsPerWindow) / config.WindowDuration.Seconds(),
		buckets: make(map[string]*bucket),
	}
}

// Config returns the limiter settings
func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow implements Limiter; it never fails
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	capacity := float64(rl.config.capacity())

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, last: now}
		rl.buckets[key] = b
	}
	b.tokens = math.Min(capacity, b.tokens+now.Sub(b.last).Seconds()*rl.rate)
	b.last = now

	d := Decision{Limit: rl.config.capacity()}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining = int(b.tokens)
	if b.tokens < 1 && rl.rate > 0 {
		d.ResetIn = time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	}
	return d, nil
}

// Cleanup drops buckets that have been idle long enough to refill completely
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	full := rl.config.WindowDuration
	if rl.rate > 0 {
		full = time.Duration(float64(rl.config.capacity()) / rl.rate * float64(time.Second))
	}
	now := time.Now()
	for key, b := range rl.buckets {
		if now.Sub(b.last) > full {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware limits authenticated users by id and everyone else by client IP
type RateLimitMiddleware struct {
	userLimiter      Limiter
	anonymousLimiter Limiter
	failOpen         bool
	onError          func(error)
	onLimited        func(scope string)
}

// NewRateLimitMiddleware creates a new rate limit middleware. Limiter errors let the
// request through unless SetFailOpen(false); onError may be nil.
func NewRateLimitMiddleware(userLimiter, anonymousLimiter Limiter, onError func(error)) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter:      userLimiter,
		anonymousLimiter: anonymousLimiter,
		failOpen:         true,
		onError:          onError,
	}
}

// OnLimited registers fn to be called with "user" or "ip" for every rejected request
func (m *RateLimitMiddleware) OnLimited(fn func(scope string)) {
	m.onLimited = fn
}

// SetFailOpen controls whether limiter errors allow (true) or reject (false) requests
func (m *RateLimitMiddleware) SetFailOpen(failOpen bool) {
	m.failOpen = failOpen
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, key, limiter := "ip", "ip:"+getClientIP(r), m.anonymousLimiter
		if authCtx := GetAuthContext(r); authCtx != nil {
			scope, key, limiter = "user", fmt.Sprintf("user:%d", authCtx.UserID), m.userLimiter
		}

		d, err := limiter.Allow(r.Context(), key)
		if err != nil {
			if m.onError != nil {
				m.onError(err)
			}
			if !m.failOpen {
				httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "service temporarily unavailable")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.ResetIn).Unix(), 10))

		if !d.Allowed {
			if m.onLimited != nil {
				m.onLimited(scope)
			}
			rateLimitExceeded(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitExceeded(w http.ResponseWriter, d Decision) {
	retryAfter := int64(math.Ceil(d.ResetIn.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error":       "rate limit exceeded",
		"code":        "rate_limited",
		"retry_after": retryAfter,
	})
}

// getClientIP prefers the first X-Forwarded-For hop; the server is expected to sit
// behind a proxy that overwrites the header
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

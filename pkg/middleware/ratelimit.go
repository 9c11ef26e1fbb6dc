package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/onboard/pkg/httputil"
	"github.com/platinummonkey/onboard/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
	// MaxKeys bounds the number of tracked clients in memory
	MaxKeys int
}

// DefaultRateLimitConfig returns the limits applied to token redemption
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 20,
		WindowDuration:    time.Minute,
		BurstSize:         5,
		MaxKeys:           10000,
	}
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter decides whether a request keyed by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter implements Limiter with an in-memory token bucket per key.
// Buckets live in an expiring LRU so idle clients are dropped.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets *expirable.LRU[string, *bucket]
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	maxKeys := config.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultRateLimitConfig().MaxKeys
	}

	return &RateLimiter{
		config:  config,
		buckets: expirable.NewLRU[string, *bucket](maxKeys, nil, config.WindowDuration*2),
		now:     time.Now,
	}
}

// WithClock replaces the limiter's time source
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

func (rl *RateLimiter) capacity() float64 {
	return float64(rl.config.RequestsPerWindow + rl.config.BurstSize)
}

// Allow implements Limiter
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: rl.capacity(), lastUpdate: now}
	}

	// Refill tokens based on elapsed time
	rate := float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
	if elapsed := now.Sub(b.lastUpdate).Seconds(); elapsed > 0 {
		b.tokens = math.Min(rl.capacity(), b.tokens+elapsed*rate)
		b.lastUpdate = now
	}

	d := Decision{Limit: rl.config.RequestsPerWindow}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	} else {
		d.ResetAfter = time.Duration((1 - b.tokens) / rate * float64(time.Second))
	}
	d.Remaining = int(b.tokens)

	// Re-adding refreshes the entry's expiry
	rl.buckets.Add(key, b)
	return d, nil
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	return rl.buckets.Len()
}

// RateLimitMiddleware provides per-client HTTP rate limiting
type RateLimitMiddleware struct {
	name              string
	limiter           Limiter
	metrics           *observability.Metrics
	trustProxyHeaders bool
	failOpen          bool
}

// Option configures a RateLimitMiddleware
type Option func(*RateLimitMiddleware)

// WithMetrics counts rejected requests
func WithMetrics(m *observability.Metrics) Option {
	return func(rm *RateLimitMiddleware) { rm.metrics = m }
}

// WithTrustedProxyHeaders keys clients by X-Forwarded-For and X-Real-IP
func WithTrustedProxyHeaders() Option {
	return func(rm *RateLimitMiddleware) { rm.trustProxyHeaders = true }
}

// WithFailClosed rejects requests with 503 when the limiter errors
func WithFailClosed() Option {
	return func(rm *RateLimitMiddleware) { rm.failOpen = false }
}

// NewRateLimitMiddleware creates a new rate limit middleware. name labels
// rejected-request metrics.
func NewRateLimitMiddleware(name string, limiter Limiter, opts ...Option) *RateLimitMiddleware {
	m := &RateLimitMiddleware{
		name:     name,
		limiter:  limiter,
		failOpen: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := "ip:" + clientIP(r, m.trustProxyHeaders)

		d, err := m.limiter.Allow(ctx, key)
		if err != nil {
			logger := observability.FromContext(ctx).WithError(err).WithField("limiter", m.name)
			if m.failOpen {
				logger.Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			logger.Error("Rate limiter unavailable, rejecting request")
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}

		setRateLimitHeaders(w, d)
		if !d.Allowed {
			if m.metrics != nil {
				m.metrics.RateLimitedTotal.WithLabelValues(m.name).Inc()
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(d.ResetAfter.Seconds())))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	if d.ResetAfter > 0 {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(d.ResetAfter).Unix()))
	}
}

func clientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		// The first X-Forwarded-For entry is the original client
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
				return first
			}
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

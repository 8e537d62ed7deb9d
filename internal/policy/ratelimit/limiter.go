// Package ratelimit paces outbound requests with one token bucket per host.
// The zero-value configuration never blocks.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages per-host rate limits shared by the index client and the page fetcher.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	observe  func(host string, delay time.Duration)
}

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond <= 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
	// OnDelay, when set, is called with the time spent waiting for a token
	// whenever a request was actually held back.
	OnDelay func(host string, delay time.Duration)
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		observe:  cfg.OnDelay,
	}
}

// Wait blocks until a token is available for rawURL's host, respecting ctx.
// A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	start := time.Now()
	if err := l.forHost(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); l.observe != nil && delay > time.Millisecond {
		l.observe(host, delay)
	}
	return nil
}

// Unlimited reports whether the limiter never blocks.
func (l *Limiter) Unlimited() bool {
	return l == nil || l.limit == rate.Inf
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

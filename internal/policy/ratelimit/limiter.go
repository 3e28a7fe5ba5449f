// Package ratelimit paces outbound requests per domain with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/metrics"
)

const minSlowdownRPS = 0.05

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	return limiter
}

// Wait blocks until a token is available for the URL's domain, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := crawler.NormalizeDomain(rawURL)
	if domain == "" {
		domain = "unknown"
	}
	limiter := l.limiterFor(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

// ReportResult halves the domain's rate after a 429 so later attempts space
// out further. Other statuses leave the rate alone.
func (l *Limiter) ReportResult(rawURL string, status int) {
	if status != http.StatusTooManyRequests || l.defaultRate == rate.Inf {
		return
	}
	limiter := l.limiterFor(crawler.NormalizeDomain(rawURL))
	next := limiter.Limit() / 2
	if next < minSlowdownRPS {
		next = minSlowdownRPS
	}
	limiter.SetLimit(next)
}

// Limit returns the current rate for the URL's domain.
func (l *Limiter) Limit(rawURL string) rate.Limit {
	return l.limiterFor(crawler.NormalizeDomain(rawURL)).Limit()
}

package warmup

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// Breaker counts consecutive failures per source URL and opens once the
// threshold is reached. Counts expire after the cooldown, closing the breaker.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	cache     *gocache.Cache
}

// NewBreaker builds a breaker. A non-positive threshold disables it.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = 6 * time.Hour
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		cache:     gocache.New(cooldown, cooldown/2),
	}
}

func breakerKey(rawURL string) string {
	if key, err := crawler.NormalizeURL(rawURL); err == nil {
		return key
	}
	return rawURL
}

// RecordFailure increments the failure count and returns it.
func (b *Breaker) RecordFailure(rawURL string) int {
	key := breakerKey(rawURL)
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 1
	if val, ok := b.cache.Get(key); ok {
		if n, ok := val.(int); ok {
			count = n + 1
		}
	}
	b.cache.Set(key, count, b.cooldown)
	return count
}

// RecordSuccess resets the count.
func (b *Breaker) RecordSuccess(rawURL string) {
	b.cache.Delete(breakerKey(rawURL))
}

// Failures returns the current count.
func (b *Breaker) Failures(rawURL string) int {
	if val, ok := b.cache.Get(breakerKey(rawURL)); ok {
		if n, ok := val.(int); ok {
			return n
		}
	}
	return 0
}

// Open reports whether rawURL should be skipped.
func (b *Breaker) Open(rawURL string) bool {
	if b == nil || b.threshold <= 0 {
		return false
	}
	return b.Failures(rawURL) >= b.threshold
}

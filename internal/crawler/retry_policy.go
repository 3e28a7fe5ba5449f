package crawler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

const (
	maxJitter          = time.Second
	governmentMinDelay = 3 * time.Second
)

// RetryPolicy bounds how many attempts the resilient fetcher makes and how
// long it waits between them. It is passed by value and never mutated.
type RetryPolicy struct {
	MaxRetries  int  `mapstructure:"max_retries"`
	BaseDelayMS int  `mapstructure:"base_delay_ms"`
	MaxDelayMS  int  `mapstructure:"max_delay_ms"`
	Exponential bool `mapstructure:"exponential"`
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelayMS: 1000, MaxDelayMS: 10000, Exponential: true}
}

// Restricted returns a single-attempt variant used for alternate routes.
func (p RetryPolicy) Restricted() RetryPolicy {
	p.MaxRetries = 0
	return p
}

// Backoff is the deterministic part of the delay before attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := time.Duration(p.BaseDelayMS) * time.Millisecond
	maxDelay := time.Duration(p.MaxDelayMS) * time.Millisecond
	if !p.Exponential || attempt <= 0 {
		if maxDelay > 0 && base > maxDelay {
			return maxDelay
		}
		return base
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if maxDelay > 0 && delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}

// Delay returns min(base*2^attempt, max) plus jitter, doubled with a 3s floor
// for government hosts. jitter is clamped to [0, 1s].
func (p RetryPolicy) Delay(attempt int, host string, jitter time.Duration) time.Duration {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > maxJitter {
		jitter = maxJitter
	}
	delay := p.Backoff(attempt) + jitter
	if IsGovernmentDomain(host) {
		delay *= 2
		if delay < governmentMinDelay {
			delay = governmentMinDelay
		}
	}
	return delay
}

// RandomJitter returns a uniformly random duration in [0, 1s).
func RandomJitter() time.Duration {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxJitter)))
	if err != nil {
		return maxJitter / 2
	}
	return time.Duration(n.Int64())
}

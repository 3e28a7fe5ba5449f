// Package warmup keeps per-domain learned signals (cookies, diagnoses,
// working alternate routes, forwarded-IP outcomes) and the per-URL circuit
// breaker. Both are process-lifetime and advisory.
package warmup

import (
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

const (
	freshFor   = time.Hour
	staleAfter = 7 * 24 * time.Hour
	minTrust   = 0.25
)

// Store holds WarmupHints keyed by normalized domain. Entries never expire;
// age only lowers Confidence.
type Store struct {
	mu    sync.Mutex
	cache *gocache.Cache
	now   func() time.Time
}

// NewStore builds an empty store. clock may be nil.
func NewStore(clock crawler.Clock) *Store {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &Store{
		cache: gocache.New(gocache.NoExpiration, 0),
		now:   now,
	}
}

// Get returns a copy of the hint for domain.
func (s *Store) Get(domain string) (crawler.WarmupHint, bool) {
	key := crawler.NormalizeDomain(domain)
	val, ok := s.cache.Get(key)
	if !ok {
		return crawler.WarmupHint{Domain: key}, false
	}
	hint, _ := val.(crawler.WarmupHint)
	return hint.Clone(), true
}

// Update applies fn to the hint for domain and stamps LastUpdated.
func (s *Store) Update(domain string, fn func(*crawler.WarmupHint)) crawler.WarmupHint {
	key := crawler.NormalizeDomain(domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	hint := crawler.WarmupHint{Domain: key}
	if val, ok := s.cache.Get(key); ok {
		if existing, ok := val.(crawler.WarmupHint); ok {
			hint = existing.Clone()
		}
	}
	fn(&hint)
	hint.Domain = key
	hint.LastUpdated = s.now()
	s.cache.Set(key, hint, gocache.NoExpiration)
	return hint.Clone()
}

// Merge folds update into the stored hint with WarmupHint.Merge semantics.
func (s *Store) Merge(domain string, update crawler.WarmupHint) crawler.WarmupHint {
	return s.Update(domain, func(h *crawler.WarmupHint) { h.Merge(update) })
}

// RecordDiagnosis stores the diagnosis, status and blocking server.
func (s *Store) RecordDiagnosis(domain string, diagnosis crawler.Diagnosis, status int, server, details string) {
	s.Merge(domain, crawler.WarmupHint{
		Reason:       string(diagnosis),
		LastStatus:   status,
		BlockProfile: &crawler.BlockProfile{Server: server, Diagnosis: diagnosis, Details: details},
	})
}

// RecordCookie caches a cookie header obtained by warm-up.
func (s *Store) RecordCookie(domain, cookieHeader string) {
	if strings.TrimSpace(cookieHeader) == "" {
		return
	}
	s.Merge(domain, crawler.WarmupHint{CookieHeader: cookieHeader, Reason: "cookie-warmup"})
}

// RecordAlternateRoute remembers a route that succeeded.
func (s *Store) RecordAlternateRoute(domain, strategy string) {
	s.Merge(domain, crawler.WarmupHint{
		Reason:         string(crawler.DiagnosisAlternateRoute),
		AlternateRoute: &crawler.AlternateRoute{Strategy: strategy, LastSuccess: s.now()},
		BlockProfile:   &crawler.BlockProfile{Diagnosis: crawler.DiagnosisAlternateRoute, Details: strategy},
	})
}

// RecordResidential notes a forwarded-IP attempt and whether it succeeded.
func (s *Store) RecordResidential(domain, sampleIP, country string, success bool) {
	now := s.now()
	res := &crawler.ResidentialIPHint{SampleIP: sampleIP, Country: country, LastTried: now}
	if success {
		res.LastSuccess = &now
	}
	s.Merge(domain, crawler.WarmupHint{ResidentialIP: res})
}

// Age is the time since the hint was last updated, or -1 when absent.
func (s *Store) Age(domain string) time.Duration {
	hint, ok := s.Get(domain)
	if !ok || hint.LastUpdated.IsZero() {
		return -1
	}
	return s.now().Sub(hint.LastUpdated)
}

// Confidence scales linearly from 1 (under an hour old) to 0.25 (a week or
// older). Absent hints have zero confidence.
func (s *Store) Confidence(domain string) float64 {
	age := s.Age(domain)
	switch {
	case age < 0:
		return 0
	case age <= freshFor:
		return 1
	case age >= staleAfter:
		return minTrust
	}
	span := float64(staleAfter - freshFor)
	return 1 - (1-minTrust)*float64(age-freshFor)/span
}

// Snapshot returns copies of every stored hint.
func (s *Store) Snapshot() []crawler.WarmupHint {
	items := s.cache.Items()
	out := make([]crawler.WarmupHint, 0, len(items))
	for _, item := range items {
		if hint, ok := item.Object.(crawler.WarmupHint); ok {
			out = append(out, hint.Clone())
		}
	}
	return out
}

// Package storage holds the persistence rules shared by every ArticleStore
// backend: URL keys, title keys, and how one batch splits into inserts,
// permanent discards, and counters.
package storage

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// ErrNotFound reports an unknown topic or source.
var ErrNotFound = errors.New("record not found")

// Discard reasons recorded alongside suppressed URLs.
const (
	ReasonCompeting = "competing"
	ReasonExpired   = "expired"
)

// Record is one article the backend should insert.
type Record struct {
	Key      string
	TitleKey string
	Article  crawler.ArticleData
}

// Discard is one URL the backend should suppress for the topic.
type Discard struct {
	Key    string
	URL    string
	Reason string
}

// Existing is what the backend already knows about a topic, restricted to
// the keys of the batch being planned.
type Existing struct {
	// Articles holds URL keys already stored.
	Articles map[string]struct{}
	// Suppressed holds URL keys discarded earlier.
	Suppressed map[string]struct{}
	// Titles maps a title key to the URL key that owns it.
	Titles map[string]string
}

// Plan is the outcome of planning one StoreArticles batch.
type Plan struct {
	Insert  []Record
	Discard []Discard
	Counts  crawler.StoreCounts
}

// Keys returns the URL keys and title keys a backend must look up before
// calling PlanBatch. Unparseable URLs are left out.
func Keys(articles []crawler.ArticleData) (urlKeys, titleKeys []string) {
	for _, a := range articles {
		if key, err := crawler.NormalizeURL(a.URL()); err == nil {
			urlKeys = append(urlKeys, key)
		}
		if tk := TitleKey(a.Title); tk != "" {
			titleKeys = append(titleKeys, tk)
		}
	}
	return urlKeys, titleKeys
}

// PlanBatch decides what happens to each article. Suppressed and already
// stored URLs count as duplicates and are never resurrected. Rejected
// articles are discarded under the relevance or quality counter according to
// their rejection reason. An accepted article whose headline matches one the
// topic already holds under another URL is competing coverage.
func PlanBatch(articles []crawler.ArticleData, existing Existing, now time.Time, maxAgeDays int) Plan {
	var plan Plan
	seen := make(map[string]struct{}, len(articles))
	titles := make(map[string]string)

	for _, a := range articles {
		key, err := crawler.NormalizeURL(a.URL())
		if err != nil {
			plan.Counts.RejectedLowQuality++
			continue
		}
		if _, dup := seen[key]; dup {
			plan.Counts.DuplicatesSkipped++
			continue
		}
		seen[key] = struct{}{}
		if _, ok := existing.Articles[key]; ok {
			plan.Counts.DuplicatesSkipped++
			continue
		}
		if _, ok := existing.Suppressed[key]; ok {
			plan.Counts.DuplicatesSkipped++
			continue
		}

		if a.ProcessingStatus == crawler.StatusRejected {
			if relevanceReason(a.RejectionReason) {
				plan.Counts.RejectedLowRelevance++
			} else {
				plan.Counts.RejectedLowQuality++
			}
			plan.Discard = append(plan.Discard, Discard{Key: key, URL: a.URL(), Reason: reasonOr(a.RejectionReason, "rejected")})
			continue
		}
		if expired(a, now, maxAgeDays) {
			plan.Counts.RejectedLowQuality++
			plan.Discard = append(plan.Discard, Discard{Key: key, URL: a.URL(), Reason: ReasonExpired})
			continue
		}

		tk := TitleKey(a.Title)
		if tk != "" {
			owner, ok := titles[tk]
			if !ok {
				owner, ok = existing.Titles[tk]
			}
			if ok && owner != key {
				plan.Counts.RejectedCompeting++
				plan.Discard = append(plan.Discard, Discard{Key: key, URL: a.URL(), Reason: ReasonCompeting})
				continue
			}
			titles[tk] = key
		}
		plan.Insert = append(plan.Insert, Record{Key: key, TitleKey: tk, Article: a})
		plan.Counts.ArticlesStored++
	}
	return plan
}

// TitleKey folds a headline to lowercase words separated by single spaces.
func TitleKey(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func relevanceReason(reason string) bool {
	switch reason {
	case "low_relevance", "negative_keyword":
		return true
	default:
		return false
	}
}

func expired(a crawler.ArticleData, now time.Time, maxAgeDays int) bool {
	if maxAgeDays <= 0 || a.PublishedAt == nil {
		return false
	}
	return a.PublishedAt.Before(now.AddDate(0, 0, -maxAgeDays))
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}

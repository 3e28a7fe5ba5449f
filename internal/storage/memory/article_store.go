package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/storage"
)

// StoredArticle is an accepted article held by the ArticleStore.
type StoredArticle struct {
	Key      string
	TopicID  string
	StoredAt time.Time
	Article  crawler.ArticleData
}

// ArticleStore keeps articles per topic. Discarded URLs stay suppressed for
// the lifetime of the store.
type ArticleStore struct {
	mu     sync.Mutex
	now    func() time.Time
	topics map[string]*topicShelf
}

type topicShelf struct {
	order     []string
	articles  map[string]StoredArticle
	keys      map[string]struct{}
	titles    map[string]string
	discarded map[string]struct{}
	reasons   map[string]string
}

// NewArticleStore constructs an empty store. A nil clock uses time.Now.
func NewArticleStore(clock crawler.Clock) *ArticleStore {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &ArticleStore{now: now, topics: make(map[string]*topicShelf)}
}

// StoreArticles persists the accepted articles of a batch and suppresses the rest.
func (s *ArticleStore) StoreArticles(
	ctx context.Context,
	topicID string,
	articles []crawler.ArticleData,
	maxAgeDays int,
) (crawler.StoreCounts, error) {
	if err := ctx.Err(); err != nil {
		return crawler.StoreCounts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	shelf := s.shelf(topicID)
	now := s.now().UTC()

	plan := storage.PlanBatch(articles, storage.Existing{
		Articles:   shelf.keys,
		Suppressed: shelf.discarded,
		Titles:     shelf.titles,
	}, now, maxAgeDays)

	for _, rec := range plan.Insert {
		shelf.articles[rec.Key] = StoredArticle{Key: rec.Key, TopicID: topicID, StoredAt: now, Article: rec.Article}
		shelf.keys[rec.Key] = struct{}{}
		shelf.order = append(shelf.order, rec.Key)
		if rec.TitleKey != "" {
			shelf.titles[rec.TitleKey] = rec.Key
		}
	}
	for _, d := range plan.Discard {
		shelf.discarded[d.Key] = struct{}{}
		shelf.reasons[d.Key] = d.Reason
	}
	return plan.Counts, nil
}

// Articles returns the topic's stored articles in insertion order.
func (s *ArticleStore) Articles(topicID string) []StoredArticle {
	s.mu.Lock()
	defer s.mu.Unlock()
	shelf, ok := s.topics[topicID]
	if !ok {
		return nil
	}
	out := make([]StoredArticle, 0, len(shelf.order))
	for _, key := range shelf.order {
		out = append(out, shelf.articles[key])
	}
	return out
}

// DiscardReason reports why a URL key was suppressed for the topic.
func (s *ArticleStore) DiscardReason(topicID, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shelf, ok := s.topics[topicID]
	if !ok {
		return "", false
	}
	reason, ok := shelf.reasons[key]
	return reason, ok
}

func (s *ArticleStore) shelf(topicID string) *topicShelf {
	shelf, ok := s.topics[topicID]
	if !ok {
		shelf = &topicShelf{
			articles:  make(map[string]StoredArticle),
			keys:      make(map[string]struct{}),
			titles:    make(map[string]string),
			discarded: make(map[string]struct{}),
			reasons:   make(map[string]string),
		}
		s.topics[topicID] = shelf
	}
	return shelf
}

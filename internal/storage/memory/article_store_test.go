package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsharvest/internal/clock/system"
	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/storage"
)

func article(url, title string, published time.Time, status crawler.ProcessingStatus, reason string) crawler.ArticleData {
	return crawler.ArticleData{
		Title:            title,
		SourceURL:        url,
		PublishedAt:      &published,
		ProcessingStatus: status,
		RejectionReason:  reason,
	}
}

func TestArticleStoreSuppressesDiscardedURLs(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	s := NewArticleStore(clock)
	ctx := context.Background()
	fresh := clock.Now().Add(-time.Hour)

	counts, err := s.StoreArticles(ctx, "leeds", []crawler.ArticleData{
		article("https://news.example.com/park", "Park budget approved", fresh, crawler.StatusAccepted, ""),
		article("https://news.example.com/football", "Cup final tonight", fresh, crawler.StatusRejected, "low_relevance"),
		article("https://news.example.com/teaser", "Teaser", fresh, crawler.StatusRejected, "snippet"),
	}, 7)
	require.NoError(t, err)
	assert.Equal(t, crawler.StoreCounts{ArticlesStored: 1, RejectedLowRelevance: 1, RejectedLowQuality: 1}, counts)

	// A later run sees the same rejected URL accepted; it must stay suppressed.
	clock.Advance(time.Hour)
	counts, err = s.StoreArticles(ctx, "leeds", []crawler.ArticleData{
		article("https://news.example.com/football/", "Cup final tonight", fresh, crawler.StatusAccepted, ""),
		article("https://news.example.com/park?utm_source=rss", "Park budget approved", fresh, crawler.StatusAccepted, ""),
		article("https://rival.example.com/park-budget", "Park Budget Approved", fresh, crawler.StatusAccepted, ""),
		article("https://news.example.com/library", "Library reopens", fresh, crawler.StatusAccepted, ""),
	}, 7)
	require.NoError(t, err)
	assert.Equal(t, crawler.StoreCounts{ArticlesStored: 1, RejectedCompeting: 1, DuplicatesSkipped: 2}, counts)

	stored := s.Articles("leeds")
	require.Len(t, stored, 2)
	assert.Equal(t, "news.example.com/park", stored[0].Key)
	assert.Equal(t, "news.example.com/library", stored[1].Key)
	assert.Equal(t, clock.Now(), stored[1].StoredAt)

	reason, ok := s.DiscardReason("leeds", "rival.example.com/park-budget")
	require.True(t, ok)
	assert.Equal(t, storage.ReasonCompeting, reason)

	// Suppression is per topic.
	counts, err = s.StoreArticles(ctx, "york", []crawler.ArticleData{
		article("https://news.example.com/football", "Cup final tonight", fresh, crawler.StatusAccepted, ""),
	}, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.ArticlesStored)
	assert.Nil(t, s.Articles("bradford"))
}

func TestArticleStoreAgePolicy(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	s := NewArticleStore(clock)
	old := clock.Now().AddDate(0, 0, -10)

	counts, err := s.StoreArticles(context.Background(), "leeds", []crawler.ArticleData{
		article("https://news.example.com/archive", "Archive story", old, crawler.StatusAccepted, ""),
	}, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.RejectedLowQuality)
	reason, ok := s.DiscardReason("leeds", "news.example.com/archive")
	require.True(t, ok)
	assert.Equal(t, storage.ReasonExpired, reason)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.StoreArticles(ctx, "leeds", nil, 7)
	require.ErrorIs(t, err, context.Canceled)
}

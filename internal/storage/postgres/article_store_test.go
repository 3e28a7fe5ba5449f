package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsharvest/internal/clock/system"
	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/storage"
)

var storeNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func newArticleStore(t *testing.T) (*ArticleStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewArticleStore(mock, Config{}, system.NewManual(storeNow))
	require.NoError(t, err)
	return s, mock
}

func pgArticle(url, title string, status crawler.ProcessingStatus, reason string) crawler.ArticleData {
	published := storeNow.Add(-2 * time.Hour)
	return crawler.ArticleData{
		Title:            title,
		Body:             "body",
		SourceURL:        url,
		PublishedAt:      &published,
		WordCount:        180,
		ProcessingStatus: status,
		RejectionReason:  reason,
	}
}

func TestStoreArticlesPlansAgainstExistingRows(t *testing.T) {
	t.Parallel()

	s, mock := newArticleStore(t)
	articles := []crawler.ArticleData{
		pgArticle("https://news.example.com/park", "Park budget approved", crawler.StatusAccepted, ""),
		pgArticle("https://rival.example.com/library", "Library reopens", crawler.StatusAccepted, ""),
		pgArticle("https://news.example.com/football", "Cup final tonight", crawler.StatusRejected, "low_relevance"),
		pgArticle("https://news.example.com/old-teaser", "Old teaser", crawler.StatusAccepted, ""),
	}
	urlKeys := []string{
		"news.example.com/park", "rival.example.com/library", "news.example.com/football", "news.example.com/old-teaser",
	}
	titleKeys := []string{"park budget approved", "library reopens", "cup final tonight", "old teaser"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT url_key, title_key FROM articles WHERE topic_id = $1")).
		WithArgs("leeds", urlKeys, titleKeys).
		WillReturnRows(pgxmock.NewRows([]string{"url_key", "title_key"}).
			AddRow("news.example.com/library", "library reopens"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT url_key FROM discarded_articles WHERE topic_id = $1")).
		WithArgs("leeds", urlKeys).
		WillReturnRows(pgxmock.NewRows([]string{"url_key"}).AddRow("news.example.com/old-teaser"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO articles").
		WithArgs(
			"leeds", "news.example.com/park", "https://news.example.com/park", "Park budget approved",
			"park budget approved", "body", "", pgxmock.AnyArg(), "", 180, 0, 0, []byte(`{}`), storeNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO discarded_articles").
		WithArgs("leeds", "rival.example.com/library", "https://rival.example.com/library", storage.ReasonCompeting, storeNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO discarded_articles").
		WithArgs("leeds", "news.example.com/football", "https://news.example.com/football", "low_relevance", storeNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	counts, err := s.StoreArticles(context.Background(), "leeds", articles, 7)
	require.NoError(t, err)
	assert.Equal(t, crawler.StoreCounts{
		ArticlesStored:       1,
		RejectedLowRelevance: 1,
		RejectedCompeting:    1,
		DuplicatesSkipped:    1,
	}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreArticlesConflictCountsAsDuplicate(t *testing.T) {
	t.Parallel()

	s, mock := newArticleStore(t)
	mock.ExpectQuery("SELECT url_key, title_key FROM articles").
		WillReturnRows(pgxmock.NewRows([]string{"url_key", "title_key"}))
	mock.ExpectQuery("SELECT url_key FROM discarded_articles").
		WillReturnRows(pgxmock.NewRows([]string{"url_key"}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO articles").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	counts, err := s.StoreArticles(context.Background(), "leeds", []crawler.ArticleData{
		pgArticle("https://news.example.com/park", "Park budget approved", crawler.StatusAccepted, ""),
	}, 7)
	require.NoError(t, err)
	assert.Equal(t, crawler.StoreCounts{DuplicatesSkipped: 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreArticlesRollsBackOnInsertError(t *testing.T) {
	t.Parallel()

	s, mock := newArticleStore(t)
	mock.ExpectQuery("SELECT url_key, title_key FROM articles").
		WillReturnRows(pgxmock.NewRows([]string{"url_key", "title_key"}))
	mock.ExpectQuery("SELECT url_key FROM discarded_articles").
		WillReturnRows(pgxmock.NewRows([]string{"url_key"}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO articles").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.StoreArticles(context.Background(), "leeds", []crawler.ArticleData{
		pgArticle("https://news.example.com/park", "Park budget approved", crawler.StatusAccepted, ""),
	}, 7)
	require.ErrorContains(t, err, "insert article: disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreArticlesEmptyBatchSkipsDatabase(t *testing.T) {
	t.Parallel()

	s, mock := newArticleStore(t)
	counts, err := s.StoreArticles(context.Background(), "leeds", nil, 7)
	require.NoError(t, err)
	assert.Zero(t, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewArticleStoreValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewArticleStore(mock, Config{ArticlesTable: "articles; drop"}, nil)
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewArticleStore(nil, Config{}, nil)
	require.Error(t, err)

	s, err := NewArticleStore(mock, Config{ArticlesTable: "leeds_articles", DiscardedTable: "leeds_discarded"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "leeds_articles", s.articles)
	assert.Equal(t, "leeds_discarded", s.discarded)
}

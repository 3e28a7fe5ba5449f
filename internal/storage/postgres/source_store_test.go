package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/storage"
)

func newSourceStore(t *testing.T) (*SourceStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewSourceStore(mock)
	require.NoError(t, err)
	return s, mock
}

func TestListSourcesDecodesScrapingConfig(t *testing.T) {
	t.Parallel()

	s, mock := newSourceStore(t)
	scraped := storeNow.Add(-6 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sources WHERE topic_id = $1 AND id = ANY($2) ORDER BY id")).
		WithArgs("leeds", []string{"council", "yep"}).
		WillReturnRows(pgxmock.NewRows(sourceColumns).
			AddRow("council", "Leeds City Council", "leeds", "", "https://news.leeds.gov.uk", "government", "Leeds",
				0.9, []byte(`{"skip_strategies":["platform"],"allow_missing_dates":true}`), (*time.Time)(nil), 24).
			AddRow("yep", "Yorkshire Evening Post", "leeds", "t1", "https://www.yorkshireeveningpost.co.uk", "news", "Leeds",
				0.8, []byte(`{"preferred_strategy":"feed","section_path":"/news/local"}`), &scraped, 6))

	sources, err := s.ListSources(context.Background(), "leeds", []string{"council", "yep"})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Nil(t, sources[0].LastScrapedAt)
	assert.Equal(t, []string{"platform"}, sources[0].ScrapingConfig.SkipStrategies)
	assert.True(t, sources[0].ScrapingConfig.AllowMissingDates)
	assert.Equal(t, "feed", sources[1].ScrapingConfig.PreferredStrategy)
	assert.Equal(t, "/news/local", sources[1].ScrapingConfig.SectionPath)
	require.NotNil(t, sources[1].LastScrapedAt)
	assert.True(t, sources[1].LastScrapedAt.Equal(scraped))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSourcesRejectsBadConfig(t *testing.T) {
	t.Parallel()

	s, mock := newSourceStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sources WHERE topic_id = $1 ORDER BY id")).
		WithArgs("leeds").
		WillReturnRows(pgxmock.NewRows(sourceColumns).
			AddRow("yep", "", "leeds", "", "https://www.yorkshireeveningpost.co.uk", "news", "", 0.5,
				[]byte(`{not json`), (*time.Time)(nil), 6))

	_, err := s.ListSources(context.Background(), "leeds", nil)
	require.ErrorContains(t, err, "decode scraping_config for yep")
}

func TestTopic(t *testing.T) {
	t.Parallel()

	s, mock := newSourceStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM topics WHERE id = $1")).
		WithArgs("leeds").
		WillReturnRows(pgxmock.NewRows(topicColumns).
			AddRow("leeds", "", "Leeds local news", "location", "Leeds",
				[]string{"leeds"}, []string{"leeds united"}, []string{"roundhay park"}, []string{"LS1"}, []string{},
				7, 150, 30))
	mock.ExpectQuery(regexp.QuoteMeta("FROM topics WHERE id = $1")).
		WithArgs("york").
		WillReturnError(pgx.ErrNoRows)

	topic, err := s.Topic(context.Background(), "leeds")
	require.NoError(t, err)
	assert.Equal(t, []string{"roundhay park"}, topic.Landmarks)
	assert.Equal(t, 7, topic.MaxAgeDays)
	assert.Equal(t, 30, topic.RelevanceThreshold)

	_, err = s.Topic(context.Background(), "york")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUpdates(t *testing.T) {
	t.Parallel()

	s, mock := newSourceStore(t)
	scraped := storeNow
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE sources SET last_scraped_at = $1, articles_found = $2, last_error = $3, consecutive_failures = $4 WHERE id = $5")).
		WithArgs(&scraped, 3, "", 0, "yep").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("to_jsonb($5::text) WHERE id = $6")).
		WithArgs(&scraped, 0, "timeout", 2, "/news", "council").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.ApplyUpdates(context.Background(), []crawler.SourceUpdate{
		{SourceID: "yep", LastScrapedAt: &scraped, ArticlesFound: 3},
		{SourceID: "council", LastScrapedAt: &scraped, LastError: "timeout", ConsecutiveFailures: 2, ResolvedSectionPath: "/news"},
	})
	require.NoError(t, err)
	require.NoError(t, s.ApplyUpdates(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

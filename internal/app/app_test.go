package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/app"
	"github.com/JakeFAU/newsharvest/internal/clock/system"
	"github.com/JakeFAU/newsharvest/internal/config"
	"github.com/JakeFAU/newsharvest/internal/crawler"
)

const catalogYAML = `
topics:
  - id: leeds
    name: Leeds local news
    type: location
    region: Leeds
    keywords: [leeds]
    max_age_days: 7
sources:
  - id: yep
    name: Yorkshire Evening Post
    topic_id: leeds
    feed_url: https://www.yorkshireeveningpost.co.uk
    source_type: news
    scrape_frequency_hours: 6
  - id: council
    name: Leeds City Council
    topic_id: leeds
    feed_url: https://news.leeds.gov.uk
    source_type: government
`

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// refusingFetcher fails every round trip the way an unreachable host does.
type refusingFetcher struct {
	calls atomic.Int64
}

func (f *refusingFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.calls.Add(1)
	return crawler.FetchResponse{}, &crawler.NetworkError{
		URL:  req.URL,
		Kind: crawler.NetworkRefused,
		Err:  errors.New("connection refused"),
	}
}

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.SourcesFile = path
	cfg.Retry.MaxRetries = 0
	cfg.Retry.BaseDelayMS = 1
	cfg.Pacing.DomainRPS = 0
	cfg.Scheduler.SourceTimeout = 5 * time.Second
	return cfg
}

func build(t *testing.T, cfg config.Config, extra ...app.Option) (*app.App, *refusingFetcher) {
	t.Helper()
	fetcher := &refusingFetcher{}
	opts := append([]app.Option{
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
		app.WithClock(system.NewManual(testNow)),
		app.WithFetcher(fetcher),
		app.WithoutTelemetry(),
	}, extra...)
	a, err := app.Build(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return a, fetcher
}

func TestBuildMemoryRunsJob(t *testing.T) {
	t.Parallel()

	a, fetcher := build(t, memoryConfig(t))
	require.NotNil(t, a.Scheduler)
	require.NotNil(t, a.Prober)

	ctx := context.Background()
	jobID := uuid.New()
	report, err := a.Scheduler.RunWithID(ctx, jobID, crawler.JobInput{TopicID: "leeds", ForceRescrape: true})
	require.NoError(t, err)
	assert.Equal(t, jobID.String(), report.JobID)
	assert.Len(t, report.Results, 2)
	assert.Zero(t, report.Totals.ArticlesStored)
	assert.Positive(t, fetcher.calls.Load(), "sources were attempted through the injected fetcher")

	require.NoError(t, a.Close(ctx))
	run, err := a.Progress.GetJob(ctx, jobID)
	require.NoError(t, err, "closing the app flushes progress into the job store")
	assert.Equal(t, "leeds", run.TopicID)
	assert.NotNil(t, run.FinishedAt)
}

func TestBuildUnknownTopic(t *testing.T) {
	t.Parallel()

	a, _ := build(t, memoryConfig(t))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	_, err := a.Scheduler.Run(context.Background(), crawler.JobInput{TopicID: "york"})
	require.Error(t, err)
}

func TestBuildServesAPI(t *testing.T) {
	t.Parallel()

	a, _ := build(t, memoryConfig(t))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	srv := httptest.NewServer(a.Server().Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/jobs")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildAsyncJobsDrainThroughDispatcher(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig(t)
	cfg.Server.AsyncJobs = true
	a, _ := build(t, cfg)
	require.NotNil(t, a.Dispatcher)

	srv := httptest.NewServer(a.Server().Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json",
		strings.NewReader(`{"topic_id":"leeds","force_rescrape":true}`))
	require.NoError(t, err)
	var accepted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	a.Queue.Close()
	a.Dispatcher.Run(context.Background())

	ctx := context.Background()
	require.NoError(t, a.Close(ctx))
	run, err := a.Progress.GetJob(ctx, uuid.MustParse(accepted.JobID))
	require.NoError(t, err)
	assert.Equal(t, "leeds", run.TopicID)
}

func TestBuildFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing sources file", func(c *config.Config) { c.Storage.SourcesFile = "/nonexistent/sources.yaml" }, "load sources"},
		{"bad postgres dsn", func(c *config.Config) {
			c.Storage.Backend = config.BackendPostgres
			c.Storage.DSN = "postgres://%zz"
		}, "parse postgres dsn"},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "mongo" }, "unknown storage backend"},
		{"missing profiles", func(c *config.Config) { c.Profiles.File = "/nonexistent/profiles.yaml" }, "load domain profiles"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := memoryConfig(t)
			tt.mutate(&cfg)
			_, err := app.Build(context.Background(), cfg,
				app.WithLogger(zap.NewNop()),
				app.WithRegisterer(prometheus.NewRegistry()),
				app.WithoutTelemetry())
			require.ErrorContains(t, err, tt.want)
		})
	}
}

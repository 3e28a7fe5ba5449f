package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/probe"
	queuememory "github.com/JakeFAU/newsharvest/internal/queue/memory"
	"github.com/JakeFAU/newsharvest/internal/storage"
	"github.com/JakeFAU/newsharvest/internal/storage/memory"
)

var fixedJobID = uuid.MustParse("0190a6c2-7d3e-7000-8000-000000000001")

func TestServer_SubmitJob_SyncReturnsReport(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{report: crawler.JobReport{
		TopicID: "leeds",
		Status:  crawler.JobStatusPartial,
		Totals:  crawler.StoreCounts{ArticlesStored: 4, DuplicatesSkipped: 1},
	}}
	server := NewServer(Options{Runner: runner, IDs: fakeIDs{}, Logger: zap.NewNop()})

	body := []byte(`{"topic_id":" leeds ","source_ids":["yep"],"force_rescrape":true,"batch_size":2}`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var report crawler.JobReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 4, report.Totals.ArticlesStored)
	require.Equal(t, crawler.JobStatusPartial, report.Status)

	calls := runner.inputs()
	require.Len(t, calls, 1)
	require.Equal(t, "leeds", calls[0].in.TopicID)
	require.Equal(t, []string{"yep"}, calls[0].in.SourceIDs)
	require.True(t, calls[0].in.ForceRescrape)
	require.Equal(t, fixedJobID, calls[0].id)
}

func TestServer_SubmitJob_Async(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	server := NewServer(Options{IDs: fakeIDs{}, Queue: q})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs",
		bytes.NewBufferString(`{"topic_id":"leeds","fast_mode":true}`)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), fixedJobID.String())
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, fixedJobID, item.JobID)
	require.Equal(t, "leeds", item.Input.TopicID)
	require.True(t, item.Input.FastMode)
}

func TestServer_SubmitJob_QueueClosed(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	q.Close()
	server := NewServer(Options{IDs: fakeIDs{}, Queue: q})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs",
		bytes.NewBufferString(`{"topic_id":"leeds"}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_SubmitJob_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"missing topic", `{"source_ids":["yep"]}`, "topic_id required"},
		{"negative max sources", `{"topic_id":"leeds","max_sources":-1}`, "max_sources"},
		{"negative age", `{"topic_id":"leeds","max_age_days":-3}`, "max_age_days"},
		{"negative batch", `{"topic_id":"leeds","batch_size":-1}`, "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{}
			server := NewServer(Options{Runner: runner, IDs: fakeIDs{}})
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(tt.body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Empty(t, runner.inputs())
		})
	}
}

func TestServer_SubmitJob_UnknownTopic(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: fmt.Errorf("load topic york: %w", storage.ErrNotFound)}
	server := NewServer(Options{Runner: runner, IDs: fakeIDs{}})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs",
		bytes.NewBufferString(`{"topic_id":"york"}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SubmitJob_RunnerFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("list sources for leeds: connection refused")}
	server := NewServer(Options{Runner: runner, IDs: fakeIDs{}})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs",
		bytes.NewBufferString(`{"topic_id":"leeds"}`)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_SubmitJob_NoRunner(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewServer(Options{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs",
		bytes.NewBufferString(`{"topic_id":"leeds"}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Probe(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{result: probe.Result{
		URL:        "https://www.yorkshireeveningpost.co.uk",
		Accessible: false,
		Diagnosis:  crawler.DiagnosisCookieRequired,
		StatusCode: http.StatusForbidden,
	}}
	server := NewServer(Options{Prober: prober})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/probe",
		bytes.NewBufferString(`{"url":"https://www.yorkshireeveningpost.co.uk","bypass_head":true}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"diagnosis":"cookie-required"`)
	require.True(t, prober.opts.BypassHead)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/probe", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ProgressRoutes(t *testing.T) {
	t.Parallel()

	repo := memory.NewJobStore()
	ctx := context.Background()
	require.NoError(t, repo.UpsertJobStart(ctx, fixedJobID, "leeds", time.Unix(100, 0)))
	server := NewServer(Options{Progress: repo})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+fixedJobID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"running"`)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+fixedJobID.String()+"/domains", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"domains":[]`)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{Progress: memory.NewJobStore(), APIKey: "secret"})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{Ready: func(context.Context) error { return errors.New("pool closed") }})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	server = NewServer(Options{})
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-1")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-1", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buffer")
	}
}

type fakeIDs struct{}

func (fakeIDs) NewJobID() (uuid.UUID, error) { return fixedJobID, nil }

type runnerCall struct {
	id uuid.UUID
	in crawler.JobInput
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []runnerCall
	report crawler.JobReport
	err    error
}

func (f *fakeRunner) RunWithID(_ context.Context, jobID uuid.UUID, in crawler.JobInput) (crawler.JobReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runnerCall{id: jobID, in: in})
	if f.err != nil {
		return crawler.JobReport{}, f.err
	}
	report := f.report
	report.JobID = jobID.String()
	return report, nil
}

func (f *fakeRunner) inputs() []runnerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runnerCall(nil), f.calls...)
}

type fakeProber struct {
	result probe.Result
	opts   probe.Options
}

func (f *fakeProber) Probe(_ context.Context, rawURL string, opts probe.Options) probe.Result {
	f.opts = opts
	res := f.result
	res.URL = rawURL
	return res
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

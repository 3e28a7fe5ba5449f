package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	collyfetcher "github.com/JakeFAU/newsharvest/internal/fetcher/colly"
	"github.com/JakeFAU/newsharvest/internal/progress"
	"github.com/JakeFAU/newsharvest/internal/warmup"
)

type fetchFunc func(req crawler.FetchRequest) (crawler.FetchResponse, error)

type fakeFetcher struct {
	mu   sync.Mutex
	fn   fetchFunc
	reqs []crawler.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(req)
}

func status(req crawler.FetchRequest, code int, server string) (crawler.FetchResponse, error) {
	resp := crawler.FetchResponse{URL: req.URL, StatusCode: code, Headers: http.Header{"Server": {server}}}
	if code >= 300 {
		return resp, &crawler.HTTPError{URL: req.URL, StatusCode: code, Server: server}
	}
	return resp, nil
}

type fixedWarmer struct {
	cookie string
	calls  int
}

func (w *fixedWarmer) WarmUp(context.Context, string) string {
	w.calls++
	return w.cookie
}

func TestProbeHeadOK(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fn: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		return status(req, 200, "nginx")
	}}
	hints := warmup.NewStore(nil)
	rec := &progress.Recorder{}
	p := New(f, hints, nil, Config{Emitter: rec})

	ctx := progress.WithJobID(context.Background(), uuid.New())
	res := p.Probe(ctx, "https://www.example.com/news", Options{})
	assert.True(t, res.Accessible)
	assert.Equal(t, crawler.DiagnosisOK, res.Diagnosis)
	assert.Equal(t, 200, res.StatusCode)
	require.Len(t, f.reqs, 1)
	assert.Equal(t, http.MethodHead, f.reqs[0].Method)
	assert.NotEmpty(t, f.reqs[0].Headers.Get("User-Agent"))

	hint, ok := hints.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, crawler.DiagnosisOK, hint.Diagnosis())

	events := rec.ByStage(progress.StageProbe)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Diagnosis)
}

func TestProbeHeadBlockedRangedGetWorks(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fn: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		if req.Method == http.MethodHead {
			return status(req, 405, "")
		}
		assert.Equal(t, "bytes=0-2047", req.Headers.Get("Range"))
		return status(req, 206, "")
	}}
	p := New(f, nil, nil, Config{})
	res := p.Probe(context.Background(), "https://example.com/", Options{})
	assert.True(t, res.Accessible)
	assert.Equal(t, crawler.DiagnosisHeadBlocked, res.Diagnosis)
}

func TestProbeBypassHead(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fn: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		return status(req, 206, "")
	}}
	p := New(f, nil, nil, Config{})
	res := p.Probe(context.Background(), "https://example.com/", Options{BypassHead: true})
	assert.True(t, res.Accessible)
	assert.Equal(t, crawler.DiagnosisOK, res.Diagnosis)
	require.Len(t, f.reqs, 1)
	assert.Equal(t, http.MethodGet, f.reqs[0].Method)
}

func TestProbeWarmupRetryDiagnoses(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		cookie string
		want   crawler.Diagnosis
	}{
		{name: "cookie obtained", cookie: "sid=1", want: crawler.DiagnosisCookieRequired},
		{name: "no cookie", cookie: "", want: crawler.DiagnosisPartialGetBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeFetcher{fn: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
				if req.Method == http.MethodHead || req.Headers.Get("Range") == "bytes=0-2047" {
					return status(req, 403, "cloudflare")
				}
				return status(req, 200, "cloudflare")
			}}
			w := &fixedWarmer{cookie: tc.cookie}
			hints := warmup.NewStore(nil)
			p := New(f, hints, w, Config{})
			res := p.Probe(context.Background(), "https://paper.example.com/", Options{})
			assert.True(t, res.Accessible)
			assert.Equal(t, tc.want, res.Diagnosis)
			assert.Equal(t, 1, w.calls)
			hint, _ := hints.Get("paper.example.com")
			assert.Equal(t, tc.want, hint.Diagnosis())
		})
	}
}

func TestProbeFullBlock(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fn: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		return status(req, 403, "AkamaiGHost")
	}}
	hints := warmup.NewStore(nil)
	p := New(f, hints, &fixedWarmer{}, Config{})
	res := p.Probe(context.Background(), "https://example.com/", Options{})
	assert.False(t, res.Accessible)
	assert.Equal(t, crawler.DiagnosisFullBlock, res.Diagnosis)
	assert.Equal(t, 403, res.StatusCode)
	assert.Equal(t, "AkamaiGHost", res.BlockingServer)
	// HEAD, small range, expanded range, full GET
	assert.Len(t, f.reqs, 4)
	hint, _ := hints.Get("example.com")
	require.NotNil(t, hint.BlockProfile)
	assert.Equal(t, "AkamaiGHost", hint.BlockProfile.Server)
}

func TestProbeNetworkBlock(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fn: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		return crawler.FetchResponse{}, &crawler.NetworkError{URL: req.URL, Kind: crawler.NetworkProxy, Err: assert.AnError}
	}}
	p := New(f, nil, nil, Config{})
	res := p.Probe(context.Background(), "https://example.com/", Options{})
	assert.False(t, res.Accessible)
	assert.Equal(t, crawler.DiagnosisNetworkBlock, res.Diagnosis)
	assert.Error(t, res.Err)
	assert.Len(t, f.reqs, 1)
}

func TestProbeResetIsFullBlock(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fn: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		return crawler.FetchResponse{}, &crawler.NetworkError{URL: req.URL, Kind: crawler.NetworkReset, Err: assert.AnError}
	}}
	p := New(f, nil, nil, Config{})
	res := p.Probe(context.Background(), "https://example.com/", Options{})
	assert.Equal(t, crawler.DiagnosisFullBlock, res.Diagnosis)
}

func TestProbeInvalidURL(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fn: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		t.Fatal("fetch must not be called")
		return crawler.FetchResponse{}, nil
	}}
	p := New(f, nil, nil, Config{})
	res := p.Probe(context.Background(), "ftp://example.com/", Options{})
	assert.False(t, res.Accessible)
	assert.Equal(t, crawler.DiagnosisUnknown, res.Diagnosis)
	var verr *crawler.ValidationError
	assert.ErrorAs(t, res.Err, &verr)
}

func TestProbeAgainstServer(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("<p>news</p>", 50)))
	}))
	defer srv.Close()

	fetcher, err := collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second, AllowPrivateHosts: true})
	require.NoError(t, err)
	p := New(fetcher, nil, nil, Config{AllowPrivateHosts: true})
	res := p.Probe(context.Background(), srv.URL+"/", Options{})
	assert.True(t, res.Accessible)
	assert.Equal(t, crawler.DiagnosisHeadBlocked, res.Diagnosis)
}

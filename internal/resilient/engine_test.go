package resilient

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/progress"
	"github.com/JakeFAU/newsharvest/internal/warmup"
)

var articleHTML = "<html><head><title>Story</title></head><body><article>" +
	strings.Repeat("The council approved the new library budget on Tuesday evening. ", 10) +
	"</article></body></html>"

type reply struct {
	status int
	body   string
	header http.Header
	err    error
}

// scriptedFetcher answers each URL from a queue; the last reply repeats.
type scriptedFetcher struct {
	mu       sync.Mutex
	replies  map[string][]reply
	requests []crawler.FetchRequest
}

func newScripted() *scriptedFetcher {
	return &scriptedFetcher{replies: make(map[string][]reply)}
}

func (f *scriptedFetcher) on(url string, replies ...reply) *scriptedFetcher {
	f.replies[url] = append(f.replies[url], replies...)
	return f
}

func (f *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	queue := f.replies[req.URL]
	if len(queue) == 0 {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound, Headers: http.Header{}},
			&crawler.HTTPError{URL: req.URL, StatusCode: http.StatusNotFound}
	}
	r := queue[0]
	if len(queue) > 1 {
		f.replies[req.URL] = queue[1:]
	}
	if r.err != nil {
		return crawler.FetchResponse{}, r.err
	}
	hdr := r.header
	if hdr == nil {
		hdr = http.Header{}
	}
	resp := crawler.FetchResponse{URL: req.URL, StatusCode: r.status, Headers: hdr, Body: []byte(r.body)}
	if r.status >= 300 {
		return resp, &crawler.HTTPError{URL: req.URL, StatusCode: r.status, Server: hdr.Get("Server")}
	}
	return resp, nil
}

func (f *scriptedFetcher) calls(url string) []crawler.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []crawler.FetchRequest
	for _, r := range f.requests {
		if r.URL == url {
			out = append(out, r)
		}
	}
	return out
}

type recordingLimiter struct {
	mu       sync.Mutex
	waits    int
	statuses []int
}

func (l *recordingLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return nil
}

func (l *recordingLimiter) ReportResult(_ string, status int) {
	l.mu.Lock()
	l.statuses = append(l.statuses, status)
	l.mu.Unlock()
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestEngine(f crawler.Fetcher, hints *warmup.Store, rec progress.Emitter) (*Engine, *sleepRecorder, *recordingLimiter) {
	sleeper := &sleepRecorder{}
	limiter := &recordingLimiter{}
	e := New(f, hints, Config{
		Limiter: limiter,
		Emitter: rec,
		Sleep:   sleeper.sleep,
		Jitter:  func() time.Duration { return 0 },
	})
	return e, sleeper, limiter
}

func jobCtx() context.Context {
	return progress.WithJobID(context.Background(), uuid.New())
}

func TestFetchResilientFirstAttemptSuccess(t *testing.T) {
	const u = "https://www.example.com/news/story"
	f := newScripted().on(u, reply{status: 200, body: articleHTML})
	rec := &progress.Recorder{}
	hints := warmup.NewStore(nil)
	e, sleeper, limiter := newTestEngine(f, hints, rec)

	res, err := e.FetchResilient(jobCtx(), u, crawler.DefaultRetryPolicy(), Options{})
	require.NoError(t, err)
	assert.Equal(t, u, res.URL)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Route)
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, 1, limiter.waits)
	assert.Equal(t, []int{200}, limiter.statuses)

	req := f.calls(u)[0]
	assert.Equal(t, DefaultIdentities()[0].UserAgent, req.Headers.Get("User-Agent"))
	assert.Equal(t, "en-US,en;q=0.9", req.Headers.Get("Accept-Language"))

	events := rec.ByStage(progress.StageFetchAttempt)
	require.Len(t, events, 1)
	assert.Equal(t, "example.com", events[0].Domain)
	assert.Equal(t, progress.Status2xx, events[0].StatusClass)

	hint, ok := hints.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, crawler.DiagnosisOK, hint.Diagnosis())
}

func TestFetchResilientRotatesIdentityAndBacksOff(t *testing.T) {
	const u = "https://example.com/a"
	f := newScripted().on(u,
		reply{status: 500},
		reply{status: 502},
		reply{status: 200, body: articleHTML},
	)
	e, sleeper, _ := newTestEngine(f, nil, nil)

	res, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)

	calls := f.calls(u)
	require.Len(t, calls, 3)
	pool := DefaultIdentities()
	for i, call := range calls {
		assert.Equal(t, pool[i].UserAgent, call.Headers.Get("User-Agent"))
	}
}

func TestFetchResilientFailsFastOnRepeatedUnavailable(t *testing.T) {
	const u = "https://example.com/b"
	f := newScripted().on(u, reply{status: 503}, reply{status: 504}, reply{status: 200, body: articleHTML})
	e, _, _ := newTestEngine(f, nil, nil)

	_, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy(), Options{AllowAlternateRoutes: true})
	require.Error(t, err)
	assert.Equal(t, 504, crawler.StatusOf(err))
	assert.Len(t, f.calls(u), 2)
	assert.Len(t, f.calls("https://amp.example.com/b"), 0)
}

func TestFetchResilientFatalNetworkErrorStops(t *testing.T) {
	const u = "https://nowhere.example.org/x"
	dnsErr := &crawler.NetworkError{URL: u, Kind: crawler.NetworkDNS, Err: assert.AnError}
	f := newScripted().on(u, reply{err: dnsErr})
	hints := warmup.NewStore(nil)
	e, sleeper, _ := newTestEngine(f, hints, nil)

	_, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy(), Options{AllowAlternateRoutes: true})
	require.ErrorIs(t, err, dnsErr)
	assert.Len(t, f.requests, 1)
	assert.Empty(t, sleeper.delays)
	hint, _ := hints.Get("nowhere.example.org")
	assert.Equal(t, crawler.DiagnosisNetworkBlock, hint.Diagnosis())
}

func TestFetchResilientRejectsPrivateURL(t *testing.T) {
	f := newScripted()
	e, _, _ := newTestEngine(f, nil, nil)
	_, err := e.FetchResilient(context.Background(), "http://127.0.0.1/admin", crawler.DefaultRetryPolicy(), Options{})
	var verr *crawler.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, f.requests)
}

func TestFetchResilientCookieWarmupOn403(t *testing.T) {
	const u = "https://www.paper.co.uk/news/item"
	f := newScripted().
		on(u, reply{status: 403, header: http.Header{"Server": {"cloudflare"}}}, reply{status: 200, body: articleHTML}).
		on("https://www.paper.co.uk/", reply{status: 200, body: "home", header: http.Header{
			"Set-Cookie": {"session=abc; Path=/; HttpOnly", "consent=yes; Max-Age=300"},
		}})
	hints := warmup.NewStore(nil)
	e, _, _ := newTestEngine(f, hints, nil)

	res, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy(), Options{})
	require.NoError(t, err)
	assert.False(t, res.Partial)

	calls := f.calls(u)
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].Headers.Get("Cookie"))
	assert.Equal(t, "session=abc; consent=yes", calls[1].Headers.Get("Cookie"))
	assert.Equal(t, "en-GB,en;q=0.9", calls[0].Headers.Get("Accept-Language"))
	assert.NotEmpty(t, calls[0].Headers.Get("X-Forwarded-For"), "uk hosts carry a forwarded ip")

	hint, _ := hints.Get("paper.co.uk")
	assert.Equal(t, crawler.DiagnosisCookieRequired, hint.Diagnosis())
	assert.Equal(t, "session=abc; consent=yes", hint.CookieHeader)
	require.NotNil(t, hint.ResidentialIP)
	assert.Equal(t, "GB", hint.ResidentialIP.Country)
}

func TestFetchResilientRangedFallback(t *testing.T) {
	const u = "https://example.com/c"
	f := newScripted().on(u, reply{status: 429}, reply{status: 206, body: articleHTML})
	e, _, _ := newTestEngine(f, nil, nil)

	res, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy(), Options{})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	calls := f.calls(u)
	require.Len(t, calls, 2)
	assert.Equal(t, "bytes=0-8191", calls[1].Headers.Get("Range"))
}

func TestFetchResilientStealthFromStoredHint(t *testing.T) {
	const u = "https://example.com/d"
	f := newScripted().on(u, reply{status: 200, body: articleHTML})
	hints := warmup.NewStore(nil)
	hints.RecordDiagnosis("example.com", crawler.DiagnosisFullBlock, 403, "AkamaiGHost", "")
	e, _, _ := newTestEngine(f, hints, nil)

	st := &attemptState{rawURL: u, host: "example.com", domain: "example.com"}
	st.hint, _ = hints.Get("example.com")
	first, _ := e.buildHeaders(st, 0)
	second, _ := e.buildHeaders(st, 1)
	assert.NotEmpty(t, first.Get("Sec-Fetch-Mode"))
	assert.Empty(t, second.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "https://www.google.com/", second.Get("Referer"))
}

func TestFetchResilientStealthAfterBlockInSameCall(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		server  string
		stealth bool
	}{
		{name: "forbidden", status: 403, server: "nginx", stealth: true},
		{name: "waf server", status: 401, server: "cloudflare", stealth: true},
		{name: "plain unauthorized", status: 401, server: "nginx", stealth: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const u = "https://example.com/blocked"
			blocked := reply{status: tc.status, header: http.Header{"Server": {tc.server}}}
			f := newScripted().on(u, blocked, blocked, reply{status: 200, body: articleHTML})
			hints := warmup.NewStore(nil)
			e, _, _ := newTestEngine(f, hints, nil)

			res, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy(), Options{})
			require.NoError(t, err)
			assert.Equal(t, 3, res.Attempts)

			calls := f.calls(u)
			require.Len(t, calls, 3)
			assert.NotEmpty(t, calls[0].Headers.Get("Sec-Fetch-Mode"))
			retry := calls[2].Headers
			if tc.stealth {
				assert.Empty(t, retry.Get("Sec-Fetch-Mode"))
				assert.Equal(t, "https://www.google.com/", retry.Get("Referer"))
			} else {
				assert.NotEmpty(t, retry.Get("Sec-Fetch-Mode"))
				assert.Empty(t, retry.Get("Referer"))
			}

			hint, _ := hints.Get("example.com")
			assert.Equal(t, crawler.DiagnosisOK, hint.Diagnosis())
		})
	}
}

func TestFetchResilientBlockKeepsRememberedWorkaround(t *testing.T) {
	const u = "https://example.com/walled"
	f := newScripted().on(u,
		reply{status: 403, header: http.Header{"Server": {"cloudflare"}}},
		reply{status: 206, body: articleHTML},
	)
	hints := warmup.NewStore(nil)
	hints.RecordDiagnosis("example.com", crawler.DiagnosisCookieRequired, 200, "", "cookie warm-up")
	hints.RecordCookie("example.com", "session=abc")
	e, _, _ := newTestEngine(f, hints, nil)

	res, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy(), Options{})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Empty(t, f.calls("https://example.com/"), "cookie already known")

	hint, _ := hints.Get("example.com")
	assert.Equal(t, crawler.DiagnosisCookieRequired, hint.Diagnosis())
	require.NotNil(t, hint.BlockProfile)
	assert.Equal(t, "cloudflare", hint.BlockProfile.Server)
}

func TestFetchResilientAlternateRouteRecorded(t *testing.T) {
	const u = "https://www.example.com/news/e"
	f := newScripted().
		on(u, reply{status: 403}).
		on("https://www.example.com/", reply{status: 403}).
		on("https://amp.example.com/news/e", reply{status: 200, body: articleHTML})
	hints := warmup.NewStore(nil)
	rec := &progress.Recorder{}
	e, _, _ := newTestEngine(f, hints, rec)
	policy := crawler.RetryPolicy{MaxRetries: 1, BaseDelayMS: 10, MaxDelayMS: 100, Exponential: true}

	res, err := e.FetchResilient(jobCtx(), u, policy, Options{AllowAlternateRoutes: true})
	require.NoError(t, err)
	assert.Equal(t, RouteAMPSubdomain, res.Route)
	assert.Equal(t, u, res.RequestedURL)
	assert.Equal(t, "https://amp.example.com/news/e", res.URL)

	hint, _ := hints.Get("example.com")
	require.NotNil(t, hint.AlternateRoute)
	assert.Equal(t, RouteAMPSubdomain, hint.AlternateRoute.Strategy)
	assert.Equal(t, crawler.DiagnosisAlternateRoute, hint.Diagnosis())

	routes := rec.ByStage(progress.StageRoute)
	require.Len(t, routes, 1)
	assert.Equal(t, progress.OutcomeSuccess, routes[0].Outcome)

	// The next call goes straight to the remembered route.
	before := len(f.calls(u))
	res, err = e.FetchResilient(jobCtx(), u, policy, Options{AllowAlternateRoutes: true})
	require.NoError(t, err)
	assert.Equal(t, RouteAMPSubdomain, res.Route)
	assert.Equal(t, before, len(f.calls(u)))
}

func TestFetchResilientAlternatesNotNested(t *testing.T) {
	const u = "https://example.com/f"
	f := newScripted()
	e, _, _ := newTestEngine(f, nil, nil)
	policy := crawler.RetryPolicy{MaxRetries: 0, BaseDelayMS: 10, MaxDelayMS: 100}

	_, err := e.FetchResilient(context.Background(), u, policy, Options{AllowAlternateRoutes: true})
	require.Error(t, err)
	// one canonical attempt plus one attempt per route, never routes of routes
	expected := 1 + len(AlternateRoutes(u, "", nil))
	assert.Len(t, f.requests, expected)
	for _, r := range f.requests {
		assert.NotContains(t, r.URL, "amp.amp.")
		assert.NotContains(t, r.URL, "m.amp.")
	}
}

var challengeHTML = "<html><div class=\"g-recaptcha\"></div>" + strings.Repeat("x", 300) + "</html>"

func TestFetchResilientInvalidContentRangedFallback(t *testing.T) {
	const u = "https://example.com/g"
	f := newScripted().on(u,
		reply{status: 200, body: challengeHTML},
		reply{status: 206, body: articleHTML},
	)
	e, _, _ := newTestEngine(f, nil, nil)

	res, err := e.FetchResilient(context.Background(), u, crawler.RetryPolicy{MaxRetries: 0}, Options{})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, 2, res.Attempts)
	calls := f.calls(u)
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].Headers.Get("Range"))
	assert.Equal(t, "bytes=0-8191", calls[1].Headers.Get("Range"))
}

func TestFetchResilientInvalidContentRetried(t *testing.T) {
	const u = "https://example.com/g2"
	f := newScripted().on(u,
		reply{status: 200, body: challengeHTML},
		reply{status: 206, body: challengeHTML},
		reply{status: 200, body: articleHTML},
	)
	e, sleeper, _ := newTestEngine(f, nil, nil)

	res, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy(), Options{})
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, sleeper.delays, 1)
	calls := f.calls(u)
	require.Len(t, calls, 3)
	assert.NotEmpty(t, calls[1].Headers.Get("Range"))
	assert.Empty(t, calls[2].Headers.Get("Range"))
}

func TestFetchResilientExhaustedBlockIsBlockedError(t *testing.T) {
	const u = "https://example.com/h"
	f := newScripted().on(u, reply{status: 401})
	hints := warmup.NewStore(nil)
	e, _, _ := newTestEngine(f, hints, nil)
	policy := crawler.RetryPolicy{MaxRetries: 1, BaseDelayMS: 1, MaxDelayMS: 1}

	_, err := e.FetchResilient(context.Background(), u, policy, Options{})
	var blocked *crawler.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 401, blocked.StatusCode)
	hint, _ := hints.Get("example.com")
	assert.Equal(t, crawler.DiagnosisFullBlock, hint.Diagnosis())
}

func TestFetchResilientHonorsCancellation(t *testing.T) {
	const u = "https://example.com/i"
	f := newScripted().on(u, reply{status: 500})
	e := New(f, nil, Config{Jitter: func() time.Duration { return 0 }})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.FetchResilient(ctx, u, crawler.DefaultRetryPolicy(), Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchResilientSkipContentCheck(t *testing.T) {
	const u = "https://example.com/robots.txt"
	f := newScripted().on(u, reply{status: 200, body: "Sitemap: https://example.com/sitemap.xml"})
	e, _, _ := newTestEngine(f, nil, nil)

	_, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy().Restricted(), Options{})
	var invalid *crawler.InvalidContentError
	require.ErrorAs(t, err, &invalid)

	res, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy().Restricted(), Options{SkipContentCheck: true})
	require.NoError(t, err)
	assert.Contains(t, string(res.Body), "Sitemap:")
}

func TestFetchResilientDisableWarmup(t *testing.T) {
	const u = "https://example.com/locked"
	f := newScripted().
		on(u, reply{status: 403}).
		on("https://example.com/", reply{status: 200, body: "home", header: http.Header{"Set-Cookie": {"a=b"}}})
	e, _, _ := newTestEngine(f, nil, nil)

	_, err := e.FetchResilient(context.Background(), u, crawler.DefaultRetryPolicy().Restricted(), Options{DisableWarmup: true})
	require.Error(t, err)
	assert.Empty(t, f.calls("https://example.com/"))
}

package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := New(Config{Timeout: 2 * time.Second, AllowPrivateHosts: true})
	require.NoError(t, err)
	return f
}

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "en-GB", r.Header.Get("Accept-Language"))
		assert.Empty(t, r.Header.Get("Cookie"))
		w.Header().Set("X-Resp", "ok")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/story",
		Headers: http.Header{"User-Agent": {"test-agent"}, "Accept-Language": {"en-GB"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", resp.Headers.Get("X-Resp"))
	assert.Contains(t, string(resp.Body), "hello")
}

func TestFetchNon2xxReturnsHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("denied"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	var httpErr *crawler.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, "cloudflare", httpErr.Server)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "denied", string(resp.Body))
}

func TestFetchHeadAndRange(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		assert.Equal(t, "bytes=0-2047", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("partial"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, Method: http.MethodHead})
	assert.Equal(t, http.StatusMethodNotAllowed, crawler.StatusOf(err))

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL,
		Headers: http.Header{"Range": {"bytes=0-2047"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, Timeout: 50 * time.Millisecond})
	var timeoutErr *crawler.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, crawler.IsRetryable(err))
}

func TestFetchCancelAbortsRoundTrip(t *testing.T) {
	t.Parallel()
	aborted := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	f, err := New(Config{Timeout: 30 * time.Second, AllowPrivateHosts: true})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the request canceled")
	}
}

func TestFetchRefusesPrivateHosts(t *testing.T) {
	t.Parallel()
	f, err := New(Config{})
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://127.0.0.1:1/"})
	var vErr *crawler.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.True(t, crawler.IsFatal(err))
}

func TestRefusePrivateDestinations(t *testing.T) {
	t.Parallel()
	require.Error(t, refusePrivateDestinations("tcp", "10.0.0.8:443", nil))
	require.Error(t, refusePrivateDestinations("tcp", "[::1]:80", nil))
	require.NoError(t, refusePrivateDestinations("tcp", "93.184.216.34:443", nil))
}

func TestClassify(t *testing.T) {
	t.Parallel()
	err := classify("https://x.example", time.Second, &url.Error{Op: "Get", URL: "https://x.example", Err: errors.New("dial tcp: lookup x.example: no such host")})
	var netErr *crawler.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, crawler.NetworkDNS, netErr.Kind)

	err = classify("https://x.example", time.Second, context.DeadlineExceeded)
	var timeoutErr *crawler.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	assert.ErrorIs(t, classify("https://x.example", time.Second, context.Canceled), context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t)
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	start := time.Unix(0, 0)
	var (
		result   crawler.FetchResponse
		fetchErr error
		seen     bool
	)

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, start, &result, &seen, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	assert.True(t, seen)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "https://example.com/final", result.URL)
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()
	collyReq := &colly.Request{Headers: &http.Header{}}
	copyHeaders(nil, collyReq)
	assert.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

// Package collyfetcher implements the single-attempt fetch client using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 5 * 1024 * 1024
)

// Config controls collector behavior.
type Config struct {
	Timeout           time.Duration
	MaxBodyBytes      int
	ProxyURL          string
	AllowPrivateHosts bool
	Logger            *zap.Logger
}

// Fetcher implements crawler.Fetcher using a fresh Colly collector per round
// trip over a shared transport. It never retries and keeps no cookie jar.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	transport, err := newHTTPTransport(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, transport: transport, logger: logger.Named("fetch")}, nil
}

// Fetch executes exactly one HTTP round trip. A non-2xx response is returned
// together with an *crawler.HTTPError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if _, err := crawler.ValidatePublicURL(request.URL); err != nil && !f.cfg.AllowPrivateHosts {
		return crawler.FetchResponse{}, err
	}
	method := strings.ToUpper(request.Method)
	if method == "" {
		method = http.MethodGet
	}
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return crawler.FetchResponse{}, &crawler.TimeoutError{URL: request.URL}
	}

	var (
		result   crawler.FetchResponse
		fetchErr error
		seen     bool
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, timeout)
	f.configureCollectorHooks(collector, request, start, &result, &seen, &fetchErr)

	err := f.runCollector(ctx, collector, method, request, &fetchErr)
	f.logger.Debug("fetch",
		zap.String("method", method),
		zap.String("url", request.URL),
		zap.Int("status", result.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		return crawler.FetchResponse{}, classify(request.URL, timeout, err)
	}
	if !seen {
		return crawler.FetchResponse{}, &crawler.NetworkError{URL: request.URL, Kind: crawler.NetworkOther, Err: errors.New("no response")}
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return result, &crawler.HTTPError{URL: request.URL, StatusCode: result.StatusCode, Server: result.Headers.Get("Server")}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, request crawler.FetchRequest, timeout time.Duration) *colly.Collector {
	maxBody := request.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = f.cfg.MaxBodyBytes
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(maxBody),
		colly.StdlibContext(ctx),
	)
	collector.UserAgent = ""
	collector.DisableCookies()
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	seen *bool,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*seen = true
		*result = crawler.FetchResponse{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method string,
	request crawler.FetchRequest,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	hdr := request.Headers.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	go func() {
		done <- collector.Request(method, request.URL, nil, nil, hdr)
	}()

	select {
	case <-ctx.Done():
		// The request carries ctx, so the round trip is already aborting; wait
		// for it so no hook writes after Fetch returns.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	if headers == nil {
		return
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func classify(rawURL string, timeout time.Duration, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var validation *crawler.ValidationError
	if errors.As(err, &validation) {
		return validation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &crawler.TimeoutError{URL: rawURL, After: timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &crawler.TimeoutError{URL: rawURL, After: timeout}
	}
	kind := crawler.ClassifyNetworkError(err)
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		kind = crawler.NetworkDNS
	}
	return &crawler.NetworkError{URL: rawURL, Kind: kind, Err: err}
}

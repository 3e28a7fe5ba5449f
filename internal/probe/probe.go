// Package probe classifies how accessible a URL is with cheap HEAD and
// ranged GET requests before a full extraction is attempted.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/metrics"
	"github.com/JakeFAU/newsharvest/internal/progress"
	"github.com/JakeFAU/newsharvest/internal/resilient"
	"github.com/JakeFAU/newsharvest/internal/warmup"
)

const (
	defaultTimeout  = 8 * time.Second
	smallRange      = 2 * 1024
	expandedRange   = 16 * 1024
	probeBodyBudget = expandedRange
)

// Warmer obtains a cookie header for a URL's origin. resilient.Engine
// satisfies it.
type Warmer interface {
	WarmUp(ctx context.Context, rawURL string) string
}

// Options tune one probe.
type Options struct {
	// BypassHead skips HEAD for platforms that reject it outright.
	BypassHead bool
	// DomainHint overrides the warm-up store key.
	DomainHint string
	Timeout    time.Duration
}

// Result is the probe verdict.
type Result struct {
	URL            string            `json:"url"`
	Accessible     bool              `json:"accessible"`
	Diagnosis      crawler.Diagnosis `json:"diagnosis"`
	StatusCode     int               `json:"status_code,omitempty"`
	BlockingServer string            `json:"blocking_server,omitempty"`
	ResponseTime   time.Duration     `json:"response_time"`
	Err            error             `json:"-"`
	Error          string            `json:"error,omitempty"`
}

// Config wires a Prober.
type Config struct {
	Identity          crawler.FetchIdentity
	Timeout           time.Duration
	AllowPrivateHosts bool
	Emitter           progress.Emitter
	Logger            *zap.Logger
}

// Prober runs accessibility probes and records the diagnosis per domain.
type Prober struct {
	fetcher crawler.Fetcher
	hints   *warmup.Store
	warmer  Warmer
	cfg     Config
	logger  *zap.Logger
}

// New builds a Prober. warmer may be nil, in which case the warm-up retry
// proceeds without a cookie.
func New(fetcher crawler.Fetcher, hints *warmup.Store, warmer Warmer, cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Identity.UserAgent == "" {
		cfg.Identity = resilient.DefaultIdentities()[0]
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if hints == nil {
		hints = warmup.NewStore(nil)
	}
	return &Prober{fetcher: fetcher, hints: hints, warmer: warmer, cfg: cfg, logger: logger}
}

// probeRun holds the per-call state.
type probeRun struct {
	rawURL  string
	timeout time.Duration
	cookie  string
	last    crawler.FetchResponse
	lastErr error
}

// Probe classifies rawURL. The verdict is written back to the warm-up store
// for the domain unless the URL itself is invalid.
func (p *Prober) Probe(ctx context.Context, rawURL string, opts Options) Result {
	start := time.Now()
	if !p.cfg.AllowPrivateHosts {
		if _, err := crawler.ValidatePublicURL(rawURL); err != nil {
			return Result{URL: rawURL, Diagnosis: crawler.DiagnosisUnknown, Err: err, Error: err.Error()}
		}
	}
	domain := opts.DomainHint
	if domain == "" {
		domain = crawler.HostOf(rawURL)
	}
	domain = crawler.NormalizeDomain(domain)

	run := &probeRun{rawURL: rawURL, timeout: opts.Timeout}
	if run.timeout <= 0 {
		run.timeout = p.cfg.Timeout
	}
	if hint, ok := p.hints.Get(domain); ok {
		run.cookie = hint.CookieHeader
	}

	diag, accessible := p.classify(ctx, run, opts)
	res := Result{
		URL:          rawURL,
		Accessible:   accessible,
		Diagnosis:    diag,
		StatusCode:   run.last.StatusCode,
		ResponseTime: time.Since(start),
	}
	if res.StatusCode == 0 {
		res.StatusCode = crawler.StatusOf(run.lastErr)
	}
	if !accessible {
		res.BlockingServer = run.last.Headers.Get("Server")
		res.Err = run.lastErr
		if run.lastErr != nil {
			res.Error = run.lastErr.Error()
		}
	}

	details := ""
	if run.lastErr != nil && !accessible {
		details = run.lastErr.Error()
	}
	p.hints.RecordDiagnosis(domain, diag, res.StatusCode, res.BlockingServer, details)
	metrics.ObserveDiagnosis(string(diag))
	outcome := progress.OutcomeSuccess
	if !accessible {
		outcome = progress.OutcomeFailure
	}
	progress.Emit(ctx, p.cfg.Emitter, progress.Event{
		Stage:       progress.StageProbe,
		Domain:      domain,
		URL:         rawURL,
		Diagnosis:   string(diag),
		StatusClass: progress.ClassifyStatus(res.StatusCode),
		Outcome:     outcome,
		Reason:      res.Error,
		Dur:         res.ResponseTime,
	})
	p.logger.Debug("probe finished",
		zap.String("url", rawURL),
		zap.String("diagnosis", string(diag)),
		zap.Bool("accessible", accessible),
		zap.Int("status", res.StatusCode),
		zap.Duration("elapsed", res.ResponseTime))
	return res
}

func (p *Prober) classify(ctx context.Context, run *probeRun, opts Options) (crawler.Diagnosis, bool) {
	if opts.BypassHead {
		if p.rangedGet(ctx, run, smallRange) {
			return crawler.DiagnosisOK, true
		}
		if diag, fatal := networkDiagnosis(run.lastErr); fatal {
			return diag, false
		}
		return p.warmupRetry(ctx, run, crawler.DiagnosisFullBlock)
	}

	p.do(ctx, run, http.MethodHead, 0)
	if run.lastErr != nil && run.last.StatusCode == 0 {
		if diag, fatal := networkDiagnosis(run.lastErr); fatal {
			return diag, false
		}
		return crawler.DiagnosisFullBlock, false
	}
	status := run.last.StatusCode
	if status >= 200 && status < 400 {
		return crawler.DiagnosisOK, true
	}
	if !crawler.IsBlockedStatus(status) {
		return crawler.DiagnosisFullBlock, false
	}
	if p.rangedGet(ctx, run, smallRange) {
		return crawler.DiagnosisHeadBlocked, true
	}
	return p.warmupRetry(ctx, run, crawler.DiagnosisFullBlock)
}

// warmupRetry collects cookies from the origin, then tries an expanded ranged
// GET and finally a full GET.
func (p *Prober) warmupRetry(ctx context.Context, run *probeRun, failed crawler.Diagnosis) (crawler.Diagnosis, bool) {
	gotCookie := false
	if p.warmer != nil {
		if cookie := p.warmer.WarmUp(ctx, run.rawURL); cookie != "" {
			run.cookie = cookie
			gotCookie = true
		}
	}
	success := crawler.DiagnosisPartialGetBlocked
	if gotCookie {
		success = crawler.DiagnosisCookieRequired
	}
	if p.rangedGet(ctx, run, expandedRange) {
		return success, true
	}
	p.do(ctx, run, http.MethodGet, 0)
	if run.lastErr == nil {
		return success, true
	}
	if diag, fatal := networkDiagnosis(run.lastErr); fatal {
		return diag, false
	}
	return failed, false
}

func (p *Prober) rangedGet(ctx context.Context, run *probeRun, size int) bool {
	p.do(ctx, run, http.MethodGet, size)
	return run.lastErr == nil
}

func (p *Prober) do(ctx context.Context, run *probeRun, method string, rangeBytes int) {
	headers := p.cfg.Identity.Apply()
	headers.Set("Accept-Language", crawler.LanguageForHost(crawler.HostOf(run.rawURL)))
	if run.cookie != "" {
		headers.Set("Cookie", run.cookie)
	}
	if rangeBytes > 0 {
		headers.Set("Range", fmt.Sprintf("bytes=0-%d", rangeBytes-1))
	}
	resp, err := p.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:          run.rawURL,
		Method:       method,
		Headers:      headers,
		Timeout:      run.timeout,
		MaxBodyBytes: probeBodyBudget,
	})
	metrics.ObserveFetchAttempt(run.rawURL, resp.StatusCode)
	run.last = resp
	run.lastErr = err
}

// networkDiagnosis maps transport failures. Proxy, tunnel, connect and DNS
// failures are network blocks; other errors are not classified here.
func networkDiagnosis(err error) (crawler.Diagnosis, bool) {
	if err == nil {
		return "", false
	}
	var netErr *crawler.NetworkError
	if errors.As(err, &netErr) {
		switch netErr.Kind {
		case crawler.NetworkDNS, crawler.NetworkRefused, crawler.NetworkProxy:
			return crawler.DiagnosisNetworkBlock, true
		}
	}
	return "", false
}

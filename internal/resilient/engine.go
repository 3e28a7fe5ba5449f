package resilient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/metrics"
	"github.com/JakeFAU/newsharvest/internal/progress"
	"github.com/JakeFAU/newsharvest/internal/warmup"
)

const (
	defaultAttemptTimeout = 15 * time.Second
	defaultRangeBytes     = 8 * 1024
	unavailableFailFast   = 2
)

// Limiter paces requests per domain. ratelimit.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
	ReportResult(rawURL string, status int)
}

// Config wires the engine's collaborators. Zero values fall back to defaults.
type Config struct {
	Timeout           time.Duration
	CookieTimeout     time.Duration
	MaxBodyBytes      int
	RangeBytes        int
	AllowPrivateHosts bool
	Identities        []crawler.FetchIdentity
	Limiter           Limiter
	Emitter           progress.Emitter
	Logger            *zap.Logger
	// Sleep and Jitter are injectable for tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() time.Duration
}

// Options tune one FetchResilient call.
type Options struct {
	AllowAlternateRoutes bool
	CookieHeader         string
	// Family selects the section feed layout for the section-rss route.
	Family string
	// Routes restricts and orders the alternate strategies tried.
	Routes  []string
	Timeout time.Duration
	// DisableWarmup skips cookie warm-up entirely.
	DisableWarmup bool
	// WarmupDelay is waited after a warm-up before the retried request.
	WarmupDelay time.Duration
	// SkipContentCheck accepts any 2xx body. Feeds, sitemaps, robots.txt
	// and JSON APIs use it.
	SkipContentCheck bool

	alternatesAttempted bool
}

// Result is a successfully fetched page.
type Result struct {
	RequestedURL string
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	// Route is the alternate strategy used, empty for the canonical URL.
	Route    string
	Partial  bool
	Attempts int
}

// Engine fetches pages through identity rotation, cookie warm-up, ranged
// fallbacks and alternate routes, recording what worked in the warm-up store.
type Engine struct {
	fetcher    crawler.Fetcher
	hints      *warmup.Store
	identities []crawler.FetchIdentity
	limiter    Limiter
	emitter    progress.Emitter
	logger     *zap.Logger
	cfg        Config
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func() time.Duration
}

// New returns an Engine around fetcher. hints may be shared with the prober.
func New(fetcher crawler.Fetcher, hints *warmup.Store, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAttemptTimeout
	}
	if cfg.CookieTimeout <= 0 {
		cfg.CookieTimeout = defaultCookieTimeout
	}
	if cfg.RangeBytes <= 0 {
		cfg.RangeBytes = defaultRangeBytes
	}
	if hints == nil {
		hints = warmup.NewStore(nil)
	}
	e := &Engine{
		fetcher:    fetcher,
		hints:      hints,
		identities: cfg.Identities,
		limiter:    cfg.Limiter,
		emitter:    cfg.Emitter,
		logger:     cfg.Logger,
		cfg:        cfg,
		sleep:      cfg.Sleep,
		jitter:     cfg.Jitter,
	}
	if len(e.identities) == 0 {
		e.identities = DefaultIdentities()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.jitter == nil {
		e.jitter = crawler.RandomJitter
	}
	return e
}

// Hints exposes the warm-up store.
func (e *Engine) Hints() *warmup.Store { return e.hints }

// Identity returns the identity used for the given attempt index.
func (e *Engine) Identity(attempt int) crawler.FetchIdentity {
	return identityFor(e.identities, attempt)
}

// attemptState carries the mutable request shaping for one call.
type attemptState struct {
	rawURL   string
	host     string
	domain   string
	hint     crawler.WarmupHint
	cookie   string
	warmedUp bool
	timeout  time.Duration
}

// FetchResilient retrieves rawURL under policy. Fatal network errors and two
// consecutive 503/504 responses abort immediately; otherwise, after the
// retries are exhausted, alternate routes are tried once with a restricted
// policy.
func (e *Engine) FetchResilient(ctx context.Context, rawURL string, policy crawler.RetryPolicy, opts Options) (Result, error) {
	if err := e.validate(rawURL); err != nil {
		return Result{}, err
	}
	st := &attemptState{rawURL: rawURL, host: crawler.HostOf(rawURL)}
	st.domain = crawler.NormalizeDomain(st.host)
	st.hint, _ = e.hints.Get(st.domain)
	st.cookie = opts.CookieHeader
	if st.cookie == "" {
		st.cookie = st.hint.CookieHeader
	}
	st.timeout = opts.Timeout
	if st.timeout <= 0 {
		st.timeout = e.cfg.Timeout
	}

	if !opts.DisableWarmup && st.hint.Diagnosis() == crawler.DiagnosisCookieRequired && st.cookie == "" {
		st.cookie = e.WarmUp(ctx, rawURL)
		st.warmedUp = st.cookie != ""
	}
	if res, ok := e.tryRememberedRoute(ctx, st, policy, opts); ok {
		return res, nil
	}

	var (
		lastErr     error
		lastStatus  int
		lastServer  string
		unavailable int
		attempts    int
		triedCookie = st.cookie != "" || opts.DisableWarmup
	)
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, policy.Delay(attempt, st.host, e.jitter())); err != nil {
				return Result{}, err
			}
		}
		attempts++
		headers, fwd := e.buildHeaders(st, attempt)
		resp, err := e.do(ctx, st, http.MethodGet, headers)
		status := resp.StatusCode
		if status != 0 {
			lastStatus = status
			lastServer = resp.Headers.Get("Server")
		}
		if fwd != "" && status != 0 {
			e.hints.RecordResidential(st.domain, fwd, crawler.CountryForHost(st.host), err == nil && status < 300)
		}

		if err == nil {
			ok, reason := validContent(opts, resp.Body)
			if ok {
				e.recordSuccess(st, status)
				return e.result(rawURL, resp, attempts, false), nil
			}
			lastErr = &crawler.InvalidContentError{URL: rawURL, Reason: reason}
			if reason == reasonRegional {
				e.recordDiagnosis(st.domain, crawler.DiagnosisResidentialRequired, status, lastServer, reason)
			}
			unavailable = 0
			attempts++
			if res, ok := e.rangedFallback(ctx, st, attempt, opts); ok {
				res.Attempts = attempts
				return res, nil
			}
			continue
		}
		lastErr = err
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if crawler.IsFatal(err) {
			e.recordDiagnosis(st.domain, crawler.DiagnosisNetworkBlock, 0, "", err.Error())
			return Result{}, err
		}
		if status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
			unavailable++
			if unavailable >= unavailableFailFast {
				e.logger.Debug("failing fast on repeated unavailability", zap.String("url", rawURL), zap.Int("status", status))
				return Result{}, err
			}
			continue
		}
		unavailable = 0
		if !crawler.IsBlockedStatus(status) {
			continue
		}
		e.recordBlocked(st, status, lastServer)

		if status == http.StatusForbidden && !triedCookie {
			triedCookie = true
			if cookie := e.WarmUp(ctx, rawURL); cookie != "" {
				st.cookie = cookie
				st.warmedUp = true
				if opts.WarmupDelay > 0 {
					if err := e.sleep(ctx, opts.WarmupDelay); err != nil {
						return Result{}, err
					}
				}
				attempts++
				headers, _ := e.buildHeaders(st, attempt)
				if resp, err := e.do(ctx, st, http.MethodGet, headers); err == nil {
					if ok, _ := validContent(opts, resp.Body); ok {
						e.recordDiagnosis(st.domain, crawler.DiagnosisCookieRequired, resp.StatusCode, lastServer, "cookie warm-up")
						return e.result(rawURL, resp, attempts, false), nil
					}
				}
			}
		}

		attempts++
		if res, ok := e.rangedFallback(ctx, st, attempt, opts); ok {
			res.Attempts = attempts
			return res, nil
		}
	}

	if opts.AllowAlternateRoutes && !opts.alternatesAttempted {
		if res, ok := e.tryAlternates(ctx, st, policy, opts, attempts); ok {
			return res, nil
		}
	}
	if crawler.IsBlockedStatus(lastStatus) {
		e.recordDiagnosis(st.domain, crawler.DiagnosisFullBlock, lastStatus, lastServer, "retries exhausted")
		return Result{}, &crawler.BlockedError{URL: rawURL, StatusCode: lastStatus, Diagnosis: crawler.DiagnosisFullBlock}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("fetch %s: no attempts made", rawURL)
	}
	return Result{}, lastErr
}

// rangedFallback requests only the first RangeBytes of the page.
func (e *Engine) rangedFallback(ctx context.Context, st *attemptState, attempt int, opts Options) (Result, bool) {
	headers, _ := e.buildHeaders(st, attempt)
	headers.Set("Range", fmt.Sprintf("bytes=0-%d", e.cfg.RangeBytes-1))
	resp, err := e.do(ctx, st, http.MethodGet, headers)
	if err != nil {
		return Result{}, false
	}
	if ok, _ := validContent(opts, resp.Body); !ok {
		return Result{}, false
	}
	e.recordSuccess(st, resp.StatusCode)
	return e.result(st.rawURL, resp, 0, true), true
}

// recordBlocked stores a blocked response and refreshes the call's snapshot
// so later attempts in the same call see it. A remembered workaround keeps
// its diagnosis.
func (e *Engine) recordBlocked(st *attemptState, status int, server string) {
	diag := crawler.DiagnosisFullBlock
	if prior := st.hint.Diagnosis(); prior == crawler.DiagnosisCookieRequired || prior == crawler.DiagnosisAlternateRoute {
		diag = prior
	}
	details := fmt.Sprintf("HTTP %d", status)
	e.recordDiagnosis(st.domain, diag, status, server, details)
	st.hint.LastStatus = status
	st.hint.BlockProfile = &crawler.BlockProfile{Server: server, Diagnosis: diag, Details: details}
}

func (e *Engine) validate(rawURL string) error {
	if e.cfg.AllowPrivateHosts {
		if crawler.HostOf(rawURL) == "" {
			return &crawler.ValidationError{URL: rawURL, Reason: "missing host"}
		}
		return nil
	}
	_, err := crawler.ValidatePublicURL(rawURL)
	return err
}

// buildHeaders assembles the attempt's headers. The forwarded IP, if any, is
// returned so the outcome can be recorded against it.
func (e *Engine) buildHeaders(st *attemptState, attempt int) (http.Header, string) {
	id := identityFor(e.identities, attempt)
	id.CookieHeader = st.cookie
	var fwd string
	if wantsForwardedIP(st.hint, st.host) {
		fwd, _ = forwardedIPFor(st.host, attempt)
		id.ForwardedIP = fwd
	}
	headers := id.Apply()
	applyRegional(headers, st.host)
	if attempt > 0 && wantsStealth(st.hint, st.host) {
		applyStealth(headers)
	}
	return headers, fwd
}

// do performs one paced round trip and reports it to metrics and progress.
func (e *Engine) do(ctx context.Context, st *attemptState, method string, headers http.Header) (crawler.FetchResponse, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, st.rawURL); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:          st.rawURL,
		Method:       method,
		Headers:      headers,
		Timeout:      st.timeout,
		MaxBodyBytes: e.cfg.MaxBodyBytes,
	})
	status := resp.StatusCode
	if status == 0 {
		status = crawler.StatusOf(err)
	}
	if e.limiter != nil && status != 0 {
		e.limiter.ReportResult(st.rawURL, status)
	}
	metrics.ObserveFetchAttempt(st.rawURL, status)
	evt := progress.Event{
		Stage:       progress.StageFetchAttempt,
		Domain:      st.domain,
		URL:         st.rawURL,
		StatusClass: progress.ClassifyStatus(status),
		Dur:         resp.Duration,
		Outcome:     progress.OutcomeSuccess,
	}
	if err != nil {
		evt.Outcome = progress.OutcomeFailure
		evt.Reason = err.Error()
	}
	progress.Emit(ctx, e.emitter, evt)
	return resp, err
}

func (e *Engine) recordSuccess(st *attemptState, status int) {
	switch prior := st.hint.Diagnosis(); {
	case st.warmedUp:
		e.recordDiagnosis(st.domain, crawler.DiagnosisCookieRequired, status, "", "cookie warm-up")
	case prior == crawler.DiagnosisAlternateRoute, prior == crawler.DiagnosisCookieRequired:
		// the remembered workaround stays in force
		e.hints.Merge(st.domain, crawler.WarmupHint{LastStatus: status})
	default:
		e.recordDiagnosis(st.domain, crawler.DiagnosisOK, status, "", "")
	}
}

func (e *Engine) recordDiagnosis(domain string, diag crawler.Diagnosis, status int, server, details string) {
	e.hints.RecordDiagnosis(domain, diag, status, server, details)
	metrics.ObserveDiagnosis(string(diag))
}

// tryRememberedRoute uses a stored alternate route before the canonical URL.
func (e *Engine) tryRememberedRoute(ctx context.Context, st *attemptState, policy crawler.RetryPolicy, opts Options) (Result, bool) {
	if !opts.AllowAlternateRoutes || opts.alternatesAttempted || st.hint.AlternateRoute == nil {
		return Result{}, false
	}
	route, ok := RouteByStrategy(st.rawURL, st.hint.AlternateRoute.Strategy, opts.Family)
	if !ok {
		return Result{}, false
	}
	res, err := e.fetchRoute(ctx, st, route, policy, opts)
	if err != nil {
		return Result{}, false
	}
	return res, true
}

func (e *Engine) tryAlternates(ctx context.Context, st *attemptState, policy crawler.RetryPolicy, opts Options, attempts int) (Result, bool) {
	for _, route := range AlternateRoutes(st.rawURL, opts.Family, opts.Routes) {
		if ctx.Err() != nil {
			return Result{}, false
		}
		res, err := e.fetchRoute(ctx, st, route, policy, opts)
		if err != nil {
			continue
		}
		res.Attempts += attempts
		return res, true
	}
	return Result{}, false
}

func (e *Engine) fetchRoute(ctx context.Context, st *attemptState, route Route, policy crawler.RetryPolicy, opts Options) (Result, error) {
	start := time.Now()
	sub := opts
	sub.alternatesAttempted = true
	sub.CookieHeader = st.cookie
	res, err := e.FetchResilient(ctx, route.URL, policy.Restricted(), sub)
	evt := progress.Event{
		Stage:    progress.StageRoute,
		Domain:   st.domain,
		URL:      route.URL,
		Strategy: route.Strategy,
		Outcome:  progress.OutcomeSuccess,
		Dur:      time.Since(start),
	}
	if err != nil {
		evt.Outcome = progress.OutcomeFailure
		evt.Reason = err.Error()
		progress.Emit(ctx, e.emitter, evt)
		return Result{}, err
	}
	progress.Emit(ctx, e.emitter, evt)
	e.hints.RecordAlternateRoute(st.domain, route.Strategy)
	metrics.ObserveAlternateRoute(route.Strategy)
	metrics.ObserveDiagnosis(string(crawler.DiagnosisAlternateRoute))
	e.logger.Info("alternate route succeeded",
		zap.String("url", st.rawURL),
		zap.String("route", route.URL),
		zap.String("strategy", route.Strategy))
	res.RequestedURL = st.rawURL
	res.Route = route.Strategy
	return res, nil
}

func (e *Engine) result(requested string, resp crawler.FetchResponse, attempts int, partial bool) Result {
	final := resp.URL
	if final == "" {
		final = requested
	}
	return Result{
		RequestedURL: requested,
		URL:          final,
		StatusCode:   resp.StatusCode,
		Headers:      resp.Headers,
		Body:         resp.Body,
		Partial:      partial,
		Attempts:     attempts,
	}
}

func validContent(opts Options, body []byte) (bool, string) {
	if opts.SkipContentCheck {
		return true, ""
	}
	return IsValidContent(string(body))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

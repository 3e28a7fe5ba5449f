package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/extract"
	"github.com/JakeFAU/newsharvest/internal/metrics"
	"github.com/JakeFAU/newsharvest/internal/probe"
	"github.com/JakeFAU/newsharvest/internal/profile"
	"github.com/JakeFAU/newsharvest/internal/progress"
	"github.com/JakeFAU/newsharvest/internal/qualify"
	"github.com/JakeFAU/newsharvest/internal/resilient"
)

// PageFetcher retrieves one page with retries and fallbacks.
// resilient.Engine satisfies it.
type PageFetcher interface {
	FetchResilient(ctx context.Context, rawURL string, policy crawler.RetryPolicy, opts resilient.Options) (resilient.Result, error)
}

// Prober classifies a URL before discovery starts.
type Prober interface {
	Probe(ctx context.Context, rawURL string, opts probe.Options) probe.Result
}

// ProfileResolver returns the merged domain profile for a URL.
type ProfileResolver interface {
	Resolve(ctx context.Context, rawURL, topicID, tenantID string, meta *profile.SourceMetadata) (profile.DomainProfile, error)
}

// Qualifier decides whether an article is kept.
type Qualifier interface {
	Qualify(ctx context.Context, a *crawler.ArticleData, topic crawler.TopicConfig, source crawler.Source) qualify.Decision
}

// Strategy is one way of finding articles for a source.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, t *Target) Outcome
}

// Target is what a strategy works on.
type Target struct {
	Source  crawler.Source
	Topic   crawler.TopicConfig
	Profile profile.DomainProfile
	// PageURL is the source URL, Origin its scheme and host.
	PageURL   string
	Origin    string
	Diagnosis crawler.Diagnosis
	// FetchOptions shape every page fetch for this source.
	FetchOptions resilient.Options
}

// Outcome is what one strategy produced. Articles are extracted but not yet
// qualified.
type Outcome struct {
	Articles            []crawler.ArticleData
	Found               int
	Errors              []string
	Skipped             bool
	ResolvedSectionPath string
}

// Deps are the Orchestrator's collaborators. Prober, Resolver and Gate may be
// nil; Strategies replaces the built-in set when non-empty.
type Deps struct {
	Fetcher    PageFetcher
	Prober     Prober
	Resolver   ProfileResolver
	Extractor  *extract.Extractor
	Gate       Qualifier
	Clock      crawler.Clock
	Emitter    progress.Emitter
	Logger     *zap.Logger
	Strategies []Strategy
}

// Orchestrator runs the discovery strategies for a source.
type Orchestrator struct {
	deps       Deps
	cfg        Config
	strategies map[string]Strategy
	logger     *zap.Logger
	now        func() time.Time
}

// New builds an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New(extract.DefaultPatterns(), deps.Logger)
	}
	o := &Orchestrator{
		deps:       deps,
		cfg:        cfg,
		strategies: make(map[string]Strategy),
		logger:     deps.Logger.Named("discovery"),
		now:        time.Now,
	}
	if deps.Clock != nil {
		o.now = deps.Clock.Now
	}
	strategies := deps.Strategies
	if len(strategies) == 0 {
		tk := &toolkit{fetcher: deps.Fetcher, extractor: deps.Extractor, cfg: cfg, logger: o.logger, now: o.now}
		strategies = []Strategy{
			&platformStrategy{tk},
			&structuredStrategy{tk},
			&feedStrategy{tk},
			newSitemapStrategy(tk),
			&heuristicStrategy{tk},
		}
	}
	for _, s := range strategies {
		o.strategies[s.Name()] = s
	}
	return o
}

// Discover finds, extracts and qualifies the articles of source. Failures are
// reported in the result, never returned.
func (o *Orchestrator) Discover(ctx context.Context, source crawler.Source, topic crawler.TopicConfig) crawler.ScrapingResult {
	now := o.now().UTC()
	result := crawler.ScrapingResult{Update: crawler.SourceUpdate{SourceID: source.ID, LastScrapedAt: &now}}
	fail := func(msg string) crawler.ScrapingResult {
		result.Errors = append(result.Errors, msg)
		result.Update.LastError = msg
		return result
	}

	pageURL := strings.TrimSpace(source.FeedURL)
	if !o.cfg.AllowPrivateHosts {
		if _, err := crawler.ValidatePublicURL(pageURL); err != nil {
			return fail(err.Error())
		}
	}
	origin, err := crawler.Origin(pageURL)
	if err != nil {
		return fail(err.Error())
	}
	domain := crawler.NormalizeDomain(crawler.HostOf(pageURL))

	target := &Target{Source: source, Topic: topic, PageURL: pageURL, Origin: origin}
	target.Profile = o.resolveProfile(ctx, target)

	target.Diagnosis = crawler.DiagnosisUnknown
	if o.deps.Prober != nil {
		res := o.deps.Prober.Probe(ctx, pageURL, probe.Options{
			BypassHead: target.Profile.BypassHead(),
			Timeout:    target.Profile.ProbeTimeout(),
			DomainHint: domain,
		})
		target.Diagnosis = res.Diagnosis
		if res.Diagnosis == crawler.DiagnosisNetworkBlock {
			msg := "probe: network-block"
			if res.Error != "" {
				msg += ": " + res.Error
			}
			o.logger.Warn("source unreachable", zap.String("source", source.ID), zap.String("url", pageURL), zap.String("error", res.Error))
			return fail(msg)
		}
	}
	target.FetchOptions = resilient.Options{
		AllowAlternateRoutes: true,
		Family:               string(target.Profile.Family),
		Routes:               target.Profile.Routes(target.Diagnosis),
		DisableWarmup:        !target.Profile.WarmupEnabled(),
	}
	if w := target.Profile.Warmup; w != nil && w.Delay != nil {
		target.FetchOptions.WarmupDelay = *w.Delay
	}

	seen := make(map[string]struct{})
	var errs []string
	for _, name := range target.Profile.Strategies() {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, ctx.Err()))
			break
		}
		strategy, ok := o.strategies[name]
		if !ok {
			continue
		}
		accepted, out := o.runStrategy(ctx, strategy, target, seen, &result)
		if out.Skipped {
			continue
		}
		if out.ResolvedSectionPath != "" {
			result.Update.ResolvedSectionPath = out.ResolvedSectionPath
		}
		if accepted > 0 {
			result.Success = true
			result.Method = name
			break
		}
		for _, e := range out.Errors {
			errs = append(errs, name+": "+e)
		}
		if len(out.Errors) == 0 {
			errs = append(errs, fmt.Sprintf("%s: no qualified articles (%d found)", name, out.Found))
		}
	}

	result.ArticlesScraped = len(result.Articles)
	result.Update.ArticlesFound = result.ArticlesFound
	if !result.Success {
		if len(errs) == 0 {
			errs = append(errs, "no discovery strategy applicable")
		}
		result.Errors = errs
		result.Update.LastError = strings.Join(errs, "; ")
	}
	return result
}

func (o *Orchestrator) resolveProfile(ctx context.Context, t *Target) profile.DomainProfile {
	var prof profile.DomainProfile
	if o.deps.Resolver != nil {
		meta := &profile.SourceMetadata{
			PublisherHint: t.Source.ScrapingConfig.PublisherHint,
			SourceName:    t.Source.Name,
			SourceType:    t.Source.SourceType,
		}
		p, err := o.deps.Resolver.Resolve(ctx, t.PageURL, t.Topic.ID, t.Source.TenantID, meta)
		if err != nil {
			o.logger.Warn("profile resolution failed, using defaults", zap.String("url", t.PageURL), zap.Error(err))
		} else {
			prof = p
		}
	}
	cfg := t.Source.ScrapingConfig
	if cfg.PreferredStrategy == "" && len(cfg.SkipStrategies) == 0 {
		return prof
	}
	override := profile.ScrapingStrategy{Preferred: cfg.PreferredStrategy, Skip: cfg.SkipStrategies}
	if prof.ScrapingStrategy != nil {
		base := *prof.ScrapingStrategy
		if override.Preferred == "" {
			override.Preferred = base.Preferred
		}
		override.Skip = append(append([]string(nil), base.Skip...), cfg.SkipStrategies...)
		override.Timeout = base.Timeout
	}
	prof.ScrapingStrategy = &override
	return prof
}

// runStrategy executes one strategy, qualifies what it extracted and folds
// new articles into result. It returns the number of accepted articles.
func (o *Orchestrator) runStrategy(ctx context.Context, s Strategy, t *Target, seen map[string]struct{}, result *crawler.ScrapingResult) (int, Outcome) {
	start := time.Now()
	sctx := ctx
	if st := t.Profile.ScrapingStrategy; st != nil && st.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, st.Timeout)
		defer cancel()
	}
	out := s.Discover(sctx, t)
	evt := progress.Event{
		Stage:    progress.StageStrategy,
		SourceID: t.Source.ID,
		Domain:   crawler.NormalizeDomain(crawler.HostOf(t.PageURL)),
		URL:      t.PageURL,
		Strategy: s.Name(),
	}
	if out.Skipped {
		evt.Outcome = progress.OutcomeSkipped
		evt.Dur = time.Since(start)
		progress.Emit(ctx, o.deps.Emitter, evt)
		metrics.ObserveStrategy(s.Name(), progress.OutcomeSkipped)
		return 0, out
	}
	if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out.Errors = append(out.Errors, "strategy timed out")
	}

	result.ArticlesFound += out.Found
	accepted := 0
	for i := range out.Articles {
		article := out.Articles[i]
		key, err := crawler.NormalizeURL(article.URL())
		if err != nil {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		article.SetMeta("discovery_strategy", s.Name())
		if o.deps.Gate != nil {
			if o.deps.Gate.Qualify(ctx, &article, t.Topic, t.Source).Accepted {
				accepted++
			}
		} else {
			article.ProcessingStatus = crawler.StatusAccepted
			accepted++
		}
		result.Articles = append(result.Articles, article)
	}

	evt.Count = accepted
	evt.Dur = time.Since(start)
	evt.Outcome = progress.OutcomeSuccess
	if accepted == 0 {
		evt.Outcome = progress.OutcomeFailure
		if len(out.Errors) > 0 {
			evt.Reason = out.Errors[0]
		}
	}
	progress.Emit(ctx, o.deps.Emitter, evt)
	metrics.ObserveStrategy(s.Name(), evt.Outcome)
	o.logger.Debug("strategy finished",
		zap.String("source", t.Source.ID),
		zap.String("strategy", s.Name()),
		zap.Int("found", out.Found),
		zap.Int("extracted", len(out.Articles)),
		zap.Int("accepted", accepted),
		zap.Duration("duration", evt.Dur))
	return accepted, out
}

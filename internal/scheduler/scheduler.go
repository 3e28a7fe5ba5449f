package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/metrics"
	"github.com/JakeFAU/newsharvest/internal/progress"
	"github.com/JakeFAU/newsharvest/internal/warmup"
)

// InstrumentationName names the scheduler tracer and meter.
const InstrumentationName = "github.com/JakeFAU/newsharvest/internal/scheduler"

// Skip reasons recorded on source results.
const (
	SkipNotDue      = "not due"
	SkipBreakerOpen = "circuit breaker open"
	SkipBudget      = "job budget exhausted"
	SkipMaxSources  = "max sources reached"
)

// Discoverer runs discovery for one source. discovery.Orchestrator
// satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, source crawler.Source, topic crawler.TopicConfig) crawler.ScrapingResult
}

// Deps are the Scheduler's collaborators. Breaker, Clock, IDs, Emitter,
// Logger, Tracer and Meter may be nil.
type Deps struct {
	Sources    crawler.SourceStore
	Articles   crawler.ArticleStore
	Discoverer Discoverer
	Breaker    *warmup.Breaker
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Emitter    progress.Emitter
	Logger     *zap.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// Scheduler executes jobs.
type Scheduler struct {
	deps           Deps
	cfg            Config
	logger         *zap.Logger
	tracer         trace.Tracer
	sourceDuration metric.Float64Histogram
	articlesStored metric.Int64Counter
}

// New builds a Scheduler.
func New(deps Deps, cfg Config) (*Scheduler, error) {
	if deps.Sources == nil || deps.Articles == nil || deps.Discoverer == nil {
		return nil, errors.New("scheduler requires source store, article store and discoverer")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.IDs == nil {
		deps.IDs = v7IDs{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(InstrumentationName)
	}
	if deps.Meter == nil {
		deps.Meter = otel.Meter(InstrumentationName)
	}
	s := &Scheduler{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: deps.Logger.Named("scheduler"),
		tracer: deps.Tracer,
	}
	var err error
	s.sourceDuration, err = deps.Meter.Float64Histogram("newsharvest.source.duration",
		metric.WithDescription("Wall time spent discovering one source."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create source duration histogram: %w", err)
	}
	s.articlesStored, err = deps.Meter.Int64Counter("newsharvest.articles.stored",
		metric.WithDescription("Articles accepted by the persistence collaborator."))
	if err != nil {
		return nil, fmt.Errorf("create articles stored counter: %w", err)
	}
	return s, nil
}

// Run executes one job. An error is returned only when the job could not
// start (unknown topic, unreadable sources); per-source failures are
// reported in the JobReport.
func (s *Scheduler) Run(ctx context.Context, in crawler.JobInput) (crawler.JobReport, error) {
	jobID, err := s.deps.IDs.NewJobID()
	if err != nil {
		return crawler.JobReport{}, fmt.Errorf("job id: %w", err)
	}
	return s.RunWithID(ctx, jobID, in)
}

// RunWithID executes a job under a caller-assigned id, so callers can hand
// the id out before the job finishes.
func (s *Scheduler) RunWithID(ctx context.Context, jobID uuid.UUID, in crawler.JobInput) (crawler.JobReport, error) {
	started := s.deps.Clock.Now().UTC()
	ctx = progress.WithJobID(ctx, jobID)
	ctx, span := s.tracer.Start(ctx, "scheduler.Run", trace.WithAttributes(
		attribute.String("job.id", jobID.String()),
		attribute.String("topic.id", in.TopicID),
		attribute.Bool("job.force_rescrape", in.ForceRescrape),
		attribute.Bool("job.fast_mode", in.FastMode || s.cfg.FastMode),
	))
	defer span.End()

	report := crawler.JobReport{JobID: jobID.String(), TopicID: in.TopicID, StartedAt: started}
	logger := s.logger.With(zap.String("job_id", report.JobID), zap.String("topic_id", in.TopicID))
	progress.Emit(ctx, s.deps.Emitter, progress.Event{Stage: progress.StageJobStart, TopicID: in.TopicID})

	topic, sources, err := s.load(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		progress.Emit(ctx, s.deps.Emitter, progress.Event{
			Stage:   progress.StageJobError,
			TopicID: in.TopicID,
			Reason:  err.Error(),
		})
		metrics.ObserveJob(string(crawler.JobStatusFailed))
		logger.Error("job could not start", zap.Error(err))
		return crawler.JobReport{}, err
	}

	runnable, skipped := s.partition(sources, in)
	report.Results = append(report.Results, skipped...)
	logger.Info("job started",
		zap.Int("sources", len(sources)),
		zap.Int("runnable", len(runnable)),
		zap.Int("skipped", len(skipped)))

	batchSize := in.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	deadline := started.Add(time.Duration(float64(s.cfg.JobBudget) * s.cfg.BudgetFraction))
	for start := 0; start < len(runnable); start += batchSize {
		end := min(start+batchSize, len(runnable))
		if now := s.deps.Clock.Now(); !now.Before(deadline) || ctx.Err() != nil {
			reason := SkipBudget
			if ctx.Err() != nil {
				reason = ctx.Err().Error()
			}
			logger.Warn("skipping remaining sources",
				zap.Int("remaining", len(runnable)-start),
				zap.String("reason", reason))
			for _, src := range runnable[start:] {
				report.Results = append(report.Results, s.skip(ctx, src, reason))
			}
			break
		}
		report.Results = append(report.Results, s.runGroup(ctx, runnable[start:end], topic, in)...)
	}

	var updates []crawler.SourceUpdate
	for _, r := range report.Results {
		if r.Skipped {
			report.Skipped++
			continue
		}
		report.Totals.Add(r.Counts)
		updates = append(updates, r.Update)
	}
	if len(updates) > 0 {
		if err := s.deps.Sources.ApplyUpdates(ctx, updates); err != nil {
			span.RecordError(err)
			logger.Error("apply source updates failed", zap.Error(err))
		}
	}

	report.Status = jobStatus(report.Results)
	report.FinishedAt = s.deps.Clock.Now().UTC()
	span.SetAttributes(
		attribute.String("job.status", string(report.Status)),
		attribute.Int("job.articles_stored", report.Totals.ArticlesStored),
	)
	if report.Status == crawler.JobStatusFailed {
		span.SetStatus(codes.Error, "no source succeeded")
	}
	metrics.ObserveJob(string(report.Status))
	progress.Emit(ctx, s.deps.Emitter, progress.Event{
		Stage:   progress.StageJobDone,
		TopicID: in.TopicID,
		Outcome: string(report.Status),
		Count:   report.Totals.ArticlesStored,
		Dur:     report.FinishedAt.Sub(started),
	})
	logger.Info("job finished",
		zap.String("status", string(report.Status)),
		zap.Int("stored", report.Totals.ArticlesStored),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.FinishedAt.Sub(started)))
	return report, nil
}

func (s *Scheduler) load(ctx context.Context, in crawler.JobInput) (crawler.TopicConfig, []crawler.Source, error) {
	topic, err := s.deps.Sources.Topic(ctx, in.TopicID)
	if err != nil {
		return crawler.TopicConfig{}, nil, fmt.Errorf("load topic %s: %w", in.TopicID, err)
	}
	if in.MaxAgeDays > 0 {
		topic.MaxAgeDays = in.MaxAgeDays
	}
	sources, err := s.deps.Sources.ListSources(ctx, in.TopicID, in.SourceIDs)
	if err != nil {
		return crawler.TopicConfig{}, nil, fmt.Errorf("list sources for %s: %w", in.TopicID, err)
	}
	return topic, sources, nil
}

// partition splits sources into those to run and skipped results for the
// rest: not yet due, breaker open, or beyond MaxSources.
func (s *Scheduler) partition(sources []crawler.Source, in crawler.JobInput) ([]crawler.Source, []crawler.SourceResult) {
	now := s.deps.Clock.Now()
	var (
		runnable []crawler.Source
		skipped  []crawler.SourceResult
	)
	for _, src := range sources {
		switch {
		case !in.ForceRescrape && !src.Due(now):
			skipped = append(skipped, skippedResult(src, SkipNotDue))
		case s.deps.Breaker.Open(src.FeedURL):
			skipped = append(skipped, skippedResult(src, SkipBreakerOpen))
		case in.MaxSources > 0 && len(runnable) >= in.MaxSources:
			skipped = append(skipped, skippedResult(src, SkipMaxSources))
		default:
			runnable = append(runnable, src)
		}
	}
	for _, r := range skipped {
		metrics.ObserveSource(progress.OutcomeSkipped)
		s.logger.Debug("source skipped", zap.String("source", r.SourceID), zap.String("reason", r.Error))
	}
	return runnable, skipped
}

func (s *Scheduler) skip(ctx context.Context, src crawler.Source, reason string) crawler.SourceResult {
	metrics.ObserveSource(progress.OutcomeSkipped)
	progress.Emit(ctx, s.deps.Emitter, progress.Event{
		Stage:    progress.StageSourceDone,
		SourceID: src.ID,
		URL:      src.FeedURL,
		Outcome:  progress.OutcomeSkipped,
		Reason:   reason,
	})
	return skippedResult(src, reason)
}

func skippedResult(src crawler.Source, reason string) crawler.SourceResult {
	return crawler.SourceResult{
		SourceID:   src.ID,
		SourceName: src.Name,
		Skipped:    true,
		Error:      reason,
		Update:     crawler.SourceUpdate{SourceID: src.ID},
	}
}

// runGroup discovers one group concurrently and waits for all of it.
func (s *Scheduler) runGroup(ctx context.Context, group []crawler.Source, topic crawler.TopicConfig, in crawler.JobInput) []crawler.SourceResult {
	results := make([]crawler.SourceResult, len(group))
	var g errgroup.Group
	for i, src := range group {
		g.Go(func() error {
			results[i] = s.runSource(ctx, src, topic, in)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scheduler) sourceTimeout(in crawler.JobInput) time.Duration {
	if in.FastMode || s.cfg.FastMode {
		return s.cfg.FastSourceTimeout
	}
	return s.cfg.SourceTimeout
}

// runSource races discovery against the per-source timeout, then persists
// the articles and folds the outcome into the breaker.
func (s *Scheduler) runSource(ctx context.Context, src crawler.Source, topic crawler.TopicConfig, in crawler.JobInput) crawler.SourceResult {
	metrics.IncActiveSources()
	defer metrics.DecActiveSources()

	ctx, span := s.tracer.Start(ctx, "scheduler.source", trace.WithAttributes(
		attribute.String("source.id", src.ID),
		attribute.String("source.url", src.FeedURL),
	))
	defer span.End()

	domain := crawler.NormalizeDomain(crawler.HostOf(src.FeedURL))
	progress.Emit(ctx, s.deps.Emitter, progress.Event{
		Stage:    progress.StageSourceStart,
		SourceID: src.ID,
		Domain:   domain,
		URL:      src.FeedURL,
	})
	start := time.Now()
	timeout := s.sourceTimeout(in)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan crawler.ScrapingResult, 1)
	go func() {
		done <- s.deps.Discoverer.Discover(sctx, src, topic)
	}()

	var scraped crawler.ScrapingResult
	select {
	case scraped = <-done:
	case <-sctx.Done():
		msg := fmt.Sprintf("source timed out after %s", timeout)
		if ctx.Err() != nil {
			msg = fmt.Sprintf("source canceled: %v", ctx.Err())
		}
		now := s.deps.Clock.Now().UTC()
		scraped = crawler.ScrapingResult{
			Errors: []string{msg},
			Update: crawler.SourceUpdate{SourceID: src.ID, LastScrapedAt: &now, LastError: msg},
		}
	}

	result := crawler.SourceResult{
		SourceID:        src.ID,
		SourceName:      src.Name,
		Success:         scraped.Success,
		Method:          scraped.Method,
		ArticlesFound:   scraped.ArticlesFound,
		ArticlesScraped: scraped.ArticlesScraped,
		Update:          scraped.Update,
	}
	result.Update.SourceID = src.ID
	if len(scraped.Errors) > 0 && !scraped.Success {
		result.Error = scraped.Update.LastError
		if result.Error == "" {
			result.Error = scraped.Errors[0]
		}
	}

	if len(scraped.Articles) > 0 {
		counts, err := s.deps.Articles.StoreArticles(ctx, topic.ID, scraped.Articles, s.maxAgeDays(topic))
		if err != nil {
			err = fmt.Errorf("store articles: %w", err)
			span.RecordError(err)
			s.logger.Error("persist articles failed", zap.String("source", src.ID), zap.Error(err))
			result.Success = false
			result.Error = err.Error()
			result.Update.LastError = err.Error()
		} else {
			result.Counts = counts
			s.articlesStored.Add(ctx, int64(counts.ArticlesStored), metric.WithAttributes(attribute.String("topic.id", topic.ID)))
		}
	}

	if result.Success {
		if s.deps.Breaker != nil {
			s.deps.Breaker.RecordSuccess(src.FeedURL)
		}
		result.Update.ConsecutiveFailures = 0
	} else {
		result.ArticlesScraped = 0
		result.Update.ConsecutiveFailures = s.recordFailure(src.FeedURL)
	}

	elapsed := time.Since(start)
	result.Duration = elapsed.Round(time.Millisecond).String()
	outcome := progress.OutcomeSuccess
	if !result.Success {
		outcome = progress.OutcomeFailure
		span.SetStatus(codes.Error, result.Error)
	}
	span.SetAttributes(
		attribute.String("source.outcome", outcome),
		attribute.String("source.method", result.Method),
		attribute.Int("source.articles_found", result.ArticlesFound),
	)
	s.sourceDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	metrics.ObserveSource(outcome)
	progress.Emit(ctx, s.deps.Emitter, progress.Event{
		Stage:    progress.StageSourceDone,
		SourceID: src.ID,
		Domain:   domain,
		URL:      src.FeedURL,
		Strategy: result.Method,
		Outcome:  outcome,
		Reason:   result.Error,
		Count:    result.Counts.ArticlesStored,
		Dur:      elapsed,
	})
	s.logger.Info("source finished",
		zap.String("source", src.ID),
		zap.String("outcome", outcome),
		zap.String("method", result.Method),
		zap.Int("found", result.ArticlesFound),
		zap.Int("stored", result.Counts.ArticlesStored),
		zap.String("error", result.Error),
		zap.Duration("duration", elapsed))
	return result
}

func (s *Scheduler) recordFailure(rawURL string) int {
	if s.deps.Breaker == nil {
		return 1
	}
	return s.deps.Breaker.RecordFailure(rawURL)
}

func (s *Scheduler) maxAgeDays(topic crawler.TopicConfig) int {
	if topic.MaxAgeDays > 0 {
		return topic.MaxAgeDays
	}
	return s.cfg.MaxAgeDays
}

// jobStatus is succeeded when every attempted source succeeded, partial when
// at least one did, failed otherwise. A job with nothing to run succeeds.
func jobStatus(results []crawler.SourceResult) crawler.JobStatus {
	attempted, succeeded := 0, 0
	for _, r := range results {
		if r.Skipped {
			continue
		}
		attempted++
		if r.Success {
			succeeded++
		}
	}
	switch {
	case attempted == succeeded:
		return crawler.JobStatusSucceeded
	case succeeded > 0:
		return crawler.JobStatusPartial
	default:
		return crawler.JobStatusFailed
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type v7IDs struct{}

func (v7IDs) NewJobID() (uuid.UUID, error) { return uuid.NewV7() }

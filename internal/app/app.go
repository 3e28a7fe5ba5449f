// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/api"
	"github.com/JakeFAU/newsharvest/internal/clock/system"
	"github.com/JakeFAU/newsharvest/internal/config"
	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/discovery"
	"github.com/JakeFAU/newsharvest/internal/dispatcher"
	"github.com/JakeFAU/newsharvest/internal/extract"
	collyfetcher "github.com/JakeFAU/newsharvest/internal/fetcher/colly"
	"github.com/JakeFAU/newsharvest/internal/id/uuid"
	"github.com/JakeFAU/newsharvest/internal/logging"
	"github.com/JakeFAU/newsharvest/internal/metrics"
	"github.com/JakeFAU/newsharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/newsharvest/internal/probe"
	"github.com/JakeFAU/newsharvest/internal/profile"
	"github.com/JakeFAU/newsharvest/internal/progress"
	"github.com/JakeFAU/newsharvest/internal/progress/sinks"
	"github.com/JakeFAU/newsharvest/internal/qualify"
	queuememory "github.com/JakeFAU/newsharvest/internal/queue/memory"
	"github.com/JakeFAU/newsharvest/internal/resilient"
	"github.com/JakeFAU/newsharvest/internal/scheduler"
	"github.com/JakeFAU/newsharvest/internal/storage/memory"
	"github.com/JakeFAU/newsharvest/internal/storage/postgres"
	"github.com/JakeFAU/newsharvest/internal/store"
	"github.com/JakeFAU/newsharvest/internal/telemetry"
	"github.com/JakeFAU/newsharvest/internal/warmup"
)

// Version is stamped into telemetry resources; overridden at link time.
var Version = "dev"

// App holds the shared, long-lived services for one process. It is built once
// at startup and handed to the CLI commands.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Scheduler *scheduler.Scheduler
	Prober    *probe.Prober
	Engine    *resilient.Engine
	Progress  store.ProgressRepository
	IDs       crawler.IDGenerator

	// Queue and Dispatcher are set when server.async_jobs is enabled.
	Queue      *queuememory.Queue
	Dispatcher *dispatcher.Dispatcher

	hub       *progress.Hub
	pool      *pgxpool.Pool
	telemetry *telemetry.Providers
	ownLogger bool
}

// Option customizes Build.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	clock      crawler.Clock
	fetcher    crawler.Fetcher
	telemetry  bool
}

// WithLogger uses logger instead of building one from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers progress collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock overrides the wall clock.
func WithClock(clock crawler.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithFetcher replaces the Colly transport.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithoutTelemetry skips the process-wide OpenTelemetry providers.
func WithoutTelemetry() Option {
	return func(o *options) { o.telemetry = false }
}

// Build wires every component described by cfg. It fails fast when a
// critical service cannot be initialized and releases whatever it already
// opened.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{telemetry: true}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: o.logger}
	if a.Logger == nil {
		a.Logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		a.ownLogger = true
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()
	logger := a.Logger
	logger.Info("initializing application services",
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("fast_mode", cfg.Scheduler.FastMode))

	metrics.Init()
	if o.telemetry {
		tcfg := cfg.Telemetry
		if tcfg.Version == "" {
			tcfg.Version = Version
		}
		if a.telemetry, err = telemetry.Init(ctx, tcfg); err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
	}

	clock := o.clock
	if clock == nil {
		clock = system.New()
	}
	a.IDs = uuid.NewGenerator()

	sources, articles, progressRepo, err := a.openStorage(ctx, clock)
	if err != nil {
		return nil, err
	}
	a.Progress = progressRepo

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      logger.Named("progress"),
	},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(progressRepo, logger.Named("progress")),
	)

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher, err = collyfetcher.New(collyfetcher.Config{
			Timeout:           cfg.Fetch.Timeout,
			MaxBodyBytes:      cfg.Fetch.MaxBodyBytes,
			ProxyURL:          cfg.Fetch.ProxyURL,
			AllowPrivateHosts: cfg.Fetch.AllowPrivateHosts,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init fetcher: %w", err)
		}
	}

	hints := warmup.NewStore(clock)
	a.Engine = resilient.New(fetcher, hints, resilient.Config{
		Timeout:           cfg.Fetch.Timeout,
		CookieTimeout:     cfg.Warmup.CookieTimeout,
		MaxBodyBytes:      cfg.Fetch.MaxBodyBytes,
		RangeBytes:        cfg.Fetch.RangeBytes,
		AllowPrivateHosts: cfg.Fetch.AllowPrivateHosts,
		Identities:        resilient.DefaultIdentities(),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Pacing.DomainRPS,
			DefaultBurst: cfg.Pacing.Burst,
		}),
		Emitter: a.hub,
		Logger:  logger,
	})
	a.Prober = probe.New(fetcher, hints, a.Engine, probe.Config{
		Identity:          a.Engine.Identity(0),
		Timeout:           cfg.Fetch.Timeout,
		AllowPrivateHosts: cfg.Fetch.AllowPrivateHosts,
		Emitter:           a.hub,
		Logger:            logger,
	})

	resolver, err := buildResolver(cfg.Profiles.File, logger)
	if err != nil {
		return nil, err
	}

	discCfg := cfg.Discovery
	discCfg.Retry = cfg.Retry
	discCfg.AllowPrivateHosts = discCfg.AllowPrivateHosts || cfg.Fetch.AllowPrivateHosts
	orchestrator := discovery.New(discovery.Deps{
		Fetcher:   a.Engine,
		Prober:    a.Prober,
		Resolver:  resolver,
		Extractor: extract.New(extract.DefaultPatterns(), logger),
		Gate:      qualify.NewGate(cfg.Qualification, clock, a.hub, logger),
		Clock:     clock,
		Emitter:   a.hub,
		Logger:    logger,
	}, discCfg)

	deps := scheduler.Deps{
		Sources:    sources,
		Articles:   articles,
		Discoverer: orchestrator,
		Breaker:    warmup.NewBreaker(cfg.Warmup.BreakerThreshold, cfg.Warmup.BreakerCooldown),
		Clock:      clock,
		IDs:        a.IDs,
		Emitter:    a.hub,
		Logger:     logger,
	}
	if a.telemetry != nil {
		deps.Tracer = a.telemetry.Tracer.Tracer(scheduler.InstrumentationName)
		deps.Meter = a.telemetry.Meter.Meter(scheduler.InstrumentationName)
	}
	if a.Scheduler, err = scheduler.New(deps, cfg.Scheduler); err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	if cfg.Server.AsyncJobs {
		a.Queue = queuememory.NewQueue(cfg.Server.QueueDepth)
		a.Dispatcher = dispatcher.New(a.Queue, a.Scheduler, cfg.Server.JobWorkers, logger)
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) openStorage(ctx context.Context, clock crawler.Clock) (
	crawler.SourceStore, crawler.ArticleStore, store.ProgressRepository, error,
) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case config.BackendMemory:
		sources, err := memory.LoadSourceStore(cfg.SourcesFile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load sources: %w", err)
		}
		a.Logger.Info("using in-memory storage", zap.String("sources_file", cfg.SourcesFile))
		return sources, memory.NewArticleStore(clock), memory.NewJobStore(), nil
	case config.BackendPostgres:
		pgCfg := postgres.Config{
			DSN:            cfg.DSN,
			ArticlesTable:  cfg.ArticlesTable,
			DiscardedTable: cfg.DiscardedTable,
			MaxConns:       cfg.MaxConns,
		}
		pool, err := postgres.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		a.pool = pool
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return nil, nil, nil, err
			}
		}
		sources, err := postgres.NewSourceStore(pool)
		if err != nil {
			return nil, nil, nil, err
		}
		articles, err := postgres.NewArticleStore(pool, pgCfg, clock)
		if err != nil {
			return nil, nil, nil, err
		}
		progressRepo, err := postgres.NewProgressStore(pool)
		if err != nil {
			return nil, nil, nil, err
		}
		a.Logger.Info("using postgres storage", zap.Bool("migrate", cfg.Migrate))
		return sources, articles, progressRepo, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func buildResolver(path string, logger *zap.Logger) (*profile.Resolver, error) {
	if path == "" {
		return profile.NewResolver(profile.NewMemoryStore(), logger), nil
	}
	profiles, err := profile.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load domain profiles: %w", err)
	}
	logger.Info("loaded domain profiles", zap.String("file", path), zap.Int("count", profiles.Len()))
	return profile.NewResolver(profiles, logger), nil
}

// Server builds the HTTP API over the app's services.
func (a *App) Server() *api.Server {
	opts := api.Options{
		Runner:   a.Scheduler,
		IDs:      a.IDs,
		Prober:   a.Prober,
		Progress: a.Progress,
		Logger:   a.Logger.Named("api"),
		APIKey:   a.Config.Server.APIKey,
		Ready:    a.Ready,
	}
	if a.Dispatcher != nil {
		opts.Queue = a.Dispatcher
	}
	return api.NewServer(opts)
}

// Ready reports whether the storage backend is reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close drains the progress hub before closing the stores it writes to, then
// flushes telemetry and the logger.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if a.Logger != nil {
		a.Logger.Info("application services stopped")
		if a.ownLogger {
			// stderr/stdout sync fails with EINVAL on some platforms.
			_ = a.Logger.Sync()
		}
	}
	return errors.Join(errs...)
}

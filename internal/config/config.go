// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/discovery"
	"github.com/JakeFAU/newsharvest/internal/logging"
	"github.com/JakeFAU/newsharvest/internal/qualify"
	"github.com/JakeFAU/newsharvest/internal/scheduler"
	"github.com/JakeFAU/newsharvest/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. NEWSHARVEST_SERVER_PORT.
const EnvPrefix = "NEWSHARVEST"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging       logging.Config      `mapstructure:"logging"`
	Server        ServerConfig        `mapstructure:"server"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	Retry         crawler.RetryPolicy `mapstructure:"retry"`
	Pacing        PacingConfig        `mapstructure:"pacing"`
	Warmup        WarmupConfig        `mapstructure:"warmup"`
	Discovery     discovery.Config    `mapstructure:"discovery"`
	Scheduler     scheduler.Config    `mapstructure:"scheduler"`
	Qualification qualify.Config      `mapstructure:"qualification"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Profiles      ProfilesConfig      `mapstructure:"profiles"`
	Telemetry     telemetry.Config    `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AsyncJobs makes POST /v1/jobs answer 202 and queue the job for the workers.
	AsyncJobs  bool `mapstructure:"async_jobs"`
	QueueDepth int  `mapstructure:"queue_depth"`
	JobWorkers int  `mapstructure:"job_workers"`
	// APIKey guards /v1 and /api when non-empty.
	APIKey string `mapstructure:"api_key"`
}

// FetchConfig governs single round trips.
type FetchConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes"`
	RangeBytes        int           `mapstructure:"range_bytes"`
	ProxyURL          string        `mapstructure:"proxy_url"`
	AllowPrivateHosts bool          `mapstructure:"allow_private_hosts"`
}

// PacingConfig sets the per-domain token bucket.
type PacingConfig struct {
	DomainRPS float64 `mapstructure:"domain_rps"`
	Burst     int     `mapstructure:"burst"`
}

// WarmupConfig tunes cookie warm-up and the per-source circuit breaker.
type WarmupConfig struct {
	CookieTimeout    time.Duration `mapstructure:"cookie_timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	DSN            string `mapstructure:"dsn"`
	SourcesFile    string `mapstructure:"sources_file"`
	ArticlesTable  string `mapstructure:"articles_table"`
	DiscardedTable string `mapstructure:"discarded_table"`
	MaxConns       int32  `mapstructure:"max_conns"`
	Migrate        bool   `mapstructure:"migrate"`
}

// ProfilesConfig points at the domain profile YAML file.
type ProfilesConfig struct {
	File string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	retry := crawler.DefaultRetryPolicy()
	sched := scheduler.DefaultConfig()
	gate := qualify.DefaultConfig()
	disc := discovery.DefaultConfig()

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.async_jobs", false)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("server.job_workers", 1)
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.max_body_bytes", 5*1024*1024)
	v.SetDefault("fetch.range_bytes", 65536)
	v.SetDefault("fetch.allow_private_hosts", false)
	v.SetDefault("retry.max_retries", retry.MaxRetries)
	v.SetDefault("retry.base_delay_ms", retry.BaseDelayMS)
	v.SetDefault("retry.max_delay_ms", retry.MaxDelayMS)
	v.SetDefault("retry.exponential", retry.Exponential)
	v.SetDefault("pacing.domain_rps", 1.0)
	v.SetDefault("pacing.burst", 2)
	v.SetDefault("warmup.cookie_timeout", "10s")
	v.SetDefault("warmup.breaker_threshold", 3)
	v.SetDefault("warmup.breaker_cooldown", "6h")
	v.SetDefault("discovery.max_articles_per_source", disc.MaxArticlesPerSource)
	v.SetDefault("scheduler.batch_size", sched.BatchSize)
	v.SetDefault("scheduler.job_budget", sched.JobBudget.String())
	v.SetDefault("scheduler.budget_fraction", sched.BudgetFraction)
	v.SetDefault("scheduler.source_timeout", sched.SourceTimeout.String())
	v.SetDefault("scheduler.fast_source_timeout", sched.FastSourceTimeout.String())
	v.SetDefault("scheduler.fast_mode", false)
	v.SetDefault("scheduler.max_age_days", sched.MaxAgeDays)
	v.SetDefault("qualification.max_age_days", gate.MaxAgeDays)
	v.SetDefault("qualification.min_word_count", gate.MinWordCount)
	v.SetDefault("qualification.snippet_word_floor", gate.SnippetWordFloor)
	v.SetDefault("qualification.quality_threshold", gate.QualityThreshold)
	v.SetDefault("qualification.high_credibility_quality_threshold", gate.HighCredibilityQualityThreshold)
	v.SetDefault("qualification.high_credibility_score", gate.HighCredibilityScore)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sources_file", "sources.yaml")
	v.SetDefault("storage.articles_table", "articles")
	v.SetDefault("storage.discarded_table", "discarded_articles")
	v.SetDefault("telemetry.service_name", "newsharvest")
	v.SetDefault("telemetry.exporter", telemetry.ExporterNone)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.AsyncJobs && (c.Server.QueueDepth <= 0 || c.Server.JobWorkers <= 0) {
		return fmt.Errorf("server.queue_depth and server.job_workers must be > 0 when async_jobs is set")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be > 0")
	}
	if c.Scheduler.JobBudget <= 0 {
		return fmt.Errorf("scheduler.job_budget must be > 0")
	}
	if c.Scheduler.SourceTimeout <= 0 || c.Scheduler.FastSourceTimeout <= 0 {
		return fmt.Errorf("scheduler.source_timeout and scheduler.fast_source_timeout must be > 0")
	}
	if c.Scheduler.BudgetFraction <= 0 || c.Scheduler.BudgetFraction > 1 {
		return fmt.Errorf("scheduler.budget_fraction must be in (0, 1]")
	}
	switch c.Storage.Backend {
	case BackendMemory:
		if c.Storage.SourcesFile == "" {
			return fmt.Errorf("storage.sources_file is required for the memory backend")
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, postgres", c.Storage.Backend)
	}
	return nil
}

package scheduler

import "time"

// Config tunes job execution. Zero values take the defaults.
type Config struct {
	BatchSize         int           `mapstructure:"batch_size"`
	JobBudget         time.Duration `mapstructure:"job_budget"`
	BudgetFraction    float64       `mapstructure:"budget_fraction"`
	SourceTimeout     time.Duration `mapstructure:"source_timeout"`
	FastSourceTimeout time.Duration `mapstructure:"fast_source_timeout"`
	FastMode          bool          `mapstructure:"fast_mode"`
	MaxAgeDays        int           `mapstructure:"max_age_days"`
}

// DefaultConfig returns the standard job settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:         3,
		JobBudget:         10 * time.Minute,
		BudgetFraction:    0.8,
		SourceTimeout:     90 * time.Second,
		FastSourceTimeout: 30 * time.Second,
		MaxAgeDays:        7,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.JobBudget <= 0 {
		c.JobBudget = d.JobBudget
	}
	if c.BudgetFraction <= 0 || c.BudgetFraction > 1 {
		c.BudgetFraction = d.BudgetFraction
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = d.SourceTimeout
	}
	if c.FastSourceTimeout <= 0 {
		c.FastSourceTimeout = d.FastSourceTimeout
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = d.MaxAgeDays
	}
	return c
}

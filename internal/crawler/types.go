package crawler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Diagnosis classifies why a fetch attempt was accessible or blocked.
type Diagnosis string

// Closed set of accessibility diagnoses.
const (
	DiagnosisOK                  Diagnosis = "ok"
	DiagnosisHeadBlocked         Diagnosis = "head-blocked"
	DiagnosisPartialGetBlocked   Diagnosis = "partial-get-blocked"
	DiagnosisCookieRequired      Diagnosis = "cookie-required"
	DiagnosisAlternateRoute      Diagnosis = "alternate-route"
	DiagnosisResidentialRequired Diagnosis = "residential-required"
	DiagnosisFullBlock           Diagnosis = "full-block"
	DiagnosisNetworkBlock        Diagnosis = "network-block"
	DiagnosisUnknown             Diagnosis = "unknown"
)

// Valid reports whether d is one of the known diagnoses.
func (d Diagnosis) Valid() bool {
	switch d {
	case DiagnosisOK, DiagnosisHeadBlocked, DiagnosisPartialGetBlocked, DiagnosisCookieRequired,
		DiagnosisAlternateRoute, DiagnosisResidentialRequired, DiagnosisFullBlock,
		DiagnosisNetworkBlock, DiagnosisUnknown:
		return true
	default:
		return false
	}
}

// FetchIdentity is the header bundle presented on one attempt. Values are
// copied before use; an identity is never mutated mid-attempt.
type FetchIdentity struct {
	Name         string
	UserAgent    string
	Headers      http.Header
	CookieHeader string
	ForwardedIP  string
}

// Apply returns a fresh header set carrying the identity.
func (id FetchIdentity) Apply() http.Header {
	out := id.Headers.Clone()
	if out == nil {
		out = make(http.Header)
	}
	if id.UserAgent != "" {
		out.Set("User-Agent", id.UserAgent)
	}
	if id.CookieHeader != "" {
		out.Set("Cookie", id.CookieHeader)
	}
	if id.ForwardedIP != "" {
		out.Set("X-Forwarded-For", id.ForwardedIP)
	}
	return out
}

// FetchRequest is a single network round trip description.
type FetchRequest struct {
	URL          string
	Method       string
	Headers      http.Header
	Timeout      time.Duration
	MaxBodyBytes int
}

// FetchResponse is the outcome of one round trip. Body is fully read.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// BlockProfile records how a domain blocked us most recently.
type BlockProfile struct {
	Server    string    `json:"server,omitempty"`
	Diagnosis Diagnosis `json:"diagnosis"`
	Details   string    `json:"details,omitempty"`
}

// AlternateRoute is the rewrite strategy that last worked for a domain.
type AlternateRoute struct {
	Strategy    string    `json:"strategy"`
	LastSuccess time.Time `json:"last_success"`
}

// ResidentialIPHint tracks forwarded-IP usage for a domain.
type ResidentialIPHint struct {
	SampleIP    string     `json:"sample_ip"`
	Country     string     `json:"country,omitempty"`
	LastTried   time.Time  `json:"last_tried"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// WarmupHint is the advisory per-domain memory kept between attempts and jobs.
type WarmupHint struct {
	Domain         string             `json:"domain"`
	CookieHeader   string             `json:"cookie_header,omitempty"`
	LastUpdated    time.Time          `json:"last_updated"`
	Reason         string             `json:"reason,omitempty"`
	LastStatus     int                `json:"last_status,omitempty"`
	BlockProfile   *BlockProfile      `json:"block_profile,omitempty"`
	AlternateRoute *AlternateRoute    `json:"alternate_route,omitempty"`
	ResidentialIP  *ResidentialIPHint `json:"residential_ip,omitempty"`
}

// Diagnosis returns the recorded diagnosis or DiagnosisUnknown.
func (h *WarmupHint) Diagnosis() Diagnosis {
	if h == nil || h.BlockProfile == nil {
		return DiagnosisUnknown
	}
	return h.BlockProfile.Diagnosis
}

// Merge folds update into h. Zero-valued fields in update leave h untouched,
// so a failed attempt (which never carries an AlternateRoute) cannot erase a
// recorded route; a newer route always replaces the old one.
func (h *WarmupHint) Merge(update WarmupHint) {
	if update.CookieHeader != "" {
		h.CookieHeader = update.CookieHeader
	}
	if update.Reason != "" {
		h.Reason = update.Reason
	}
	if update.LastStatus != 0 {
		h.LastStatus = update.LastStatus
	}
	if update.BlockProfile != nil {
		bp := *update.BlockProfile
		h.BlockProfile = &bp
	}
	if update.AlternateRoute != nil {
		if h.AlternateRoute == nil || !update.AlternateRoute.LastSuccess.Before(h.AlternateRoute.LastSuccess) {
			route := *update.AlternateRoute
			h.AlternateRoute = &route
		}
	}
	if update.ResidentialIP != nil {
		res := *update.ResidentialIP
		if res.LastSuccess == nil && h.ResidentialIP != nil {
			res.LastSuccess = h.ResidentialIP.LastSuccess
		}
		h.ResidentialIP = &res
	}
	if update.LastUpdated.After(h.LastUpdated) {
		h.LastUpdated = update.LastUpdated
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (h WarmupHint) Clone() WarmupHint {
	out := h
	if h.BlockProfile != nil {
		bp := *h.BlockProfile
		out.BlockProfile = &bp
	}
	if h.AlternateRoute != nil {
		r := *h.AlternateRoute
		out.AlternateRoute = &r
	}
	if h.ResidentialIP != nil {
		res := *h.ResidentialIP
		if h.ResidentialIP.LastSuccess != nil {
			ts := *h.ResidentialIP.LastSuccess
			res.LastSuccess = &ts
		}
		out.ResidentialIP = &res
	}
	return out
}

// ProcessingStatus is the lifecycle state of an ArticleData.
type ProcessingStatus string

// Article processing states.
const (
	StatusPending  ProcessingStatus = "pending"
	StatusAccepted ProcessingStatus = "accepted"
	StatusRejected ProcessingStatus = "rejected"
)

// ArticleData is a normalized article produced by the extractor and scored by
// the qualification gate.
type ArticleData struct {
	Title                  string            `json:"title"`
	Body                   string            `json:"body"`
	Author                 string            `json:"author,omitempty"`
	PublishedAt            *time.Time        `json:"published_at,omitempty"`
	SourceURL              string            `json:"source_url"`
	CanonicalURL           string            `json:"canonical_url,omitempty"`
	ImageURL               string            `json:"image_url,omitempty"`
	WordCount              int               `json:"word_count"`
	ContentQualityScore    int               `json:"content_quality_score"`
	RegionalRelevanceScore int               `json:"regional_relevance_score"`
	ProcessingStatus       ProcessingStatus  `json:"processing_status"`
	RejectionReason        string            `json:"rejection_reason,omitempty"`
	ImportMetadata         map[string]string `json:"import_metadata,omitempty"`
}

// URL returns the canonical URL when known, otherwise the source URL.
func (a ArticleData) URL() string {
	if a.CanonicalURL != "" {
		return a.CanonicalURL
	}
	return a.SourceURL
}

// SetMeta records an import metadata key, allocating the map when needed.
func (a *ArticleData) SetMeta(key, value string) {
	if a.ImportMetadata == nil {
		a.ImportMetadata = make(map[string]string)
	}
	a.ImportMetadata[key] = value
}

// ScrapingResult is the outcome of discovering one source.
type ScrapingResult struct {
	Success         bool          `json:"success"`
	Articles        []ArticleData `json:"articles"`
	ArticlesFound   int           `json:"articles_found"`
	ArticlesScraped int           `json:"articles_scraped"`
	Errors          []string      `json:"errors,omitempty"`
	Method          string        `json:"method,omitempty"`
	Update          SourceUpdate  `json:"update"`
}

// ScrapingConfig holds per-source scraping overrides.
type ScrapingConfig struct {
	FeedPath          string   `json:"feed_path,omitempty" yaml:"feed_path" mapstructure:"feed_path"`
	SectionPath       string   `json:"section_path,omitempty" yaml:"section_path" mapstructure:"section_path"`
	PreferredStrategy string   `json:"preferred_strategy,omitempty" yaml:"preferred_strategy" mapstructure:"preferred_strategy"`
	SkipStrategies    []string `json:"skip_strategies,omitempty" yaml:"skip_strategies" mapstructure:"skip_strategies"`
	AllowMissingDates bool     `json:"allow_missing_dates,omitempty" yaml:"allow_missing_dates" mapstructure:"allow_missing_dates"`
	PublisherHint     string   `json:"publisher_hint,omitempty" yaml:"publisher_hint" mapstructure:"publisher_hint"`
	HyperLocal        bool     `json:"hyper_local,omitempty" yaml:"hyper_local" mapstructure:"hyper_local"`
}

// Source is the read-only content source record owned by the caller.
type Source struct {
	ID                   string         `json:"id" yaml:"id"`
	Name                 string         `json:"name" yaml:"name"`
	TopicID              string         `json:"topic_id" yaml:"topic_id"`
	TenantID             string         `json:"tenant_id,omitempty" yaml:"tenant_id"`
	FeedURL              string         `json:"feed_url" yaml:"feed_url"`
	SourceType           string         `json:"source_type" yaml:"source_type"`
	Region               string         `json:"region,omitempty" yaml:"region"`
	CredibilityScore     float64        `json:"credibility_score" yaml:"credibility_score"`
	ScrapingConfig       ScrapingConfig `json:"scraping_config" yaml:"scraping_config"`
	LastScrapedAt        *time.Time     `json:"last_scraped_at,omitempty" yaml:"last_scraped_at"`
	ScrapeFrequencyHours int            `json:"scrape_frequency_hours" yaml:"scrape_frequency_hours"`
}

// Due reports whether the source should be scraped at now.
func (s Source) Due(now time.Time) bool {
	if s.LastScrapedAt == nil || s.ScrapeFrequencyHours <= 0 {
		return true
	}
	next := s.LastScrapedAt.Add(time.Duration(s.ScrapeFrequencyHours) * time.Hour)
	return !now.Before(next)
}

// SourceUpdate carries the metrics the caller persists back onto a source.
type SourceUpdate struct {
	SourceID            string     `json:"source_id"`
	LastScrapedAt       *time.Time `json:"last_scraped_at,omitempty"`
	ArticlesFound       int        `json:"articles_found"`
	LastError           string     `json:"last_error,omitempty"`
	ResolvedSectionPath string     `json:"resolved_section_path,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// TopicConfig drives relevance and recency checks for one topic.
type TopicConfig struct {
	ID                 string   `json:"id" yaml:"id"`
	TenantID           string   `json:"tenant_id,omitempty" yaml:"tenant_id"`
	Name               string   `json:"name" yaml:"name"`
	Type               string   `json:"type" yaml:"type"`
	Region             string   `json:"region,omitempty" yaml:"region"`
	Keywords           []string `json:"keywords,omitempty" yaml:"keywords"`
	NegativeKeywords   []string `json:"negative_keywords,omitempty" yaml:"negative_keywords"`
	Landmarks          []string `json:"landmarks,omitempty" yaml:"landmarks"`
	Postcodes          []string `json:"postcodes,omitempty" yaml:"postcodes"`
	Organizations      []string `json:"organizations,omitempty" yaml:"organizations"`
	MaxAgeDays         int      `json:"max_age_days,omitempty" yaml:"max_age_days"`
	MinWordCount       int      `json:"min_word_count,omitempty" yaml:"min_word_count"`
	RelevanceThreshold int      `json:"relevance_threshold,omitempty" yaml:"relevance_threshold"`
}

// JobInput is the already-validated job request.
type JobInput struct {
	TopicID       string   `json:"topic_id"`
	SourceIDs     []string `json:"source_ids,omitempty"`
	ForceRescrape bool     `json:"force_rescrape,omitempty"`
	MaxSources    int      `json:"max_sources,omitempty"`
	MaxAgeDays    int      `json:"max_age_days,omitempty"`
	BatchSize     int      `json:"batch_size,omitempty"`
	FastMode      bool     `json:"fast_mode,omitempty"`
}

// QueueItem is a job accepted by the API and waiting for a worker.
type QueueItem struct {
	JobID     uuid.UUID
	Input     JobInput
	Submitted time.Time
}

// StoreCounts is what the persistence collaborator reports back.
type StoreCounts struct {
	ArticlesStored       int `json:"articles_stored"`
	RejectedLowRelevance int `json:"rejected_low_relevance"`
	RejectedLowQuality   int `json:"rejected_low_quality"`
	RejectedCompeting    int `json:"rejected_competing"`
	DuplicatesSkipped    int `json:"duplicates_skipped"`
}

// Add accumulates other into c.
func (c *StoreCounts) Add(other StoreCounts) {
	c.ArticlesStored += other.ArticlesStored
	c.RejectedLowRelevance += other.RejectedLowRelevance
	c.RejectedLowQuality += other.RejectedLowQuality
	c.RejectedCompeting += other.RejectedCompeting
	c.DuplicatesSkipped += other.DuplicatesSkipped
}

// SourceResult is the per-source entry of a job report.
type SourceResult struct {
	SourceID        string       `json:"source_id"`
	SourceName      string       `json:"source_name"`
	Success         bool         `json:"success"`
	Skipped         bool         `json:"skipped,omitempty"`
	Error           string       `json:"error,omitempty"`
	Method          string       `json:"method,omitempty"`
	ArticlesFound   int          `json:"articles_found"`
	ArticlesScraped int          `json:"articles_scraped"`
	Counts          StoreCounts  `json:"counts"`
	Duration        string       `json:"duration"`
	Update          SourceUpdate `json:"update"`
}

// JobStatus summarizes a job invocation.
type JobStatus string

// Job outcome values.
const (
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
)

// JobReport is returned from one Batch Scheduler run.
type JobReport struct {
	JobID      string         `json:"job_id"`
	TopicID    string         `json:"topic_id"`
	Status     JobStatus      `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []SourceResult `json:"results"`
	Totals     StoreCounts    `json:"totals"`
	Skipped    int            `json:"skipped"`
}

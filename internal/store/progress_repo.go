package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// JobRunStatus mirrors the harvest_job_runs status column.
type JobRunStatus string

// Job run statuses persisted in harvest_job_runs.status.
const (
	RunRunning JobRunStatus = "running"
	RunSuccess JobRunStatus = "success"
	RunPartial JobRunStatus = "partial"
	RunError   JobRunStatus = "error"
)

// JobRun models one harvest job invocation.
type JobRun struct {
	// JobID is the job identifier shared with emitters.
	JobID uuid.UUID
	// TopicID is the topic the job harvested for.
	TopicID string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run completes.
	FinishedAt *time.Time
	// Status is running/success/partial/error.
	Status JobRunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// ArticlesStored totals articles handed to storage.
	ArticlesStored int64
}

// DomainStats aggregates per-domain fetch behaviour for a job.
type DomainStats struct {
	JobID      uuid.UUID
	Domain     string
	LastUpdate time.Time
	// Attempts counts fetch attempts; FetchNxx break them down by status class.
	Attempts int64
	Fetch2xx int64
	Fetch3xx int64
	Fetch4xx int64
	Fetch5xx int64
	// LastDiagnosis is the most recent accessibility diagnosis seen.
	LastDiagnosis string
	// ArticlesFound accumulates SOURCE_DONE counts for the domain.
	ArticlesFound int64
}

// DomainDelta is an increment applied by UpsertDomainStats.
type DomainDelta struct {
	Attempts      int64
	StatusClass   string
	Diagnosis     string
	ArticlesFound int64
}

// ProgressRepository persists incremental job progress.
type ProgressRepository interface {
	// UpsertJobStart inserts (or idempotently updates) the started_at timestamp.
	UpsertJobStart(ctx context.Context, jobID uuid.UUID, topicID string, startedAt time.Time) error
	// CompleteJob marks the run finished with the provided status and error.
	CompleteJob(
		ctx context.Context,
		jobID uuid.UUID,
		finishedAt time.Time,
		status JobRunStatus,
		articlesStored int64,
		errMsg *string,
	) error
	// UpsertDomainStats applies a delta per (job, domain).
	UpsertDomainStats(ctx context.Context, jobID uuid.UUID, domain string, delta DomainDelta, at time.Time) error

	// GetJob loads a single job run or returns ErrNotFound.
	GetJob(ctx context.Context, jobID uuid.UUID) (JobRun, error)
	// ListJobs returns job runs filtered by optional status plus limit/offset.
	ListJobs(ctx context.Context, status *JobRunStatus, limit, offset int) ([]JobRun, error)
	// ListJobDomains returns aggregated domain stats for one job.
	ListJobDomains(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]DomainStats, error)
}

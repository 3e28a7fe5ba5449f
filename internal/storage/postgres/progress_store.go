package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newsharvest/internal/store"
)

var jobColumns = []string{
	"job_id", "topic_id", "started_at", "finished_at", "status", "error_message", "articles_stored",
}

var domainColumns = []string{
	"job_id", "domain", "last_update", "attempts", "fetch_2xx", "fetch_3xx", "fetch_4xx", "fetch_5xx",
	"last_diagnosis", "articles_found",
}

// ProgressStore implements store.ProgressRepository using Postgres.
type ProgressStore struct {
	pool Pool
}

// NewProgressStore creates a ProgressStore over pool.
func NewProgressStore(pool Pool) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// UpsertJobStart inserts a running job row, keeping the earliest start on repeats.
func (s *ProgressStore) UpsertJobStart(ctx context.Context, jobID uuid.UUID, topicID string, startedAt time.Time) error {
	query, args, err := psql.Insert("harvest_job_runs").
		Columns("job_id", "topic_id", "started_at", "status").
		Values(jobID, topicID, startedAt, string(store.RunRunning)).
		Suffix("ON CONFLICT (job_id) DO UPDATE SET started_at = LEAST(harvest_job_runs.started_at, EXCLUDED.started_at)").
		ToSql()
	if err != nil {
		return fmt.Errorf("build job start: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job start: %w", err)
	}
	return nil
}

// CompleteJob marks a job finished. A job whose start was never recorded is
// inserted with started_at = finishedAt.
func (s *ProgressStore) CompleteJob(
	ctx context.Context,
	jobID uuid.UUID,
	finishedAt time.Time,
	status store.JobRunStatus,
	articlesStored int64,
	errMsg *string,
) error {
	query, args, err := psql.Insert("harvest_job_runs").
		Columns("job_id", "started_at", "finished_at", "status", "error_message", "articles_stored").
		Values(jobID, finishedAt, finishedAt, string(status), errMsg, articlesStored).
		Suffix(`ON CONFLICT (job_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	articles_stored = EXCLUDED.articles_stored`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job completion: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// UpsertDomainStats adds delta to the (job, domain) row in a single statement.
func (s *ProgressStore) UpsertDomainStats(
	ctx context.Context,
	jobID uuid.UUID,
	domain string,
	delta store.DomainDelta,
	at time.Time,
) error {
	var fetch [4]int64
	switch delta.StatusClass {
	case "":
	case "2xx":
		fetch[0] = delta.Attempts
	case "3xx":
		fetch[1] = delta.Attempts
	case "4xx":
		fetch[2] = delta.Attempts
	case "5xx":
		fetch[3] = delta.Attempts
	default:
		return fmt.Errorf("unknown status class: %s", delta.StatusClass)
	}
	query, args, err := psql.Insert("harvest_domain_stats").
		Columns(domainColumns...).
		Values(jobID, domain, at, delta.Attempts, fetch[0], fetch[1], fetch[2], fetch[3], delta.Diagnosis, delta.ArticlesFound).
		Suffix(`ON CONFLICT (job_id, domain) DO UPDATE SET
	last_update = GREATEST(harvest_domain_stats.last_update, EXCLUDED.last_update),
	attempts = harvest_domain_stats.attempts + EXCLUDED.attempts,
	fetch_2xx = harvest_domain_stats.fetch_2xx + EXCLUDED.fetch_2xx,
	fetch_3xx = harvest_domain_stats.fetch_3xx + EXCLUDED.fetch_3xx,
	fetch_4xx = harvest_domain_stats.fetch_4xx + EXCLUDED.fetch_4xx,
	fetch_5xx = harvest_domain_stats.fetch_5xx + EXCLUDED.fetch_5xx,
	last_diagnosis = COALESCE(NULLIF(EXCLUDED.last_diagnosis, ''), harvest_domain_stats.last_diagnosis),
	articles_found = harvest_domain_stats.articles_found + EXCLUDED.articles_found`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build domain stats: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert domain stats: %w", err)
	}
	return nil
}

// GetJob retrieves a single job run by its ID.
func (s *ProgressStore) GetJob(ctx context.Context, jobID uuid.UUID) (store.JobRun, error) {
	query, args, err := psql.Select(jobColumns...).
		From("harvest_job_runs").
		Where(sq.Eq{"job_id": jobID}).
		ToSql()
	if err != nil {
		return store.JobRun{}, fmt.Errorf("build job query: %w", err)
	}
	run, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRun{}, store.ErrNotFound
		}
		return store.JobRun{}, fmt.Errorf("get job: %w", err)
	}
	return run, nil
}

// ListJobs retrieves job runs newest first, optionally filtered by status.
func (s *ProgressStore) ListJobs(
	ctx context.Context,
	status *store.JobRunStatus,
	limit,
	offset int,
) ([]store.JobRun, error) {
	builder := psql.Select(jobColumns...).
		From("harvest_job_runs").
		OrderBy("started_at DESC")
	builder = paginate(builder, limit, offset)
	if status != nil {
		builder = builder.Where(sq.Eq{"status": string(*status)})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build job list: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	runs := []store.JobRun{}
	for rows.Next() {
		run, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return runs, nil
}

// ListJobDomains retrieves per-domain statistics for a job, busiest first.
func (s *ProgressStore) ListJobDomains(
	ctx context.Context,
	jobID uuid.UUID,
	limit,
	offset int,
) ([]store.DomainStats, error) {
	builder := psql.Select(domainColumns...).
		From("harvest_domain_stats").
		Where(sq.Eq{"job_id": jobID}).
		OrderBy("attempts DESC", "domain")
	query, args, err := paginate(builder, limit, offset).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build domain list: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job domains: %w", err)
	}
	defer rows.Close()

	stats := []store.DomainStats{}
	for rows.Next() {
		var stat store.DomainStats
		if err := rows.Scan(
			&stat.JobID,
			&stat.Domain,
			&stat.LastUpdate,
			&stat.Attempts,
			&stat.Fetch2xx,
			&stat.Fetch3xx,
			&stat.Fetch4xx,
			&stat.Fetch5xx,
			&stat.LastDiagnosis,
			&stat.ArticlesFound,
		); err != nil {
			return nil, fmt.Errorf("scan domain stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list job domains: %w", err)
	}
	return stats, nil
}

func paginate(builder sq.SelectBuilder, limit, offset int) sq.SelectBuilder {
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}
	return builder
}

func scanJob(row pgx.Row) (store.JobRun, error) {
	var (
		run    store.JobRun
		status string
	)
	if err := row.Scan(
		&run.JobID,
		&run.TopicID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&run.ArticlesStored,
	); err != nil {
		return store.JobRun{}, err
	}
	run.Status = store.JobRunStatus(status)
	return run, nil
}

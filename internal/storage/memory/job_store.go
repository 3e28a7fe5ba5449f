package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/newsharvest/internal/store"
)

// JobStore is an in-memory store.ProgressRepository for development/testing.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]store.JobRun
	domains map[uuid.UUID]map[string]*store.DomainStats
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[uuid.UUID]store.JobRun),
		domains: make(map[uuid.UUID]map[string]*store.DomainStats),
	}
}

// UpsertJobStart records a running job. A repeated start keeps the earliest timestamp.
func (s *JobStore) UpsertJobStart(_ context.Context, jobID uuid.UUID, topicID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.jobs[jobID]
	if !ok {
		run = store.JobRun{JobID: jobID, TopicID: topicID, StartedAt: startedAt, Status: store.RunRunning}
	}
	if startedAt.Before(run.StartedAt) {
		run.StartedAt = startedAt
	}
	if run.TopicID == "" {
		run.TopicID = topicID
	}
	s.jobs[jobID] = run
	return nil
}

// CompleteJob marks the job finished. Unknown jobs are created so a lost
// JOB_START never hides the outcome.
func (s *JobStore) CompleteJob(
	_ context.Context,
	jobID uuid.UUID,
	finishedAt time.Time,
	status store.JobRunStatus,
	articlesStored int64,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.jobs[jobID]
	if !ok {
		run = store.JobRun{JobID: jobID, StartedAt: finishedAt}
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.Status = status
	run.ArticlesStored = articlesStored
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.jobs[jobID] = run
	return nil
}

// UpsertDomainStats applies delta to the (job, domain) row.
func (s *JobStore) UpsertDomainStats(
	_ context.Context,
	jobID uuid.UUID,
	domain string,
	delta store.DomainDelta,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.domains[jobID]
	if !ok {
		rows = make(map[string]*store.DomainStats)
		s.domains[jobID] = rows
	}
	row, ok := rows[domain]
	if !ok {
		row = &store.DomainStats{JobID: jobID, Domain: domain}
		rows[domain] = row
	}
	row.Attempts += delta.Attempts
	switch delta.StatusClass {
	case "2xx":
		row.Fetch2xx += delta.Attempts
	case "3xx":
		row.Fetch3xx += delta.Attempts
	case "4xx":
		row.Fetch4xx += delta.Attempts
	case "5xx":
		row.Fetch5xx += delta.Attempts
	}
	if delta.Diagnosis != "" {
		row.LastDiagnosis = delta.Diagnosis
	}
	row.ArticlesFound += delta.ArticlesFound
	if at.After(row.LastUpdate) {
		row.LastUpdate = at
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID uuid.UUID) (store.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.jobs[jobID]
	if !ok {
		return store.JobRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListJobs returns runs newest first.
func (s *JobStore) ListJobs(_ context.Context, status *store.JobRunStatus, limit, offset int) ([]store.JobRun, error) {
	s.mu.RLock()
	out := make([]store.JobRun, 0, len(s.jobs))
	for _, run := range s.jobs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].JobID.String() < out[j].JobID.String()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return page(out, limit, offset), nil
}

// ListJobDomains returns the domain rows of one job, busiest first.
func (s *JobStore) ListJobDomains(_ context.Context, jobID uuid.UUID, limit, offset int) ([]store.DomainStats, error) {
	s.mu.RLock()
	rows := s.domains[jobID]
	out := make([]store.DomainStats, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempts == out[j].Attempts {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Attempts > out[j].Attempts
	})
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

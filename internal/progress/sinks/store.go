package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/progress"
	"github.com/JakeFAU/newsharvest/internal/store"
)

// StoreSink persists progress deltas via a store.ProgressRepository. It
// collapses per-domain counters within a batch to reduce write amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards job lifecycle events and collapsed domain deltas to the
// repository. It respects ctx deadlines and returns repository errors.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)
	var order []statsKey

	for _, evt := range batch {
		jobID := evt.JobUUID()
		switch evt.Stage {
		case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
			if err := s.handleJobEvent(ctx, jobID, evt); err != nil {
				return err
			}
		case progress.StageFetchAttempt, progress.StageProbe, progress.StageSourceDone:
			if key, fresh := recordDomainStats(stats, jobID, evt); fresh {
				order = append(order, key)
			}
		}
	}

	for _, key := range order {
		delta := stats[key]
		if delta.attempts == 0 && delta.articles == 0 && delta.diagnosis == "" {
			continue
		}
		if err := s.repo.UpsertDomainStats(ctx, key.jobID, key.domain, store.DomainDelta{
			Attempts:      delta.attempts,
			StatusClass:   key.statusClass,
			Diagnosis:     delta.diagnosis,
			ArticlesFound: delta.articles,
		}, delta.at); err != nil {
			return fmt.Errorf("upsert domain stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleJobEvent(ctx context.Context, jobID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobStart:
		if err := s.repo.UpsertJobStart(ctx, jobID, evt.TopicID, evt.TS); err != nil {
			return fmt.Errorf("upsert job start: %w", err)
		}
	case progress.StageJobDone:
		status := store.RunSuccess
		switch evt.Outcome {
		case string(store.RunPartial):
			status = store.RunPartial
		case "failed", string(store.RunError):
			status = store.RunError
		}
		if err := s.repo.CompleteJob(ctx, jobID, evt.TS, status, int64(evt.Count), nil); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	case progress.StageJobError:
		var note *string
		if evt.Reason != "" {
			note = &evt.Reason
		}
		if err := s.repo.CompleteJob(ctx, jobID, evt.TS, store.RunError, int64(evt.Count), note); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	}
	return nil
}

func recordDomainStats(stats map[statsKey]*statsDelta, jobID uuid.UUID, evt progress.Event) (statsKey, bool) {
	if evt.Domain == "" {
		return statsKey{}, false
	}
	key := statsKey{jobID: jobID, domain: evt.Domain}
	if evt.Stage == progress.StageFetchAttempt {
		key.statusClass = string(evt.StatusClass)
	}
	stat, exists := stats[key]
	if !exists {
		stat = &statsDelta{}
		stats[key] = stat
	}
	switch evt.Stage {
	case progress.StageFetchAttempt:
		stat.attempts++
	case progress.StageSourceDone:
		stat.articles += int64(evt.Count)
	}
	if evt.Diagnosis != "" {
		stat.diagnosis = evt.Diagnosis
	}
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
	return key, !exists
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	jobID       uuid.UUID
	domain      string
	statusClass string
}

type statsDelta struct {
	attempts  int64
	articles  int64
	diagnosis string
	at        time.Time
}

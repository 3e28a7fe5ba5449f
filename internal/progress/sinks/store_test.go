package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsharvest/internal/progress"
	"github.com/JakeFAU/newsharvest/internal/store"
)

// TestStoreSinkPersistsEvents ensures attempts are collapsed per domain and status class.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	jobUUID := uuid.New()
	jobID := progress.UUIDToBytes(jobUUID)
	now := time.Now()

	batch := []progress.Event{
		{JobID: jobID, Stage: progress.StageJobStart, TopicID: "leeds", TS: now},
		{JobID: jobID, Stage: progress.StageFetchAttempt, Domain: "example.com", StatusClass: progress.Status4xx, TS: now.Add(time.Second)},
		{JobID: jobID, Stage: progress.StageFetchAttempt, Domain: "example.com", StatusClass: progress.Status4xx, Diagnosis: "cookie-required", TS: now.Add(2 * time.Second)},
		{JobID: jobID, Stage: progress.StageFetchAttempt, Domain: "example.com", StatusClass: progress.Status2xx, TS: now.Add(3 * time.Second)},
		{JobID: jobID, Stage: progress.StageSourceDone, SourceID: "s1", Domain: "example.com", Count: 4, TS: now.Add(4 * time.Second)},
		{JobID: jobID, Stage: progress.StageJobDone, Outcome: "partial", Count: 3, TS: now.Add(5 * time.Second), Dur: 5 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"leeds"}, repo.topics)
	require.Equal(t, []store.JobRunStatus{store.RunPartial}, repo.statuses)
	require.Len(t, repo.domainStats, 3)

	blocked := repo.domainStats[0]
	require.Equal(t, "4xx", blocked.delta.StatusClass)
	require.Equal(t, int64(2), blocked.delta.Attempts)
	require.Equal(t, "cookie-required", blocked.delta.Diagnosis)

	require.Equal(t, "2xx", repo.domainStats[1].delta.StatusClass)
	require.Equal(t, int64(4), repo.domainStats[2].delta.ArticlesFound)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	jobID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: jobID, Stage: progress.StageJobStart, TS: time.Now()},
	})
	require.Error(t, err)

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), nil))
}

func TestStoreSinkMapsJobOutcomes(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	jobID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: jobID, Stage: progress.StageJobDone, Outcome: "succeeded", TS: now},
		{JobID: jobID, Stage: progress.StageJobDone, Outcome: "failed", TS: now},
		{JobID: jobID, Stage: progress.StageJobError, Reason: "load topic", TS: now},
	}))
	require.Equal(t, []store.JobRunStatus{store.RunSuccess, store.RunError, store.RunError}, repo.statuses)
}

type fakeProgressRepo struct {
	fail        bool
	topics      []string
	statuses    []store.JobRunStatus
	domainStats []domainCall
}

type domainCall struct {
	jobID  uuid.UUID
	domain string
	delta  store.DomainDelta
}

var errRepo = errors.New("repo failure")

func (f *fakeProgressRepo) UpsertJobStart(_ context.Context, _ uuid.UUID, topicID string, _ time.Time) error {
	if f.fail {
		return errRepo
	}
	f.topics = append(f.topics, topicID)
	return nil
}

func (f *fakeProgressRepo) CompleteJob(
	_ context.Context,
	_ uuid.UUID,
	_ time.Time,
	status store.JobRunStatus,
	_ int64,
	_ *string,
) error {
	if f.fail {
		return errRepo
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeProgressRepo) UpsertDomainStats(
	_ context.Context,
	jobID uuid.UUID,
	domain string,
	delta store.DomainDelta,
	_ time.Time,
) error {
	if f.fail {
		return errRepo
	}
	f.domainStats = append(f.domainStats, domainCall{jobID: jobID, domain: domain, delta: delta})
	return nil
}

func (f *fakeProgressRepo) GetJob(context.Context, uuid.UUID) (store.JobRun, error) {
	return store.JobRun{}, store.ErrNotFound
}

func (f *fakeProgressRepo) ListJobs(context.Context, *store.JobRunStatus, int, int) ([]store.JobRun, error) {
	return nil, nil
}

func (f *fakeProgressRepo) ListJobDomains(context.Context, uuid.UUID, int, int) ([]store.DomainStats, error) {
	return nil, nil
}

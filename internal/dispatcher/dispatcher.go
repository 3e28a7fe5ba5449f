// Package dispatcher runs queued harvest jobs on a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// Runner executes one job. scheduler.Scheduler satisfies it.
type Runner interface {
	RunWithID(ctx context.Context, jobID uuid.UUID, in crawler.JobInput) (crawler.JobReport, error)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	runner  Runner
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher with workers goroutines (at least one).
func New(queue crawler.Queue, runner Runner, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until every worker has stopped, either
// because ctx ended or because the queue was closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			d.work(ctx, d.logger.With(zap.Int("worker", index)))
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, logger *zap.Logger) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				logger.Debug("worker stopping", zap.Error(err))
			}
			return
		}
		logger.Info("job dequeued",
			zap.String("job_id", item.JobID.String()),
			zap.String("topic_id", item.Input.TopicID))
		report, err := d.runner.RunWithID(ctx, item.JobID, item.Input)
		if err != nil {
			logger.Error("queued job failed",
				zap.String("job_id", item.JobID.String()),
				zap.String("topic_id", item.Input.TopicID),
				zap.Error(err))
			continue
		}
		logger.Info("queued job finished",
			zap.String("job_id", report.JobID),
			zap.String("status", string(report.Status)))
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

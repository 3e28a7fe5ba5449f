package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/newsharvest/internal/progress"
)

// PrometheusSink exports job-level progress metrics via Prometheus: jobs
// started/completed/running, source durations, and articles found per
// strategy. Fetch-level counters live in the metrics package.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	sourceDuration *prometheus.HistogramVec
	articlesFound  *prometheus.CounterVec
	rejections     *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsharvest_jobs_started_total",
			Help: "Total harvest jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsharvest_jobs_completed_total",
			Help: "Total harvest jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsharvest_jobs_running",
			Help: "Current number of running harvest jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsharvest_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsharvest_source_duration_seconds",
			Help:    "Discovery duration per source partitioned by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"outcome"}),
		articlesFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsharvest_articles_found_total",
			Help: "Articles surfaced by discovery strategies.",
		}, []string{"strategy"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsharvest_progress_rejections_total",
			Help: "Qualification rejections partitioned by reason.",
		}, []string{"reason"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.sourceDuration,
		s.articlesFound,
		s.rejections,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	case progress.StageSourceDone:
		outcome := evt.Outcome
		if outcome == "" {
			outcome = progress.OutcomeFailure
		}
		if evt.Dur > 0 {
			s.sourceDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
		}
	case progress.StageStrategy:
		if evt.Outcome == progress.OutcomeSuccess && evt.Count > 0 {
			s.articlesFound.WithLabelValues(evt.Strategy).Add(float64(evt.Count))
		}
	case progress.StageQualify:
		if evt.Outcome == progress.OutcomeReject {
			reason := evt.Reason
			if reason == "" {
				reason = "unknown"
			}
			s.rejections.WithLabelValues(reason).Inc()
		}
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		result := evt.Outcome
		if result == "" {
			result = progress.OutcomeSuccess
		}
		s.jobsCompleted.WithLabelValues(result).Inc()
		s.observeRuntime(evt, result)
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageJobStart && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[[16]byte]struct{})}
}

func (t *jobTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

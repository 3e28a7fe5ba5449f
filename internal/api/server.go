// Package api exposes the HTTP interface for the harvester.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/metrics"
	"github.com/JakeFAU/newsharvest/internal/probe"
	"github.com/JakeFAU/newsharvest/internal/storage"
	"github.com/JakeFAU/newsharvest/internal/store"
)

const (
	readTimeout    = 60 * time.Second
	enqueueTimeout = 5 * time.Second
)

// JobRunner executes harvest jobs. scheduler.Scheduler satisfies it.
type JobRunner interface {
	RunWithID(ctx context.Context, jobID uuid.UUID, in crawler.JobInput) (crawler.JobReport, error)
}

// JobQueue accepts jobs for background execution. dispatcher.Dispatcher
// satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Prober answers one-off accessibility checks. probe.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, rawURL string, opts probe.Options) probe.Result
}

// Options wires a Server.
type Options struct {
	Runner   JobRunner
	IDs      crawler.IDGenerator
	Prober   Prober
	Progress store.ProgressRepository
	Logger   *zap.Logger
	// Queue, when set, makes POST /v1/jobs answer 202 and leave the job to
	// the dispatcher workers.
	Queue JobQueue
	// APIKey, when set, is required on every /v1 and /api route.
	APIKey string
	// Ready reports downstream readiness for /readyz.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the scheduler, prober and progress store.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		// Synchronous jobs run for up to the job budget, so they sit outside the timeout.
		r.Post("/v1/jobs", s.submitJob)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(readTimeout))
			r.Post("/v1/probe", s.probe)
			progress := NewProgressHandler(opts.Progress, logger)
			r.Route("/api/jobs", func(r chi.Router) {
				r.Get("/", progress.ListJobs)
				r.Get("/{job_id}", progress.GetJob)
				r.Get("/{job_id}/domains", progress.ListJobDomains)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the instrumented router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "newsharvest.api")
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if (s.opts.Runner == nil && s.opts.Queue == nil) || s.opts.IDs == nil {
		writeError(w, http.StatusServiceUnavailable, "job runner unavailable")
		return
	}
	var in crawler.JobInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateJobInput(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.opts.IDs.NewJobID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate job id: %v", err))
		return
	}

	if s.opts.Queue != nil {
		queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
		defer cancel()
		item := crawler.QueueItem{JobID: jobID, Input: in, Submitted: time.Now().UTC()}
		if err := s.opts.Queue.Enqueue(queueCtx, item); err != nil {
			s.logger.Warn("enqueue job failed", zap.String("topic_id", in.TopicID), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID.String()})
		return
	}

	report, err := s.opts.Runner.RunWithID(r.Context(), jobID, in)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, storage.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func validateJobInput(in *crawler.JobInput) error {
	in.TopicID = strings.TrimSpace(in.TopicID)
	switch {
	case in.TopicID == "":
		return errors.New("topic_id required")
	case in.MaxSources < 0:
		return errors.New("max_sources must be >= 0")
	case in.MaxAgeDays < 0:
		return errors.New("max_age_days must be >= 0")
	case in.BatchSize < 0:
		return errors.New("batch_size must be >= 0")
	}
	return nil
}

type probeRequest struct {
	URL        string `json:"url"`
	BypassHead bool   `json:"bypass_head"`
	DomainHint string `json:"domain_hint"`
}

func (s *Server) probe(w http.ResponseWriter, r *http.Request) {
	if s.opts.Prober == nil {
		writeError(w, http.StatusServiceUnavailable, "prober unavailable")
		return
	}
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	res := s.opts.Prober.Probe(r.Context(), req.URL, probe.Options{
		BypassHead: req.BypassHead,
		DomainHint: req.DomainHint,
	})
	writeJSON(w, http.StatusOK, res)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

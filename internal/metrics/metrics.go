// Package metrics exposes Prometheus collectors for the acquisition core.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	diagnosisTotal             *prometheus.CounterVec
	alternateRouteSuccessTotal *prometheus.CounterVec
	strategyResultsTotal       *prometheus.CounterVec
	qualificationTotal         *prometheus.CounterVec
	sourcesTotal               *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	activeSources              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	progressDroppedTotal       *prometheus.CounterVec
	httpInflightRequests       prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsharvest_fetch_attempts_total",
				Help: "Fetch attempts issued by the resilient fetcher, labeled by domain and status class.",
			},
			[]string{"domain", "status_class"},
		)

		diagnosisTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsharvest_diagnosis_total",
				Help: "Accessibility diagnoses recorded, labeled by diagnosis.",
			},
			[]string{"diagnosis"},
		)

		alternateRouteSuccessTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsharvest_alternate_route_success_total",
				Help: "Alternate routes that returned valid content, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		strategyResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsharvest_strategy_results_total",
				Help: "Discovery strategy outcomes, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		qualificationTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsharvest_qualification_total",
				Help: "Qualification decisions, labeled by decision and reason.",
			},
			[]string{"decision", "reason"},
		)

		sourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsharvest_sources_total",
				Help: "Sources processed by the batch scheduler, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsharvest_jobs_total",
				Help: "Jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeSources = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsharvest_active_sources",
				Help: "Number of sources currently being discovered.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsharvest_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		progressDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsharvest_progress_events_dropped_total",
				Help: "Progress events discarded by the hub, labeled by stage and reason (shed or full).",
			},
			[]string{"stage", "reason"},
		)

		httpInflightRequests = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsharvest_http_inflight_requests",
				Help: "API requests currently being served, excluding health and metrics endpoints.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return "unknown"
	}
	return host
}

// StatusClass buckets an HTTP status ("2xx", "4xx") or "error" for 0.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one resilient-fetch attempt.
func ObserveFetchAttempt(site string, status int) {
	if fetchAttemptsTotal == nil {
		return
	}
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(site), StatusClass(status)).Inc()
}

// ObserveDiagnosis counts a recorded diagnosis.
func ObserveDiagnosis(diagnosis string) {
	if diagnosisTotal == nil {
		return
	}
	diagnosisTotal.WithLabelValues(diagnosis).Inc()
}

// ObserveAlternateRoute counts a successful alternate route.
func ObserveAlternateRoute(strategy string) {
	if alternateRouteSuccessTotal == nil {
		return
	}
	alternateRouteSuccessTotal.WithLabelValues(strategy).Inc()
}

// ObserveStrategy counts a discovery strategy outcome.
func ObserveStrategy(strategy, outcome string) {
	if strategyResultsTotal == nil {
		return
	}
	strategyResultsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveQualification counts a gate decision.
func ObserveQualification(decision, reason string) {
	if qualificationTotal == nil {
		return
	}
	qualificationTotal.WithLabelValues(decision, reason).Inc()
}

// ObserveSource counts a per-source outcome.
func ObserveSource(outcome string) {
	if sourcesTotal == nil {
		return
	}
	sourcesTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveSources increments the active sources gauge.
func IncActiveSources() {
	if activeSources != nil {
		activeSources.Inc()
	}
}

// DecActiveSources decrements the active sources gauge.
func DecActiveSources() {
	if activeSources != nil {
		activeSources.Dec()
	}
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveProgressDrop counts a progress event the hub could not deliver.
func ObserveProgressDrop(stage, reason string) {
	if progressDroppedTotal == nil {
		return
	}
	progressDroppedTotal.WithLabelValues(stage, reason).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

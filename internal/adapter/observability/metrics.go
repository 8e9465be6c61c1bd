// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// GithubAPIRequestsTotal counts upstream REST calls by endpoint and outcome.
	GithubAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "github_api_requests_total",
			Help: "Total number of upstream code-hosting API requests",
		},
		[]string{"endpoint", "outcome"},
	)
	// GithubAPIRequestDuration records upstream REST call durations by endpoint.
	GithubAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "github_api_request_duration_seconds",
			Help:    "Upstream code-hosting API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	// ScanJobsEnqueuedTotal counts scan jobs enqueued.
	ScanJobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_enqueued_total",
			Help: "Total number of scan jobs enqueued",
		},
		[]string{"status"},
	)
	// ScanJobsRunning is a gauge of scans currently executing.
	ScanJobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scan_jobs_running",
			Help: "Number of scan jobs currently measuring or executing",
		},
	)
	// ScanJobsCompletedTotal counts finished scans by terminal status.
	ScanJobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_completed_total",
			Help: "Total number of scan jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	// ReposCrawledTotal counts repositories crawled by outcome (scanned/skipped/failed).
	ReposCrawledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repos_crawled_total",
			Help: "Total number of repositories crawled by outcome",
		},
		[]string{"outcome"},
	)
	// CommitsClassifiedTotal counts commits classified by kind (initial/regular/merge).
	CommitsClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commits_classified_total",
			Help: "Total number of commits classified by kind",
		},
		[]string{"kind"},
	)

	// ParserDispatchTotal counts dispatcher outcomes by language and result.
	ParserDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parser_dispatch_total",
			Help: "Total number of parser dispatches by language and result",
		},
		[]string{"language", "result"},
	)
	// ParserBackendLatency records backend parser round-trip durations by language.
	ParserBackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parser_backend_duration_seconds",
			Help:    "Backend parser round-trip duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"language"},
	)

	// ReferencesEmittedTotal counts knowledge-model references emitted by language.
	ReferencesEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "references_emitted_total",
			Help: "Total number of knowledge references emitted by language",
		},
		[]string{"language"},
	)
	// NormalizedScoreHistogram is the histogram of published per-symbol scores [0,1].
	NormalizedScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "normalized_score",
			Help:    "Distribution of published normalized knowledge scores [0,1]",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// CloneTierTotal counts clone-store acquisitions by tier (tmpfs/fs).
	CloneTierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clone_tier_total",
			Help: "Total number of repository clones by storage tier",
		},
		[]string{"tier"},
	)

	// WatchdogFiredTotal counts stall-watchdog firings; the scan keeps running.
	WatchdogFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_watchdog_fired_total",
			Help: "Total number of times the progress watchdog fired during a scan",
		},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(GithubAPIRequestsTotal)
	prometheus.MustRegister(GithubAPIRequestDuration)
	prometheus.MustRegister(ScanJobsEnqueuedTotal)
	prometheus.MustRegister(ScanJobsRunning)
	prometheus.MustRegister(ScanJobsCompletedTotal)
	prometheus.MustRegister(ReposCrawledTotal)
	prometheus.MustRegister(CommitsClassifiedTotal)
	prometheus.MustRegister(ParserDispatchTotal)
	prometheus.MustRegister(ParserBackendLatency)
	prometheus.MustRegister(ReferencesEmittedTotal)
	prometheus.MustRegister(NormalizedScoreHistogram)
	prometheus.MustRegister(CloneTierTotal)
	prometheus.MustRegister(WatchdogFiredTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueScan increments the enqueued scan-jobs counter for the given initial status.
func EnqueueScan(status string) {
	ScanJobsEnqueuedTotal.WithLabelValues(status).Inc()
}

// StartScan marks one more scan as running.
func StartScan() {
	ScanJobsRunning.Inc()
}

// FinishScan marks a scan as no longer running and records its terminal status.
func FinishScan(status string) {
	ScanJobsRunning.Dec()
	ScanJobsCompletedTotal.WithLabelValues(status).Inc()
}

// RecordRepoCrawled records one repository's crawl outcome.
func RecordRepoCrawled(outcome string) {
	ReposCrawledTotal.WithLabelValues(outcome).Inc()
}

// RecordCommitClassified records one commit's classification kind.
func RecordCommitClassified(kind string) {
	CommitsClassifiedTotal.WithLabelValues(kind).Inc()
}

// RecordParserDispatch records one dispatcher outcome for language.
func RecordParserDispatch(language, result string) {
	ParserDispatchTotal.WithLabelValues(language, result).Inc()
}

// ObserveParserBackendLatency records a backend round-trip duration for language.
func ObserveParserBackendLatency(language string, dur time.Duration) {
	ParserBackendLatency.WithLabelValues(language).Observe(dur.Seconds())
}

// RecordReferenceEmitted records one knowledge-model reference for language.
func RecordReferenceEmitted(language string) {
	ReferencesEmittedTotal.WithLabelValues(language).Inc()
}

// ObserveNormalizedScore records one published normalized knowledge score.
func ObserveNormalizedScore(score float64) {
	if score >= 0 && score <= 1 {
		NormalizedScoreHistogram.Observe(score)
	}
}

// RecordCloneTier records which storage tier a clone landed in.
func RecordCloneTier(tier string) {
	CloneTierTotal.WithLabelValues(tier).Inc()
}

// RecordWatchdogFired records one firing of the stall watchdog.
func RecordWatchdogFired() {
	WatchdogFiredTotal.Inc()
}

// Package metrics exposes Prometheus collectors for the siteminer service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	pagesCrawledTotal          *prometheus.CounterVec
	llmTokensTotal             *prometheus.CounterVec
	activeJobs                 prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteminer_jobs_total",
				Help: "Total number of finished jobs, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		pagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteminer_pages_crawled_total",
				Help: "Total number of pages discovered by crawls, labeled by backend.",
			},
			[]string{"backend"},
		)

		llmTokensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteminer_llm_tokens_total",
				Help: "Total language-model tokens consumed, labeled by direction.",
			},
			[]string{"direction"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siteminer_active_jobs",
				Help: "Number of jobs with a running worker.",
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the finished-jobs counter.
func ObserveJob(kind, status string) {
	Init()
	jobsTotal.WithLabelValues(kind, status).Inc()
}

// ObservePagesCrawled adds discovered pages for one crawl.
func ObservePagesCrawled(backend string, count int) {
	Init()
	pagesCrawledTotal.WithLabelValues(backend).Add(float64(count))
}

// ObserveLLMTokens adds token usage from one completion call.
func ObserveLLMTokens(prompt, completion int64) {
	Init()
	llmTokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	llmTokensTotal.WithLabelValues("completion").Add(float64(completion))
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

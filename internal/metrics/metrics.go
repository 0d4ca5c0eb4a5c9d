// Package metrics exposes Prometheus collectors for the quote crawler.
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

// Task outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeEmpty  = "empty"
	OutcomeFailed = "failed"
	OutcomeHalted = "halted"
)

var (
	crawlerTasksTotal             *prometheus.CounterVec
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerFallbacksTotal         prometheus.Counter
	crawlerRecordsTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerSinkPushesTotal        *prometheus.CounterVec
	crawlerActiveSequences        prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_crawler_tasks_total",
				Help: "Page tasks processed, labeled by origin and outcome.",
			},
			[]string{"origin", "outcome"},
		)

		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_crawler_fetches_total",
				Help: "Fetch attempts, labeled by mode and status code class.",
			},
			[]string{"mode", "status"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quote_crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by mode.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"mode"},
		)

		crawlerFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quote_crawler_api_fallbacks_total",
				Help: "Pages where the API fetch failed and markup was fetched instead.",
			},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_crawler_records_total",
				Help: "Candidate records, labeled by whether they were accepted or dropped as duplicates.",
			},
			[]string{"result"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerSinkPushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_crawler_sink_pushes_total",
				Help: "Batches pushed to sinks, labeled by sink and status.",
			},
			[]string{"sink", "status"},
		)

		crawlerActiveSequences = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "quote_crawler_active_sequences",
				Help: "Number of page sequences currently being crawled.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quote_crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask counts a finished page task.
func ObserveTask(origin, outcome string) {
	Init()
	crawlerTasksTotal.WithLabelValues(origin, outcome).Inc()
}

// ObserveFetch records one fetch attempt. A zero status means a transport error.
func ObserveFetch(mode, rawURL string, status int, bytesFetched int, duration time.Duration) {
	Init()
	crawlerFetchesTotal.WithLabelValues(mode, statusClass(status)).Inc()
	crawlerFetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveFallback counts an API to markup fallback.
func ObserveFallback() {
	Init()
	crawlerFallbacksTotal.Inc()
}

// ObserveRecords adds accepted and duplicate candidate counts.
func ObserveRecords(accepted, duplicates int) {
	Init()
	if accepted > 0 {
		crawlerRecordsTotal.WithLabelValues("accepted").Add(float64(accepted))
	}
	if duplicates > 0 {
		crawlerRecordsTotal.WithLabelValues("duplicate").Add(float64(duplicates))
	}
}

// ObserveSinkPush counts one batch push.
func ObserveSinkPush(sink string, err error) {
	Init()
	status := "success"
	if err != nil {
		status = "error"
	}
	crawlerSinkPushesTotal.WithLabelValues(sink, status).Inc()
}

// IncActiveSequences increments the active sequences gauge.
func IncActiveSequences() {
	Init()
	crawlerActiveSequences.Inc()
}

// DecActiveSequences decrements the active sequences gauge.
func DecActiveSequences() {
	Init()
	crawlerActiveSequences.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

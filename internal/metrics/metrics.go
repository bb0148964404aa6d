// Package metrics exposes Prometheus collectors for the crawler service.
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
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	probesTotal                *prometheus.CounterVec
	schedulerRunsTotal         *prometheus.CounterVec
	storeUpsertsTotal          *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epaper_fetch_total",
				Help: "Fetches issued by the gateway, labeled by site, render mode and result.",
			},
			[]string{"site", "mode", "result"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epaper_fetch_bytes_total",
				Help: "Bytes fetched per site.",
			},
			[]string{"site"},
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

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epaper_slot_probes_total",
				Help: "Slot probes partitioned by source and outcome (hit, miss, error).",
			},
			[]string{"source", "outcome"},
		)

		schedulerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epaper_scheduler_runs_total",
				Help: "Scheduled job executions partitioned by job and result.",
			},
			[]string{"job", "result"},
		)

		storeUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epaper_store_upserts_total",
				Help: "Article rows upserted, labeled by result.",
			},
			[]string{"result"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epaper_cache_lookups_total",
				Help: "Article body cache lookups, labeled hit or miss.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "epaper_active_workers",
				Help: "Number of workers currently executing a crawl run.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "epaper_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host politeness limiter.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveFetch records one gateway fetch.
func ObserveFetch(rawURL, mode, result string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchTotal.WithLabelValues(site, mode, result).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbe counts a slot probe outcome.
func ObserveProbe(source, outcome string) {
	Init()
	probesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveSchedulerRun counts a scheduled job execution.
func ObserveSchedulerRun(job, result string) {
	Init()
	schedulerRunsTotal.WithLabelValues(job, result).Inc()
}

// ObserveUpsert records the saved/error split of a batch upsert.
func ObserveUpsert(saved, failed int) {
	Init()
	if saved > 0 {
		storeUpsertsTotal.WithLabelValues("saved").Add(float64(saved))
	}
	if failed > 0 {
		storeUpsertsTotal.WithLabelValues("error").Add(float64(failed))
	}
}

// ObserveCacheLookup counts a body cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

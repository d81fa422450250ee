// Package telemetry exposes the service's Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolbridge_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
		},
		[]string{"method", "route"},
	)

	cacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_cache_events_total",
			Help: "Cache events, labeled by service and event (hit, miss, evict, store).",
		},
		[]string{"service", "event"},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_upstream_requests_total",
			Help: "Calls to upstream services, labeled by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	upstreamRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolbridge_upstream_request_duration_seconds",
			Help:    "Histogram of upstream call latencies, labeled by service.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolbridge_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service"},
	)

	crawlPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_crawl_pages_total",
			Help: "Pages produced by crawl requests, labeled by status (ok, failed, cached).",
		},
		[]string{"status"},
	)
)

// ObserveHTTPRequest records request counts and latency for the API surface.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCacheEvent counts a cache hit, miss, store, or eviction.
func ObserveCacheEvent(service, event string) {
	cacheEventsTotal.WithLabelValues(service, event).Inc()
}

// ObserveUpstreamRequest records the outcome and latency of an upstream call.
func ObserveUpstreamRequest(service, outcome string, duration time.Duration) {
	upstreamRequestsTotal.WithLabelValues(service, outcome).Inc()
	upstreamRequestDurationSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent waiting on a rate limiter.
func ObserveRateLimitDelay(service string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// CountCrawlPage counts a crawl result by status.
func CountCrawlPage(status string) {
	crawlPagesTotal.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

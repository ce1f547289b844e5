// Package metrics exposes Prometheus collectors for the competitor-ads service.
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
	resolverLookupsTotal       *prometheus.CounterVec
	resolverWidenedTotal       prometheus.Counter
	resolverDurationSeconds    *prometheus.HistogramVec
	fillItemsTotal             *prometheus.CounterVec
	fillRunDurationSeconds     prometheus.Histogram
	fillScheduleTotal          *prometheus.CounterVec
	fillActiveRuns             prometheus.Gauge
	cacheRequestsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		resolverLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adsnap_resolver_lookups_total",
				Help: "Archive lookups, labeled by site and outcome (found, empty, error, memo_hit).",
			},
			[]string{"site", "outcome"},
		)

		resolverWidenedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "adsnap_resolver_widened_total",
				Help: "Archive lookups retried with the wide window after an empty narrow window.",
			},
		)

		resolverDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adsnap_resolver_duration_seconds",
				Help:    "Histogram of archive lookup latencies including the widening retry.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		fillItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adsnap_fill_items_total",
				Help: "Screenshot work items, labeled by outcome (filled, render_failed, upload_failed).",
			},
			[]string{"outcome"},
		)

		fillRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "adsnap_fill_run_duration_seconds",
				Help:    "Histogram of full screenshot fill run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		)

		fillScheduleTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adsnap_fill_schedule_total",
				Help: "Fill scheduling attempts, labeled by result (scheduled, in_flight, queue_full).",
			},
			[]string{"result"},
		)

		fillActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "adsnap_fill_active_runs",
				Help: "Number of fill runs currently holding a browser session.",
			},
		)

		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adsnap_cache_requests_total",
				Help: "Weekly payload requests, labeled by the cache state they observed.",
			},
			[]string{"state"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adsnap_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adsnap_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adsnap_rate_limit_delays_seconds",
				Help:    "Histogram of archive index rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveResolve records one archive lookup.
func ObserveResolve(site, outcome string, duration time.Duration) {
	Init()
	resolverLookupsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
	resolverDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveMemoHit records a lookup served from the memo.
func ObserveMemoHit(site string) {
	Init()
	resolverLookupsTotal.WithLabelValues(SanitizeSite(site), "memo_hit").Inc()
}

// ObserveWidened increments the widening retry counter.
func ObserveWidened() {
	Init()
	resolverWidenedTotal.Inc()
}

// ObserveFillItem increments the fill item counter for the given outcome.
func ObserveFillItem(outcome string) {
	Init()
	fillItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFillRun records a completed fill run.
func ObserveFillRun(duration time.Duration) {
	Init()
	fillRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveSchedule records a fill scheduling attempt.
func ObserveSchedule(result string) {
	Init()
	fillScheduleTotal.WithLabelValues(result).Inc()
}

// IncActiveFills increments the active fill gauge.
func IncActiveFills() {
	Init()
	fillActiveRuns.Inc()
}

// DecActiveFills decrements the active fill gauge.
func DecActiveFills() {
	Init()
	fillActiveRuns.Dec()
}

// ObserveCacheState records which cache state a request observed.
func ObserveCacheState(state string) {
	Init()
	cacheRequestsTotal.WithLabelValues(state).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

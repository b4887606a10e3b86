// Package metrics exposes Prometheus collectors for the cache warmer.
package metrics

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	warmerFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmer_fetches_total",
			Help: "Total number of warmed URLs, labeled by country and origin cache status.",
		},
		[]string{"country", "cache_status"},
	)

	warmerFetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmer_fetch_errors_total",
			Help: "Total number of URLs whose attempts were exhausted, labeled by country and error class.",
		},
		[]string{"country", "class"},
	)

	warmerFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warmer_fetch_duration_seconds",
			Help:    "Histogram of per-URL warm latency including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"country"},
	)

	warmerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmer_retries_total",
			Help: "Total number of fetch retries, labeled by country and error class.",
		},
		[]string{"country", "class"},
	)

	warmerPurgeBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmer_purge_batches_total",
			Help: "Total number of purge batches submitted, labeled by result.",
		},
		[]string{"result"},
	)

	warmerPurgedURLsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmer_purged_urls_total",
			Help: "Total number of URLs acknowledged by the purge API.",
		},
	)

	warmerLogFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmer_log_flushes_total",
			Help: "Total number of run log flushes, labeled by result.",
		},
		[]string{"result"},
	)

	warmerActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warmer_active_workers",
			Help: "Number of warming workers currently running.",
		},
	)

	warmerRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warmer_rate_limit_delays_seconds",
			Help:    "Histogram of per-host rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmer_status_http_requests_total",
			Help: "Total number of status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
)

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

// ObserveFetch records one completed warm request.
func ObserveFetch(country, cacheStatus string, duration time.Duration) {
	warmerFetchesTotal.WithLabelValues(country, cacheStatus).Inc()
	warmerFetchDurationSeconds.WithLabelValues(country).Observe(duration.Seconds())
}

// ObserveFetchError records a URL whose attempts were exhausted.
func ObserveFetchError(country, class string) {
	warmerFetchErrorsTotal.WithLabelValues(country, class).Inc()
}

// ObserveRetry records one retry decision.
func ObserveRetry(country, class string) {
	warmerRetriesTotal.WithLabelValues(country, class).Inc()
}

// ObservePurgeBatch records one purge batch and, on success, its size.
func ObservePurgeBatch(ok bool, urls int) {
	if !ok {
		warmerPurgeBatchesTotal.WithLabelValues("failed").Inc()
		return
	}
	warmerPurgeBatchesTotal.WithLabelValues("ok").Inc()
	warmerPurgedURLsTotal.Add(float64(urls))
}

// ObserveLogFlush records the result of a run log flush.
func ObserveLogFlush(result string) {
	warmerLogFlushesTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	warmerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	warmerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	warmerRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest counts one status server request.
func ObserveHTTPRequest(method string, code int) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// Package metrics exposes Prometheus collectors for the taped service.
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
	fetchesTotal                  *prometheus.CounterVec
	fetchBytesTotal               *prometheus.CounterVec
	feedEntriesSkippedTotal       *prometheus.CounterVec
	catalogCassettes              prometheus.Gauge
	catalogPublishesTotal         *prometheus.CounterVec
	catalogBuildFailuresTotal     prometheus.Counter
	catalogBuildDurationSeconds   prometheus.Histogram
	playbackActionsTotal          *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	upstreamRateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taped_fetches_total",
				Help: "Upstream fetches, labeled by page kind and status.",
			},
			[]string{"kind", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taped_fetch_bytes_total",
				Help: "Bytes fetched from upstream, labeled by page kind.",
			},
			[]string{"kind"},
		)

		feedEntriesSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taped_feed_entries_skipped_total",
				Help: "Feed entries not turned into cassettes, labeled by reason.",
			},
			[]string{"reason"},
		)

		catalogCassettes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taped_catalog_cassettes",
				Help: "Number of cassettes in the published catalog.",
			},
		)

		catalogPublishesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taped_catalog_publishes_total",
				Help: "Catalog publishes, labeled by source.",
			},
			[]string{"source"},
		)

		catalogBuildFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taped_catalog_build_failures_total",
				Help: "Failed catalog build attempts.",
			},
		)

		catalogBuildDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taped_catalog_build_duration_seconds",
				Help:    "Duration of successful catalog builds.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		)

		playbackActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taped_playback_actions_total",
				Help: "Playback actions, labeled by action and result.",
			},
			[]string{"action", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taped_http_requests_total",
				Help: "HTTP requests, labeled by method, matched route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taped_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		upstreamRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taped_rate_limit_delays_seconds",
				Help:    "Histogram of upstream rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// HostLabel reduces a URL to the host it is served from: lowercased, port
// and a leading "www." dropped. Both the www and bare blog hosts therefore
// share one label and one rate-limit bucket. Unparseable input is "unknown".
func HostLabel(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one upstream fetch.
func ObserveFetch(kind, status string, bytesFetched int) {
	Init()
	fetchesTotal.WithLabelValues(kind, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(kind).Add(float64(bytesFetched))
	}
}

// ObserveSkippedEntry records a feed entry dropped during extraction.
func ObserveSkippedEntry(reason string) {
	Init()
	feedEntriesSkippedTotal.WithLabelValues(reason).Inc()
}

// ObservePublish records a catalog publish and its size.
func ObservePublish(source string, cassettes int) {
	Init()
	catalogPublishesTotal.WithLabelValues(source).Inc()
	catalogCassettes.Set(float64(cassettes))
}

// ObserveBuild records the outcome of one catalog build attempt.
func ObserveBuild(duration time.Duration, err error) {
	Init()
	if err != nil {
		catalogBuildFailuresTotal.Inc()
		return
	}
	catalogBuildDurationSeconds.Observe(duration.Seconds())
}

// ObservePlayback records a play or stop request.
func ObservePlayback(action string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	playbackActionsTotal.WithLabelValues(action, result).Inc()
}

// ObserveHTTPRequest records one served request under its route pattern.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	upstreamRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

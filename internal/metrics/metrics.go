// Package metrics defines the Prometheus collectors for the preview
// service. Collectors are registered via promauto at package load.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Media cache metrics
var (
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preview_cache_hits_total",
		Help: "Total number of media cache hits",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preview_cache_misses_total",
		Help: "Total number of media cache misses (downloads started)",
	})

	CacheAttachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preview_cache_attached_total",
		Help: "Total number of callers attached to an in-flight download",
	})

	CacheDownloadFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preview_cache_download_failures_total",
		Help: "Total number of failed media downloads",
	})

	CacheDownloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preview_cache_download_bytes_total",
		Help: "Total bytes downloaded into the media cache",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "preview_cache_entries",
		Help: "Number of live media cache entries",
	})
)

// Preview session metrics
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "preview_sessions_active",
		Help: "Number of live preview sessions",
	})

	SessionErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preview_session_errors_total",
		Help: "Total number of preview sessions that entered the error state",
	})
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "preview_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

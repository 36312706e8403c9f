// Package observability holds the Prometheus collectors shared by the service.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	upstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Failed upstream calls.",
		},
		[]string{"upstream"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Search cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by result.",
		},
		[]string{"op", "result"},
	)

	redisOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	searchGranules = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_granules",
			Help:    "Granules returned per search.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	coverageReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_reports_total",
			Help: "Coverage computations by outcome (computed, empty, degenerate).",
		},
		[]string{"outcome"},
	)

	previewRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_renders_total",
			Help: "Raster preview renders by outcome.",
		},
		[]string{"outcome"},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Search events dropped because the publish queue was full.",
		},
	)

	invalMsgs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inval_msgs_total",
			Help: "Ingest notifications consumed, by result.",
		},
		[]string{"result"},
	)

	invalRegions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inval_regions_total",
			Help: "Regions purged from the search cache by ingest notifications.",
		},
	)

	invalProcessingSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inval_processing_seconds",
			Help:    "Processing time for one ingest notification.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"op"},
	)

	invalLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inval_lag_seconds",
			Help: "Approximate lag: now - message timestamp.",
		},
	)

	hotRegions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hot_regions",
			Help: "Regions currently tracked by the hotness model.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		upstreamLatencySeconds, upstreamErrorsTotal,
		cacheResults, cacheOpTotal, redisOpDurationSeconds,
		searchGranules, coverageReports, previewRenders,
		eventsDropped, hotRegions,
		invalMsgs, invalRegions, invalProcessingSeconds, invalLagSeconds,
	}
}

// Init registers the collectors with reg. Collectors are always usable; when
// disabled they are simply never scraped.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncUpstreamError(upstream string) {
	upstreamErrorsTotal.WithLabelValues(upstream).Inc()
}

func IncCacheHit(tier string) {
	cacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncCacheMiss(tier string) {
	cacheResults.WithLabelValues(tier, "miss").Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(op, result).Inc()
	redisOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveSearchGranules(n int) {
	searchGranules.Observe(float64(n))
}

func IncCoverageReport(outcome string) {
	coverageReports.WithLabelValues(outcome).Inc()
}

func IncPreviewRender(outcome string) {
	previewRenders.WithLabelValues(outcome).Inc()
}

func IncEventsDropped() {
	eventsDropped.Inc()
}

func SetHotRegions(n int) {
	hotRegions.Set(float64(n))
}

// ObserveInvalidation records one processed notification. result is ok,
// purge_all, skip, or error.
func ObserveInvalidation(op, result string, regions int, durationSeconds float64) {
	if op == "" {
		op = "unknown"
	}
	invalMsgs.WithLabelValues(result).Inc()
	invalRegions.Add(float64(regions))
	invalProcessingSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func SetInvalidationLagSeconds(v float64) {
	invalLagSeconds.Set(v)
}

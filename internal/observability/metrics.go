package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	// Core metrics
	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Routing metrics
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	boostFallbacks *prometheus.CounterVec

	// Backend metrics
	backendUp         *prometheus.GaugeVec
	backendTools      *prometheus.GaugeVec
	backendReconnects *prometheus.GaugeVec
	connectLatency    *prometheus.HistogramVec

	// Cache metrics
	cacheEntries prometheus.Gauge
	cacheHits    prometheus.Gauge
	cacheMisses  prometheus.Gauge
	cacheExpired prometheus.Gauge
	cacheEvicted prometheus.Gauge

	// Index and journal metrics
	indexSize      prometheus.Gauge
	journalRecords prometheus.Gauge
	journalDropped prometheus.Gauge
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

// initMetrics initializes all Prometheus metrics
func (mm *MetricsManager) initMetrics() {
	// System metrics
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notionfast_uptime_seconds",
		Help: "Time since the application started",
	})

	// HTTP metrics for the debug endpoint
	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionfast_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notionfast_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Routing metrics
	mm.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionfast_tool_calls_total",
			Help: "Total number of routed tool calls",
		},
		[]string{"tool", "mode", "backend", "status"},
	)

	mm.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notionfast_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool", "mode", "backend", "status"},
	)

	mm.boostFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionfast_boost_fallbacks_total",
			Help: "Tool calls that fell back from the fast backend to the official one",
		},
		[]string{"tool", "reason"}, // reason: error, empty
	)

	// Backend metrics
	mm.backendUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notionfast_backend_up",
			Help: "Whether a backend is connected (1) or not (0)",
		},
		[]string{"backend"},
	)

	mm.backendTools = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notionfast_backend_tools",
			Help: "Number of tools advertised by a backend",
		},
		[]string{"backend"},
	)

	mm.backendReconnects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notionfast_backend_reconnects_total",
			Help: "Number of transport rebuilds since startup",
		},
		[]string{"backend"},
	)

	mm.connectLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notionfast_backend_connect_duration_seconds",
			Help:    "Time taken to connect to a backend",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend", "result"}, // result: success, failed
	)

	// Cache metrics
	mm.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notionfast_cache_entries",
		Help: "Number of live entries in the response cache",
	})

	mm.cacheHits = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notionfast_cache_hits_total",
		Help: "Response cache hits since startup",
	})

	mm.cacheMisses = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notionfast_cache_misses_total",
		Help: "Response cache misses since startup",
	})

	mm.cacheExpired = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notionfast_cache_expired_total",
		Help: "Response cache entries discarded because their TTL elapsed",
	})

	mm.cacheEvicted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notionfast_cache_evicted_total",
		Help: "Response cache entries evicted to stay within the size bound",
	})

	// Index metrics
	mm.indexSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notionfast_index_documents_total",
		Help: "Number of documents in the tool search index",
	})

	// Journal metrics
	mm.journalRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notionfast_journal_records",
		Help: "Number of call records held in the journal",
	})

	mm.journalDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notionfast_journal_dropped_total",
		Help: "Call records dropped because the journal queue was full",
	})
}

// registerMetrics registers all metrics with the registry
func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.toolCalls,
		mm.toolDuration,
		mm.boostFallbacks,
		mm.backendUp,
		mm.backendTools,
		mm.backendReconnects,
		mm.connectLatency,
		mm.cacheEntries,
		mm.cacheHits,
		mm.cacheMisses,
		mm.cacheExpired,
		mm.cacheEvicted,
		mm.indexSize,
		mm.journalRecords,
		mm.journalDropped,
	)

	// Also register Go runtime metrics
	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// Metric update methods

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordToolCall records a routed tool call
func (mm *MetricsManager) RecordToolCall(tool, mode, backend, status string, duration time.Duration) {
	mm.toolCalls.WithLabelValues(tool, mode, backend, status).Inc()
	mm.toolDuration.WithLabelValues(tool, mode, backend, status).Observe(duration.Seconds())
}

// RecordBoostFallback records a call that the fast backend could not answer
func (mm *MetricsManager) RecordBoostFallback(tool, reason string) {
	mm.boostFallbacks.WithLabelValues(tool, reason).Inc()
}

// RecordConnect records a backend connection attempt
func (mm *MetricsManager) RecordConnect(backend, result string, duration time.Duration) {
	mm.connectLatency.WithLabelValues(backend, result).Observe(duration.Seconds())
}

// SetBackendStats updates per-backend connection gauges
func (mm *MetricsManager) SetBackendStats(backend string, connected bool, tools, reconnects int) {
	up := 0.0
	if connected {
		up = 1.0
	}
	mm.backendUp.WithLabelValues(backend).Set(up)
	mm.backendTools.WithLabelValues(backend).Set(float64(tools))
	mm.backendReconnects.WithLabelValues(backend).Set(float64(reconnects))
}

// SetCacheStats updates response cache gauges from a stats snapshot
func (mm *MetricsManager) SetCacheStats(entries int, hits, misses, expired, evicted int64) {
	mm.cacheEntries.Set(float64(entries))
	mm.cacheHits.Set(float64(hits))
	mm.cacheMisses.Set(float64(misses))
	mm.cacheExpired.Set(float64(expired))
	mm.cacheEvicted.Set(float64(evicted))
}

// SetIndexSize sets the search index size
func (mm *MetricsManager) SetIndexSize(size uint64) {
	mm.indexSize.Set(float64(size))
}

// SetJournalStats updates journal gauges from a stats snapshot
func (mm *MetricsManager) SetJournalStats(records int, dropped int64) {
	mm.journalRecords.Set(float64(records))
	mm.journalDropped.Set(float64(dropped))
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the response writer to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), duration)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

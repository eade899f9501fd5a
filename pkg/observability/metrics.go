package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every recording method is safe to
// call on a nil *Metrics so that components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheErrorsTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Resolver metrics
	ResolveDuration    prometheus.Histogram
	ResolveErrorsTotal prometheus.Counter

	// Override administration metrics
	OverrideMutationsTotal *prometheus.CounterVec

	// Maintenance metrics
	IntegrityViolations prometheus.Gauge
	ActiveOverrides     prometheus.Gauge
	ArchivedEventsTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"cache_type"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_errors_total",
				Help: "Total number of permission cache failures (served uncached)",
			},
			[]string{"cache_type", "operation"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_invalidations_total",
				Help: "Total number of per-user cache invalidations",
			},
			[]string{"reason"},
		),

		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_resolve_duration_seconds",
				Help:    "Effective permission resolution duration in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		ResolveErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_resolve_errors_total",
				Help: "Total number of failed permission resolutions",
			},
		),

		OverrideMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_override_mutations_total",
				Help: "Total number of grant/deny/revoke calls by outcome",
			},
			[]string{"operation", "outcome"},
		),

		IntegrityViolations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_integrity_violations",
				Help: "Number of (user, permission) slots with more than one active override",
			},
		),
		ActiveOverrides: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_active_overrides",
				Help: "Number of active permission overrides",
			},
		),
		ArchivedEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_archived_events_total",
				Help: "Total number of override events exported to the archive",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.CacheInvalidationsTotal,
		m.ResolveDuration,
		m.ResolveErrorsTotal,
		m.OverrideMutationsTotal,
		m.IntegrityViolations,
		m.ActiveOverrides,
		m.ArchivedEventsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// CacheHit records a permission cache hit
func (m *Metrics) CacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// CacheMiss records a permission cache miss
func (m *Metrics) CacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// CacheError records a cache failure that was absorbed by the caller
func (m *Metrics) CacheError(cacheType, operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(cacheType, operation).Inc()
}

// CacheInvalidation records a per-user invalidation
func (m *Metrics) CacheInvalidation(reason string) {
	if m == nil {
		return
	}
	m.CacheInvalidationsTotal.WithLabelValues(reason).Inc()
}

// ObserveResolve records the duration and outcome of one resolution
func (m *Metrics) ObserveResolve(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(duration.Seconds())
	if err != nil {
		m.ResolveErrorsTotal.Inc()
	}
}

// OverrideMutation records a grant/deny/revoke outcome
func (m *Metrics) OverrideMutation(operation, outcome string) {
	if m == nil {
		return
	}
	m.OverrideMutationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordIntegrity sets the override integrity gauges
func (m *Metrics) RecordIntegrity(violations, active int) {
	if m == nil {
		return
	}
	m.IntegrityViolations.Set(float64(violations))
	m.ActiveOverrides.Set(float64(active))
}

// ArchivedEvents counts override events exported to the archive
func (m *Metrics) ArchivedEvents(n int) {
	if m == nil {
		return
	}
	m.ArchivedEventsTotal.Add(float64(n))
}

// RecordDBStats copies connection pool statistics into gauges
func (m *Metrics) RecordDBStats(db *sql.DB) {
	if m == nil || db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
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

// routeLabel returns the mux path template so that user ids do not become
// label values
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
}

// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for warden.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", 42).Info("permissions resolved")
//
// Request-scoped loggers carry the request ID, the authenticated user and
// the active trace:
//
//	observability.FromContext(r.Context()).Warn("cache unavailable")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// HTTP metrics are labelled with the gorilla/mux route template, never the
// raw path.
//
// # Tracing
//
// StartTelemetry installs OTLP/gRPC trace and metric exporters as the global
// providers and returns a Telemetry to flush them on shutdown. Tracer returns
// the package tracer used by the resolver and the administration service.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(
//		observability.DatabaseProbe(db),
//		observability.RedisProbe(client),
//	)
//	observability.RegisterHealthRoutes(router, checker)
//
// /health/live always answers 200. /health/ready answers 503 only when a
// critical probe fails; other failures report "degraded".
//
// # Background goroutines
//
// Go starts a goroutine whose panics are logged instead of crashing the process.
package observability

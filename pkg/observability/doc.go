// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks, and graceful shutdown for the
// onboarding service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithField("invitation_id", id).Info("Invitation created")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// Metrics also satisfies the directory client's request observer, so admin
// API calls are counted per operation and outcome.
//
// # Tracing
//
// InitOTel installs global tracer and meter providers exporting over OTLP gRPC.
// StartSpan and EndSpan wrap the steps of invitation creation and acceptance.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(directoryClient, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// The directory is required for readiness. Redis only degrades it.
package observability

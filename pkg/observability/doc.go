// Package observability provides logrus logging, Prometheus metrics, OTLP
// tracing, health checks and graceful shutdown for the hrcore binaries.
//
// # Logging
//
//	logger := observability.NewLogger("info", "json", os.Stdout)
//	logger.WithField("user_id", 42).Warn("permission refill failed")
//
// # Metrics
//
// A nil *Metrics is valid, so components take one optionally:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Tracing
//
// Spans from the resolver, the audit recorder and otelhttp are exported only
// once InitTracing has installed a provider:
//
//	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "hrcore",
//		Insecure:    true,
//	}, logger)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
package observability

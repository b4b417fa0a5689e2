// Package observability provides Prometheus metrics, health checks and
// graceful shutdown for the source root daemon.
//
// # Prometheus Metrics
//
// Metrics are registered on a caller-supplied registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// Every component accepts a nil *Metrics and then records nothing.
//
// # Health Checks
//
// The checker checks the model database and, when configured, Redis. Other
// components register checks of their own:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("registry", false, func(ctx context.Context) error {
//		_, err := registry.Serializers()
//		return err
//	})
//	observability.RegisterHealthRoutes(router, checker)
//
// A failing database or critical check is unhealthy (503 on readiness); a
// failing Redis or optional check is degraded.
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(log, server, 30*time.Second)
//	sm.RegisterShutdownFunc("registry", func(ctx context.Context) error { return registry.Close() })
//	err := sm.WaitForShutdown(ctx)
package observability

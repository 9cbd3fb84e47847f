// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// tracing, health checks and graceful shutdown for crew.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stdout)
//	logger.WithField("project_id", projectID).Info("member added")
//
// Request-scoped loggers carry the request and user IDs:
//
//	observability.FromContext(r.Context()).Warn("permission data issue")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//
// Metrics implements the cache and decision observers of pkg/rbac, so it can be
// handed directly to rbac.NewCachedStore, rbac.NewRedisStore and
// rbac.NewPermissionMiddleware. All recording methods accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version).
//		RequireSchemaVersion(len(rbac.GetMigrations()))
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "crew",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability

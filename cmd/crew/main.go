package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/platinummonkey/crew/pkg/api"
	"github.com/platinummonkey/crew/pkg/async"
	"github.com/platinummonkey/crew/pkg/audit"
	"github.com/platinummonkey/crew/pkg/auth"
	"github.com/platinummonkey/crew/pkg/config"
	"github.com/platinummonkey/crew/pkg/httputil"
	"github.com/platinummonkey/crew/pkg/middleware"
	"github.com/platinummonkey/crew/pkg/observability"
	"github.com/platinummonkey/crew/pkg/projects"
	"github.com/platinummonkey/crew/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewFormattedLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("crew exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Connected to PostgreSQL")

	if cfg.Database.AutoMigrate {
		applied, err := rbac.RunMigrations(ctx, db)
		if err != nil {
			return err
		}
		for _, m := range applied {
			logger.WithField("version", m.Version).Infof("Applied migration: %s", m.Description)
		}
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	var redisClient *redis.Client
	redisOpts := rbac.RedisOptions{
		URL:        cfg.Cache.RedisURL,
		Password:   cfg.Cache.RedisPassword,
		DB:         cfg.Cache.RedisDB,
		PoolSize:   cfg.Cache.RedisPoolSize,
		MaxRetries: cfg.Cache.RedisMaxRetries,
		TTL:        cfg.Cache.RedisTTL,
		KeyPrefix:  cfg.Cache.RedisKeyPrefix,
	}
	if cfg.Cache.RedisURL != "" {
		redisClient, err = rbac.NewRedisClient(ctx, redisOpts)
		if err != nil {
			return err
		}
		logger.Info("Connected to Redis")
	}

	// Reads go SQL -> Redis -> in-process LRU; writers invalidate both layers
	var store rbac.Storage = rbac.NewSQLStore(db)
	var invalidators rbac.Invalidators
	if redisClient != nil {
		l2 := rbac.NewRedisStore(redisClient, store, redisOpts, metrics)
		store = l2
		invalidators = append(invalidators, l2)
	}
	if cfg.Cache.L1Size > 0 {
		l1 := rbac.NewCachedStore(store, cfg.Cache.L1Size, cfg.Cache.L1TTL, metrics)
		store = l1
		invalidators = append(invalidators, l1)
	}

	issues := projects.NewIssueLogger(logger, metrics)
	checker := rbac.NewChecker(store, rbac.WithIssueReporter(issues))

	serviceOpts := []projects.Option{
		projects.WithInvalidator(invalidators),
		projects.WithIssueReporter(issues),
		projects.WithLogger(logger),
		projects.WithMetrics(metrics),
		projects.WithMaxTxRetries(cfg.RBAC.TxMaxRetries),
	}
	service := projects.NewService(db, serviceOpts...)

	// Role templates are reloaded whenever the file changes
	var templateWatcher *projects.TemplateWatcher
	if cfg.RBAC.TemplatesPath != "" {
		templateWatcher, err = projects.NewTemplateWatcher(service, cfg.RBAC.TemplatesPath, logger)
		if err != nil {
			return err
		}
		go templateWatcher.Run(ctx)
		logger.WithField("path", cfg.RBAC.TemplatesPath).Info("Loaded role templates")
	}

	tokens := auth.NewTokenStore(db)
	server := api.NewServer(service, checker, rbac.NewPermissionMiddleware(checker, metrics), tokens)
	if metrics != nil {
		server.Router().Use(observability.HTTPMetricsMiddleware(metrics))
	}

	handler := withMiddleware(ctx, cfg, logger, metrics, redisClient, tokens, server)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker(db, redisClient, cfg.Observability.OTelServiceVersion).
		RequireSchemaVersion(len(rbac.GetMigrations()))
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, healthChecker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler, err := startJobs(ctx, cfg, logger, metrics, db, tokens)
	if err != nil {
		return err
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	if templateWatcher != nil {
		shutdown.RegisterShutdownFunc("templates", func(context.Context) error {
			return templateWatcher.Close()
		})
	}
	shutdown.RegisterShutdownFunc("cron", func(context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	serve(logger, healthServer, "health")
	serve(logger, apiServer, "api")

	return shutdown.WaitForShutdown()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// withMiddleware wraps the API router, outermost first: tracing, request id,
// logging, panic recovery, body limits, authentication, then rate limiting
func withMiddleware(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics,
	redisClient *redis.Client, tokens *auth.TokenStore, server *api.Server) http.Handler {

	inner := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		// Anonymous requests pass so they are rate limited by IP; handlers and
		// permission gates answer them with 401
		middleware.NewAuthMiddleware(tokens, true).OnFailure(metrics.AuthFailure).Handler,
	}

	if cfg.RateLimit.Enabled {
		userCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.UserRequests,
			WindowDuration:    cfg.RateLimit.Window,
			BurstSize:         cfg.RateLimit.Burst,
		}
		anonCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.AnonRequests,
			WindowDuration:    cfg.RateLimit.Window,
			BurstSize:         cfg.RateLimit.Burst,
		}

		var userLimiter, anonLimiter middleware.Limiter
		if cfg.RateLimit.UseRedis && redisClient != nil {
			userLimiter = middleware.NewDistributedRateLimiter(redisClient, userCfg, "crew:ratelimit:user")
			anonLimiter = middleware.NewDistributedRateLimiter(redisClient, anonCfg, "crew:ratelimit:anon")
			logger.Info("Using Redis-backed rate limiting")
		} else {
			local, anon := middleware.NewRateLimiter(userCfg), middleware.NewRateLimiter(anonCfg)
			local.StartCleanup(ctx)
			anon.StartCleanup(ctx)
			userLimiter, anonLimiter = local, anon
		}

		limits := middleware.NewRateLimitMiddleware(userLimiter, anonLimiter, func(err error) {
			logger.WithError(err).Warn("Rate limiter unavailable")
		})
		limits.SetFailOpen(cfg.RateLimit.FailOpen)
		limits.OnLimited(metrics.RateLimited)
		inner = append(inner, limits.Handler)
	}

	handler := httputil.Chain(inner...)(server)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "crew-api")
	}
	return handler
}

// startJobs schedules maintenance: expired token cleanup, audit retention and pool stats
func startJobs(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics,
	db *sql.DB, tokens *auth.TokenStore) (*cron.Cron, error) {

	scheduler := cron.New()

	cleanup := func(ctx context.Context) error {
		n, err := tokens.CleanupExpiredTokens(ctx)
		if err != nil {
			return err
		}
		metrics.TokensCleaned(n)
		if n > 0 {
			logger.WithField("count", n).Info("Revoked expired API tokens")
		}
		return nil
	}

	if cfg.Tokens.CleanupSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Tokens.CleanupSchedule, func() {
			_ = async.Run(ctx, logger, time.Minute, "token cleanup", cleanup)
		}); err != nil {
			return nil, err
		}
		async.SafeGo(ctx, logger, time.Minute, "initial token cleanup", cleanup)
	}

	if cfg.Audit.Retention > 0 {
		auditLog := audit.NewDBLogger(db)
		prune := func(ctx context.Context) error {
			n, err := auditLog.Cleanup(ctx, cfg.Audit.Retention)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.WithField("count", n).Info("Pruned audit events")
			}
			return nil
		}
		if _, err := scheduler.AddFunc(cfg.Audit.CleanupSchedule, func() {
			_ = async.Run(ctx, logger, 5*time.Minute, "audit cleanup", prune)
		}); err != nil {
			return nil, err
		}
	}

	if metrics != nil {
		if _, err := scheduler.AddFunc("@every 15s", func() {
			defer observability.RecoverPanic(logger, "db stats")
			metrics.UpdateDBStats(db.Stats())
		}); err != nil {
			return nil, err
		}
	}

	scheduler.Start()
	logger.WithField("token_cleanup", cfg.Tokens.CleanupSchedule).
		WithField("audit_retention", cfg.Audit.Retention.String()).
		Info("Maintenance jobs scheduled")
	return scheduler, nil
}

func serve(logger *observability.Logger, server *http.Server, name string) {
	go func() {
		defer observability.RecoverPanic(logger, name+" server")
		logger.WithField("addr", server.Addr).Infof("Starting %s server", name)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Errorf("%s server failed", name)
		}
	}()
}

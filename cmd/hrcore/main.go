// Command hrcore serves the HR core API: permission administration, token
// authentication and the audit log, with every /api request audited.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhdesk/hrcore/pkg/async"
	"github.com/rhdesk/hrcore/pkg/audit"
	"github.com/rhdesk/hrcore/pkg/auth"
	"github.com/rhdesk/hrcore/pkg/config"
	"github.com/rhdesk/hrcore/pkg/httputil"
	"github.com/rhdesk/hrcore/pkg/middleware"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/rhdesk/hrcore/pkg/rbac"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	logger.Info("Starting hrcore")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("hrcore stopped with an error")
	}
	logger.Info("hrcore stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = rbac.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	tp, err := observability.InitTracing(ctx, tracingConfig(cfg.Observability), logger)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Permissions
	var cache rbac.Cache
	if cfg.Cache.Backend == config.CacheBackendRedis {
		cache = rbac.NewRedisCache(redisClient, logger)
	}
	manager := rbac.NewManager(db, cache, rbac.Config{
		CacheTTL:  cfg.Cache.TTL,
		CacheSize: cfg.Cache.Size,
	}, logger, metrics)

	policy, err := rbac.LoadPolicy(cfg.Policy.File)
	if err != nil {
		return err
	}

	authStore := auth.NewSQLStore(db)
	auditStore, err := audit.NewDBWriter(db, metrics)
	if err != nil {
		return err
	}

	if cfg.Database.Migrate {
		if err := migrate(ctx, manager, authStore, auditStore); err != nil {
			return err
		}
		logger.Info("Database schema is up to date")
	}

	// Audit trail
	pipeline, err := newAuditPipeline(ctx, cfg, auditStore, logger, metrics)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(pipeline.writer, pipeline.queue, logger, metrics)

	// Authentication
	authService := auth.NewService(authStore, cfg.Auth.TokenTTL, logger)
	authenticator := middleware.NewAuthenticator(authService, !cfg.Auth.RequireToken, logger)

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient))
	if metrics != nil {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}

	manager.RegisterRoutes(router, authStore, policy)
	audit.NewHandlers(auditStore, logger).RegisterRoutes(router, manager.Middleware())

	authHandlers := auth.NewHandlers(authService, recorder, logger)
	if limiter := newLoginLimiter(ctx, cfg.Auth, redisClient); limiter != nil {
		authHandlers.RegisterRoutes(router, middleware.RateLimit(limiter, logger))
	} else {
		authHandlers.RegisterRoutes(router)
	}

	// Outermost first. Recovery sits inside the audit interceptor so a
	// panicking handler is still recorded as a 500.
	var handler http.Handler = router
	handler = authenticator.Handler(handler)
	handler = httputil.RecoveryMiddleware(logger)(handler)
	handler = httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes)(handler)
	handler = audit.NewMiddleware(recorder, logger).Handler(handler)
	handler = httputil.LoggingMiddleware(logger)(handler)
	handler = httputil.RequestIDMiddleware(handler)
	handler = otelhttp.NewHandler(handler, "hrcore")

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(pipeline.close)
	if tp != nil {
		shutdown.RegisterShutdownFunc(tp.Shutdown)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case err := <-shutdownErr:
		return err
	}
}

func tracingConfig(cfg config.ObservabilityConfig) observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:        cfg.TracingEnabled,
		Endpoint:       cfg.TracingEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Insecure:       cfg.TracingInsecure,
		SampleRatio:    cfg.TracingSampleRatio,
	}
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func migrate(ctx context.Context, manager *rbac.Manager, authStore *auth.SQLStore, auditStore *audit.DBWriter) error {
	if err := authStore.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate auth schema: %w", err)
	}
	if err := manager.Initialize(ctx); err != nil {
		return err
	}
	if err := auditStore.EnsureTable(ctx); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// auditPipeline is the writer and optional queue behind the recorder
type auditPipeline struct {
	writer audit.Writer
	queue  audit.Queue
	close  observability.ShutdownFunc
}

func newAuditPipeline(ctx context.Context, cfg *config.Config, store *audit.DBWriter, logger *logrus.Logger, metrics *observability.Metrics) (*auditPipeline, error) {
	var (
		writer  audit.Writer = store
		closers []func() error
	)

	if cfg.Audit.FileDir != "" {
		fileWriter, err := audit.NewFileWriter(audit.FileWriterConfig{
			Dir:        cfg.Audit.FileDir,
			MaxSizeMB:  cfg.Audit.FileMaxSizeMB,
			MaxBackups: cfg.Audit.FileMaxBackups,
			MaxAgeDays: cfg.Audit.FileMaxAgeDays,
			Compress:   cfg.Audit.FileCompress,
		})
		if err != nil {
			return nil, err
		}
		writer = audit.NewMultiWriter(store, fileWriter)
		closers = append(closers, fileWriter.Close)
	}

	p := &auditPipeline{writer: writer}

	switch cfg.Audit.Mode {
	case config.AuditModePool:
		pool := async.NewWorkerPool(ctx, async.PoolConfig{
			Workers:   cfg.Audit.PoolWorkers,
			QueueSize: cfg.Audit.PoolQueueSize,
			Timeout:   10 * time.Second,
			TaskName:  "audit-write",
		}, logger)
		p.queue = audit.NewPoolQueue(pool, writer, logger, metrics)
		// drain before the file sink closes
		closers = append([]func() error{func() error { return pool.Shutdown(cfg.Server.ShutdownTimeout) }}, closers...)
	case config.AuditModeAsynq:
		opt, err := asynq.ParseRedisURI(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL for asynq: %w", err)
		}
		client := asynq.NewClient(opt)
		p.queue = audit.NewAsynqQueue(client, cfg.Audit.Queue)
		closers = append(closers, client.Close)
	}

	logger.WithFields(logrus.Fields{
		"mode":     cfg.Audit.Mode,
		"file_dir": cfg.Audit.FileDir,
	}).Info("Audit trail configured")

	p.close = func(context.Context) error {
		var errs []error
		for _, c := range closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return p, nil
}

// newLoginLimiter returns nil when login throttling is disabled
func newLoginLimiter(ctx context.Context, cfg config.AuthConfig, redisClient *redis.Client) middleware.Limiter {
	if cfg.LoginRateLimit == 0 {
		return nil
	}
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.LoginRateLimit,
		WindowDuration:    cfg.LoginRateWindow,
	}
	if redisClient != nil {
		return middleware.NewDistributedRateLimiter(redisClient, limits, "hrcore:ratelimit:login")
	}
	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return limiter
}

// Command hrcore-worker consumes audit:write tasks from Redis and persists
// them. It is only needed when HRCORE_AUDIT_MODE=asynq.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhdesk/hrcore/pkg/audit"
	"github.com/rhdesk/hrcore/pkg/config"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	logger.Info("Starting hrcore audit worker")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("audit worker stopped with an error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	if cfg.Redis.URL == "" {
		return fmt.Errorf("HRCORE_REDIS_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Audit.WorkerConcurrency)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	tp, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		Enabled:        cfg.Observability.TracingEnabled,
		Endpoint:       cfg.Observability.TracingEndpoint,
		ServiceName:    cfg.Observability.ServiceName + "-worker",
		ServiceVersion: cfg.Observability.ServiceVersion,
		Insecure:       cfg.Observability.TracingInsecure,
		SampleRatio:    cfg.Observability.TracingSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tp.Shutdown(ctx)
		}()
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	store, err := audit.NewDBWriter(db, metrics)
	if err != nil {
		return err
	}
	var writer audit.Writer = store
	if cfg.Audit.FileDir != "" {
		fileWriter, err := audit.NewFileWriter(audit.FileWriterConfig{
			Dir:        cfg.Audit.FileDir,
			MaxSizeMB:  cfg.Audit.FileMaxSizeMB,
			MaxBackups: cfg.Audit.FileMaxBackups,
			MaxAgeDays: cfg.Audit.FileMaxAgeDays,
			Compress:   cfg.Audit.FileCompress,
		})
		if err != nil {
			return err
		}
		defer fileWriter.Close()
		writer = audit.NewMultiWriter(store, fileWriter)
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Audit.WorkerConcurrency,
		Queues:          map[string]int{cfg.Audit.Queue: 1},
		Logger:          logger,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(audit.TaskTypeWrite, audit.NewTaskHandler(writer, logger, metrics))

	logger.WithFields(logrus.Fields{
		"queue":       cfg.Audit.Queue,
		"concurrency": cfg.Audit.WorkerConcurrency,
	}).Info("Audit worker consuming tasks")

	// Run blocks until SIGINT or SIGTERM
	if err := srv.Run(mux); err != nil {
		return fmt.Errorf("asynq server failed: %w", err)
	}
	return nil
}

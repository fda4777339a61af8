package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/worktrack/internal/config"
	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/observability"
	"example.com/worktrack/internal/persistence/postgres"
	"example.com/worktrack/internal/storage"
	httptransport "example.com/worktrack/internal/transport/http"
)

// The purger connects with a role that bypasses row-level security, since
// expired screenshots are collected across every tenant.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	objects, err := storage.NewS3Store(cfg.S3)
	if err != nil {
		logger.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}
	service := domain.NewService(postgres.New(pool), objects, domain.WithLogger(logger))

	go func() {
		if err := httptransport.Serve(ctx, httptransport.NewMetricsServer(cfg.MetricsAddress), logger); err != nil {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("purger started", "interval", cfg.PurgeInterval, "batch", cfg.PurgeBatchSize)
	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		drain(ctx, service, cfg.PurgeBatchSize, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain purges full batches until a short one signals the backlog is empty.
func drain(ctx context.Context, service *domain.Service, batch int, logger *slog.Logger) {
	for ctx.Err() == nil {
		n, err := service.PurgeExpired(ctx, batch)
		if err != nil {
			logger.Warn("purge failed", "error", err)
			return
		}
		observability.RecordPurged(n)
		if n > 0 {
			logger.Info("purged expired screenshots", "count", n)
		}
		if n == 0 || n < batch {
			return
		}
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/worktrack/internal/api"
	"example.com/worktrack/internal/auth"
	"example.com/worktrack/internal/config"
	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/outbox"
	"example.com/worktrack/internal/persistence/postgres"
	"example.com/worktrack/internal/storage"
	httptransport "example.com/worktrack/internal/transport/http"
)

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
	if err := objects.EnsureBucket(ctx, cfg.S3.Region); err != nil {
		logger.Warn("screenshot bucket check failed", "bucket", cfg.S3.Bucket, "error", err)
	}

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
		outbox.WithDispatcherLogger(logger))
	go dispatcher.Start(ctx)

	service := domain.NewService(postgres.New(pool), objects,
		domain.WithPresignTTL(cfg.PresignTTL),
		domain.WithLogger(logger))

	mux := http.NewServeMux()
	api.NewHandler(service, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, nil)
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), authMiddleware.Wrap(mux))

	if err := httptransport.Serve(ctx, server, logger); err != nil {
		logger.Error("server error", "error", err)
	}
	stop()
	dispatcher.Wait()
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/promptpeek/internal/config"
	"github.com/dunamismax/promptpeek/internal/normalize"
	"github.com/dunamismax/promptpeek/internal/storage"
	"github.com/dunamismax/promptpeek/internal/store"
	"github.com/dunamismax/promptpeek/internal/telemetry"
	"github.com/dunamismax/promptpeek/internal/webhook"
	"github.com/dunamismax/promptpeek/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.TraceConfig("promptpeek-worker"), logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	if err := normalize.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer normalize.Shutdown()

	normalizer, err := normalize.NewDefault(cfg.Normalize.Options())
	if err != nil {
		logger.Fatalf("normalizer setup failed: %v", err)
	}

	artworks, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("store setup failed: %v", err)
	}
	defer artworks.Close()
	if cfg.Database.DSN == "" {
		logger.Printf("POSTGRES_DSN unset, using an in-memory store the API cannot see")
	}

	storageClient, err := storage.NewClient(cfg.Storage.ClientConfig())
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s max_dimension_px=%d max_output_bytes=%d",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Normalize.MaxDimensionPx,
		cfg.Normalize.MaxOutputBytes,
	)

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		normalizer,
		storageClient,
		webhook.NewClient(cfg.Webhook.ClientConfig()),
		artworks,
		artworks,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer metricsServer.Close()

	// Run blocks until SIGINT or SIGTERM.
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

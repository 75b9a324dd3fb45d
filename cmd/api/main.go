package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/promptpeek/internal/api"
	"github.com/dunamismax/promptpeek/internal/config"
	"github.com/dunamismax/promptpeek/internal/normalize"
	"github.com/dunamismax/promptpeek/internal/queue"
	"github.com/dunamismax/promptpeek/internal/ratelimit"
	"github.com/dunamismax/promptpeek/internal/storage"
	"github.com/dunamismax/promptpeek/internal/store"
	"github.com/dunamismax/promptpeek/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.TraceConfig("promptpeek-api"), logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

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
		logger.Printf("POSTGRES_DSN unset, artworks are kept in memory")
	}

	storageClient, err := storage.NewClient(cfg.Storage.ClientConfig())
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Fatalf("ensure bucket %s failed: %v", storageClient.Bucket(), err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(cfg.Queue.RedisOptions())
		defer redisClient.Close()

		bucket, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.BucketConfig())
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		limiter = bucket
		logger.Printf("rate limiting enabled capacity=%d window=%s upload_cost=%d", cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.UploadCost)
	}

	app := api.NewServer(logger, api.Config{
		UserIDHeader:   cfg.API.UserIDHeader,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		WebhookURL:     cfg.API.WebhookURL,
		RateLimiter:    limiter,
		UploadCost:     cfg.RateLimit.UploadCost,
		ImageURLExpiry: cfg.API.ImageURLExpiry,
	}, artworks, queueClient, storageClient, normalizer)

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s max_upload_bytes=%d", cfg.API.Addr, cfg.API.MaxUploadBytes)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

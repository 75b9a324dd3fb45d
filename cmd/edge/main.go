package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/promptpeek/internal/config"
	"github.com/dunamismax/promptpeek/internal/edge"
	"github.com/dunamismax/promptpeek/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[edge] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), cfg.Tracing.TraceConfig("promptpeek-edge"), logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if info, err := os.Stat(cfg.Edge.Root); err != nil || !info.IsDir() {
		logger.Fatalf("static root %s is not a directory: %v", cfg.Edge.Root, err)
	}

	app := edge.NewServer(logger, os.DirFS(cfg.Edge.Root), cfg.Edge.IndexDocument)

	httpServer := &http.Server{
		Addr:              cfg.Edge.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              cfg.Edge.MetricsAddr,
		Handler:           app.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("serving %s on %s index=%s", cfg.Edge.Root, cfg.Edge.Addr, cfg.Edge.IndexDocument)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()
	go func() {
		logger.Printf("metrics listening on %s", cfg.Edge.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	_ = metricsServer.Shutdown(ctx)
	if err := shutdownTracing(ctx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

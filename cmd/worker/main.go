// The worker binary runs the flush loop on its own, for deployments
// where multiple web replicas share one Redis buffer and exactly one
// process should drain it.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"b2monitor/config"
	"b2monitor/internal/buffer"
	"b2monitor/internal/flush"
	"b2monitor/internal/storage"
	"b2monitor/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.NewLogger(cfg.LogLevel)

	// The standalone worker only makes sense against a shared buffer.
	if cfg.Buffer.Backend != "redis" {
		logger.Fatalf("Standalone flush worker requires the redis buffer backend, got %q", cfg.Buffer.Backend)
	}

	buf, err := buffer.NewRedisBuffer(cfg.Buffer.RedisURL, logger.Named("buffer"))
	if err != nil {
		logger.Fatalf("Failed to connect to Redis buffer: %v", err)
	}
	defer buf.Close()

	store, err := storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, logger.Named("storage"))
	if err != nil {
		logger.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := flush.NewWorker(buf, store, cfg.Buffer.FlushInterval, logger.Named("flush"))
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	logger.Info("Flush worker started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Flush worker shutting down")
	cancel()
	<-done

	if err := store.Close(context.Background()); err != nil {
		logger.Errorf("Failed to close store: %v", err)
	}
}

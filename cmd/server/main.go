package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"video-analysis/internal/api"
	"video-analysis/internal/config"
	"video-analysis/internal/embedding"
	"video-analysis/internal/storage"
	"video-analysis/internal/worker"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func main() {

	// Load configuration first
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging with configurable level, format, and output
	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	// Initialize storage
	store, err := storage.NewSQLiteRepository(cfg.Storage.DSN)
	if err != nil {
		slog.Error("init storage failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Background jobs
	pool := worker.NewPool(cfg.Server.Workers, cfg.Server.QueueSize)
	pool.Start()
	locks := worker.NewKeyLock()

	opts := api.Options{
		MaxPayloadBytes: cfg.Payload.MaxBytes,
		StorageTimeout:  cfg.Storage.Timeout,
		AutoIndex:       cfg.Embedding.AutoIndex,
	}

	var backfiller *worker.Backfiller
	if cfg.Embedding.Enabled {
		client := openai.NewClient(
			option.WithAPIKey(cfg.Embedding.APIKey),
			option.WithBaseURL(cfg.Embedding.Endpoint),
		)
		embedder := embedding.NewOpenAIEmbedder(&client, cfg.Embedding.Model, cfg.Embedding.Timeout)
		indexer := embedding.NewIndexer(store, embedder, cfg.Embedding.BatchSize, cfg.Embedding.Parallel)
		backfiller = worker.NewBackfiller(pool, locks, indexer, cfg.Embedding.Debounce, 0)

		opts.Searcher = indexer
		opts.Backfill = backfiller
		slog.Info("embeddings enabled", "model", cfg.Embedding.Model, "batch_size", cfg.Embedding.BatchSize)
	} else {
		slog.Info("embeddings disabled, search unavailable")
	}

	handler := api.NewHandler(store, locks, opts)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server start failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("server stopping")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown forced", "error", err)
	}

	// Drop pending scheduled backfills, then let queued jobs drain
	if backfiller != nil {
		backfiller.Stop()
	}
	slog.Info("waiting for jobs")
	if err := pool.Stop(ctx); err != nil {
		slog.Warn("job timeout, exiting", "error", err)
	}

	// defer store.Close() will handle storage cleanup (via WAL checkpoint)

	slog.Info("server stopped")
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer
	outputs := strings.Split(cfg.Log.Output, ",")

	for _, output := range outputs {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			// Use lumberjack for log rotation
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.Log.Rotation.MaxSize,
				MaxBackups: cfg.Log.Rotation.MaxBackups,
				MaxAge:     cfg.Log.Rotation.MaxAge,
				Compress:   cfg.Log.Rotation.Compress,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}

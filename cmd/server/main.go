package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/weektoken/service/config"
	"github.com/brojonat/weektoken/service/db"
	"github.com/brojonat/weektoken/service/metrics"
	natspkg "github.com/brojonat/weektoken/service/nats"
	"github.com/brojonat/weektoken/service/program"
	"github.com/brojonat/weektoken/service/runtime"
	"github.com/brojonat/weektoken/service/server"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"program_id", cfg.ProgramID.String(),
	)
	if cfg.Network != config.NetworkLocalnet {
		logger.Warn("server always runs a local bank; NETWORK is only used by the worker and CLI",
			"network", cfg.Network,
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	bank := runtime.NewBank(runtime.Config{
		Rent:            runtime.DefaultRent,
		FeePerSignature: runtime.DefaultConfig().FeePerSignature,
		BlockhashTTL:    int(cfg.BlockhashTTL),
	}, m, logger)

	program.SetProgramID(cfg.ProgramID)
	program.Register(bank, cfg.ProgramID, program.Options{Preflight: cfg.PreflightCheck})
	logger.Info("registered WEEK program",
		"program_id", cfg.ProgramID.String(),
		"decimals", program.Decimals,
		"preflight", cfg.PreflightCheck,
	)

	// The event log is optional. Keep the interface nil when it is disabled.
	var store server.EventStore
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		dbStore := db.NewStore(pool, m)
		if err := dbStore.Migrate(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		store = dbStore
		logger.Info("connected to database")
	} else {
		logger.Info("DATABASE_URL not set, event log disabled")
	}

	var publisher natspkg.Publisher
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		jsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer jsPublisher.Close()
		publisher = jsPublisher

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		defer ssePublisher.Close()
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Info("NATS_URL not set, event streaming disabled")
	}

	indexer := server.NewIndexer(cfg.ProgramID, bank, store, publisher, m, logger)

	httpServer := server.New(cfg.ServerAddr, cfg, bank, store, indexer, ssePublisher, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"event_log", store != nil,
		"event_stream", publisher != nil,
		"blockhash_ttl", cfg.BlockhashTTL,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

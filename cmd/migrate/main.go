package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/weektoken/service/config"
	"github.com/brojonat/weektoken/service/db"
)

// Command migrate applies the event log schema without starting the server.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting event log migration")

	// Load configuration
	cfg := config.MustLoad()
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if err := db.NewStore(pool, nil).Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration complete")
}

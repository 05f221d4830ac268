package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/RasheedLewis/collab-canvas-sub000/internal/server"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/config"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.NewFromConfig(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := server.NewApp(logger, ctx, cfg, server.Collaborators{})
	if err != nil {
		logger.Error("Failed to assemble server", slog.Any("error", err))
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

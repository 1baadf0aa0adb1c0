package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/fogmoe/fogchat/common/version"
	"github.com/fogmoe/fogchat/internal/fogchat/app"
	"github.com/fogmoe/fogchat/internal/fogchat/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	slog.Info("starting fogchat", "version", version.Info())

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		slog.Error("failed to initialize fogchat", "err", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		slog.Error("fogchat exited with error", "err", err)
		os.Exit(1)
	}
}

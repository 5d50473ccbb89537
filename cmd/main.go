package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"upload-files-skill/internal/app"
	"upload-files-skill/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if os.Getenv("LOG_FORMAT") == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Storage.Backend == config.StorageFilesystem {
		slog.Error("filesystem storage is not available on Lambda", "backend", cfg.Storage.Backend)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	// ---- Handler ----
	h, err := app.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

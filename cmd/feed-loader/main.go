package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"intelpipe/internal/config"
	_ "intelpipe/internal/feeds"
	"intelpipe/internal/pipeline"
	"intelpipe/internal/reportstore"
)

func main() {
	cfg, err := config.Load(os.Getenv("IP_CONFIG"))
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := reportstore.New(ctx, cfg.Store)
	if err != nil {
		slog.Error("open report store", "err", err)
		os.Exit(1)
	}
	runner, err := pipeline.New(cfg, store)
	if err != nil {
		slog.Error("build pipeline", "err", err)
		os.Exit(1)
	}

	res, err := runner.Run(ctx)
	if err != nil {
		slog.Error("pipeline run failed", "err", err)
		os.Exit(1)
	}
	slog.Info("stored report", "key", res.Key, "indicators", len(res.Document.Items))
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rl1809/hive-market/internal/app"
	"github.com/rl1809/hive-market/internal/config"
	"github.com/rl1809/hive-market/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; HIVE_* env vars override it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	log.Info("hive market starting",
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.String("payment", cfg.Payment.Mode),
	)

	if err := a.Run(ctx); err != nil {
		log.Error("server stopped with error", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		log.Error("failed to close connections", zap.Error(err))
	}
	log.Info("shutdown complete")
}

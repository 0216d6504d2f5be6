package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"condo-session/internal/app"
	"condo-session/internal/config"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[MAIN] No .env file found, relying on system env vars")
	}

	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.LogDev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := app.NewServer(cfg, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("agent stopped with error", zap.Error(err))
		return
	}
	logger.Info("agent stopped gracefully")
}

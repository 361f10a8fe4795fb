// cmd/historian drains the room action queue from Redis into Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/roomcoord/internal/cache"
	"github.com/jason-s-yu/roomcoord/internal/config"
	"github.com/jason-s-yu/roomcoord/internal/database"
	"github.com/jason-s-yu/roomcoord/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		logrus.Fatalf("load log config: %v", err)
	}
	logger, err := config.NewLogger(logCfg)
	if err != nil {
		logrus.Fatalf("build logger: %v", err)
	}
	cfg, err := config.LoadHistorian()
	if err != nil {
		logger.Fatalf("load historian config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer store.Close()

	rdb, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Fatalf("connect redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.NewService(
		historian.NewRedisSource(rdb, cfg.Redis.ActionQueue),
		store,
		historian.Options{BatchSize: cfg.BatchSize, FlushDelay: cfg.FlushDelay, PopTimeout: cfg.PopTimeout},
		logger.WithField("queue", cfg.Redis.ActionQueue),
	)
	if err := svc.Run(ctx); err != nil {
		logger.Fatalf("historian exited: %v", err)
	}
	logger.Info("Historian shutdown complete.")
}

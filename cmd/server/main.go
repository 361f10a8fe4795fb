// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/auth"
	"github.com/jason-s-yu/roomcoord/internal/cache"
	"github.com/jason-s-yu/roomcoord/internal/config"
	"github.com/jason-s-yu/roomcoord/internal/database"
	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/game"
	"github.com/jason-s-yu/roomcoord/internal/handlers"
	"github.com/jason-s-yu/roomcoord/internal/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
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
	cfg, err := config.LoadServer()
	if err != nil {
		logger.Fatalf("load server config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.ServerConfig, logger *logrus.Logger) error {
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	deps := game.Deps{Logger: logger}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		store, err := database.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Store = store
	default:
		store, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Store = store
	}
	logger.WithField("driver", cfg.StoreDriver).Info("room store ready")

	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		deps.Actions = cache.NewActionQueue(rdb, cfg.Redis.ActionQueue)
		deps.Alarms = cache.NewAlarmPublisher(rdb, cfg.Redis.AlarmChannel)
		logger.WithField("addr", cfg.Redis.Addr).Info("action log and alarms on redis")
	} else {
		logger.Warn("REDIS_ADDR not set; action log and operator alarms are disabled")
	}

	games := game.NewGameStore(roomOptions(cfg), deps, verifier)

	gs := handlers.NewGameServer(games, verifier, delivery.Options{
		Queue: delivery.Config{
			Burst:   cfg.Delivery.Burst,
			Ceiling: cfg.Delivery.Ceiling,
		},
		PingInterval: cfg.Delivery.PingInterval,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.NewRouter(gs),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		games.Shutdown()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func roomOptions(cfg config.ServerConfig) game.Options {
	opts := game.DefaultOptions()
	opts.HandshakeTimeout = cfg.Session.HandshakeTimeout
	opts.GracePeriod = cfg.Session.GracePeriod
	opts.GraceTick = cfg.Session.GraceTick
	opts.DriftInterval = cfg.Session.DriftInterval
	opts.Backoff = session.Backoff{
		Base:        cfg.Session.BackoffBase,
		Multiplier:  cfg.Session.BackoffMultiplier,
		MaxAttempts: cfg.Session.MaxAttempts,
	}
	opts.JournalSize = cfg.JournalSize
	opts.PersistRetries = cfg.PersistRetries
	opts.PersistBackoff = cfg.PersistBackoff
	return opts
}

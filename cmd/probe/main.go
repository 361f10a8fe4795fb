// cmd/probe joins a room as a scripted client and rides out connection drops using the
// server's reconnection contract. It logs every message it receives.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jason-s-yu/roomcoord/internal/client"
	"github.com/jason-s-yu/roomcoord/internal/config"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
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
	cfg, err := config.LoadProbe()
	if err != nil {
		logger.Fatalf("load probe config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	log := logger.WithField("game_id", cfg.GameID)
	rc := client.New(client.Config{
		URL:        strings.TrimSuffix(cfg.ServerURL, "/") + "/game/ws/" + cfg.GameID,
		Credential: cfg.Token,
		Profile:    protocol.PlayerProfile{DisplayName: cfg.DisplayName},
		ClaimHost:  cfg.ClaimHost,
		Logger:     log,
	})

	err = rc.Run(ctx, func(env protocol.Envelope) {
		log.WithField("type", env.Type).Debug(string(env.Raw))
		if env.Type == protocol.TypeTurnChanged {
			var turn protocol.Turn
			if env.Unmarshal(&turn) == nil {
				log.WithField("holder", turn.PlayerID).Info("turn changed")
			}
		}
	})
	var closed *client.ClosedError
	switch {
	case errors.As(err, &closed):
		log.WithField("code", closed.Code).Warnf("server ended the session: %s", closed.Reason)
	case err != nil:
		log.WithError(err).Error("probe stopped")
	default:
		log.WithField("session_id", rc.SessionID()).Info("probe finished")
	}
}

// internal/handlers/game_server.go
package handlers

import (
	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/game"
	"github.com/sirupsen/logrus"
)

// GameServer is the HTTP-facing wrapper around the room registry: it owns the settings
// every WebSocket connection is created with.
type GameServer struct {
	Games    *game.GameStore
	Verifier game.CredentialVerifier
	Delivery delivery.Options
	Logger   logrus.FieldLogger
}

func NewGameServer(games *game.GameStore, verifier game.CredentialVerifier, opts delivery.Options, logger logrus.FieldLogger) *GameServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GameServer{
		Games:    games,
		Verifier: verifier,
		Delivery: opts,
		Logger:   logger,
	}
}

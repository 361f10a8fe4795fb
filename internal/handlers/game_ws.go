// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/game"
	"github.com/jason-s-yu/roomcoord/internal/middleware"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/sirupsen/logrus"
)

// closeFlushTimeout bounds how long a rejected connection waits for its error frame to go out.
const closeFlushTimeout = 2 * time.Second

var errHandshakeRequired = protocol.Error{
	Type:      protocol.TypeError,
	Code:      "handshake_required",
	Message:   "send player_joined or reconnect first",
	Retryable: true,
}

// GameWSHandler upgrades the HTTP connection to WebSocket for one game room. The first
// message must be a player_joined or reconnect handshake; everything after it is
// forwarded to the room's sequencer. The optional session_id query parameter is the
// session the client last held; a mismatch with the opened session is logged.
func GameWSHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := chi.URLParam(r, "gameID")
		if gameID == "" {
			writeError(w, http.StatusBadRequest, "missing game id")
			return
		}
		credential := bearerToken(r)
		sessionHint := r.URL.Query().Get("session_id")
		logger := gs.Logger.WithField("game_id", gameID)

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"game"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("WebSocket accept error: %v", err)
			return
		}
		if c.Subprotocol() != "game" {
			logger.Warnf("client connected with invalid subprotocol %q", c.Subprotocol())
			c.Close(websocket.StatusCode(protocol.BadSubprotocolError), "client must use the 'game' subprotocol")
			return
		}

		connID := uuid.NewString()
		logger = logger.WithField("connection_id", connID)
		middleware.LogWebSocketConnect(logger, r, connID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		outbox := delivery.NewOutbox(connID, delivery.WSSink{Conn: c}, gs.Delivery, logger)
		go func() {
			if err := outbox.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("outbound writer stopped")
				outbox.Close(int(websocket.StatusInternalError), "write failed")
			}
		}()

		pending := gs.Games.Connect(ctx, gameID, credential, outbox)
		req, rest, err := awaitHandshake(ctx, c, outbox, credential)
		if err != nil {
			gs.Games.Abandon(pending)
			outbox.Close(protocol.GoingAway, "connection closed")
			middleware.LogWebSocketDisconnect(logger, r, connID, err)
			return
		}

		room, adm, err := gs.Games.Open(ctx, pending, req)
		if err != nil {
			reject(outbox, logger, err)
			middleware.LogWebSocketDisconnect(logger, r, connID, err)
			return
		}
		logger.WithFields(logrus.Fields{
			"player_id":  adm.Session.PlayerID,
			"session_id": adm.Session.ID,
			"resumed":    adm.Resumed,
			"takeover":   adm.Takeover,
		}).Info("session opened")
		if sessionHint != "" && sessionHint != adm.Session.ID {
			logger.WithFields(logrus.Fields{
				"player_id":    adm.Session.PlayerID,
				"session_id":   adm.Session.ID,
				"session_hint": sessionHint,
			}).Info("client session id does not match the opened session")
		}

		for _, env := range rest {
			room.Handle(connID, env)
		}
		err = readGameMessages(ctx, c, room, outbox, connID)

		room.ConnectionLost(connID)
		outbox.Close(protocol.GoingAway, "connection closed")
		middleware.LogWebSocketDisconnect(logger, r, connID, err)
	}
}

// awaitHandshake reads frames until one carries a handshake message. Messages that
// arrive in the same frame after the handshake are returned for normal dispatch.
func awaitHandshake(ctx context.Context, c *websocket.Conn, outbox *delivery.Outbox, credential string) (game.OpenRequest, []protocol.Envelope, error) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return game.OpenRequest{}, nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		envs, derr := protocol.Decode(data)
		if derr != nil {
			outbox.Send(delivery.High, game.ErrMalformed.Payload())
		}
		for i, env := range envs {
			if !protocol.Handshake(env.Type) {
				outbox.Send(delivery.High, errHandshakeRequired)
				continue
			}
			req, err := openRequest(env, credential)
			if err != nil {
				outbox.Send(delivery.High, game.ErrMalformed.Payload())
				continue
			}
			return req, envs[i+1:], nil
		}
	}
}

func openRequest(env protocol.Envelope, credential string) (game.OpenRequest, error) {
	req := game.OpenRequest{Credential: credential}
	switch env.Type {
	case protocol.TypePlayerJoined:
		var msg protocol.PlayerJoined
		if err := env.Unmarshal(&msg); err != nil {
			return req, err
		}
		req.Profile = msg.Player
		req.ClaimHost = msg.ClaimHost
	case protocol.TypeReconnect:
		var msg protocol.Reconnect
		if err := env.Unmarshal(&msg); err != nil {
			return req, err
		}
		req.ReconnectToken = msg.ReconnectToken
		req.LastEventID = msg.LastEventID
	}
	return req, nil
}

// reject reports a failed handshake to the client and closes the connection once the
// error frame is flushed.
func reject(outbox *delivery.Outbox, logger logrus.FieldLogger, err error) {
	e := game.Classify(err)
	code := e.CloseCode
	if code == 0 {
		code = int(websocket.StatusInternalError)
	}
	logger.WithError(err).WithField("close_code", code).Warn("handshake rejected")
	outbox.Send(delivery.High, e.Payload())
	outbox.CloseWhenDrained(code, e.Message)
	select {
	case <-outbox.Done():
	case <-time.After(closeFlushTimeout):
		outbox.Close(code, e.Message)
	}
}

// readGameMessages forwards every decoded message to the room until the connection ends.
// A clean close from the client returns nil.
func readGameMessages(ctx context.Context, c *websocket.Conn, room *game.Room, outbox *delivery.Outbox, connID string) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		envs, derr := protocol.Decode(data)
		if derr != nil {
			outbox.Send(delivery.High, game.ErrMalformed.Payload())
		}
		for _, env := range envs {
			room.Handle(connID, env)
		}
	}
}

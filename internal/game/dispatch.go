// internal/game/dispatch.go
package game

import (
	"strings"
	"unicode/utf8"

	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/jason-s-yu/roomcoord/internal/session"
	"github.com/sirupsen/logrus"
)

// MaxChatLength caps chat messages, in runes.
const MaxChatLength = 500

// Handle queues one inbound message from connID. Messages from connections that no longer
// own a seat are dropped.
func (r *Room) Handle(connID string, env protocol.Envelope) {
	r.submit(func() { r.handle(connID, env) })
}

func (r *Room) handle(connID string, env protocol.Envelope) {
	pid, ok := r.conns[connID]
	if !ok {
		return
	}
	s := r.seats[pid]
	if s == nil || s.sess.ConnectionID != connID || s.sess.State != session.Active {
		return
	}
	s.sess.LastSeenAt = r.deps.Clock.Now()

	var err error
	switch env.Type {
	case protocol.TypePlayerJoined:
		err = r.updateProfile(s, env)
	case protocol.TypeReconnect:
		err = ErrAlreadyJoined
	case protocol.TypeGetActivePlayers:
		r.sendActivePlayers(s)
	case protocol.TypeGetGameState:
		r.sendFullState(s)
	case protocol.TypeGetCurrentTurn:
		r.sendTo(s, delivery.High, r.turnPayload(protocol.TypeCurrentTurn))
	case protocol.TypeEndTurn:
		err = r.endTurn(s)
	case protocol.TypeVerifyHost:
		r.verifyHost(s)
	case protocol.TypeClientNavigating:
		s.navigatingUntil = r.deps.Clock.Now().Add(NavigationWindow)
	case protocol.TypeRollDice:
		err = r.rollDice(s)
	case protocol.TypeStartGame:
		err = r.startGame(s)
	case protocol.TypeLeaveGame:
		r.forfeit(s, true)
	case protocol.TypeChat:
		err = r.chat(s, env)
	case protocol.TypePing:
		r.sendTo(s, delivery.High, protocol.Pong{Type: protocol.TypePong, Timestamp: r.deps.Clock.Now().UnixMilli()})
	default:
		err = ErrUnknownType
	}
	if err != nil {
		r.reject(s, env.Type, err)
	}
}

// updateProfile merges cosmetic fields re-sent on an open session, and honors a late host claim.
func (r *Room) updateProfile(s *seat, env protocol.Envelope) error {
	var msg protocol.PlayerJoined
	if err := env.Unmarshal(&msg); err != nil {
		return ErrMalformed
	}
	r.mergeProfile(s.sess.PlayerID, msg.Player)
	r.electHost(s.sess.PlayerID, msg.ClaimHost)
	r.touch("profile")
	r.broadcastActivePlayers(false)
	return nil
}

func (r *Room) chat(s *seat, env protocol.Envelope) error {
	var msg protocol.ChatIn
	if err := env.Unmarshal(&msg); err != nil {
		return ErrMalformed
	}
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		text = string([]rune(text)[:MaxChatLength])
	}
	r.broadcast(delivery.Normal, protocol.ChatOut{
		Type:      protocol.TypeChat,
		GameID:    r.id,
		PlayerID:  s.sess.PlayerID,
		Message:   text,
		Timestamp: r.deps.Clock.Now().UnixMilli(),
	})
	return nil
}

// reject answers a refused message on the HIGH lane. Authority violations also carry the
// current turn so the client can resync.
func (r *Room) reject(s *seat, msgType string, err error) {
	e := Classify(err)
	payload := e.Payload()
	if e.Kind == AuthorityViolation {
		payload.CurrentTurn = r.state.CurrentTurnID()
	}
	r.sendTo(s, delivery.High, payload)
	if e.Kind == AuthorityViolation {
		r.sendTo(s, delivery.High, r.turnPayload(protocol.TypeCurrentTurn))
	}
	r.log.WithFields(logrus.Fields{
		"player_id": s.sess.PlayerID,
		"type":      msgType,
		"code":      e.Code,
	}).Debug("message rejected")
}

// internal/game/admission.go
package game

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/jason-s-yu/roomcoord/internal/roster"
	"github.com/jason-s-yu/roomcoord/internal/session"
	"github.com/sirupsen/logrus"
)

// AdmitRequest is a handshake whose credential has already been verified.
type AdmitRequest struct {
	Identity       models.Identity
	Outbox         *delivery.Outbox
	ReconnectToken string
	LastEventID    string
	Profile        protocol.PlayerProfile
	ClaimHost      bool
}

// Admission is the outcome of a successful handshake.
type Admission struct {
	Session  session.Session
	Resumed  bool
	Takeover bool
}

// Admit binds req's connection to a seat: resuming a GRACE session, taking over an
// ACTIVE one, or seating a new player while the room is in the lobby.
func (r *Room) Admit(ctx context.Context, req AdmitRequest) (Admission, error) {
	var adm Admission
	err := r.do(ctx, func() error {
		var err error
		adm, err = r.admit(req)
		return err
	})
	return adm, err
}

func (r *Room) admit(req AdmitRequest) (Admission, error) {
	pid := req.Identity.PlayerID
	p, known := r.roster.Get(pid)
	if known && p.Status == models.PlayerForfeited {
		return Admission{}, ErrPlayerForfeited
	}
	if s := r.seats[pid]; s != nil && s.sess.State == session.Closed {
		return Admission{}, ErrGameCompleted
	}
	if req.ReconnectToken != "" {
		if _, used := r.consumed[req.ReconnectToken]; used {
			return Admission{}, ErrTokenConsumed
		}
	}

	s := r.seats[pid]
	switch {
	case s != nil && s.sess.State == session.Grace:
		return r.resume(s, req, !tokenMatches(s, req.ReconnectToken))
	case s != nil && s.sess.State == session.Active:
		return r.takeover(s, req)
	case known:
		return Admission{}, fmt.Errorf("player %s is seated without a session", pid)
	default:
		return r.join(req)
	}
}

func tokenMatches(s *seat, token string) bool {
	if token == "" || s.sess.ReconnectToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.sess.ReconnectToken)) == 1
}

func (r *Room) join(req AdmitRequest) (Admission, error) {
	if r.state.Status != models.RoomLobby {
		return Admission{}, ErrRoomFull
	}
	pid := req.Identity.PlayerID
	now := r.deps.Clock.Now()
	balance, deposit := r.opts.StartingBalance, r.opts.StartingDeposit
	p, err := r.roster.ApplyPlayerMutation(roster.Mutation{
		Op:       roster.OpJoin,
		PlayerID: pid,
		Profile:  profileOf(req.Profile),
		At:       now,
		Balance:  &balance,
		Deposit:  &deposit,
	})
	if err != nil {
		return Admission{}, err
	}
	r.state.TurnOrder = append(r.state.TurnOrder, pid)

	s := &seat{sess: session.Session{ID: newID(), PlayerID: pid, GameID: r.id}}
	r.seats[pid] = s
	if err := r.bind(s, req.Outbox); err != nil {
		return Admission{}, err
	}
	r.electHost(pid, req.ClaimHost)
	r.touch("join")

	r.sendOpened(s, false)
	r.sendFullState(s)
	p, _ = r.roster.Get(pid)
	r.broadcast(delivery.Normal, protocol.PlayerEvent{Type: protocol.TypePlayerJoined, GameID: r.id, PlayerID: pid, Player: &p})
	r.broadcastActivePlayers(false)
	r.record("player_joined", pid, nil)
	r.log.WithField("player_id", pid).Info("player joined")
	return Admission{Session: s.sess}, nil
}

// resume brings a GRACE seat back. Without a matching token the player proved identity
// with a fresh credential only, so the seat is reclaimed under a new session id.
func (r *Room) resume(s *seat, req AdmitRequest, reclaim bool) (Admission, error) {
	pid := s.sess.PlayerID
	r.stopTimers(s)
	s.graceGen++
	if reclaim {
		s.sess.ID = newID()
	}
	if _, err := r.roster.ApplyPlayerMutation(roster.Mutation{Op: roster.OpStatus, PlayerID: pid, Status: models.PlayerActive}); err != nil {
		return Admission{}, err
	}
	if err := r.bind(s, req.Outbox); err != nil {
		return Admission{}, err
	}
	r.mergeProfile(pid, req.Profile)
	r.electHost(pid, req.ClaimHost)

	prev := r.state.Status
	if r.state.CurrentTurnIndex < 0 && r.started() {
		r.state.CurrentTurnIndex = indexOf(r.state.TurnOrder, pid)
	}
	r.settleStatus()
	r.touch("resume")

	r.sendOpened(s, true)
	r.sendFullState(s)
	missed := r.journal.After(req.LastEventID)
	if req.LastEventID == "" {
		missed = r.journal.Since(s.disconnectedAt)
	}
	for _, e := range missed {
		r.sendTo(s, delivery.Normal, protocol.GameStateUpdate{
			Type:    protocol.TypeGameStateUpdate,
			GameID:  r.id,
			Partial: true,
			EventID: e.ID,
			Event:   e.Payload,
		})
	}

	p, _ := r.roster.Get(pid)
	r.broadcast(delivery.Normal, protocol.PlayerEvent{Type: protocol.TypePlayerReconnected, GameID: r.id, PlayerID: pid, Player: &p})
	if prev != r.state.Status {
		r.broadcastTurn(protocol.TypeTurnChanged)
	}
	r.broadcastActivePlayers(false)
	r.record("player_reconnected", pid, nil)
	r.log.WithFields(logrus.Fields{
		"player_id": pid,
		"reclaim":   reclaim,
		"replayed":  len(missed),
	}).Info("session resumed")
	return Admission{Session: s.sess, Resumed: true}, nil
}

// takeover moves an ACTIVE seat to a new connection and closes the old one for good.
func (r *Room) takeover(s *seat, req AdmitRequest) (Admission, error) {
	pid := s.sess.PlayerID
	if old := s.outbox; old != nil {
		delete(r.conns, old.ID())
		old.Close(protocol.SessionSupersededError, ErrSuperseded.Message)
	}
	s.sess.ID = newID()
	if err := r.bind(s, req.Outbox); err != nil {
		return Admission{}, err
	}
	r.mergeProfile(pid, req.Profile)
	r.electHost(pid, req.ClaimHost)
	r.touch("takeover")

	r.sendOpened(s, false)
	r.sendFullState(s)
	r.broadcastActivePlayers(false)
	r.record("session_superseded", pid, nil)
	r.log.WithField("player_id", pid).Info("session superseded by new connection")
	return Admission{Session: s.sess, Takeover: true}, nil
}

// bind attaches outbox to s, rotates the reconnect token and publishes the session.
func (r *Room) bind(s *seat, outbox *delivery.Outbox) error {
	token, err := session.NewToken()
	if err != nil {
		return err
	}
	if s.sess.ReconnectToken != "" {
		r.consumed[s.sess.ReconnectToken] = struct{}{}
	}
	s.sess.ReconnectToken = token
	s.outbox = outbox
	s.coalesced = 0
	s.sess.ConnectionID = outbox.ID()
	s.sess.State = session.Active
	s.sess.GraceDeadline = time.Time{}
	s.sess.LastSeenAt = r.deps.Clock.Now()
	r.conns[outbox.ID()] = s.sess.PlayerID
	outbox.SetResync(r.resyncPayload)
	r.deps.Index.Put(s.sess)
	return nil
}

func (r *Room) mergeProfile(pid string, prof protocol.PlayerProfile) {
	if prof == (protocol.PlayerProfile{}) {
		return
	}
	if _, err := r.roster.ApplyPlayerMutation(roster.Mutation{Op: roster.OpProfile, PlayerID: pid, Profile: profileOf(prof)}); err != nil {
		r.log.WithError(err).WithField("player_id", pid).Warn("merge profile")
	}
}

func profileOf(p protocol.PlayerProfile) roster.Profile {
	return roster.Profile{DisplayName: p.DisplayName, Token: p.Token, Color: p.Color}
}

// ConnectionLost reports that the transport under connID is gone. Losses for
// connections that were superseded or already detached are ignored.
func (r *Room) ConnectionLost(connID string) {
	r.submit(func() {
		pid, ok := r.conns[connID]
		if !ok {
			return
		}
		delete(r.conns, connID)
		s := r.seats[pid]
		if s == nil || s.sess.ConnectionID != connID || s.sess.State != session.Active {
			return
		}
		r.enterGrace(s, true)
		r.touch("disconnect")
	})
}

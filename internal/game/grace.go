// internal/game/grace.go
package game

import (
	"math"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/jason-s-yu/roomcoord/internal/roster"
	"github.com/jason-s-yu/roomcoord/internal/session"
	"github.com/sirupsen/logrus"
)

// enterGrace detaches s from its transport and starts the forfeiture countdown. Callers
// guarantee s is ACTIVE, so a repeated loss signal never restarts a running countdown.
func (r *Room) enterGrace(s *seat, announce bool) {
	now := r.deps.Clock.Now()
	pid := s.sess.PlayerID

	if s.outbox != nil {
		delete(r.conns, s.outbox.ID())
		s.outbox.Close(protocol.GoingAway, "connection lost")
		s.outbox = nil
	}
	s.sess.ConnectionID = ""
	s.sess.State = session.Grace
	s.sess.GraceDeadline = now.Add(r.opts.GracePeriod)
	s.disconnectedAt = now
	s.graceGen++
	gen := s.graceGen

	if _, err := r.roster.ApplyPlayerMutation(roster.Mutation{Op: roster.OpStatus, PlayerID: pid, Status: models.PlayerDisconnected}); err != nil {
		r.log.WithError(err).WithField("player_id", pid).Error("mark player disconnected")
	}
	s.graceTimer = r.deps.Clock.AfterFunc(r.opts.GracePeriod, func() {
		r.submit(func() { r.expireGrace(pid, gen) })
	})
	r.scheduleGraceTick(s)
	r.deps.Index.Put(s.sess)

	prev := r.state.Status
	r.settleStatus()

	r.log.WithFields(logrus.Fields{
		"player_id": pid,
		"deadline":  s.sess.GraceDeadline,
	}).Info("player entered grace period")
	if !announce {
		return
	}
	r.broadcast(delivery.Normal, protocol.PlayerDisconnected{
		Type:               protocol.TypePlayerDisconnected,
		GameID:             r.id,
		PlayerID:           pid,
		CountdownRemaining: seconds(r.opts.GracePeriod),
		ExpectedResume:     now.Before(s.navigatingUntil),
	})
	if prev != r.state.Status {
		r.broadcastTurn(protocol.TypeTurnChanged)
	}
	r.record("player_disconnected", pid, nil)
}

func (r *Room) scheduleGraceTick(s *seat) {
	pid, gen := s.sess.PlayerID, s.graceGen
	s.tickTimer = r.deps.Clock.AfterFunc(r.opts.GraceTick, func() {
		r.submit(func() { r.graceTick(pid, gen) })
	})
}

// graceTick sends the countdown on the LOW lane. Stale ticks from an earlier grace
// period carry an old generation and are dropped.
func (r *Room) graceTick(pid string, gen int) {
	s := r.seats[pid]
	if s == nil || s.sess.State != session.Grace || s.graceGen != gen {
		return
	}
	remaining := s.sess.GraceDeadline.Sub(r.deps.Clock.Now())
	if remaining <= 0 {
		return
	}
	r.broadcast(delivery.Low, protocol.PlayerDisconnected{
		Type:               protocol.TypePlayerDisconnected,
		GameID:             r.id,
		PlayerID:           pid,
		CountdownRemaining: seconds(remaining),
	})
	r.scheduleGraceTick(s)
}

// expireGrace forfeits pid if the countdown identified by gen is still the live one.
// Duplicate or racing expiries find the seat already FORFEITED or a newer generation.
func (r *Room) expireGrace(pid string, gen int) {
	s := r.seats[pid]
	if s == nil || s.sess.State != session.Grace || s.graceGen != gen {
		return
	}
	r.log.WithField("player_id", pid).Info("grace period expired")
	r.forfeit(s, false)
}

func (r *Room) stopTimers(s *seat) {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.tickTimer != nil {
		s.tickTimer.Stop()
		s.tickTimer = nil
	}
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

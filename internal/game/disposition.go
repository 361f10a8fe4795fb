// internal/game/disposition.go
package game

import (
	"time"

	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/jason-s-yu/roomcoord/internal/roster"
	"github.com/jason-s-yu/roomcoord/internal/session"
	"github.com/sirupsen/logrus"
)

// forfeit tombstones the player behind s, disposes of their assets, removes them from the
// turn order and settles host and room status. In-memory state always moves to FORFEITED;
// persistence failures are retried and alarmed separately.
func (r *Room) forfeit(s *seat, voluntary bool) {
	pid := s.sess.PlayerID
	r.stopTimers(s)
	s.graceGen++

	if s.outbox != nil {
		delete(r.conns, s.outbox.ID())
		s.outbox.CloseWhenDrained(protocol.NormalClosure, "left game")
		s.outbox = nil
	}
	s.sess.State = session.Forfeited
	s.sess.ConnectionID = ""
	s.sess.GraceDeadline = time.Time{}
	if s.sess.ReconnectToken != "" {
		r.consumed[s.sess.ReconnectToken] = struct{}{}
	}
	r.deps.Index.Put(s.sess)

	before, _ := r.roster.Get(pid)
	orderBefore := append([]string(nil), r.state.TurnOrder...)
	wasHost := before.IsHost
	wasHolder := r.state.CurrentTurnID() == pid
	prevStatus := r.state.Status

	if _, err := r.roster.ApplyPlayerMutation(roster.Mutation{Op: roster.OpStatus, PlayerID: pid, Status: models.PlayerForfeited}); err != nil {
		r.log.WithError(err).WithField("player_id", pid).Error("tombstone player")
	}
	summary := r.dispose(pid, before.Deposit)
	summary.Voluntary = voluntary
	r.removeFromTurnOrder(pid)

	r.broadcast(delivery.High, summary)
	if wasHost {
		r.succeedHost(orderBefore, pid)
	}
	r.ensureHost()
	r.settleStatus()
	if wasHolder || prevStatus != r.state.Status {
		r.broadcastTurn(protocol.TypeTurnChanged)
	}
	r.journalEvent(Event{Kind: "player_forfeited", PlayerID: pid, Data: map[string]interface{}{
		"releasedHoldings": summary.Released,
		"mortgagedForSale": summary.MortgagedForSale,
		"cancelledTrades":  summary.CancelledTrades,
		"forfeitedDeposit": summary.ForfeitedDeposit,
	}})
	r.broadcastActivePlayers(false)
	r.touch("forfeit")

	r.log.WithFields(logrus.Fields{
		"player_id": pid,
		"voluntary": voluntary,
		"released":  len(summary.Released),
		"status":    r.state.Status,
	}).Info("player forfeited")
}

// dispose applies the forfeiture rules to the board: unmortgaged holdings return to the
// unowned pool, mortgaged ones stay mortgaged but become buyable at mortgage value,
// improvements stay on their space, the deposit goes to the settlement pool and open
// trades naming the player are cancelled.
func (r *Room) dispose(pid string, deposit int64) protocol.PlayerForfeited {
	out := protocol.PlayerForfeited{
		Type:             protocol.TypePlayerForfeited,
		GameID:           r.id,
		PlayerID:         pid,
		Released:         []string{},
		MortgagedForSale: []string{},
		CancelledTrades:  []string{},
		ForfeitedDeposit: deposit,
	}
	for i := range r.state.Holdings {
		h := &r.state.Holdings[i]
		if h.OwnerID != pid {
			continue
		}
		h.OwnerID = ""
		if h.Mortgaged {
			h.PurchasableAt = h.MortgageValue
			out.MortgagedForSale = append(out.MortgagedForSale, h.ID)
		} else {
			out.Released = append(out.Released, h.ID)
		}
	}
	for i := range r.state.Trades {
		t := &r.state.Trades[i]
		if t.Status == models.TradeOpen && (t.FromID == pid || t.ToID == pid) {
			t.Status = models.TradeCancelled
			out.CancelledTrades = append(out.CancelledTrades, t.ID)
		}
	}
	r.state.SettlementPool += deposit
	zero := int64(0)
	if _, err := r.roster.ApplyPlayerMutation(roster.Mutation{Op: roster.OpAdjust, PlayerID: pid, Deposit: &zero}); err != nil {
		r.log.WithError(err).WithField("player_id", pid).Error("clear forfeited deposit")
	}
	return out
}

// complete ends the game. The winner is the last seated player, if exactly one remains.
func (r *Room) complete() {
	r.state.Status = models.RoomCompleted
	r.state.CurrentTurnIndex = -1
	r.state.ExtraTurn = false
	r.state.HasRolled = false
	var seated []string
	for _, p := range r.roster.Players() {
		if p.Seated() {
			seated = append(seated, p.ID)
		}
	}
	if len(seated) == 1 {
		r.state.WinnerID = seated[0]
	}
	r.log.WithField("winner_id", r.state.WinnerID).Info("game completed")
	r.journalEvent(Event{Kind: "game_completed", PlayerID: r.state.WinnerID, Data: map[string]interface{}{
		"settlementPool": r.state.SettlementPool,
	}})
	r.broadcastFullState(false)
}

// closeSeats moves every remaining session of a completed game to CLOSED. Connections get
// what is already queued, then a room-closed close frame.
func (r *Room) closeSeats() {
	for _, pl := range r.roster.Players() {
		s := r.seats[pl.ID]
		if s == nil || s.sess.State.Terminal() {
			continue
		}
		r.stopTimers(s)
		s.graceGen++
		if s.outbox != nil {
			delete(r.conns, s.outbox.ID())
			s.outbox.CloseWhenDrained(protocol.RoomClosedError, ErrGameCompleted.Message)
			s.outbox = nil
		}
		if s.sess.ReconnectToken != "" {
			r.consumed[s.sess.ReconnectToken] = struct{}{}
		}
		s.sess.State = session.Closed
		s.sess.ConnectionID = ""
		s.sess.GraceDeadline = time.Time{}
		r.deps.Index.Put(s.sess)
	}
}

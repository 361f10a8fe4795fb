// internal/game/authority.go
package game

import (
	"fmt"
	"strings"

	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/jason-s-yu/roomcoord/internal/roster"
	"github.com/jason-s-yu/roomcoord/internal/session"
	"github.com/sirupsen/logrus"
)

// electHost honors a host claim while the room has no host, then makes sure someone holds it.
func (r *Room) electHost(pid string, claim bool) {
	if claim && r.roster.HostID() == "" {
		if p, ok := r.roster.Get(pid); ok && p.Status == models.PlayerActive {
			r.setHost(pid, r.state.HostID)
			return
		}
	}
	r.ensureHost()
}

// ensureHost hands a vacant host role to the earliest-joined ACTIVE player. With nobody
// ACTIVE the role stays vacant until someone resumes.
func (r *Room) ensureHost() {
	if r.roster.HostID() != "" {
		return
	}
	if ids := r.roster.ActiveIDs(); len(ids) > 0 {
		r.setHost(ids[0], r.state.HostID)
	}
}

// succeedHost passes the host role to the next ACTIVE player after the departing host in
// the turn order the room had before they left.
func (r *Room) succeedHost(orderBefore []string, departed string) {
	start := indexOf(orderBefore, departed)
	n := len(orderBefore)
	for i := 1; i < n; i++ {
		cand := orderBefore[(start+i+n)%n]
		if p, ok := r.roster.Get(cand); ok && p.Status == models.PlayerActive {
			r.setHost(cand, departed)
			return
		}
	}
}

func (r *Room) setHost(pid, prev string) {
	if _, err := r.roster.ApplyPlayerMutation(roster.Mutation{Op: roster.OpSetHost, PlayerID: pid}); err != nil {
		r.log.WithError(err).WithField("player_id", pid).Error("assign host")
		return
	}
	r.state.HostID = pid
	if prev == pid {
		return
	}
	r.broadcast(delivery.High, protocol.HostChanged{
		Type:           protocol.TypeHostChanged,
		GameID:         r.id,
		HostID:         pid,
		PreviousHostID: prev,
	})
	r.record("host_changed", pid, map[string]string{"previousHostId": prev})
	r.log.WithFields(logrus.Fields{"host_id": pid, "previous_host_id": prev}).Info("host changed")
}

// nextActive walks the turn order from start, wrapping once, and returns the index of the
// first ACTIVE player or -1.
func (r *Room) nextActive(start int, inclusive bool) int {
	n := len(r.state.TurnOrder)
	if n == 0 {
		return -1
	}
	first := 1
	if inclusive {
		first = 0
	}
	for i := first; i < n+first; i++ {
		idx := ((start+i)%n + n) % n
		if p, ok := r.roster.Get(r.state.TurnOrder[idx]); ok && p.Status == models.PlayerActive {
			return idx
		}
	}
	return -1
}

// removeFromTurnOrder drops pid and keeps the pointer on an ACTIVE player, or -1 when none
// is left to take the turn.
func (r *Room) removeFromTurnOrder(pid string) {
	idx := indexOf(r.state.TurnOrder, pid)
	if idx < 0 {
		return
	}
	holder := r.state.CurrentTurnID()
	order := append([]string(nil), r.state.TurnOrder[:idx]...)
	r.state.TurnOrder = append(order, r.state.TurnOrder[idx+1:]...)

	if holder != pid {
		r.state.CurrentTurnIndex = indexOf(r.state.TurnOrder, holder)
		return
	}
	r.state.ExtraTurn = false
	r.state.HasRolled = false
	if len(r.state.TurnOrder) == 0 || !r.started() {
		r.state.CurrentTurnIndex = -1
		return
	}
	r.state.CurrentTurnIndex = r.nextActive(idx%len(r.state.TurnOrder), true)
}

func (r *Room) started() bool {
	return r.state.Status == models.RoomActive || r.state.Status == models.RoomPaused
}

// settleStatus derives ACTIVE, PAUSED or COMPLETED from the seats. The lobby and a
// completed game are left alone.
func (r *Room) settleStatus() {
	if !r.started() {
		return
	}
	if r.roster.Count(models.PlayerActive, models.PlayerDisconnected) < 2 {
		r.complete()
		return
	}
	holder, ok := r.roster.Get(r.state.CurrentTurnID())
	if ok && holder.Status == models.PlayerActive {
		r.state.Status = models.RoomActive
	} else {
		r.state.Status = models.RoomPaused
	}
}

// authorize checks that pid may act on the game right now.
func (r *Room) authorize(pid string) error {
	if r.state.Status != models.RoomActive {
		return ErrRoomNotActive
	}
	if r.state.CurrentTurnID() != pid {
		return ErrNotTurnHolder
	}
	return nil
}

func (r *Room) startGame(s *seat) error {
	pid := s.sess.PlayerID
	if r.roster.HostID() != pid {
		return ErrNotHost
	}
	if r.state.Status != models.RoomLobby {
		return ErrGameStarted
	}
	if len(r.roster.ActiveIDs()) < 2 {
		return ErrNotEnoughSeats
	}
	r.state.Status = models.RoomActive
	r.state.ExtraTurn = false
	r.state.HasRolled = false
	r.state.CurrentTurnIndex = r.nextActive(0, true)
	r.settleStatus()
	r.touch("start")

	r.journalEvent(Event{Kind: "game_started", PlayerID: pid, Data: map[string]interface{}{
		"turnOrder": r.state.TurnOrder,
	}})
	r.broadcastFullState(false)
	r.broadcastTurn(protocol.TypeTurnChanged)
	r.log.WithField("players", len(r.state.TurnOrder)).Info("game started")
	return nil
}

// endTurn passes the turn on. An earned extra turn keeps it with the holder once.
func (r *Room) endTurn(s *seat) error {
	pid := s.sess.PlayerID
	if err := r.authorize(pid); err != nil {
		return err
	}
	if r.state.ExtraTurn {
		r.state.ExtraTurn = false
	} else if next := r.nextActive(r.state.CurrentTurnIndex, false); next >= 0 {
		r.state.CurrentTurnIndex = next
	}
	r.state.HasRolled = false
	r.touch("end_turn")
	r.broadcastTurn(protocol.TypeTurnChanged)
	r.record(protocol.TypeEndTurn, pid, nil)
	return nil
}

func (r *Room) rollDice(s *seat) error {
	pid := s.sess.PlayerID
	if err := r.authorize(pid); err != nil {
		return err
	}
	if r.state.HasRolled {
		return ErrAlreadyRolled
	}
	next, events, err := r.deps.Rules.EvaluateAction(models.GameAction{
		ActionType: protocol.TypeRollDice,
		PlayerID:   pid,
	}, r.snapshot())
	if err != nil {
		return &Error{Kind: ProtocolError, Code: "rule_rejected", Message: err.Error(), Err: err}
	}
	r.applyRuleResult(next)
	r.state.HasRolled = true
	r.touch("roll_dice")
	for _, ev := range events {
		r.journalEvent(ev)
	}
	return nil
}

// applyRuleResult adopts the game-level outcome of a rule evaluation. Turn order, host and
// room status never come from the engine.
func (r *Room) applyRuleResult(next models.Room) {
	for _, p := range next.Players {
		cur, ok := r.roster.Get(p.ID)
		if !ok || (cur.Balance == p.Balance && cur.Position == p.Position && cur.Deposit == p.Deposit) {
			continue
		}
		balance, position, deposit := p.Balance, p.Position, p.Deposit
		if _, err := r.roster.ApplyPlayerMutation(roster.Mutation{
			Op:       roster.OpAdjust,
			PlayerID: p.ID,
			Balance:  &balance,
			Position: &position,
			Deposit:  &deposit,
		}); err != nil {
			r.log.WithError(err).WithField("player_id", p.ID).Error("apply rule result")
		}
	}
	r.state.Holdings = next.Holdings
	r.state.Trades = next.Trades
	r.state.SettlementPool = next.SettlementPool
	r.state.ExtraTurn = next.ExtraTurn
}

func (r *Room) verifyHost(s *seat) {
	host := r.roster.HostID()
	r.sendTo(s, delivery.High, protocol.HostVerified{
		Type:    protocol.TypeHostVerified,
		GameID:  r.id,
		HostID:  host,
		IsHost:  host == s.sess.PlayerID,
		Success: host != "",
	})
}

func (r *Room) scheduleDriftCheck() {
	if r.opts.DriftInterval <= 0 {
		return
	}
	r.driftTimer = r.deps.Clock.AfterFunc(r.opts.DriftInterval, func() {
		r.submit(func() {
			r.reconcile()
			r.scheduleDriftCheck()
		})
	})
}

// reconcile checks the cross-structure invariants and repairs whatever drifted: roster
// views, session state against player status, the turn order against the seated set,
// the host role and the turn pointer. It reports whether a repair was made.
func (r *Room) reconcile() bool {
	var problems []string
	if err := r.roster.Verify(); err != nil {
		problems = append(problems, err.Error())
	}

	for pid, s := range r.seats {
		p, ok := r.roster.Get(pid)
		if !ok {
			continue
		}
		want := s.sess.State.PlayerStatus()
		if want == "" || p.Status == want {
			continue
		}
		problems = append(problems, fmt.Sprintf("session %s is %s but player is %s", pid, s.sess.State, p.Status))
		switch {
		case p.Status == models.PlayerForfeited:
			r.stopTimers(s)
			if s.outbox != nil {
				delete(r.conns, s.outbox.ID())
				s.outbox.Close(protocol.PlayerForfeitedError, ErrPlayerForfeited.Message)
				s.outbox = nil
			}
			s.sess.State = session.Forfeited
			s.sess.ConnectionID = ""
			r.deps.Index.Put(s.sess)
		default:
			r.roster.ApplyPlayerMutation(roster.Mutation{Op: roster.OpStatus, PlayerID: pid, Status: want})
		}
	}

	if order, changed := r.seatedOrder(); changed {
		problems = append(problems, fmt.Sprintf("turn order %v differs from seated players %v", r.state.TurnOrder, order))
		holder := r.state.CurrentTurnID()
		r.state.TurnOrder = order
		r.state.CurrentTurnIndex = indexOf(order, holder)
		if r.state.CurrentTurnIndex < 0 && r.started() {
			r.state.CurrentTurnIndex = r.nextActive(0, true)
		}
	}

	if r.roster.HostID() == "" && len(r.roster.ActiveIDs()) > 0 {
		problems = append(problems, "no host while players are active")
		r.ensureHost()
	}

	prev := r.state.Status
	if r.started() {
		if holder, ok := r.roster.Get(r.state.CurrentTurnID()); !ok || holder.Status != models.PlayerActive {
			if next := r.nextActive(0, true); r.state.Status == models.RoomActive && next >= 0 {
				problems = append(problems, "turn held by a player who cannot act")
				r.state.CurrentTurnIndex = next
			}
		}
		r.settleStatus()
	}
	if prev != r.state.Status {
		problems = append(problems, fmt.Sprintf("status %s settled to %s", prev, r.state.Status))
	}

	if len(problems) == 0 {
		return false
	}
	r.log.WithField("problems", strings.Join(problems, "; ")).Error("room state drift repaired")
	r.broadcastActivePlayers(true)
	if prev != r.state.Status {
		r.broadcastTurn(protocol.TypeTurnChanged)
	}
	r.touch("reconcile")
	return true
}

// seatedOrder returns the turn order restricted to seated players, with any seated player
// that is missing appended in join order.
func (r *Room) seatedOrder() ([]string, bool) {
	seated := make(map[string]bool)
	for _, p := range r.roster.Players() {
		if p.Seated() {
			seated[p.ID] = true
		}
	}
	var order []string
	seen := make(map[string]bool)
	for _, pid := range r.state.TurnOrder {
		if seated[pid] && !seen[pid] {
			order = append(order, pid)
			seen[pid] = true
		}
	}
	for _, p := range r.roster.Players() {
		if seated[p.ID] && !seen[p.ID] {
			order = append(order, p.ID)
			seen[p.ID] = true
		}
	}
	if len(order) != len(r.state.TurnOrder) {
		return order, true
	}
	for i := range order {
		if order[i] != r.state.TurnOrder[i] {
			return order, true
		}
	}
	return order, false
}

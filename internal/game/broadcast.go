// internal/game/broadcast.go
package game

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/jason-s-yu/roomcoord/internal/session"
	"github.com/oklog/ulid/v2"
)

const recordTimeout = 2 * time.Second

// broadcast sends v to every connected seat, in join order.
func (r *Room) broadcast(p delivery.Priority, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		r.log.WithError(err).Error("marshal broadcast")
		return
	}
	for _, pl := range r.roster.Players() {
		if s := r.seats[pl.ID]; s != nil {
			r.deliver(s, p, data)
		}
	}
}

func (r *Room) sendTo(s *seat, p delivery.Priority, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		r.log.WithError(err).Error("marshal message")
		return
	}
	r.deliver(s, p, data)
}

// deliver enqueues data for s. A slow consumer's outbox closes itself; the read loop then
// reports the loss and the seat enters its grace period.
func (r *Room) deliver(s *seat, p delivery.Priority, data []byte) {
	if s.outbox == nil || s.sess.State != session.Active {
		return
	}
	err := s.outbox.SendRaw(p, data)
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrSlowConsumer):
		r.log.WithField("player_id", s.sess.PlayerID).Warn("dropping slow consumer")
	case errors.Is(err, delivery.ErrClosed):
	default:
		r.log.WithError(err).WithField("player_id", s.sess.PlayerID).Warn("enqueue message")
	}
}

func (r *Room) broadcastActivePlayers(diagnostic bool) {
	r.broadcast(delivery.Normal, r.activePlayersPayload(diagnostic))
}

func (r *Room) sendActivePlayers(s *seat) {
	r.sendTo(s, delivery.Normal, r.activePlayersPayload(false))
}

func (r *Room) broadcastTurn(typ string) {
	r.broadcast(delivery.High, r.turnPayload(typ))
}

func (r *Room) sendFullState(s *seat) {
	r.sendTo(s, delivery.Normal, r.fullState(false))
}

func (r *Room) broadcastFullState(resync bool) {
	r.broadcast(delivery.Normal, r.fullState(resync))
}

func (r *Room) sendOpened(s *seat, resumed bool) {
	r.sendTo(s, delivery.High, protocol.SessionOpened{
		Type:           protocol.TypeSessionOpened,
		GameID:         r.id,
		SessionID:      s.sess.ID,
		PlayerID:       s.sess.PlayerID,
		ReconnectToken: s.sess.ReconnectToken,
		Resumed:        resumed,
		GracePeriodSec: seconds(r.opts.GracePeriod),
		Backoff:        r.opts.Backoff.Contract(),
	})
}

// journalEvent appends ev to the replay journal, broadcasts it as a partial update and
// hands it to the action log.
func (r *Room) journalEvent(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.WithError(err).WithField("event", ev.Kind).Error("marshal event")
		return
	}
	entry := r.journal.Append(r.deps.Clock.Now(), payload)
	r.broadcast(delivery.Normal, protocol.GameStateUpdate{
		Type:    protocol.TypeGameStateUpdate,
		GameID:  r.id,
		Partial: true,
		EventID: entry.ID,
		Event:   payload,
	})
	r.recordWithID(entry.ID, ev.Kind, ev.PlayerID, payload)
}

// record writes an action to the log without blocking the sequencer.
func (r *Room) record(actionType, pid string, payload interface{}) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.log.WithError(err).WithField("action", actionType).Warn("marshal action record")
		} else {
			raw = data
		}
	}
	r.recordWithID(ulid.Make().String(), actionType, pid, raw)
}

func (r *Room) recordWithID(id, actionType, pid string, payload json.RawMessage) {
	rec := models.ActionRecord{
		EventID:    id,
		GameID:     r.id,
		ActorID:    pid,
		ActionType: actionType,
		Payload:    payload,
		Timestamp:  r.deps.Clock.Now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.deps.Actions.Record(ctx, rec); err != nil {
			r.log.WithError(err).WithField("action", actionType).Warn("record action")
		}
	}()
}

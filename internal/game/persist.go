// internal/game/persist.go
package game

import (
	"context"
	"fmt"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/sirupsen/logrus"
)

const persistTimeout = 5 * time.Second

// criticalReasons are state changes whose loss would be visible after a restart.
var criticalReasons = map[string]bool{
	"forfeit": true,
	"start":   true,
}

type persistRequest struct {
	room     models.Room
	reason   string
	critical bool
}

// persist hands the current snapshot to the persistence goroutine. Only the newest
// snapshot is kept; a superseded request passes its critical flag on.
func (r *Room) persist(reason string) {
	req := persistRequest{room: r.snapshot(), reason: reason, critical: criticalReasons[reason]}
	for {
		select {
		case r.persists <- req:
			return
		default:
		}
		select {
		case old := <-r.persists:
			req.critical = req.critical || old.critical
		default:
		}
	}
}

func (r *Room) persistLoop() {
	for {
		select {
		case req := <-r.persists:
			r.persistWithRetry(req)
		case <-r.ctx.Done():
			return
		}
	}
}

// persistWithRetry retries a failed save with exponential backoff. When every attempt
// fails an operator alarm is raised and the room is told to resync; in-memory state is
// kept either way.
func (r *Room) persistWithRetry(req persistRequest) {
	if r.deps.Store == nil {
		return
	}
	attempts := r.opts.PersistRetries + 1
	delay := r.opts.PersistBackoff
	var err error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(r.ctx, persistTimeout)
		err = r.deps.Store.PersistRoomState(ctx, req.room)
		cancel()
		if err == nil {
			return
		}
		r.log.WithError(err).WithFields(logrus.Fields{
			"attempt": i,
			"reason":  req.reason,
			"version": req.room.Version,
		}).Warn("persist room state")
		if i == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-r.ctx.Done():
			return
		}
		delay *= 2
	}

	alarm := Alarm{
		GameID:   r.id,
		Kind:     TimerFault,
		Reason:   req.reason,
		Attempts: attempts,
		Error:    err.Error(),
	}
	if req.critical {
		alarm.Reason = fmt.Sprintf("%s (critical)", req.reason)
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	if aerr := r.deps.Alarms.Raise(ctx, alarm); aerr != nil {
		r.log.WithError(aerr).Error("raise persistence alarm")
	}
	cancel()
	r.log.WithError(err).WithField("reason", req.reason).Error("room state not persisted after retries")

	r.submit(func() {
		r.broadcast(delivery.High, ErrPersistDegraded.Payload())
		r.broadcastFullState(true)
	})
}

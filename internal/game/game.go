// internal/game/game.go
package game

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/clock"
	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/jason-s-yu/roomcoord/internal/roster"
	"github.com/jason-s-yu/roomcoord/internal/session"
	"github.com/sirupsen/logrus"
)

// NavigationWindow is how long a client_navigating notice marks a following drop as expected.
const NavigationWindow = 10 * time.Second

// Options are the timings and limits every room shares.
type Options struct {
	HandshakeTimeout time.Duration
	GracePeriod      time.Duration
	GraceTick        time.Duration
	DriftInterval    time.Duration
	Backoff          session.Backoff
	JournalSize      int
	PersistRetries   int
	PersistBackoff   time.Duration
	StartingBalance  int64
	StartingDeposit  int64
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		GracePeriod:      180 * time.Second,
		GraceTick:        30 * time.Second,
		DriftInterval:    60 * time.Second,
		Backoff:          session.DefaultBackoff,
		JournalSize:      256,
		PersistRetries:   3,
		PersistBackoff:   500 * time.Millisecond,
		StartingBalance:  1500,
		StartingDeposit:  200,
	}
}

// Deps are the collaborators a room talks to.
type Deps struct {
	Store   RoomStore
	Rules   RuleEngine
	Actions ActionLog
	Alarms  Alarms
	Index   *session.Index
	Clock   clock.Clock
	Logger  logrus.FieldLogger
}

func (d Deps) withDefaults() Deps {
	if d.Actions == nil {
		d.Actions = nopActionLog{}
	}
	if d.Alarms == nil {
		d.Alarms = nopAlarms{}
	}
	if d.Rules == nil {
		d.Rules = NewDiceEngine(nil)
	}
	if d.Index == nil {
		d.Index = session.NewIndex()
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	return d
}

// seat is the room-side state of one player's session.
type seat struct {
	sess            session.Session
	outbox          *delivery.Outbox
	graceTimer      clock.Timer
	tickTimer       clock.Timer
	graceGen        int
	disconnectedAt  time.Time
	navigatingUntil time.Time
	// coalesced is the outbox's Coalesced count as of the last repair.
	coalesced       int
}

// Room is one game room. Every field below the sequencer block is owned by the run
// goroutine; other goroutines reach it only through submitted commands.
type Room struct {
	id   string
	opts Options
	deps Deps
	log  logrus.FieldLogger

	cmds    chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	resync   atomic.Pointer[[]byte]
	persists chan persistRequest

	state       models.Room
	roster      *roster.Roster
	seats       map[string]*seat
	conns       map[string]string
	consumed    map[string]struct{}
	journal     *Journal
	driftTimer  clock.Timer
	snapVersion int64
}

// newRoom builds a room around persisted state and starts its goroutines.
func newRoom(state models.Room, opts Options, deps Deps) *Room {
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		id:       state.GameID,
		opts:     opts,
		deps:     deps,
		log:      deps.Logger.WithField("game_id", state.GameID),
		cmds:     make(chan func(), 256),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
		persists: make(chan persistRequest, 1),
		state:    state.Clone(),
		roster:   roster.Restore(state.Players),
		seats:    make(map[string]*seat),
		conns:    make(map[string]string),
		consumed: make(map[string]struct{}),
		journal:  NewJournal(opts.JournalSize),
	}
	if r.state.Status == "" {
		r.state.Status = models.RoomLobby
	}
	go r.run()
	go r.persistLoop()
	r.submit(func() {
		r.restoreSeats()
		r.scheduleDriftCheck()
	})
	return r
}

func (r *Room) ID() string { return r.id }

func (r *Room) run() {
	defer close(r.stopped)
	for {
		select {
		case cmd := <-r.cmds:
			cmd()
			r.afterCommand()
		case <-r.ctx.Done():
			return
		}
	}
}

// submit queues fn on the sequencer. It reports false once the room has stopped.
func (r *Room) submit(fn func()) bool {
	select {
	case r.cmds <- fn:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// do runs fn on the sequencer and waits for its result. It must never be called from
// inside a command.
func (r *Room) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !r.submit(func() { errc <- fn() }) {
		return ErrRoomStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRoomStopped
	}
}

// Sync waits until every command submitted before it has run.
func (r *Room) Sync(ctx context.Context) error {
	return r.do(ctx, func() error { return nil })
}

// Stop halts the sequencer, releases timers and connections and saves the final state.
func (r *Room) Stop() {
	var final models.Room
	r.do(context.Background(), func() error {
		final = r.snapshot()
		for _, s := range r.seats {
			r.stopTimers(s)
			if s.outbox != nil {
				s.outbox.Close(protocol.GoingAway, "room shutting down")
			}
		}
		if r.driftTimer != nil {
			r.driftTimer.Stop()
		}
		return nil
	})
	r.cancel()
	<-r.stopped
	if r.deps.Store == nil || final.GameID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.deps.Store.PersistRoomState(ctx, final); err != nil {
		r.log.WithError(err).Error("persist final room state")
	}
}

// Snapshot returns a copy of the room as it would be persisted.
func (r *Room) Snapshot(ctx context.Context) (models.Room, error) {
	var out models.Room
	err := r.do(ctx, func() error {
		out = r.snapshot()
		return nil
	})
	return out, err
}

// afterCommand checks invariants, refreshes the cached resync payload when state changed
// and repairs any connection whose queue coalesced NORMAL updates during the command.
// Once the game is completed the remaining sessions are closed.
func (r *Room) afterCommand() {
	if r.state.Version != r.snapVersion || r.resync.Load() == nil {
		r.reconcile()
		r.snapVersion = r.state.Version
		data, err := json.Marshal(r.fullState(true))
		if err != nil {
			r.log.WithError(err).Error("marshal resync snapshot")
			return
		}
		r.resync.Store(&data)
	}
	r.repairCoalesced()
	if r.state.Status == models.RoomCompleted {
		r.closeSeats()
	}
}

// repairCoalesced sends the current full state to every seat whose queue collapsed its
// NORMAL lane since the last check. A coalesce taken mid-command captured the state from
// before that command, so the merged message alone can leave the client behind.
func (r *Room) repairCoalesced() {
	for _, pl := range r.roster.Players() {
		s := r.seats[pl.ID]
		if s == nil || s.outbox == nil {
			continue
		}
		n := s.outbox.Stats().Coalesced
		if n == s.coalesced {
			continue
		}
		r.deliver(s, delivery.Normal, r.resyncPayload())
		s.coalesced = s.outbox.Stats().Coalesced
	}
}

// resyncPayload is handed to delivery queues for NORMAL coalescing. Safe from any goroutine.
func (r *Room) resyncPayload() []byte {
	if p := r.resync.Load(); p != nil {
		return *p
	}
	return []byte(`{"type":"game_state_update","partial":false,"resync":true}`)
}

// touch marks a state change and queues persistence.
func (r *Room) touch(reason string) {
	r.state.Version++
	r.state.UpdatedAt = r.deps.Clock.Now()
	r.persist(reason)
}

// restoreSeats re-creates sessions for players loaded from storage. Nobody is connected
// after a restart, so every seated player starts a grace period.
func (r *Room) restoreSeats() {
	now := r.deps.Clock.Now()
	changed := false
	for _, p := range r.roster.Players() {
		if !p.Seated() {
			continue
		}
		s := &seat{sess: session.Session{
			ID:         newID(),
			PlayerID:   p.ID,
			GameID:     r.id,
			State:      session.Active,
			LastSeenAt: now,
		}}
		r.seats[p.ID] = s
		r.enterGrace(s, false)
		changed = true
	}
	if changed {
		r.settleStatus()
		r.touch("restore")
	}
}

// Package roster keeps the canonical player records of a room and the read views derived
// from them. A Roster is not safe for concurrent use; it is owned by one room sequencer.
package roster

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/models"
)

var (
	ErrUnknownPlayer   = errors.New("roster: unknown player")
	ErrDuplicatePlayer = errors.New("roster: player already seated")
	ErrTombstoned      = errors.New("roster: player has forfeited")
	ErrDrift           = errors.New("roster: derived view drifted from canonical store")
)

// Op names a mutation kind.
type Op int

const (
	OpJoin Op = iota + 1
	OpProfile
	OpStatus
	OpSetHost
	OpClearHost
	OpAdjust
)

func (op Op) String() string {
	switch op {
	case OpJoin:
		return "join"
	case OpProfile:
		return "profile"
	case OpStatus:
		return "status"
	case OpSetHost:
		return "set_host"
	case OpClearHost:
		return "clear_host"
	case OpAdjust:
		return "adjust"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Profile is the cosmetic part of a player record.
type Profile struct {
	DisplayName string
	Token       string
	Color       string
}

// Mutation is the only way to change a player record.
type Mutation struct {
	Op       Op
	PlayerID string
	Profile  Profile
	Status   models.PlayerStatus
	At       time.Time

	// Authoritative fields, applied by OpJoin and OpAdjust only when non-nil.
	Balance  *int64
	Position *int
	Deposit  *int64
}

// Views are the read projections of the roster. They are regenerated from the canonical
// store after every mutation and handed out as copies.
type Views struct {
	ByID    map[string]models.Player
	Ordered []models.Player
}

// ActiveIDs lists ACTIVE players in ordinal order.
func (v Views) ActiveIDs() []string {
	var ids []string
	for _, p := range v.Ordered {
		if p.Status == models.PlayerActive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

type Roster struct {
	records     map[string]*models.Player
	nextOrdinal int
	views       Views
}

func New() *Roster {
	r := &Roster{records: make(map[string]*models.Player)}
	r.rebuild()
	return r
}

// Restore builds a roster from persisted players, keeping their ordinals.
func Restore(players []models.Player) *Roster {
	r := &Roster{records: make(map[string]*models.Player, len(players))}
	for _, p := range players {
		p := p
		r.records[p.ID] = &p
		if p.Ordinal >= r.nextOrdinal {
			r.nextOrdinal = p.Ordinal + 1
		}
	}
	r.rebuild()
	return r
}

// ApplyPlayerMutation updates the canonical record, regenerates every view and checks the
// result. It returns the updated record.
func (r *Roster) ApplyPlayerMutation(m Mutation) (models.Player, error) {
	rec, err := r.apply(m)
	if err != nil {
		return models.Player{}, err
	}
	r.rebuild()
	if err := r.Verify(); err != nil {
		return *rec, err
	}
	return *rec, nil
}

func (r *Roster) apply(m Mutation) (*models.Player, error) {
	if m.Op == OpClearHost {
		for _, rec := range r.records {
			rec.IsHost = false
		}
		return &models.Player{}, nil
	}

	rec, ok := r.records[m.PlayerID]
	if m.Op == OpJoin {
		if ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlayer, m.PlayerID)
		}
		rec = &models.Player{
			ID:       m.PlayerID,
			Ordinal:  r.nextOrdinal,
			Status:   models.PlayerActive,
			JoinedAt: m.At,
		}
		r.nextOrdinal++
		mergeProfile(rec, m.Profile)
		applyAuthoritative(rec, m)
		r.records[m.PlayerID] = rec
		return rec, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, m.PlayerID)
	}
	if rec.Status == models.PlayerForfeited && m.Op != OpAdjust {
		return nil, fmt.Errorf("%w: %s", ErrTombstoned, m.PlayerID)
	}

	switch m.Op {
	case OpProfile:
		mergeProfile(rec, m.Profile)
	case OpStatus:
		rec.Status = m.Status
		if m.Status == models.PlayerForfeited {
			rec.IsHost = false
		}
	case OpSetHost:
		if rec.Status != models.PlayerActive {
			return nil, fmt.Errorf("roster: host must be ACTIVE, %s is %s", rec.ID, rec.Status)
		}
		for _, other := range r.records {
			other.IsHost = false
		}
		rec.IsHost = true
	case OpAdjust:
		applyAuthoritative(rec, m)
	default:
		return nil, fmt.Errorf("roster: unsupported mutation %s", m.Op)
	}
	return rec, nil
}

// mergeProfile adopts the most recent non-empty cosmetic values and never blanks one.
func mergeProfile(rec *models.Player, p Profile) {
	if p.DisplayName != "" {
		rec.DisplayName = p.DisplayName
	}
	if p.Token != "" {
		rec.Token = p.Token
	}
	if p.Color != "" {
		rec.Color = p.Color
	}
}

func applyAuthoritative(rec *models.Player, m Mutation) {
	if m.Balance != nil {
		rec.Balance = *m.Balance
	}
	if m.Position != nil {
		rec.Position = *m.Position
	}
	if m.Deposit != nil {
		rec.Deposit = *m.Deposit
	}
}

func (r *Roster) rebuild() {
	byID := make(map[string]models.Player, len(r.records))
	ordered := make([]models.Player, 0, len(r.records))
	for id, rec := range r.records {
		byID[id] = *rec
		ordered = append(ordered, *rec)
	}
	sortByOrdinal(ordered)
	r.views = Views{ByID: byID, Ordered: ordered}
}

func sortByOrdinal(ps []models.Player) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Ordinal == ps[j].Ordinal {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].Ordinal < ps[j].Ordinal
	})
}

// Verify compares every derived view with the canonical store. On a mismatch the views
// are rebuilt and an error wrapping ErrDrift describes what differed.
func (r *Roster) Verify() error {
	problem := r.findDrift()
	if problem == "" {
		return nil
	}
	r.rebuild()
	return fmt.Errorf("%w: %s", ErrDrift, problem)
}

func (r *Roster) findDrift() string {
	if len(r.views.ByID) != len(r.records) {
		return fmt.Sprintf("id view has %d entries, store has %d", len(r.views.ByID), len(r.records))
	}
	if len(r.views.Ordered) != len(r.records) {
		return fmt.Sprintf("ordered view has %d entries, store has %d", len(r.views.Ordered), len(r.records))
	}
	for id, rec := range r.records {
		if v, ok := r.views.ByID[id]; !ok || v != *rec {
			return "id view disagrees on " + id
		}
	}
	for i, v := range r.views.Ordered {
		rec, ok := r.records[v.ID]
		if !ok || v != *rec {
			return "ordered view disagrees on " + v.ID
		}
		if i > 0 && r.views.Ordered[i-1].Ordinal > v.Ordinal {
			return "ordered view out of order at " + v.ID
		}
	}
	return ""
}

// Views returns copies of the current projections.
func (r *Roster) Views() Views {
	byID := make(map[string]models.Player, len(r.views.ByID))
	for id, p := range r.views.ByID {
		byID[id] = p
	}
	return Views{ByID: byID, Ordered: append([]models.Player(nil), r.views.Ordered...)}
}

func (r *Roster) Get(id string) (models.Player, bool) {
	p, ok := r.views.ByID[id]
	return p, ok
}

// Players returns every record, tombstones included, in ordinal order.
func (r *Roster) Players() []models.Player {
	return append([]models.Player(nil), r.views.Ordered...)
}

// ActiveIDs lists ACTIVE players in ordinal order.
func (r *Roster) ActiveIDs() []string {
	return r.views.ActiveIDs()
}

// HostID returns the player flagged as host, or "".
func (r *Roster) HostID() string {
	for _, p := range r.views.Ordered {
		if p.IsHost {
			return p.ID
		}
	}
	return ""
}

// Count returns the number of players whose status is one of statuses.
func (r *Roster) Count(statuses ...models.PlayerStatus) int {
	n := 0
	for _, p := range r.views.Ordered {
		for _, s := range statuses {
			if p.Status == s {
				n++
				break
			}
		}
	}
	return n
}

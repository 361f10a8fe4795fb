// internal/game/game_store.go
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jason-s-yu/roomcoord/internal/clock"
	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/jason-s-yu/roomcoord/internal/session"
	"golang.org/x/sync/singleflight"
)

var (
	errUnknownGame   = &Error{Kind: ProtocolError, Code: "unknown_game", Message: "game does not exist", CloseCode: protocol.InvalidGameIDError}
	errUnknownPlayer = &Error{Kind: AuthError, Code: "invalid_player", Message: "credential names no player", CloseCode: protocol.InvalidUserIDError}
)

// GameStore owns every live room in the process and the connections still in their
// handshake window.
type GameStore struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	pending  map[string]*Pending
	loads    singleflight.Group
	opts     Options
	deps     Deps
	verifier CredentialVerifier
}

// Pending is a connection that has not completed its handshake yet. When the upgrade
// request carried a valid credential the player is already known and holds a CONNECTING
// entry in the session index.
type Pending struct {
	ID     string
	GameID string
	Outbox *delivery.Outbox
	timer  clock.Timer

	credential string
	identity   models.Identity
}

// OpenRequest is the handshake a pending connection sent.
type OpenRequest struct {
	Credential     string
	ReconnectToken string
	LastEventID    string
	Profile        protocol.PlayerProfile
	ClaimHost      bool
}

func NewGameStore(opts Options, deps Deps, verifier CredentialVerifier) *GameStore {
	return &GameStore{
		rooms:    make(map[string]*Room),
		pending:  make(map[string]*Pending),
		opts:     opts,
		deps:     deps.withDefaults(),
		verifier: verifier,
	}
}

// Index is the process-wide session index shared by every room.
func (s *GameStore) Index() *session.Index { return s.deps.Index }

// CreateRoom opens an empty lobby and saves it before returning.
func (s *GameStore) CreateRoom(ctx context.Context) (*Room, error) {
	state := models.Room{
		GameID:           newID(),
		Status:           models.RoomLobby,
		CurrentTurnIndex: -1,
		TurnOrder:        []string{},
		UpdatedAt:        s.deps.Clock.Now(),
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.PersistRoomState(ctx, state); err != nil {
			return nil, fmt.Errorf("persist new room: %w", err)
		}
	}
	r := newRoom(state, s.opts, s.deps)
	s.mu.Lock()
	s.rooms[r.ID()] = r
	s.mu.Unlock()
	r.log.Info("room created")
	return r, nil
}

// GetRoom returns the live room, loading it from storage on first use.
func (s *GameStore) GetRoom(ctx context.Context, gameID string) (*Room, error) {
	s.mu.Lock()
	r, ok := s.rooms[gameID]
	s.mu.Unlock()
	if ok {
		return r, nil
	}
	if s.deps.Store == nil {
		return nil, ErrRoomNotFound
	}
	v, err, _ := s.loads.Do(gameID, func() (interface{}, error) {
		state, err := s.deps.Store.LoadRoomState(ctx, gameID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if r, ok := s.rooms[gameID]; ok {
			return r, nil
		}
		r := newRoom(state, s.opts, s.deps)
		s.rooms[gameID] = r
		r.log.WithField("version", state.Version).Info("room restored from storage")
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Connect registers a new connection for gameID and starts its handshake timer. If no
// handshake completes in time the outbox is closed with the handshake timeout code and
// the CONNECTING session is discarded.
func (s *GameStore) Connect(ctx context.Context, gameID, credential string, outbox *delivery.Outbox) *Pending {
	p := &Pending{ID: outbox.ID(), GameID: gameID, Outbox: outbox}
	if credential != "" {
		if ident, err := s.verifier.VerifyCredential(ctx, credential); err == nil && ident.PlayerID != "" {
			p.credential, p.identity = credential, ident
			s.deps.Index.PutIfAbsent(session.Session{
				ID:           newID(),
				PlayerID:     ident.PlayerID,
				GameID:       gameID,
				ConnectionID: p.ID,
				State:        session.Connecting,
				LastSeenAt:   s.deps.Clock.Now(),
			})
		}
	}
	s.mu.Lock()
	s.pending[p.ID] = p
	s.mu.Unlock()
	p.timer = s.deps.Clock.AfterFunc(s.opts.HandshakeTimeout, func() {
		if !s.claim(p) {
			return
		}
		s.discard(p)
		s.deps.Logger.WithField("connection_id", p.ID).Info("handshake timed out")
		outbox.SendRaw(delivery.High, mustPayload(ErrHandshakeTimeout))
		outbox.CloseWhenDrained(protocol.HandshakeTimeoutError, ErrHandshakeTimeout.Message)
	})
	return p
}

// discard drops the CONNECTING entry of a handshake that did not reach a seat.
func (s *GameStore) discard(p *Pending) {
	if p.identity.PlayerID != "" {
		s.deps.Index.DeleteConnecting(p.GameID, p.identity.PlayerID, p.ID)
	}
}

// claim removes p from the pending set. Only the first caller wins.
func (s *GameStore) claim(p *Pending) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[p.ID]; !ok {
		return false
	}
	delete(s.pending, p.ID)
	return true
}

// Abandon drops a pending connection that went away before its handshake.
func (s *GameStore) Abandon(p *Pending) {
	if s.claim(p) {
		p.timer.Stop()
		s.discard(p)
	}
}

// Open completes the handshake of p: the credential is verified, the room resolved and the
// connection admitted to a seat.
func (s *GameStore) Open(ctx context.Context, p *Pending, req OpenRequest) (*Room, Admission, error) {
	if !s.claim(p) {
		return nil, Admission{}, ErrHandshakeTimeout
	}
	p.timer.Stop()
	// A successful admission has already replaced the CONNECTING entry.
	defer s.discard(p)

	ident := p.identity
	if ident.PlayerID == "" || req.Credential != p.credential {
		var err error
		ident, err = s.verifier.VerifyCredential(ctx, req.Credential)
		if err != nil {
			return nil, Admission{}, authError(err)
		}
		if ident.PlayerID == "" {
			return nil, Admission{}, errUnknownPlayer
		}
	}
	room, err := s.GetRoom(ctx, p.GameID)
	if errors.Is(err, ErrRoomNotFound) {
		return nil, Admission{}, errUnknownGame
	}
	if err != nil {
		return nil, Admission{}, err
	}
	adm, err := room.Admit(ctx, AdmitRequest{
		Identity:       ident,
		Outbox:         p.Outbox,
		ReconnectToken: req.ReconnectToken,
		LastEventID:    req.LastEventID,
		Profile:        req.Profile,
		ClaimHost:      req.ClaimHost,
	})
	if err != nil {
		return nil, Admission{}, err
	}
	return room, adm, nil
}

// Session looks up the current session of a player.
func (s *GameStore) Session(gameID, playerID string) (session.Session, bool) {
	return s.deps.Index.Get(gameID, playerID)
}

func (s *GameStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown stops every room. Rooms keep their persisted state.
func (s *GameStore) Shutdown() {
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for id, r := range s.rooms {
		rooms = append(rooms, r)
		delete(s.rooms, id)
	}
	for id, p := range s.pending {
		p.timer.Stop()
		p.Outbox.Close(protocol.GoingAway, "server shutting down")
		delete(s.pending, id)
	}
	s.mu.Unlock()
	for _, r := range rooms {
		r.Stop()
		s.deps.Index.DeleteGame(r.ID())
	}
}

func mustPayload(e *Error) []byte {
	data, _ := json.Marshal(e.Payload())
	return data
}

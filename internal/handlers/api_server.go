// internal/handlers/api_server.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jason-s-yu/roomcoord/internal/game"
	"github.com/jason-s-yu/roomcoord/internal/middleware"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/jason-s-yu/roomcoord/internal/session"
)

// NewRouter wires every HTTP and WebSocket route of the room server.
func NewRouter(gs *GameServer) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, middleware.LogMiddleware(gs.Logger))

	r.Get("/healthz", gs.HealthHandler)
	r.Post("/games", gs.CreateGameHandler)
	r.Get("/games/{gameID}", gs.GetGameHandler)
	r.Get("/games/{gameID}/sessions/{playerID}", gs.SessionHandler)
	r.Get("/game/ws/{gameID}", GameWSHandler(gs))
	return r
}

type playerSummary struct {
	ID          string              `json:"id"`
	DisplayName string              `json:"displayName"`
	Ordinal     int                 `json:"ordinal"`
	Status      models.PlayerStatus `json:"status"`
	IsHost      bool                `json:"isHost"`
}

// gameSummary is the public view of a room; balances and holdings travel only over the
// room's own WebSocket.
type gameSummary struct {
	GameID      string            `json:"gameId"`
	Status      models.RoomStatus `json:"status"`
	HostID      string            `json:"hostId,omitempty"`
	CurrentTurn string            `json:"currentTurn,omitempty"`
	WinnerID    string            `json:"winnerId,omitempty"`
	Version     int64             `json:"version"`
	Players     []playerSummary   `json:"players"`
}

func summarize(st models.Room) gameSummary {
	out := gameSummary{
		GameID:   st.GameID,
		Status:   st.Status,
		HostID:   st.HostID,
		WinnerID: st.WinnerID,
		Version:  st.Version,
		Players:  make([]playerSummary, 0, len(st.Players)),
	}
	if st.CurrentTurnIndex >= 0 && st.CurrentTurnIndex < len(st.TurnOrder) {
		out.CurrentTurn = st.TurnOrder[st.CurrentTurnIndex]
	}
	for _, p := range st.Players {
		out.Players = append(out.Players, playerSummary{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Ordinal:     p.Ordinal,
			Status:      p.Status,
			IsHost:      p.IsHost,
		})
	}
	return out
}

// authenticate verifies the request's bearer credential and writes a 401 on failure.
func (gs *GameServer) authenticate(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	ident, err := gs.Verifier.VerifyCredential(r.Context(), bearerToken(r))
	if err != nil || ident.PlayerID == "" {
		writeError(w, http.StatusUnauthorized, "invalid credential")
		return models.Identity{}, false
	}
	return ident, true
}

func (gs *GameServer) HealthHandler(w http.ResponseWriter, r *http.Request) {
	idx := gs.Games.Index()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"pendingHandshakes": gs.Games.PendingCount(),
		"sessions": map[string]int{
			"connecting": idx.Len(session.Connecting),
			"active":     idx.Len(session.Active),
			"grace":      idx.Len(session.Grace),
		},
	})
}

// CreateGameHandler opens a new room in the lobby state. Any authenticated player may
// create one; the first to join becomes host.
func (gs *GameServer) CreateGameHandler(w http.ResponseWriter, r *http.Request) {
	ident, ok := gs.authenticate(w, r)
	if !ok {
		return
	}
	room, err := gs.Games.CreateRoom(r.Context())
	if err != nil {
		gs.Logger.WithError(err).Error("create room")
		writeError(w, http.StatusInternalServerError, "could not create room")
		return
	}
	gs.Logger.WithField("game_id", room.ID()).WithField("player_id", ident.PlayerID).Info("room created")
	writeJSON(w, http.StatusCreated, map[string]string{"gameId": room.ID()})
}

func (gs *GameServer) GetGameHandler(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	room, err := gs.Games.GetRoom(r.Context(), gameID)
	if errors.Is(err, game.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		gs.Logger.WithError(err).WithField("game_id", gameID).Error("load room")
		writeError(w, http.StatusInternalServerError, "could not load room")
		return
	}
	st, err := room.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "room unavailable")
		return
	}
	writeJSON(w, http.StatusOK, summarize(st))
}

// SessionHandler returns the caller's own session in a room. Reconnect tokens are never
// part of the response.
func (gs *GameServer) SessionHandler(w http.ResponseWriter, r *http.Request) {
	ident, ok := gs.authenticate(w, r)
	if !ok {
		return
	}
	playerID := chi.URLParam(r, "playerID")
	if ident.PlayerID != playerID {
		writeError(w, http.StatusForbidden, "sessions are only visible to their player")
		return
	}
	sess, found := gs.Games.Session(chi.URLParam(r, "gameID"), playerID)
	if !found {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

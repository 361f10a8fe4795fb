// internal/game/sync_state.go
package game

import (
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
)

// snapshot assembles the persisted form of the room from the canonical roster.
func (r *Room) snapshot() models.Room {
	out := r.state.Clone()
	out.Players = r.roster.Players()
	out.HostID = r.roster.HostID()
	return out
}

// fullState is the complete room sent on join, resume, resync and status changes.
func (r *Room) fullState(resync bool) protocol.GameStateUpdate {
	state := r.snapshot()
	return protocol.GameStateUpdate{
		Type:    protocol.TypeGameStateUpdate,
		GameID:  r.id,
		Partial: false,
		State:   &state,
		Resync:  resync,
	}
}

// activePlayersPayload renders the seated players in both views. Forfeited players are
// left out; their records stay in the full state.
func (r *Room) activePlayersPayload(diagnostic bool) protocol.ActivePlayers {
	views := r.roster.Views()
	out := protocol.ActivePlayers{
		Type:          protocol.TypeActivePlayers,
		GameID:        r.id,
		HostID:        r.roster.HostID(),
		Players:       make(map[string]models.Player),
		ActivePlayers: []models.Player{},
		Diagnostic:    diagnostic,
		Timestamp:     r.deps.Clock.Now().UnixMilli(),
	}
	for _, p := range views.Ordered {
		if !p.Seated() {
			continue
		}
		out.Players[p.ID] = views.ByID[p.ID]
		out.ActivePlayers = append(out.ActivePlayers, p)
	}
	return out
}

func (r *Room) turnPayload(typ string) protocol.Turn {
	return protocol.Turn{
		Type:      typ,
		GameID:    r.id,
		PlayerID:  r.state.CurrentTurnID(),
		TurnIndex: r.state.CurrentTurnIndex,
		TurnOrder: append([]string{}, r.state.TurnOrder...),
		ExtraTurn: r.state.ExtraTurn,
		Status:    r.state.Status,
	}
}

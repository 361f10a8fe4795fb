// internal/game/collaborators.go
package game

import (
	"context"

	"github.com/jason-s-yu/roomcoord/internal/models"
)

// CredentialVerifier resolves a bearer credential to a player identity.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, token string) (models.Identity, error)
}

// RoomStore loads and saves room state. LoadRoomState returns ErrRoomNotFound for unknown rooms.
type RoomStore interface {
	LoadRoomState(ctx context.Context, gameID string) (models.Room, error)
	PersistRoomState(ctx context.Context, room models.Room) error
}

// Event is one rule-engine outcome, broadcast to the room as a partial state update.
type Event struct {
	Kind     string                 `json:"kind"`
	PlayerID string                 `json:"playerId,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// RuleEngine evaluates gameplay actions. The room applies only the player, holding, trade
// and extra-turn fields of the returned Room; turn order, host and status stay server-held.
type RuleEngine interface {
	EvaluateAction(action models.GameAction, room models.Room) (models.Room, []Event, error)
}

// ActionLog receives a record of every journaled room event.
type ActionLog interface {
	Record(ctx context.Context, rec models.ActionRecord) error
}

// Alarm is raised for operators when the room cannot recover on its own.
type Alarm struct {
	GameID   string `json:"game_id"`
	Kind     Kind   `json:"kind"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

type Alarms interface {
	Raise(ctx context.Context, a Alarm) error
}

type nopActionLog struct{}

func (nopActionLog) Record(context.Context, models.ActionRecord) error { return nil }

type nopAlarms struct{}

func (nopAlarms) Raise(context.Context, Alarm) error { return nil }

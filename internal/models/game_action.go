package models

import "encoding/json"

// GameAction is a player's in-game move, forwarded to the rule engine.
type GameAction struct {
	ActionType string          `json:"action_type"`
	PlayerID   string          `json:"player_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ActionRecord is one entry of the room action log consumed by the historian.
type ActionRecord struct {
	EventID    string          `json:"event_id"`
	GameID     string          `json:"game_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	ActionType string          `json:"action_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

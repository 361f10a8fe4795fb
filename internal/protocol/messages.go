// internal/protocol/messages.go
package protocol

import (
	"encoding/json"

	"github.com/jason-s-yu/roomcoord/internal/models"
)

// PlayerProfile carries the cosmetic fields a client may report about itself.
type PlayerProfile struct {
	DisplayName string `json:"displayName"`
	Token       string `json:"token"`
	Color       string `json:"color"`
}

type PlayerJoined struct {
	Type      string        `json:"type"`
	Player    PlayerProfile `json:"player"`
	ClaimHost bool          `json:"claimHost"`
}

type Reconnect struct {
	Type           string `json:"type"`
	ReconnectToken string `json:"reconnectToken"`
	LastEventID    string `json:"lastEventId,omitempty"`
}

type ClientNavigating struct {
	Type        string `json:"type"`
	Destination string `json:"destination,omitempty"`
}

type ChatIn struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Backoff is the reconnection contract advertised to clients.
type Backoff struct {
	BaseMs      int64   `json:"baseMs"`
	Multiplier  float64 `json:"multiplier"`
	MaxAttempts int     `json:"maxAttempts"`
}

type SessionOpened struct {
	Type           string  `json:"type"`
	GameID         string  `json:"gameId"`
	SessionID      string  `json:"sessionId"`
	PlayerID       string  `json:"playerId"`
	ReconnectToken string  `json:"reconnectToken"`
	Resumed        bool    `json:"resumed"`
	GracePeriodSec int     `json:"gracePeriodSec"`
	Backoff        Backoff `json:"backoff"`
}

// ActivePlayers is the dual-view roster snapshot: id-keyed and ordinal-ordered.
type ActivePlayers struct {
	Type          string                   `json:"type"`
	GameID        string                   `json:"gameId"`
	HostID        string                   `json:"hostId"`
	Players       map[string]models.Player `json:"players"`
	ActivePlayers []models.Player          `json:"activePlayers"`
	Diagnostic    bool                     `json:"diagnostic,omitempty"`
	Timestamp     int64                    `json:"timestamp"`
}

// PlayerEvent announces a roster change for one player.
type PlayerEvent struct {
	Type     string         `json:"type"`
	GameID   string         `json:"gameId"`
	PlayerID string         `json:"playerId"`
	Player   *models.Player `json:"player,omitempty"`
}

type PlayerDisconnected struct {
	Type               string `json:"type"`
	GameID             string `json:"gameId"`
	PlayerID           string `json:"playerId"`
	CountdownRemaining int    `json:"countdownRemaining"`
	ExpectedResume     bool   `json:"expectedResume,omitempty"`
}

type PlayerForfeited struct {
	Type             string   `json:"type"`
	GameID           string   `json:"gameId"`
	PlayerID         string   `json:"playerId"`
	Released         []string `json:"releasedHoldings"`
	MortgagedForSale []string `json:"mortgagedForSale"`
	CancelledTrades  []string `json:"cancelledTrades"`
	ForfeitedDeposit int64    `json:"forfeitedDeposit"`
	Voluntary        bool     `json:"voluntary,omitempty"`
}

type HostChanged struct {
	Type           string `json:"type"`
	GameID         string `json:"gameId"`
	HostID         string `json:"hostId"`
	PreviousHostID string `json:"previousHostId,omitempty"`
}

type HostVerified struct {
	Type    string `json:"type"`
	GameID  string `json:"gameId"`
	HostID  string `json:"hostId"`
	IsHost  bool   `json:"isHost"`
	Success bool   `json:"success"`
}

// Turn is sent as turn_changed on every authoritative change and as current_turn on request.
type Turn struct {
	Type      string            `json:"type"`
	GameID    string            `json:"gameId"`
	PlayerID  string            `json:"playerId"`
	TurnIndex int               `json:"turnIndex"`
	TurnOrder []string          `json:"turnOrder"`
	ExtraTurn bool              `json:"extraTurn"`
	Status    models.RoomStatus `json:"status"`
}

// GameStateUpdate carries either the full room (Partial=false) or one delta event.
type GameStateUpdate struct {
	Type    string          `json:"type"`
	GameID  string          `json:"gameId"`
	Partial bool            `json:"partial"`
	EventID string          `json:"eventId,omitempty"`
	State   *models.Room    `json:"state,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Resync  bool            `json:"resync,omitempty"`
}

type ChatOut struct {
	Type      string `json:"type"`
	GameID    string `json:"gameId"`
	PlayerID  string `json:"playerId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type Error struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	Retryable   bool   `json:"retryable"`
	CurrentTurn string `json:"currentTurn,omitempty"`
	Resync      bool   `json:"resync,omitempty"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

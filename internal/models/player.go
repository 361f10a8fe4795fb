package models

import "time"

// PlayerStatus is the seat state of a player within a room.
type PlayerStatus string

const (
	PlayerActive       PlayerStatus = "ACTIVE"
	PlayerDisconnected PlayerStatus = "DISCONNECTED"
	PlayerForfeited    PlayerStatus = "FORFEITED"
)

// Player is the canonical record for one seat. Cosmetic fields (DisplayName, Token, Color)
// may be reported by clients; everything else is server-authoritative.
type Player struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Token       string       `json:"token"`
	Color       string       `json:"color"`
	Position    int          `json:"position"`
	Balance     int64        `json:"balance"`
	Deposit     int64        `json:"deposit"`
	Ordinal     int          `json:"ordinal"`
	IsHost      bool         `json:"isHost"`
	Status      PlayerStatus `json:"status"`
	JoinedAt    time.Time    `json:"joinedAt"`
}

// Seated reports whether the player still holds a seat (ACTIVE or within a grace period).
func (p Player) Seated() bool {
	return p.Status == PlayerActive || p.Status == PlayerDisconnected
}

// Identity is what the credential verifier vouches for.
type Identity struct {
	PlayerID      string
	WalletAddress string
	ExpiresAt     time.Time
}

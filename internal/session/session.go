// Package session holds the per-player session record and the process-wide index that
// maps (gameId, playerId) to the current session.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/models"
)

// State is the lifecycle state of a Session.
type State string

const (
	Connecting State = "CONNECTING"
	Active     State = "ACTIVE"
	Grace      State = "GRACE"
	Forfeited  State = "FORFEITED"
	Closed     State = "CLOSED"
)

// Session binds a connection to a player identity for one game. ConnectionID is empty
// while no transport is attached.
type Session struct {
	ID             string    `json:"sessionId"`
	PlayerID       string    `json:"playerId"`
	GameID         string    `json:"gameId"`
	ConnectionID   string    `json:"connectionId,omitempty"`
	State          State     `json:"state"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
	ReconnectToken string    `json:"-"`
	GraceDeadline  time.Time `json:"graceDeadline,omitempty"`
}

// PlayerStatus is the roster status a session state must be paired with. CONNECTING has
// no seat yet and CLOSED keeps whatever status the player finished the game with, so
// both return "".
func (s State) PlayerStatus() models.PlayerStatus {
	switch s {
	case Active:
		return models.PlayerActive
	case Grace:
		return models.PlayerDisconnected
	case Forfeited:
		return models.PlayerForfeited
	}
	return ""
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Forfeited || s == Closed
}

// NewToken returns an unguessable reconnect token.
func NewToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reconnect token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

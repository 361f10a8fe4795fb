// internal/game/errors.go
package game

import (
	"errors"
	"fmt"

	"github.com/jason-s-yu/roomcoord/internal/protocol"
)

// Kind classifies coordination failures.
type Kind string

const (
	ProtocolError      Kind = "protocol_error"
	AuthError          Kind = "auth_error"
	SessionConflict    Kind = "session_conflict"
	AuthorityViolation Kind = "authority_violation"
	TimerFault         Kind = "timer_fault"
)

// Error is a classified failure. CloseCode is non-zero when the connection must be closed.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	CloseCode int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the client may retry after this error.
func (e *Error) Retryable() bool {
	return e.CloseCode == 0 || protocol.Retryable(e.CloseCode)
}

// Is matches on Kind and Code so wrapped copies of the sentinels below compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Payload renders e for the client.
func (e *Error) Payload() protocol.Error {
	return protocol.Error{
		Type:      protocol.TypeError,
		Message:   e.Message,
		Code:      e.Code,
		Retryable: e.Retryable(),
		Resync:    e.Kind == AuthorityViolation,
	}
}

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomStopped      = errors.New("room stopped")
	ErrHandshakeTimeout = &Error{Kind: ProtocolError, Code: "handshake_timeout", Message: "no join or reconnect within the handshake window", CloseCode: protocol.HandshakeTimeoutError}

	ErrPlayerForfeited = &Error{Kind: SessionConflict, Code: "player_forfeited", Message: "seat was forfeited after the grace period", CloseCode: protocol.PlayerForfeitedError}
	ErrTokenConsumed   = &Error{Kind: SessionConflict, Code: "reconnect_token_consumed", Message: "reconnect token already used", CloseCode: protocol.ReconnectTokenUsedError}
	ErrSuperseded      = &Error{Kind: SessionConflict, Code: "session_superseded", Message: "session taken over by another connection", CloseCode: protocol.SessionSupersededError}
	ErrRoomFull        = &Error{Kind: SessionConflict, Code: "room_closed", Message: "room is not accepting new players", CloseCode: protocol.RoomClosedError}
	ErrGameCompleted   = &Error{Kind: SessionConflict, Code: "game_completed", Message: "game is over", CloseCode: protocol.RoomClosedError}

	ErrNotTurnHolder  = &Error{Kind: AuthorityViolation, Code: "not_your_turn", Message: "Not your turn"}
	ErrNotHost        = &Error{Kind: AuthorityViolation, Code: "not_host", Message: "only the host may do that"}
	ErrRoomNotActive  = &Error{Kind: AuthorityViolation, Code: "room_not_active", Message: "room is not accepting moves"}
	ErrAlreadyRolled  = &Error{Kind: AuthorityViolation, Code: "already_rolled", Message: "dice already rolled this turn"}
	ErrNotEnoughSeats = &Error{Kind: AuthorityViolation, Code: "not_enough_players", Message: "at least two players are needed to start"}
	ErrGameStarted    = &Error{Kind: AuthorityViolation, Code: "game_started", Message: "game already started"}

	ErrUnknownType     = &Error{Kind: ProtocolError, Code: "unknown_type", Message: "unknown message type"}
	ErrAlreadyJoined   = &Error{Kind: ProtocolError, Code: "already_joined", Message: "session already open on this connection"}
	ErrMalformed       = &Error{Kind: ProtocolError, Code: "malformed", Message: "malformed message"}
	ErrPersistDegraded = &Error{Kind: TimerFault, Code: "persistence_degraded", Message: "room state could not be saved; resynchronizing"}
)

// authError wraps a credential failure.
func authError(err error) *Error {
	return &Error{Kind: AuthError, Code: "invalid_credential", Message: "credential rejected", CloseCode: protocol.InvalidAuthTokenError, Err: err}
}

// Classify returns err as an *Error, defaulting to an internal protocol error.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: ProtocolError, Code: "internal", Message: err.Error(), Err: err}
}

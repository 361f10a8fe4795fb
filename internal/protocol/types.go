// internal/protocol/types.go
package protocol

// Inbound message types.
const (
	TypePlayerJoined     = "player_joined"
	TypeReconnect        = "reconnect"
	TypeGetActivePlayers = "get_active_players"
	TypeGetGameState     = "get_game_state"
	TypeGetCurrentTurn   = "get_current_turn"
	TypeEndTurn          = "end_turn"
	TypeVerifyHost       = "verify_host"
	TypeClientNavigating = "client_navigating"
	TypeRollDice         = "roll_dice"
	TypeStartGame        = "start_game"
	TypeLeaveGame        = "leave_game"
	TypeChat             = "chat"
	TypePing             = "ping"
)

// Outbound message types.
const (
	TypeSessionOpened      = "session_opened"
	TypeActivePlayers      = "active_players"
	TypePlayerDisconnected = "player_disconnected"
	TypePlayerReconnected  = "player_reconnected"
	TypePlayerForfeited    = "player_forfeited"
	TypeHostChanged        = "host_changed"
	TypeHostVerified       = "host_verified"
	TypeTurnChanged        = "turn_changed"
	TypeCurrentTurn        = "current_turn"
	TypeGameStateUpdate    = "game_state_update"
	TypeError              = "error"
	TypePong               = "pong"
)

// Handshake reports whether t may open a session.
func Handshake(t string) bool {
	return t == TypePlayerJoined || t == TypeReconnect
}

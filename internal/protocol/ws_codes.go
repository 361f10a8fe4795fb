// internal/protocol/ws_codes.go
package protocol

// Standard close codes used by the room server.
const (
	NormalClosure = 1000
	GoingAway     = 1001
)

// Custom WebSocket close codes sent by the room server. Clients use Retryable to decide
// whether the reconnection backoff applies.
const (
	BadSubprotocolError     = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError   = 3001 // Bearer credential missing, invalid or expired.
	InvalidUserIDError      = 3002 // Credential carried no usable player id.
	InvalidGameIDError      = 3003 // Room in the URL does not exist.
	SessionSupersededError  = 3004 // Another connection took over this player's session.
	PlayerForfeitedError    = 3005 // Grace period already expired; the seat is gone.
	ReconnectTokenUsedError = 3006 // Reconnect token was already consumed by another resume.
	HandshakeTimeoutError   = 3007 // No join or reconnect arrived within the handshake window.
	SlowConsumerError       = 3008 // Outbound HIGH lane could not drain.
	RoomClosedError         = 3009 // Room completed or refused new seats.
)

// Retryable reports whether a client may reconnect after a close with code.
func Retryable(code int) bool {
	switch code {
	case BadSubprotocolError, InvalidAuthTokenError, InvalidUserIDError, InvalidGameIDError,
		SessionSupersededError, PlayerForfeitedError, ReconnectTokenUsedError, RoomClosedError:
		return false
	}
	return true
}

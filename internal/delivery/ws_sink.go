// internal/delivery/ws_sink.go
package delivery

import (
	"context"

	"github.com/coder/websocket"
)

// WSSink writes text frames to a coder/websocket connection.
type WSSink struct {
	Conn *websocket.Conn
}

func (s WSSink) Write(ctx context.Context, payload []byte) error {
	return s.Conn.Write(ctx, websocket.MessageText, payload)
}

func (s WSSink) Ping(ctx context.Context) error {
	return s.Conn.Ping(ctx)
}

// Close starts the close handshake in the background; the handshake waits on the peer
// and must not hold up the caller, which is usually a room sequencer.
func (s WSSink) Close(code int, reason string) error {
	go s.Conn.Close(websocket.StatusCode(code), reason)
	return nil
}

// Package client is a Go client for the room WebSocket protocol that follows the
// server's reconnection contract.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/jason-s-yu/roomcoord/internal/session"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAttemptsExhausted is returned once every backoff attempt failed. The server's
	// grace timer decides the seat from here on.
	ErrAttemptsExhausted = errors.New("client: reconnect attempts exhausted")
	ErrNotConnected      = errors.New("client: not connected")
)

// ClosedError reports a close code after which the client must not reconnect.
type ClosedError struct {
	Code   int
	Reason string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("client: closed by server with %d (%s)", e.Code, e.Reason)
}

// DialFunc opens a WebSocket connection. websocket.Dial satisfies it.
type DialFunc func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

type Config struct {
	// URL is the room endpoint, e.g. ws://host/game/ws/{gameID}.
	URL        string
	Credential string
	Profile    protocol.PlayerProfile
	ClaimHost  bool
	// Backoff applies until the server advertises its own in session_opened.
	Backoff session.Backoff
	Dial    DialFunc
	Logger  logrus.FieldLogger
}

// Reconnector keeps one player's session alive across transport drops. It resumes with
// the most recent reconnect token and the last event id it saw, so the server can
// replay missed deltas.
type Reconnector struct {
	cfg Config

	mu          sync.Mutex
	conn        *websocket.Conn
	token       string
	sessionID   string
	lastEventID string
	backoff     session.Backoff
}

func New(cfg Config) *Reconnector {
	if cfg.Dial == nil {
		cfg.Dial = websocket.Dial
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = session.DefaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Reconnector{cfg: cfg, backoff: cfg.Backoff}
}

// Run connects and reconnects until ctx ends, the server closes with a non-retryable code
// or the backoff attempts run out. handle is called for every inbound message.
func (r *Reconnector) Run(ctx context.Context, handle func(protocol.Envelope)) error {
	attempt := 0
	for {
		opened, err := r.connect(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if code := websocket.CloseStatus(err); code != -1 && !protocol.Retryable(int(code)) {
			var ce websocket.CloseError
			errors.As(err, &ce)
			return &ClosedError{Code: int(code), Reason: ce.Reason}
		}
		if opened {
			attempt = 0
		}
		attempt++
		delay, ok := r.currentBackoff().Delay(attempt)
		if !ok {
			return fmt.Errorf("%w: last error: %v", ErrAttemptsExhausted, err)
		}
		r.cfg.Logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// connect runs one connection from dial to drop. opened reports whether the server
// acknowledged the handshake.
func (r *Reconnector) connect(ctx context.Context, handle func(protocol.Envelope)) (opened bool, err error) {
	header := http.Header{}
	if r.cfg.Credential != "" {
		header.Set("Authorization", "Bearer "+r.cfg.Credential)
	}
	c, _, err := r.cfg.Dial(ctx, r.dialURL(), &websocket.DialOptions{
		Subprotocols: []string{"game"},
		HTTPHeader:   header,
	})
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer c.CloseNow()

	if err := r.writeJSON(ctx, c, r.handshake()); err != nil {
		return false, fmt.Errorf("handshake: %w", err)
	}
	r.mu.Lock()
	r.conn = c
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
	}()

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return opened, err
		}
		if typ != websocket.MessageText {
			continue
		}
		envs, derr := protocol.Decode(data)
		if derr != nil {
			r.cfg.Logger.WithError(derr).Warn("undecodable frame from server")
		}
		for _, env := range envs {
			if r.observe(env) {
				opened = true
			}
			if handle != nil {
				handle(env)
			}
		}
	}
}

// dialURL is the configured URL plus the session_id of the last opened session, if any.
func (r *Reconnector) dialURL() string {
	sid := r.SessionID()
	if sid == "" {
		return r.cfg.URL
	}
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return r.cfg.URL
	}
	q := u.Query()
	q.Set("session_id", sid)
	u.RawQuery = q.Encode()
	return u.String()
}

func (r *Reconnector) handshake() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token != "" {
		return protocol.Reconnect{
			Type:           protocol.TypeReconnect,
			ReconnectToken: r.token,
			LastEventID:    r.lastEventID,
		}
	}
	return protocol.PlayerJoined{
		Type:      protocol.TypePlayerJoined,
		Player:    r.cfg.Profile,
		ClaimHost: r.cfg.ClaimHost,
	}
}

// observe records session and event bookkeeping from env and reports whether it was the
// session acknowledgement.
func (r *Reconnector) observe(env protocol.Envelope) bool {
	switch env.Type {
	case protocol.TypeSessionOpened:
		var msg protocol.SessionOpened
		if err := env.Unmarshal(&msg); err != nil {
			return false
		}
		r.mu.Lock()
		r.token = msg.ReconnectToken
		r.sessionID = msg.SessionID
		if msg.Backoff.MaxAttempts > 0 {
			r.backoff = session.FromContract(msg.Backoff)
		}
		r.mu.Unlock()
		r.cfg.Logger.WithFields(logrus.Fields{
			"session_id": msg.SessionID,
			"resumed":    msg.Resumed,
		}).Info("session opened")
		return true
	case protocol.TypeGameStateUpdate:
		var msg protocol.GameStateUpdate
		if err := env.Unmarshal(&msg); err == nil && msg.EventID != "" {
			r.mu.Lock()
			r.lastEventID = msg.EventID
			r.mu.Unlock()
		}
	}
	return false
}

// Send writes v on the current connection.
func (r *Reconnector) Send(ctx context.Context, v interface{}) error {
	r.mu.Lock()
	c := r.conn
	r.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return r.writeJSON(ctx, c, v)
}

func (r *Reconnector) writeJSON(ctx context.Context, c *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.Write(wctx, websocket.MessageText, data)
}

// SessionID returns the id of the most recently opened session.
func (r *Reconnector) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Reconnector) LastEventID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastEventID
}

func (r *Reconnector) currentBackoff() session.Backoff {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backoff
}

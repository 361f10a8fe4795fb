// internal/handlers/api_server_test.go
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/roomcoord/internal/auth"
	"github.com/jason-s-yu/roomcoord/internal/delivery"
	"github.com/jason-s-yu/roomcoord/internal/game"
	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv      *httptest.Server
	verifier *auth.JWTVerifier
	logs     *logtest.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hook := logtest.NewLocal(logger)

	verifier := auth.NewJWTVerifier("test-secret")
	opts := game.DefaultOptions()
	opts.HandshakeTimeout = 2 * time.Second
	games := game.NewGameStore(opts, game.Deps{Logger: logger}, verifier)
	gs := NewGameServer(games, verifier, delivery.Options{
		Queue: delivery.Config{Burst: 32, Ceiling: 256},
	}, logger)

	srv := httptest.NewServer(NewRouter(gs))
	t.Cleanup(srv.Close)
	t.Cleanup(games.Shutdown)
	return &testServer{srv: srv, verifier: verifier, logs: hook}
}

func (ts *testServer) token(t *testing.T, playerID string) string {
	t.Helper()
	tok, err := ts.verifier.CreateJWT(playerID, "", time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) request(t *testing.T, method, path, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func (ts *testServer) createGame(t *testing.T, token string) string {
	t.Helper()
	resp, body := ts.request(t, http.MethodPost, "/games", token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["gameId"].(string)
	require.NotEmpty(t, id)
	return id
}

func (ts *testServer) dial(t *testing.T, ctx context.Context, gameID, token string, subprotocols ...string) *websocket.Conn {
	t.Helper()
	if subprotocols == nil {
		subprotocols = []string{"game"}
	}
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/game/ws/" + gameID
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: subprotocols,
		HTTPHeader:   header,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func writeMsg(t *testing.T, ctx context.Context, c *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == typ {
			return msg
		}
	}
}

// readClose reads until the server closes the connection and returns the close code.
func readClose(ctx context.Context, c *websocket.Conn) websocket.StatusCode {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func TestCreateAndInspectGame(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, http.MethodPost, "/games", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	id := ts.createGame(t, ts.token(t, "alice"))
	resp, body := ts.request(t, http.MethodGet, "/games/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "LOBBY", body["status"])
	assert.Empty(t, body["players"])

	resp, _ = ts.request(t, http.MethodGet, "/games/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.request(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "sessions")
}

func TestWebSocketJoinFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := ts.token(t, "alice")
	id := ts.createGame(t, alice)
	c := ts.dial(t, ctx, id, alice)
	writeMsg(t, ctx, c, protocol.PlayerJoined{
		Type:   protocol.TypePlayerJoined,
		Player: protocol.PlayerProfile{DisplayName: "Alice", Color: "red"},
	})

	opened := readUntil(t, ctx, c, protocol.TypeSessionOpened)
	assert.Equal(t, "alice", opened["playerId"])
	assert.Equal(t, id, opened["gameId"])
	assert.NotEmpty(t, opened["reconnectToken"])
	sessionID := opened["sessionId"]

	resp, body := ts.request(t, http.MethodGet, "/games/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["hostId"])
	players := body["players"].([]interface{})
	require.Len(t, players, 1)
	assert.Equal(t, "Alice", players[0].(map[string]interface{})["displayName"])

	resp, body = ts.request(t, http.MethodGet, "/games/"+id+"/sessions/alice", alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, body["sessionId"])
	assert.Equal(t, "ACTIVE", body["state"])
	assert.NotContains(t, body, "reconnectToken")

	resp, _ = ts.request(t, http.MethodGet, "/games/"+id+"/sessions/alice", ts.token(t, "bob"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	writeMsg(t, ctx, c, map[string]string{"type": protocol.TypePing})
	readUntil(t, ctx, c, protocol.TypePong)
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := ts.token(t, "alice")
	id := ts.createGame(t, alice)
	c := ts.dial(t, ctx, id, alice)
	writeMsg(t, ctx, c, map[string]string{"type": protocol.TypePlayerJoined})
	readUntil(t, ctx, c, protocol.TypeSessionOpened)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":`)))
	msg := readUntil(t, ctx, c, protocol.TypeError)
	assert.Equal(t, "malformed", msg["code"])

	writeMsg(t, ctx, c, map[string]string{"type": protocol.TypeGetCurrentTurn})
	readUntil(t, ctx, c, protocol.TypeCurrentTurn)
}

func TestWebSocketHandshakeRejections(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.token(t, "alice")
	id := ts.createGame(t, alice)

	cases := []struct {
		name   string
		gameID string
		token  string
		code   websocket.StatusCode
		errMsg string
	}{
		{"bad credential", id, "garbage", protocol.InvalidAuthTokenError, "invalid_credential"},
		{"missing credential", id, "", protocol.InvalidAuthTokenError, "invalid_credential"},
		{"unknown game", "missing-room", alice, protocol.InvalidGameIDError, "unknown_game"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			c := ts.dial(t, ctx, tc.gameID, tc.token)
			writeMsg(t, ctx, c, map[string]string{"type": protocol.TypePlayerJoined})

			msg := readUntil(t, ctx, c, protocol.TypeError)
			assert.Equal(t, tc.errMsg, msg["code"])
			assert.Equal(t, false, msg["retryable"])
			assert.Equal(t, tc.code, readClose(ctx, c))
		})
	}
}

func TestWebSocketRequiresHandshakeFirst(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := ts.token(t, "alice")
	id := ts.createGame(t, alice)
	c := ts.dial(t, ctx, id, alice)

	writeMsg(t, ctx, c, map[string]string{"type": protocol.TypeEndTurn})
	msg := readUntil(t, ctx, c, protocol.TypeError)
	assert.Equal(t, "handshake_required", msg["code"])

	assert.Equal(t, websocket.StatusCode(protocol.HandshakeTimeoutError), readClose(ctx, c))
}

func TestWebSocketRequiresSubprotocol(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := ts.token(t, "alice")
	id := ts.createGame(t, alice)
	c := ts.dial(t, ctx, id, alice, "chat")
	assert.Equal(t, websocket.StatusCode(protocol.BadSubprotocolError), readClose(ctx, c))
}

func TestWebSocketSessionHint(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := ts.token(t, "alice")
	id := ts.createGame(t, alice)
	c := ts.dial(t, ctx, id, alice)
	writeMsg(t, ctx, c, map[string]string{"type": protocol.TypePlayerJoined})
	opened := readUntil(t, ctx, c, protocol.TypeSessionOpened)
	sessionID := opened["sessionId"].(string)

	_, body := ts.request(t, http.MethodGet, "/healthz", "")
	sessions := body["sessions"].(map[string]interface{})
	assert.EqualValues(t, 1, sessions["active"])

	// A takeover that names a session the client never held is logged, not refused.
	c2 := ts.dial(t, ctx, id+"?session_id=stale-session", alice)
	writeMsg(t, ctx, c2, map[string]string{"type": protocol.TypePlayerJoined})
	reopened := readUntil(t, ctx, c2, protocol.TypeSessionOpened)
	assert.NotEqual(t, sessionID, reopened["sessionId"], "takeover opens a new session")

	require.Eventually(t, func() bool {
		for _, e := range ts.logs.AllEntries() {
			if e.Data["session_hint"] == "stale-session" && e.Data["session_id"] == reopened["sessionId"] {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

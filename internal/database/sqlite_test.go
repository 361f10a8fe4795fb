package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/game"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "rooms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	room := models.Room{
		GameID:           "g1",
		HostID:           "A",
		TurnOrder:        []string{"A", "B"},
		CurrentTurnIndex: 1,
		Status:           models.RoomPaused,
		Players: []models.Player{
			{ID: "A", Ordinal: 0, IsHost: true, Status: models.PlayerActive, Balance: 1500},
			{ID: "B", Ordinal: 1, Status: models.PlayerDisconnected, Balance: 1200},
		},
		Holdings:  []models.Holding{{ID: "baltic", OwnerID: "B", Price: 60}},
		Version:   7,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PersistRoomState(ctx, room))

	got, err := s.LoadRoomState(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, room.TurnOrder, got.TurnOrder)
	assert.Equal(t, room.Players, got.Players)
	assert.Equal(t, room.Holdings, got.Holdings)
	assert.Equal(t, models.RoomPaused, got.Status)
	assert.True(t, room.UpdatedAt.Equal(got.UpdatedAt))
}

func TestSQLiteIgnoresStaleVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistRoomState(ctx, models.Room{GameID: "g1", Status: models.RoomActive, Version: 5}))
	require.NoError(t, s.PersistRoomState(ctx, models.Room{GameID: "g1", Status: models.RoomLobby, Version: 3}))

	got, err := s.LoadRoomState(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, models.RoomActive, got.Status)
}

func TestSQLiteUnknownRoom(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadRoomState(context.Background(), "missing")
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
}

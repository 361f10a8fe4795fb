// internal/database/schema.go
package database

import (
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/roomcoord/internal/models"
)

// roomsDDL is valid for both Postgres and SQLite.
const roomsDDL = `
CREATE TABLE IF NOT EXISTS rooms (
	game_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	version    BIGINT NOT NULL,
	state      TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`

const roomActionsDDL = `
CREATE TABLE IF NOT EXISTS room_actions (
	event_id    TEXT PRIMARY KEY,
	game_id     TEXT NOT NULL,
	actor_id    TEXT,
	action_type TEXT NOT NULL,
	payload     TEXT,
	ts          BIGINT NOT NULL
)`

func encodeRoom(room models.Room) (string, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return "", fmt.Errorf("marshal room %s: %w", room.GameID, err)
	}
	return string(data), nil
}

func decodeRoom(gameID, state string) (models.Room, error) {
	var room models.Room
	if err := json.Unmarshal([]byte(state), &room); err != nil {
		return models.Room{}, fmt.Errorf("unmarshal room %s: %w", gameID, err)
	}
	return room, nil
}

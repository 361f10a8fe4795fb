// internal/database/sqlite.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jason-s-yu/roomcoord/internal/game"
	"github.com/jason-s-yu/roomcoord/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps room snapshots in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, ddl := range []string{roomsDDL, roomActionsDDL} {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) LoadRoomState(ctx context.Context, gameID string) (models.Room, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM rooms WHERE game_id = ?`, gameID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, game.ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("load room %s: %w", gameID, err)
	}
	return decodeRoom(gameID, state)
}

// PersistRoomState upserts the snapshot. An older version never overwrites a newer one.
func (s *SQLiteStore) PersistRoomState(ctx context.Context, room models.Room) error {
	state, err := encodeRoom(room)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (game_id, status, version, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (game_id) DO UPDATE
		SET status = excluded.status, version = excluded.version,
		    state = excluded.state, updated_at = excluded.updated_at
		WHERE rooms.version <= excluded.version
	`, room.GameID, string(room.Status), room.Version, state, room.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", room.GameID, err)
	}
	return nil
}

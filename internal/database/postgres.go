// internal/database/postgres.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/roomcoord/internal/game"
	"github.com/jason-s-yu/roomcoord/internal/models"
)

// PostgresStore keeps room snapshots and the action history in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool for dsn, pings it and applies the schema.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, ddl := range []string{roomsDDL, roomActionsDDL} {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) LoadRoomState(ctx context.Context, gameID string) (models.Room, error) {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM rooms WHERE game_id = $1`, gameID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Room{}, game.ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("load room %s: %w", gameID, err)
	}
	return decodeRoom(gameID, state)
}

// PersistRoomState upserts the snapshot. An older version never overwrites a newer one.
func (s *PostgresStore) PersistRoomState(ctx context.Context, room models.Room) error {
	state, err := encodeRoom(room)
	if err != nil {
		return err
	}
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO rooms (game_id, status, version, state, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (game_id) DO UPDATE
			SET status = EXCLUDED.status, version = EXCLUDED.version,
			    state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
			WHERE rooms.version <= EXCLUDED.version
		`
		_, e := tx.Exec(ctx, q, room.GameID, string(room.Status), room.Version, state, room.UpdatedAt.UnixMilli())
		return e
	})
	if err != nil {
		return fmt.Errorf("tx upsert room %s: %w", room.GameID, err)
	}
	return nil
}

// InsertActions writes a batch of action records in one transaction. Records already
// stored are skipped, so a redelivered batch is harmless.
func (s *PostgresStore) InsertActions(ctx context.Context, recs []models.ActionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range recs {
			batch.Queue(`
				INSERT INTO room_actions (event_id, game_id, actor_id, action_type, payload, ts)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (event_id) DO NOTHING
			`, rec.EventID, rec.GameID, rec.ActorID, rec.ActionType, string(rec.Payload), rec.Timestamp)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

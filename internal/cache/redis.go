// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/config"
	"github.com/jason-s-yu/roomcoord/internal/game"
	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/redis/go-redis/v9"
)

// Connect opens a Redis client for cfg and checks it answers.
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// ActionQueue pushes room action records onto a Redis list drained by the historian.
type ActionQueue struct {
	rdb   redis.Cmdable
	queue string
}

func NewActionQueue(rdb redis.Cmdable, queue string) *ActionQueue {
	return &ActionQueue{rdb: rdb, queue: queue}
}

// Record serializes rec to JSON and RPushes it onto the queue.
func (q *ActionQueue) Record(ctx context.Context, rec models.ActionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ActionRecord: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.queue, err)
	}
	return nil
}

// AlarmPublisher announces operator alarms on a pub/sub channel and keeps a copy in a
// list of the same name so alarms raised while nobody listens are not lost.
type AlarmPublisher struct {
	rdb     redis.Cmdable
	channel string
}

func NewAlarmPublisher(rdb redis.Cmdable, channel string) *AlarmPublisher {
	return &AlarmPublisher{rdb: rdb, channel: channel}
}

func (p *AlarmPublisher) Raise(ctx context.Context, a game.Alarm) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm: %w", err)
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, data)
		pipe.RPush(ctx, p.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish alarm on '%s': %w", p.channel, err)
	}
	return nil
}

// Package historian drains the room action queue into durable storage in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// maxBacklogBatches bounds how many unflushed records are kept while the sink is failing.
const maxBacklogBatches = 50

// Source yields raw action records. ok is false when nothing arrived within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (payload []byte, ok bool, err error)
}

// Sink stores a batch of action records. Inserting a record twice must be harmless.
type Sink interface {
	InsertActions(ctx context.Context, records []models.ActionRecord) error
}

// RedisSource pops records from a Redis list with BLPOP.
type RedisSource struct {
	rdb   redis.Cmdable
	queue string
}

func NewRedisSource(rdb redis.Cmdable, queue string) *RedisSource {
	return &RedisSource{rdb: rdb, queue: queue}
}

func (s *RedisSource) Pop(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	res, err := s.rdb.BLPop(ctx, timeout, s.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return nil, false, nil
	}
	return []byte(res[1]), true, nil
}

type Options struct {
	BatchSize  int
	FlushDelay time.Duration
	PopTimeout time.Duration
}

// Service accumulates records from a Source and flushes them to a Sink when the batch
// fills up or the flush delay elapses.
type Service struct {
	source Source
	sink   Sink
	opts   Options
	logger logrus.FieldLogger

	batchMu sync.Mutex
	batch   []models.ActionRecord
}

func NewService(source Source, sink Sink, opts Options, logger logrus.FieldLogger) *Service {
	if opts.BatchSize < 1 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 3 * time.Second
	}
	return &Service{
		source: source,
		sink:   sink,
		opts:   opts,
		logger: logger,
		batch:  make([]models.ActionRecord, 0, opts.BatchSize),
	}
}

// Run pops records until ctx ends, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.FlushDelay)
	defer ticker.Stop()

	s.logger.Info("historian started")
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.flush(fctx)
			s.logger.Info("historian stopped")
			return nil
		case <-ticker.C:
			s.flush(ctx)
		default:
			payload, ok, err := s.source.Pop(ctx, s.opts.PopTimeout)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.WithError(err).Error("pop action record")
					time.Sleep(s.opts.FlushDelay)
				}
				continue
			}
			if !ok {
				continue
			}
			var rec models.ActionRecord
			if err := json.Unmarshal(payload, &rec); err != nil || rec.EventID == "" || rec.GameID == "" {
				s.logger.WithField("payload", string(payload)).Warn("invalid action record")
				continue
			}
			if s.append(rec) {
				s.flush(ctx)
			}
		}
	}
}

// append adds rec to the batch and reports whether the batch is full.
func (s *Service) append(rec models.ActionRecord) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.batch = append(s.batch, rec)
	return len(s.batch) >= s.opts.BatchSize
}

// flush writes the current batch. On failure the records stay queued for the next flush.
func (s *Service) flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := make([]models.ActionRecord, len(s.batch))
	copy(pending, s.batch)
	s.batch = s.batch[:0]
	s.batchMu.Unlock()

	if err := s.sink.InsertActions(ctx, pending); err != nil {
		s.logger.WithError(err).WithField("records", len(pending)).Error("flush action batch")
		s.requeue(pending)
		return
	}
	s.logger.WithField("records", len(pending)).Debug("flushed action batch")
}

func (s *Service) requeue(records []models.ActionRecord) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.batch = append(records, s.batch...)
	if limit := s.opts.BatchSize * maxBacklogBatches; len(s.batch) > limit {
		dropped := len(s.batch) - limit
		s.batch = s.batch[dropped:]
		s.logger.WithField("dropped", dropped).Error("action backlog full, dropping oldest records")
	}
}

// Pending returns the number of records waiting for a flush.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

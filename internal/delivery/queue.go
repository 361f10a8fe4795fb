// internal/delivery/queue.go
package delivery

import (
	"errors"
	"sync"
	"time"
)

// Priority selects the outbound lane.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

func (p Priority) String() string {
	switch p {
	case High:
		return "HIGH"
	case Normal:
		return "NORMAL"
	default:
		return "LOW"
	}
}

var (
	// ErrSlowConsumer means the HIGH lane alone exceeds the buffer ceiling.
	ErrSlowConsumer = errors.New("delivery: slow consumer")
	ErrClosed       = errors.New("delivery: queue closed")
)

// Message is one outbound payload waiting on a connection.
type Message struct {
	ConnectionID string
	Payload      []byte
	Priority     Priority
	EnqueuedAt   time.Time
	seq          uint64
}

// Config bounds a Queue.
type Config struct {
	// Burst caps HIGH+NORMAL messages handed out between two LOW messages.
	Burst int
	// Ceiling is the total number of buffered messages that triggers backpressure.
	Ceiling int
	// Resync builds the full-state payload that replaces coalesced NORMAL deltas.
	Resync func() []byte
}

// Stats counts backpressure actions taken on a queue.
type Stats struct {
	DroppedLow int
	Coalesced  int
	Pending    int
}

// Queue is a three-lane outbound buffer for one connection. Enqueue may be called from
// any goroutine; Next is meant for the single writer.
type Queue struct {
	mu     sync.Mutex
	connID string
	cfg    Config
	now    func() time.Time

	high, normal, low []Message
	seq               uint64
	sinceLow          int
	closed            bool
	stats             Stats

	ready chan struct{}
}

func NewQueue(connID string, cfg Config) *Queue {
	if cfg.Burst < 1 {
		cfg.Burst = 32
	}
	if cfg.Ceiling < cfg.Burst {
		cfg.Ceiling = cfg.Burst
	}
	return &Queue{
		connID: connID,
		cfg:    cfg,
		now:    time.Now,
		ready:  make(chan struct{}, 1),
	}
}

// Ready is signalled whenever the queue may have become non-empty or was closed.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Enqueue buffers payload on lane p, applying backpressure when the ceiling is exceeded.
// ErrSlowConsumer leaves the queue closed; the owner must close the connection.
func (q *Queue) Enqueue(p Priority, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pushLocked(p, payload)
	var err error
	if q.lenLocked() > q.cfg.Ceiling {
		err = q.relieveLocked()
		if err != nil {
			q.closed = true
			q.high, q.normal, q.low = nil, nil, nil
		}
	}
	q.signal()
	return err
}

func (q *Queue) pushLocked(p Priority, payload []byte) {
	q.seq++
	m := Message{ConnectionID: q.connID, Payload: payload, Priority: p, EnqueuedAt: q.now(), seq: q.seq}
	switch p {
	case High:
		q.high = append(q.high, m)
	case Normal:
		q.normal = append(q.normal, m)
	default:
		q.low = append(q.low, m)
	}
}

// relieveLocked sheds LOW, then collapses NORMAL into one resync, then gives up.
func (q *Queue) relieveLocked() error {
	for q.lenLocked() > q.cfg.Ceiling && len(q.low) > 0 {
		q.low[0] = Message{}
		q.low = q.low[1:]
		q.stats.DroppedLow++
	}
	if q.lenLocked() > q.cfg.Ceiling && len(q.normal) > 1 && q.cfg.Resync != nil {
		first := q.normal[0]
		q.stats.Coalesced += len(q.normal)
		q.normal = []Message{{
			ConnectionID: q.connID,
			Payload:      q.cfg.Resync(),
			Priority:     Normal,
			EnqueuedAt:   first.EnqueuedAt,
			seq:          first.seq,
		}}
	}
	if q.lenLocked() > q.cfg.Ceiling {
		return ErrSlowConsumer
	}
	return nil
}

// Next pops the next message for the writer. HIGH goes before NORMAL; once Burst
// HIGH+NORMAL messages went out since the last LOW, one LOW is let through unless an
// older HIGH is still waiting.
func (q *Queue) Next() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Message{}, false
	}
	hn := len(q.high) + len(q.normal)
	switch {
	case hn == 0 && len(q.low) == 0:
		return Message{}, false
	case hn == 0:
		return q.popLowLocked(), true
	case q.sinceLow >= q.cfg.Burst && len(q.low) > 0:
		if len(q.high) > 0 && q.high[0].seq < q.low[0].seq {
			return q.popHighNormalLocked(), true
		}
		return q.popLowLocked(), true
	default:
		if q.sinceLow >= q.cfg.Burst {
			q.sinceLow = 0
		}
		return q.popHighNormalLocked(), true
	}
}

func (q *Queue) popHighNormalLocked() Message {
	var m Message
	if len(q.high) > 0 {
		m = q.high[0]
		q.high[0] = Message{}
		q.high = q.high[1:]
	} else {
		m = q.normal[0]
		q.normal[0] = Message{}
		q.normal = q.normal[1:]
	}
	q.sinceLow++
	return m
}

func (q *Queue) popLowLocked() Message {
	m := q.low[0]
	q.low[0] = Message{}
	q.low = q.low[1:]
	q.sinceLow = 0
	return m
}

// Close releases every buffered message. Further Enqueue calls fail with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.high, q.normal, q.low = nil, nil, nil
	q.signal()
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = q.lenLocked()
	return s
}

func (q *Queue) lenLocked() int {
	return len(q.high) + len(q.normal) + len(q.low)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

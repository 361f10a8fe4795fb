// internal/delivery/outbox.go
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Sink is the transport end of an Outbox.
type Sink interface {
	Write(ctx context.Context, payload []byte) error
	Ping(ctx context.Context) error
	Close(code int, reason string) error
}

// Options configures an Outbox.
type Options struct {
	Queue        Config
	WriteTimeout time.Duration
	// PingInterval of zero disables keepalive pings.
	PingInterval time.Duration
}

// Outbox pairs a connection's Queue with the single writer that drains it.
type Outbox struct {
	id     string
	queue  *Queue
	sink   Sink
	opts   Options
	logger logrus.FieldLogger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeCode int
	done      chan struct{}

	mu          sync.Mutex
	drainClose  bool
	drainCode   int
	drainReason string
}

func NewOutbox(id string, sink Sink, opts Options, logger logrus.FieldLogger) *Outbox {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		id:     id,
		queue:  NewQueue(id, opts.Queue),
		sink:   sink,
		opts:   opts,
		logger: logger.WithField("connection_id", id),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (o *Outbox) ID() string { return o.id }

// SetResync installs the payload builder used when NORMAL deltas are coalesced.
func (o *Outbox) SetResync(fn func() []byte) {
	o.queue.mu.Lock()
	o.queue.cfg.Resync = fn
	o.queue.mu.Unlock()
}

// Send marshals v and enqueues it on lane p. A slow consumer is closed here.
func (o *Outbox) Send(p Priority, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	return o.SendRaw(p, data)
}

func (o *Outbox) SendRaw(p Priority, payload []byte) error {
	err := o.queue.Enqueue(p, payload)
	if errors.Is(err, ErrSlowConsumer) {
		o.logger.Warn("closing slow consumer")
		o.Close(protocol.SlowConsumerError, "slow consumer")
	}
	return err
}

// Run drains the queue into the sink until ctx ends, the outbox is closed or a write fails.
func (o *Outbox) Run(ctx context.Context) error {
	defer close(o.done)

	var pings <-chan time.Time
	if o.opts.PingInterval > 0 {
		ticker := time.NewTicker(o.opts.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		msg, ok := o.queue.Next()
		if ok {
			if err := o.write(ctx, msg.Payload); err != nil {
				return err
			}
			continue
		}
		if code, reason, ok := o.pendingClose(); ok {
			o.Close(code, reason)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.ctx.Done():
			return nil
		case <-o.queue.Ready():
		case <-pings:
			pctx, cancel := context.WithTimeout(ctx, o.opts.WriteTimeout)
			err := o.sink.Ping(pctx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (o *Outbox) write(ctx context.Context, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, o.opts.WriteTimeout)
	defer cancel()
	if err := o.sink.Write(wctx, payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close stops the writer, frees the queue and closes the sink with code. Only the first
// call has any effect.
func (o *Outbox) Close(code int, reason string) {
	o.closeOnce.Do(func() {
		o.closeCode = code
		o.cancel()
		o.queue.Close()
		if err := o.sink.Close(code, reason); err != nil {
			o.logger.WithError(err).Debug("sink close")
		}
	})
}

// CloseWhenDrained closes the outbox once everything already queued has been written.
func (o *Outbox) CloseWhenDrained(code int, reason string) {
	o.mu.Lock()
	o.drainClose, o.drainCode, o.drainReason = true, code, reason
	o.mu.Unlock()
	o.queue.signal()
}

func (o *Outbox) pendingClose() (int, string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drainCode, o.drainReason, o.drainClose
}

// Done is closed when Run returns.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// CloseCode returns the code passed to Close, or zero while open.
func (o *Outbox) CloseCode() int {
	if !o.Closed() {
		return 0
	}
	return o.closeCode
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	return o.ctx.Err() != nil
}

func (o *Outbox) Stats() Stats { return o.queue.Stats() }

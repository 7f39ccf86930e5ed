package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/comalice/hsmx"
)

const (
	DefaultRedisBuffer       = 256
	DefaultRedisWriteTimeout = time.Second
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// RedisPublisher appends trace records to a Redis stream. Publish only
// enqueues; a single worker performs the XADD calls. Records published while
// the buffer is full are dropped and counted.
type RedisPublisher struct {
	client  *backend.Client
	stream  string
	maxLen  int64
	owned   bool
	buffer  int
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	records chan hsmx.Record
	done    chan struct{}
	dropped atomic.Int64
}

type RedisOption func(*RedisPublisher)

// WithMaxLen caps the stream length, trimmed approximately on every add.
func WithMaxLen(n int64) RedisOption {
	return func(p *RedisPublisher) {
		p.maxLen = n
	}
}

// WithBuffer sets how many records may wait for the worker. Values below 1
// keep the default.
func WithBuffer(n int) RedisOption {
	return func(p *RedisPublisher) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithWriteTimeout bounds each XADD issued by the worker.
func WithWriteTimeout(d time.Duration) RedisOption {
	return func(p *RedisPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRedisLogger sets the logger used for write failures.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(p *RedisPublisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewRedisPublisher dials address and publishes to stream. Close closes
// the client.
func NewRedisPublisher(address, password string, db int, stream string, opts ...RedisOption) *RedisPublisher {
	rdb := backend.NewClient(&backend.Options{
		Addr:                  address,
		Password:              password,
		DB:                    db,
		ContextTimeoutEnabled: true,
	})
	p := NewRedisPublisherFromClient(rdb, stream, opts...)
	p.owned = true
	return p
}

// NewRedisPublisherFromClient publishes through an existing client, which
// Close leaves open. The write timeout only applies when the client has
// ContextTimeoutEnabled set.
func NewRedisPublisherFromClient(client *backend.Client, stream string, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		stream:  stream,
		buffer:  DefaultRedisBuffer,
		timeout: DefaultRedisWriteTimeout,
		logger:  hsmx.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.records = make(chan hsmx.Record, p.buffer)
	p.done = make(chan struct{})
	go p.run()
	return p
}

// Stream returns the stream key.
func (p *RedisPublisher) Stream() string {
	return p.stream
}

// Dropped returns how many records were discarded because the buffer was full.
func (p *RedisPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Publish queues rec for the worker without blocking.
func (p *RedisPublisher) Publish(_ context.Context, rec hsmx.Record) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.records <- rec:
	default:
		p.dropped.Add(1)
	}
	return nil
}

// Write appends rec to the stream on the calling goroutine.
func (p *RedisPublisher) Write(ctx context.Context, rec hsmx.Record) error {
	args := &backend.XAddArgs{
		Stream: p.stream,
		Values: recordFields(rec),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for rec := range p.records {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.Write(ctx, rec)
		cancel()
		if err != nil {
			p.logger.Warn("trace write failed", "stream", p.stream, "kind", rec.Kind, "error", err)
		}
	}
}

// Close stops accepting records, waits for the worker to flush the queue
// and closes an owned client.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.records)
	p.mu.Unlock()

	<-p.done
	if !p.owned {
		return nil
	}
	return p.client.Close()
}

func recordFields(rec hsmx.Record) map[string]any {
	fields := map[string]any{
		"id":     rec.ID,
		"engine": rec.Engine,
		"kind":   string(rec.Kind),
		"ts":     rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if rec.State != "" {
		fields["state"] = rec.State
	}
	if rec.Target != "" {
		fields["target"] = rec.Target
	}
	if rec.TimerID != 0 {
		fields["timer"] = strconv.Itoa(rec.TimerID)
	}
	switch rec.Kind {
	case hsmx.RecordHandled, hsmx.RecordBubbled, hsmx.RecordDropped, hsmx.RecordPanic:
		fields["event"] = rec.Event.Type.String()
		if rec.Event.Name != "" {
			fields["name"] = rec.Event.Name
		}
		if rec.Event.Source != "" {
			fields["source"] = rec.Event.Source
		}
		fields["seq"] = strconv.Itoa(rec.Event.Seq)
	}
	return fields
}

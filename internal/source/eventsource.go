package source

import (
	"context"
	"sync"
	"time"

	"github.com/comalice/hsmx"
)

// Poster accepts events. *hsmx.Engine satisfies it.
type Poster interface {
	Post(ev hsmx.Event)
}

// ChannelSource is an event source backed by a Go channel.
// Provides a simple way to feed external events into an engine via Forward.
type ChannelSource struct {
	ch chan hsmx.Event
}

// NewChannelSource creates a ChannelSource with a buffer of size.
func NewChannelSource(size int) *ChannelSource {
	return &ChannelSource{ch: make(chan hsmx.Event, size)}
}

// Events returns the receive-only channel for events.
func (s *ChannelSource) Events() <-chan hsmx.Event {
	return s.ch
}

// Send enqueues ev without blocking. Returns false if the buffer is full.
func (s *ChannelSource) Send(ev hsmx.Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Close closes the channel. No Send may follow.
func (s *ChannelSource) Close() {
	close(s.ch)
}

// Forward posts every event received from events to target until the
// channel closes or ctx is done. Returns the number of events forwarded.
func Forward(ctx context.Context, events <-chan hsmx.Event, target Poster) int {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case ev, ok := <-events:
			if !ok {
				return n
			}
			target.Post(ev)
			n++
		}
	}
}

// Ticker posts a copy of an event to a target at a fixed interval. Each
// copy carries the next Seq, starting at 1.
type Ticker struct {
	target   Poster
	event    hsmx.Event
	ticker   *time.Ticker
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewTicker starts posting ev to target every interval.
func NewTicker(target Poster, ev hsmx.Event, interval time.Duration) *Ticker {
	t := &Ticker{
		target: target,
		event:  ev,
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Ticker) run() {
	defer close(t.done)
	seq := 0
	for {
		select {
		case <-t.ticker.C:
			seq++
			t.target.Post(t.event.WithSeq(seq))
		case <-t.stop:
			t.ticker.Stop()
			return
		}
	}
}

// Stop stops the ticker and waits for its goroutine. Idempotent.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

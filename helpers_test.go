package hsmx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comalice/hsmx"
	"github.com/comalice/hsmx/internal/logging"
	"github.com/comalice/hsmx/testutil"
)

// tracePublisher collects records in memory.
type tracePublisher struct {
	mu   sync.Mutex
	recs []hsmx.Record
}

func (p *tracePublisher) Publish(_ context.Context, rec hsmx.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

func (p *tracePublisher) Close() error { return nil }

func (p *tracePublisher) count(kind hsmx.RecordKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.recs {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func (p *tracePublisher) records() []hsmx.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hsmx.Record(nil), p.recs...)
}

// newEngine creates a quiet engine that is destroyed when the test ends.
func newEngine(t *testing.T, name string, opts ...hsmx.Option) *hsmx.Engine {
	t.Helper()
	opts = append([]hsmx.Option{hsmx.WithLogger(logging.NewNop())}, opts...)
	e := hsmx.New(name, opts...)
	t.Cleanup(e.Destroy)
	return e
}

// start runs e on a worker goroutine for the rest of the test.
func start(t *testing.T, e *hsmx.Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, e.Start(ctx))
}

// flush waits until every task queued on e's loop so far has run.
func flush(t *testing.T, e *hsmx.Engine) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, e.Loop().Invoke(func() { close(done) }), "loop released")
	select {
	case <-done:
	case <-time.After(testutil.DefaultWait):
		t.Fatalf("loop %s did not drain", e.Loop().Name())
	}
}

func step(name string) hsmx.Event {
	return hsmx.NewEvent(hsmx.EventStep, name, nil)
}

// Package testutil provides helpers for testing engines and handlers.
package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comalice/hsmx"
)

// Default polling parameters for Eventually.
const (
	DefaultWait = 2 * time.Second
	DefaultTick = 5 * time.Millisecond
)

// Entry is one handler invocation seen by a Recorder.
type Entry struct {
	Engine string
	State  string
	Event  hsmx.Event
}

func (e Entry) String() string {
	return fmt.Sprintf("%s/%s:%s", e.Engine, e.State, e.Event.Type)
}

// Recorder keeps a thread-safe transcript of handler invocations.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends an entry for ev as seen by the handler owning s.
func (r *Recorder) Record(s *hsmx.Scope, ev hsmx.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{
		Engine: s.Engine().Name(),
		State:  s.State(),
		Event:  ev,
	})
}

// Handler returns a handler that records every event. ENTRY and EXIT are
// always reported handled; other events report consume.
func (r *Recorder) Handler(consume bool) hsmx.Handler {
	return r.Wrap(func(_ *hsmx.Scope, ev hsmx.Event) bool {
		if ev.Type == hsmx.EventEntry || ev.Type == hsmx.EventExit {
			return true
		}
		return consume
	})
}

// Wrap records every event before passing it on to h.
func (r *Recorder) Wrap(h hsmx.Handler) hsmx.Handler {
	return func(s *hsmx.Scope, ev hsmx.Event) bool {
		r.Record(s, ev)
		return h(s, ev)
	}
}

// Entries returns a copy of the transcript.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Strings returns the transcript rendered as "engine/state:TYPE".
func (r *Recorder) Strings() []string {
	entries := r.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t hsmx.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Event.Type == t {
			n++
		}
	}
	return n
}

// Len returns the transcript length.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset clears the transcript.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Eventually fails the test unless cond becomes true within DefaultWait.
func Eventually(t testing.TB, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, DefaultWait, DefaultTick, msgAndArgs...)
}

// InState waits until e reports state.
func InState(t testing.TB, e *hsmx.Engine, state string) {
	t.Helper()
	Eventually(t, func() bool { return e.State() == state },
		"engine %s never reached %q (current %q)", e.Name(), state, e.State())
}

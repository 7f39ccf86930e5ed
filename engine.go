package hsmx

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Logger is the default logger used when none is provided.
var Logger = slog.Default()

// Phase is the lifecycle phase of an Engine.
type Phase int32

const (
	PhaseCreated Phase = iota
	PhaseRunning
	PhaseStopped
	PhaseDestroyed
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseRunning:
		return "running"
	case PhaseStopped:
		return "stopped"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Handler is invoked for every event dispatched to the state it is
// registered under, including ENTRY and EXIT. It returns true when it
// consumed the event; false lets the event bubble to the parent engine.
type Handler func(s *Scope, ev Event) bool

type state struct {
	name    string
	handler Handler
	data    any
}

// Engine is one hierarchical state machine instance.
type Engine struct {
	id        string
	name      string
	loop      *Loop
	dedicated bool
	logger    *slog.Logger
	publisher Publisher
	vars      *Vars

	parent atomic.Pointer[Engine]

	statesMu sync.RWMutex
	states   map[string]*state

	// mu guards current for readers outside the loop. Writes happen only
	// on the loop.
	mu      sync.RWMutex
	current string

	timers timerRegistry

	// lifeMu orders phase changes made by Start, Run and Destroy with the
	// worker flag.
	lifeMu   sync.Mutex
	phase    atomic.Int32
	worker   bool
	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// New creates an engine. Without WithLoop the engine owns a dedicated loop.
func New(name string, opts ...Option) *Engine {
	e := &Engine{
		id:        uuid.NewString(),
		name:      name,
		dedicated: true,
		logger:    Logger,
		vars:      NewVars(),
		states:    make(map[string]*state),
		timers:    timerRegistry{live: make(map[int]*time.Timer)},
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.loop = NewLoop(name)

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("engine", name)
	return e
}

// ID returns the engine instance id.
func (e *Engine) ID() string {
	return e.id
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) String() string {
	return e.name
}

// Loop returns the loop the engine's handlers run on.
func (e *Engine) Loop() *Loop {
	return e.loop
}

// Dedicated reports whether the engine owns its loop.
func (e *Engine) Dedicated() bool {
	return e.dedicated
}

// Vars returns the engine's key/value store.
func (e *Engine) Vars() *Vars {
	return e.vars
}

// Phase returns the lifecycle phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) destroyed() bool {
	return e.Phase() == PhaseDestroyed
}

// SetParent sets the engine that receives events this engine does not
// consume. The reference is non-owning. Building a parent cycle is a
// precondition violation: unhandled events would bubble forever.
func (e *Engine) SetParent(parent *Engine) {
	if e.destroyed() {
		return
	}
	e.parent.Store(parent)
}

// Parent returns the parent engine, or nil.
func (e *Engine) Parent() *Engine {
	return e.parent.Load()
}

// Register binds a handler and user data to a state name. Registering the
// same name again replaces the previous entry. Empty names are ignored.
func (e *Engine) Register(name string, h Handler, data any) {
	if name == "" || e.destroyed() {
		return
	}
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	e.states[name] = &state{name: name, handler: h, data: data}
}

// States returns the registered state names, sorted.
func (e *Engine) States() []string {
	e.statesMu.RLock()
	defer e.statesMu.RUnlock()
	names := make([]string, 0, len(e.states))
	for name := range e.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) lookup(name string) *state {
	if name == "" {
		return nil
	}
	e.statesMu.RLock()
	defer e.statesMu.RUnlock()
	return e.states[name]
}

// State returns the current state name, or "" before the first
// transition. Safe from any goroutine.
func (e *Engine) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Post enqueues ev for dispatch. It never blocks and may be called from
// any goroutine. Events posted from one goroutine are dispatched in order.
func (e *Engine) Post(ev Event) {
	if e.destroyed() {
		return
	}
	if !e.loop.Invoke(func() { e.dispatch(ev) }) {
		e.logger.Debug("loop released, event dropped", "event", ev.Type)
	}
}

// ChangeState requests a transition to name. The request is marshaled into
// the engine's loop and completes asynchronously; inside a handler use
// Scope.ChangeState for a synchronous transition.
func (e *Engine) ChangeState(name string) {
	if name == "" || e.destroyed() {
		return
	}
	e.loop.Invoke(func() { e.transition(name) })
}

// dispatch runs on the loop.
func (e *Engine) dispatch(ev Event) {
	if e.destroyed() {
		return
	}

	current := e.State()
	handled := false
	if st := e.lookup(current); st != nil && st.handler != nil {
		handled = e.call(st, ev)
	}

	if handled {
		e.logger.Debug("event handled", "state", current, "event", ev.Type, "name", ev.Name)
		e.publish(Record{Kind: RecordHandled, State: current, Event: ev})
		return
	}

	if parent := e.Parent(); parent != nil {
		e.logger.Debug("event bubbled", "state", current, "event", ev.Type, "parent", parent.name)
		e.publish(Record{Kind: RecordBubbled, State: current, Target: parent.name, Event: ev})
		parent.Post(ev)
		return
	}

	e.logger.Debug("event dropped", "state", current, "event", ev.Type, "name", ev.Name)
	e.publish(Record{Kind: RecordDropped, State: current, Event: ev})
}

// transition runs on the loop: EXIT on the old state, swap, ENTRY on the
// new one. An unregistered target is accepted without invoking anything.
func (e *Engine) transition(name string) {
	if e.destroyed() {
		return
	}
	from := e.State()
	if from == name {
		return
	}

	if old := e.lookup(from); old != nil && old.handler != nil {
		e.call(old, Event{Type: EventExit, Source: e.name})
	}

	e.mu.Lock()
	e.current = name
	e.mu.Unlock()

	e.logger.Debug("state changed", "from", from, "to", name)
	e.publish(Record{Kind: RecordTransition, State: from, Target: name})

	if next := e.lookup(name); next != nil && next.handler != nil {
		e.call(next, Event{Type: EventEntry, Source: e.name})
	}
}

// call invokes a handler, recovering a panic. A panicking handler counts
// as having consumed the event.
func (e *Engine) call(st *state, ev Event) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panic", "state", st.name, "event", ev.Type, "panic", r)
			e.publish(Record{Kind: RecordPanic, State: st.name, Event: ev})
			handled = true
		}
	}()
	return st.handler(&Scope{engine: e, state: st.name, data: st.data}, ev)
}

func (e *Engine) publish(rec Record) {
	if e.publisher == nil {
		return
	}
	rec.ID = uuid.NewString()
	rec.Engine = e.name
	rec.Timestamp = time.Now()
	if err := e.publisher.Publish(context.Background(), rec); err != nil {
		e.logger.Warn("publish failed", "kind", rec.Kind, "error", err)
	}
}

// Start runs the engine's loop on a new goroutine until Stop, Destroy or
// ctx cancellation.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if err := e.enterRunning(); err != nil {
		return err
	}
	e.worker = true
	go e.runLoop(ctx)
	return nil
}

// Run runs the engine's loop on the calling goroutine and blocks until
// Stop, Destroy or ctx cancellation. On a shared loop, Run also serves
// every other engine embedded in that loop.
//
// Run returns nil when the loop was stopped by Stop or Destroy, and
// ctx.Err() when it ended because ctx was done.
func (e *Engine) Run(ctx context.Context) error {
	e.lifeMu.Lock()
	err := e.enterRunning()
	e.lifeMu.Unlock()
	if err != nil {
		return err
	}
	if e.runLoop(ctx) {
		return nil
	}
	return ctx.Err()
}

// enterRunning must be called with lifeMu held.
func (e *Engine) enterRunning() error {
	if e.phase.CompareAndSwap(int32(PhaseCreated), int32(PhaseRunning)) {
		return nil
	}
	switch e.Phase() {
	case PhaseRunning:
		return ErrRunning
	case PhaseDestroyed:
		return ErrDestroyed
	default:
		return ErrNotRestartable
	}
}

// runLoop reports whether the loop ended on a stop request rather than
// on ctx.
func (e *Engine) runLoop(ctx context.Context) (stopped bool) {
	defer e.closeDone()
	e.logger.Debug("loop started", "dedicated", e.dedicated)
	stopped = e.loop.iterate(ctx, e.quit)
	e.phase.CompareAndSwap(int32(PhaseRunning), int32(PhaseStopped))
	e.logger.Debug("loop stopped")
	return stopped
}

func (e *Engine) closeDone() {
	e.doneOnce.Do(func() { close(e.done) })
}

// Stop requests loop termination. Idempotent, safe from any goroutine and
// a no-op unless the engine is running. Queued events and pending timers
// are neither drained nor cancelled.
func (e *Engine) Stop() {
	if e.Phase() != PhaseRunning {
		return
	}
	e.stopOnce.Do(func() { close(e.quit) })
}

// Done is closed once the engine's loop has exited, or by Destroy when the
// loop never ran.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Destroy stops the loop, waits for a worker started by Start, cancels
// pending timers, releases an owned loop and clears the state registry.
// Every later call on the engine is a no-op. Destroy must not be called
// from one of the engine's own handlers while it runs on a Start worker.
func (e *Engine) Destroy() {
	e.lifeMu.Lock()
	prev := Phase(e.phase.Swap(int32(PhaseDestroyed)))
	worker := e.worker
	e.lifeMu.Unlock()
	if prev == PhaseDestroyed {
		return
	}
	e.stopOnce.Do(func() { close(e.quit) })
	switch {
	case prev == PhaseCreated:
		e.closeDone()
	case worker:
		<-e.done
	}

	e.timers.cancelAll()
	if e.dedicated {
		e.loop.release()
	}

	e.statesMu.Lock()
	e.states = make(map[string]*state)
	e.statesMu.Unlock()

	e.mu.Lock()
	e.current = ""
	e.mu.Unlock()

	e.parent.Store(nil)
	e.logger.Debug("engine destroyed")
}

package hsmx

import (
	"log/slog"
	"time"
)

// Scope is the view of an engine a handler receives. It is only valid on
// the engine's loop for the duration of the handler call.
type Scope struct {
	engine *Engine
	state  string
	data   any
}

// Engine returns the engine running the handler.
func (s *Scope) Engine() *Engine {
	return s.engine
}

// State returns the state name the handler was registered under.
func (s *Scope) State() string {
	return s.state
}

// Data returns the user data given at registration.
func (s *Scope) Data() any {
	return s.data
}

// Vars returns the engine's key/value store.
func (s *Scope) Vars() *Vars {
	return s.engine.vars
}

// Logger returns the engine logger annotated with the state name.
func (s *Scope) Logger() *slog.Logger {
	return s.engine.logger.With("state", s.state)
}

// ChangeState transitions synchronously: EXIT on the current state, swap,
// ENTRY on name, all before it returns. A no-op when name is current.
func (s *Scope) ChangeState(name string) {
	if name == "" {
		return
	}
	s.engine.transition(name)
}

// Post enqueues ev on the engine's own queue.
func (s *Scope) Post(ev Event) {
	s.engine.Post(ev)
}

// PostParent enqueues ev on the parent engine's queue. Returns false when
// the engine has no parent.
func (s *Scope) PostParent(ev Event) bool {
	parent := s.engine.Parent()
	if parent == nil {
		return false
	}
	parent.Post(ev)
	return true
}

// Parent returns the parent engine, or nil.
func (s *Scope) Parent() *Engine {
	return s.engine.Parent()
}

// Schedule arms a one-shot timer on the engine. See Engine.Schedule.
func (s *Scope) Schedule(d time.Duration) int {
	return s.engine.Schedule(d)
}

// Cancel cancels a pending timer. See Engine.Cancel.
func (s *Scope) Cancel(id int) bool {
	return s.engine.Cancel(id)
}

// Stop stops the engine's loop after the current handler returns.
func (s *Scope) Stop() {
	s.engine.Stop()
}

package hsmx

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrEmptyStateName  = errors.New("state name is required")
	ErrDuplicateState  = errors.New("duplicate state name")
	ErrUnknownInitial  = errors.New("initial state not registered")
	ErrEmptyEngineName = errors.New("engine name is required")
)

// Builder provides a fluent API for assembling an engine: its loop, parent,
// states and initial state.
type Builder struct {
	name    string
	opts    []Option
	states  []state
	initial string
}

// NewBuilder creates a builder for an engine called name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// With appends engine options.
func (b *Builder) With(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Loop embeds the engine in a shared loop.
func (b *Builder) Loop(l *Loop) *Builder {
	b.opts = append(b.opts, WithLoop(l))
	return b
}

// Logger sets the engine logger.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.opts = append(b.opts, WithLogger(l))
	return b
}

// Publisher sets the trace publisher.
func (b *Builder) Publisher(p Publisher) *Builder {
	b.opts = append(b.opts, WithPublisher(p))
	return b
}

// Parent sets the parent engine.
func (b *Builder) Parent(p *Engine) *Builder {
	b.opts = append(b.opts, WithParent(p))
	return b
}

// State registers a handler and its data under name.
func (b *Builder) State(name string, h Handler, data any) *Builder {
	b.states = append(b.states, state{name: name, handler: h, data: data})
	return b
}

// Initial sets the state the engine transitions to once its loop runs.
func (b *Builder) Initial(name string) *Builder {
	b.initial = name
	return b
}

// Build validates the configuration and constructs the engine.
func (b *Builder) Build() (*Engine, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	e := New(b.name, b.opts...)
	for _, st := range b.states {
		e.Register(st.name, st.handler, st.data)
	}
	if b.initial != "" {
		e.ChangeState(b.initial)
	}
	return e, nil
}

func (b *Builder) validate() error {
	if b.name == "" {
		return ErrEmptyEngineName
	}
	seen := make(map[string]bool, len(b.states))
	for i, st := range b.states {
		if st.name == "" {
			return fmt.Errorf("engine %q state %d: %w", b.name, i, ErrEmptyStateName)
		}
		if seen[st.name] {
			return fmt.Errorf("engine %q state %q: %w", b.name, st.name, ErrDuplicateState)
		}
		seen[st.name] = true
	}
	if b.initial != "" && !seen[b.initial] {
		return fmt.Errorf("engine %q initial %q: %w", b.name, b.initial, ErrUnknownInitial)
	}
	return nil
}

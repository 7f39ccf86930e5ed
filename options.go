package hsmx

import "log/slog"

// Option configures an Engine via the functional options pattern.
type Option func(*Engine)

// WithLoop embeds the engine in a shared Loop instead of giving it its own.
func WithLoop(l *Loop) Option {
	return func(e *Engine) {
		if l != nil {
			e.loop = l
			e.dedicated = false
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPublisher configures where trace records go.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithParent sets the parent engine that receives unhandled events.
func WithParent(parent *Engine) Option {
	return func(e *Engine) {
		e.parent.Store(parent)
	}
}

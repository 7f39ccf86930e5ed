package hsmx

import "errors"

var (
	// ErrRunning is returned when starting an engine that is already running.
	ErrRunning = errors.New("engine already running")

	// ErrNotRestartable is returned when starting an engine whose loop has
	// already exited. Create a new engine instead.
	ErrNotRestartable = errors.New("engine cannot be restarted after stop")

	// ErrDestroyed is returned when starting a destroyed engine.
	ErrDestroyed = errors.New("engine destroyed")
)

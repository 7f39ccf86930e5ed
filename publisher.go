package hsmx

import (
	"context"
	"time"
)

// RecordKind names what a Record describes.
type RecordKind string

const (
	RecordHandled        RecordKind = "handled"
	RecordBubbled        RecordKind = "bubbled"
	RecordDropped        RecordKind = "dropped"
	RecordTransition     RecordKind = "transition"
	RecordTimerScheduled RecordKind = "timer_scheduled"
	RecordTimerFired     RecordKind = "timer_fired"
	RecordTimerCancelled RecordKind = "timer_cancelled"
	RecordPanic          RecordKind = "panic"
)

// Record is one trace entry emitted by an engine.
type Record struct {
	ID        string     `json:"id" yaml:"id"`
	Engine    string     `json:"engine" yaml:"engine"`
	Kind      RecordKind `json:"kind" yaml:"kind"`
	State     string     `json:"state,omitempty" yaml:"state,omitempty"`
	Target    string     `json:"target,omitempty" yaml:"target,omitempty"`
	Event     Event      `json:"-" yaml:"-"`
	TimerID   int        `json:"timerID,omitempty" yaml:"timerID,omitempty"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
}

// Publisher receives trace records. Implementations must be safe for
// concurrent use: records are published from every engine's loop and from
// any goroutine that schedules or cancels a timer.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

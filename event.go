package hsmx

import (
	"fmt"
	"strings"
)

// EventType classifies an Event.
type EventType int

const (
	EventStart EventType = iota
	EventStep
	EventResultOK
	EventResultError
	EventTimeout
	EventTimeoutHandled
	EventCancel
	EventEntry
	EventExit
)

// TimerExpired is the Name carried by every TIMEOUT event a timer produces.
const TimerExpired = "TIMER_EXPIRED"

var eventTypeNames = [...]string{
	EventStart:          "START",
	EventStep:           "STEP",
	EventResultOK:       "RESULT_OK",
	EventResultError:    "RESULT_ERROR",
	EventTimeout:        "TIMEOUT",
	EventTimeoutHandled: "TIMEOUT_HANDLED",
	EventCancel:         "CANCEL",
	EventEntry:          "ENTRY",
	EventExit:           "EXIT",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return nil, fmt.Errorf("unknown event type %d", int(t))
	}
	return []byte(eventTypeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Matching is case-insensitive.
func (t *EventType) UnmarshalText(text []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(text)))
	for i, name := range eventTypeNames {
		if name == s {
			*t = EventType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", string(text))
}

// Event is the envelope posted into an engine.
//
// Event is a value type: posting copies it, and a bubbled event is a shallow
// copy with Data shared by reference. The engine never owns Data; whoever
// produced it decides what it points at. Consumers MUST NOT mutate what Data
// refers to unless the producer documents it as shared mutable state.
type Event struct {
	Type   EventType
	Name   string // optional, "" when absent
	Source string // optional, "" when absent
	Seq    int
	Data   any
}

// NewEvent creates an event with the given type, name and payload.
func NewEvent(t EventType, name string, data any) Event {
	return Event{
		Type: t,
		Name: name,
		Data: data,
	}
}

// WithSource returns a copy of ev with Source set.
func (ev Event) WithSource(source string) Event {
	ev.Source = source
	return ev
}

// WithSeq returns a copy of ev with Seq set.
func (ev Event) WithSeq(seq int) Event {
	ev.Seq = seq
	return ev
}

func (ev Event) String() string {
	var b strings.Builder
	b.WriteString(ev.Type.String())
	if ev.Name != "" {
		b.WriteString("(" + ev.Name + ")")
	}
	if ev.Source != "" {
		b.WriteString(" from " + ev.Source)
	}
	fmt.Fprintf(&b, " #%d", ev.Seq)
	return b.String()
}

// Payload returns the event data as T.
func Payload[T any](ev Event) (T, bool) {
	v, ok := ev.Data.(T)
	return v, ok
}

// Package builder composes hsmx handlers from per-event rules.
package builder

import (
	"github.com/comalice/hsmx"
)

// Action reacts to an event and always consumes it.
type Action func(s *hsmx.Scope, ev hsmx.Event)

// Reaction reacts to an event and reports whether it consumed it.
type Reaction func(s *hsmx.Scope, ev hsmx.Event) bool

// Rule pairs an event predicate with a reaction.
type Rule struct {
	match func(ev hsmx.Event) bool
	react Reaction
}

// Handler builds a handler that runs the first rule matching the event.
// Events no rule matches are reported as not handled and bubble.
func Handler(rules ...Rule) hsmx.Handler {
	return func(s *hsmx.Scope, ev hsmx.Event) bool {
		for _, r := range rules {
			if r.match(ev) {
				return r.react(s, ev)
			}
		}
		return false
	}
}

// When matches events for which pred returns true.
func When(pred func(ev hsmx.Event) bool, react Reaction) Rule {
	return Rule{match: pred, react: react}
}

// On matches events of type t.
func On(t hsmx.EventType, react Reaction) Rule {
	return When(func(ev hsmx.Event) bool { return ev.Type == t }, react)
}

// OnNamed matches events of type t carrying name.
func OnNamed(t hsmx.EventType, name string, react Reaction) Rule {
	return When(func(ev hsmx.Event) bool {
		return ev.Type == t && ev.Name == name
	}, react)
}

// Do matches events of type t and consumes them.
func Do(t hsmx.EventType, act Action) Rule {
	return On(t, Consume(act))
}

// OnEntry runs act when the state is entered.
func OnEntry(act Action) Rule {
	return Do(hsmx.EventEntry, act)
}

// OnExit runs act when the state is exited.
func OnExit(act Action) Rule {
	return Do(hsmx.EventExit, act)
}

// Consume turns an Action into a Reaction that always reports handled.
func Consume(act Action) Reaction {
	return func(s *hsmx.Scope, ev hsmx.Event) bool {
		act(s, ev)
		return true
	}
}

// GoTo returns an action that transitions to state.
func GoTo(state string) Action {
	return func(s *hsmx.Scope, _ hsmx.Event) {
		s.ChangeState(state)
	}
}

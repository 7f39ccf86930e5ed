// Package hsmx is a small hierarchical state-machine runtime.
//
// Each Engine runs its handlers on a single-threaded Loop, either a loop it
// owns (driven by Start or Run) or a Loop shared with other engines. Events
// posted to an engine are dispatched one at a time to the handler of the
// current state. An event the handler does not consume is copied into the
// parent engine's queue, and so on up the chain.
//
// # Example Usage
//
//	e := hsmx.New("door")
//	e.Register("closed", func(s *hsmx.Scope, ev hsmx.Event) bool {
//		switch ev.Type {
//		case hsmx.EventEntry:
//			s.Schedule(100 * time.Millisecond)
//			return true
//		case hsmx.EventTimeout:
//			s.ChangeState("open")
//			return true
//		}
//		return false
//	}, nil)
//	e.ChangeState("closed")
//	_ = e.Start(ctx)
//	defer e.Destroy()
//
// # Threading
//
// Handlers for one engine never run concurrently with each other. Post,
// ChangeState, Schedule and Cancel never block and may be called from any
// goroutine. Inside a handler, Scope.ChangeState runs EXIT, swaps the current
// state and runs ENTRY before returning; Engine.ChangeState called from
// outside is marshaled into the loop and completes later.
//
// # Hierarchy
//
// The parent link is non-owning and purely an event sink. No cycle detection
// is performed: a parent cycle makes unhandled events bubble forever.
package hsmx

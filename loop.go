package hsmx

import (
	"context"
	"sync"
)

// Loop is a single-threaded cooperative task queue.
//
// Tasks run one at a time, in the order they were invoked, on whichever
// goroutine currently iterates the loop. An engine either owns its Loop or
// shares one created with NewLoop with other engines. At most one goroutine
// iterates a Loop at a time; a second runner waits for ownership.
type Loop struct {
	name string

	mu       sync.Mutex
	tasks    []func()
	released bool

	wake  chan struct{}
	owner chan struct{}
}

// NewLoop creates a Loop that several engines can share.
func NewLoop(name string) *Loop {
	return &Loop{
		name:  name,
		wake:  make(chan struct{}, 1),
		owner: make(chan struct{}, 1),
	}
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// Invoke enqueues fn for execution on the loop. It never blocks.
// Returns false if the loop has been released.
func (l *Loop) Invoke(fn func()) bool {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Run iterates the loop on the calling goroutine until ctx is done.
// Use it to drive a shared loop that no engine is running. Like
// Engine.Run, it returns ctx.Err() when ctx ends the loop; a Loop has no
// stop request of its own, so the result is never nil.
func (l *Loop) Run(ctx context.Context) error {
	l.iterate(ctx, nil)
	return ctx.Err()
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return fn, true
}

// iterate runs tasks until quit is closed or ctx is done and reports
// whether quit ended it. Queued tasks are not drained on exit.
func (l *Loop) iterate(ctx context.Context, quit <-chan struct{}) bool {
	select {
	case l.owner <- struct{}{}:
	case <-quit:
		return true
	case <-ctx.Done():
		return false
	}
	defer func() { <-l.owner }()

	for {
		select {
		case <-quit:
			return true
		case <-ctx.Done():
			return false
		default:
		}

		if fn, ok := l.pop(); ok {
			fn()
			continue
		}

		select {
		case <-quit:
			return true
		case <-ctx.Done():
			return false
		case <-l.wake:
		}
	}
}

// release drops queued tasks and rejects further invocations.
func (l *Loop) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	l.tasks = nil
}

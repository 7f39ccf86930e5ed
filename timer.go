package hsmx

import (
	"sync"
	"time"
)

// timerRegistry maps live timer ids to their alarms. Ids start at 1 and
// are never reused by the same engine.
type timerRegistry struct {
	mu   sync.Mutex
	next int
	live map[int]*time.Timer
}

// retire removes id and reports whether it was still live.
func (r *timerRegistry) retire(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[id]; !ok {
		return false
	}
	delete(r.live, id)
	return true
}

func (r *timerRegistry) cancel(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.live[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.live, id)
	return true
}

func (r *timerRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.live {
		t.Stop()
		delete(r.live, id)
	}
}

// Pending returns the number of live timers.
func (e *Engine) Pending() int {
	e.timers.mu.Lock()
	defer e.timers.mu.Unlock()
	return len(e.timers.live)
}

// Schedule arms a one-shot timer and returns its id. When it expires the
// engine posts a TIMEOUT event (Source = engine name, Seq = id) into its
// own queue, where it is dispatched and bubbles like any other event.
// Returns 0 on a destroyed engine.
func (e *Engine) Schedule(d time.Duration) int {
	if e.destroyed() {
		return 0
	}

	e.timers.mu.Lock()
	e.timers.next++
	id := e.timers.next
	e.timers.live[id] = time.AfterFunc(d, func() {
		e.loop.Invoke(func() { e.fire(id) })
	})
	e.timers.mu.Unlock()

	e.logger.Debug("timer scheduled", "timer", id, "delay", d)
	e.publish(Record{Kind: RecordTimerScheduled, State: e.State(), TimerID: id})
	return id
}

// Cancel removes a pending timer and reports whether it was found. Once
// Cancel returns true the timer's TIMEOUT is never produced.
func (e *Engine) Cancel(id int) bool {
	if !e.timers.cancel(id) {
		return false
	}
	e.logger.Debug("timer cancelled", "timer", id)
	e.publish(Record{Kind: RecordTimerCancelled, State: e.State(), TimerID: id})
	return true
}

// fire runs on the loop. The id is retired before the TIMEOUT is queued so
// that a concurrent Cancel either wins outright or reports false.
func (e *Engine) fire(id int) {
	if e.destroyed() || !e.timers.retire(id) {
		return
	}
	e.logger.Debug("timer fired", "timer", id)
	e.publish(Record{Kind: RecordTimerFired, State: e.State(), TimerID: id})
	e.Post(Event{
		Type:   EventTimeout,
		Name:   TimerExpired,
		Source: e.name,
		Seq:    id,
	})
}

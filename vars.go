package hsmx

import "sync"

// Vars is a thread-safe key/value store attached to an engine. Handlers use
// it for the counters their retry and progress logic needs.
type Vars struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewVars creates an empty store.
func NewVars() *Vars {
	return &Vars{
		data: make(map[string]any),
	}
}

// Get retrieves a value by key. Returns nil if the key does not exist.
func (v *Vars) Get(key string) any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.data[key]
}

// Int returns the value stored under key as an int, or 0.
func (v *Vars) Int(key string) int {
	n, _ := v.Get(key).(int)
	return n
}

// Set stores a value by key.
func (v *Vars) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data[key] = value
}

// Delete removes a key.
func (v *Vars) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.data, key)
}

// Incr adds one to the int stored under key and returns the new value.
// A missing or non-int value counts as 0.
func (v *Vars) Incr(key string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, _ := v.data[key].(int)
	n++
	v.data[key] = n
	return n
}

// Snapshot returns a copy of all data.
func (v *Vars) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snapshot := make(map[string]any, len(v.data))
	for k, val := range v.data {
		snapshot[k] = val
	}
	return snapshot
}

package authority

import "sync"

// epoch is a monotonically increasing counter, guarded by its own lock —
// deliberately separate from any catalog's lock, since a topology sweep
// touches every catalog and then bumps the epoch exactly once.
type epoch struct {
	mu    sync.Mutex
	value uint64
}

func (e *epoch) increment() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value++
	return e.value
}

func (e *epoch) get() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

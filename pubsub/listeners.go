package pubsub

import "sync"

// registry holds listeners in registration order.
type registry[T any] struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// add registers fn and returns a func that removes it. The remove func is
// safe to call more than once.
func (r *registry[T]) add(fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, entry[T]{id: id, fn: fn})

	return func() { r.remove(id) }
}

func (r *registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *registry[T]) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// emit calls every listener with v, outside the lock.
func (r *registry[T]) emit(v T) {
	r.mu.RLock()
	entries := make([]entry[T], len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	for _, e := range entries {
		e.fn(v)
	}
}

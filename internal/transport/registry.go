package transport

import "sync"

// registry keeps handlers in registration order. Registration may happen
// from any goroutine; dispatch works on a copy so handlers can unregister
// themselves while being called.
type registry[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []registryEntry[T]
}

type registryEntry[T any] struct {
	id uint64
	fn T
}

func (r *registry[T]) add(fn T) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, registryEntry[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.remove(id)
		})
	}
}

func (r *registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *registry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.fn
	}
	return out
}

func (r *registry[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

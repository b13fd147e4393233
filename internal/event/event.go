// Package event provides typed, synchronous change notifications.
package event

import "sync"

// Emitter delivers values of type E to every subscriber, in subscription
// order, on the goroutine that calls Emit.
type Emitter[E any] struct {
	mu       sync.Mutex
	nextID   int
	handlers []handler[E]
}

type handler[E any] struct {
	id int
	fn func(E)
}

// Subscribe registers fn and returns a function that removes it again.
func (e *Emitter[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, handler[E]{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, h := range e.handlers {
			if h.id == id {
				e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every subscriber with ev. Handlers may subscribe or emit
// further events; they see the subscriber list as it was when Emit started.
func (e *Emitter[E]) Emit(ev E) {
	e.mu.Lock()
	handlers := make([]handler[E], len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	for _, h := range handlers {
		h.fn(ev)
	}
}

// Len returns the number of subscribers.
func (e *Emitter[E]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

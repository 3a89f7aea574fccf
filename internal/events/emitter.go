// Package events holds the subscription primitives the coordinator is built on.
// Handlers run synchronously on the emitting goroutine, in registration order.
package events

import "sync"

type handler[T any] struct {
	id uint64
	fn func(T)
}

// Emitter is an ordered list of handlers for one event kind. The zero value is ready to use.
type Emitter[T any] struct {
	mu       sync.Mutex
	next     uint64
	handlers []handler[T]
}

// On registers fn and returns a func that removes it. Removing twice is a no-op.
func (e *Emitter[T]) On(fn func(T)) func() {
	e.mu.Lock()
	e.next++
	id := e.next
	e.handlers = append(e.handlers, handler[T]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.off(id) })
	}
}

func (e *Emitter[T]) off(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every handler registered at the time of the call.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]handler[T], len(e.handlers))
	copy(snapshot, e.handlers)
	e.mu.Unlock()

	for _, h := range snapshot {
		h.fn(v)
	}
}

// Len returns the number of registered handlers.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

package events

import "sync"

// Replay is a broadcast that keeps the last depth values and hands them to
// late subscribers before any live value.
// A handler must not Publish on the Replay that is calling it.
type Replay[T any] struct {
	depth int

	deliver sync.Mutex // orders replay against live delivery
	mu      sync.Mutex
	buf     []T
	subs    Emitter[T]
}

func NewReplay[T any](depth int) *Replay[T] {
	if depth < 1 {
		depth = 1
	}
	return &Replay[T]{depth: depth}
}

func (r *Replay[T]) Publish(v T) {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	r.buf = append(r.buf, v)
	if over := len(r.buf) - r.depth; over > 0 {
		r.buf = append(r.buf[:0:0], r.buf[over:]...)
	}
	r.mu.Unlock()

	r.subs.Emit(v)
}

// Subscribe replays the retained values to fn, then delivers live ones until cancel is called.
func (r *Replay[T]) Subscribe(fn func(T)) (cancel func()) {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	backlog := make([]T, len(r.buf))
	copy(backlog, r.buf)
	r.mu.Unlock()

	for _, v := range backlog {
		fn(v)
	}
	return r.subs.On(fn)
}

// Last returns the newest retained value.
func (r *Replay[T]) Last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.buf) == 0 {
		return zero, false
	}
	return r.buf[len(r.buf)-1], true
}

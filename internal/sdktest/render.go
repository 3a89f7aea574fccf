// Package sdktest provides in-memory stand-ins for the media SDK, the render
// sink and the HTTP collaborators. They are shared by tests across packages.
package sdktest

import (
	"sync"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

// Element is the render handle produced by fake tracks.
type Element struct {
	Track domain.TrackID
	Seq   int
}

// renderer gives a fake track Attach/Detach semantics: every Attach makes a
// new element, Detach hands back all of them.
type renderer struct {
	mu       sync.Mutex
	id       domain.TrackID
	seq      int
	elements []core.RenderHandle
}

func (r *renderer) Attach() core.RenderHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	el := &Element{Track: r.id, Seq: r.seq}
	r.elements = append(r.elements, el)
	return el
}

func (r *renderer) Detach() []core.RenderHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.elements
	r.elements = nil
	return out
}

// Elements returns how many handles are currently attached to the track.
func (r *renderer) Elements() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.elements)
}

// Sink records mounted handles.
type Sink struct {
	mu      sync.Mutex
	mounted map[core.RenderHandle]domain.TrackID
	mounts  int
}

func NewSink() *Sink {
	return &Sink{mounted: make(map[core.RenderHandle]domain.TrackID)}
}

func (s *Sink) Mount(owner domain.TrackID, h core.RenderHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounted[h] = owner
	s.mounts++
}

func (s *Sink) Unmount(h core.RenderHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mounted, h)
}

// Mounted returns the number of handles currently mounted.
func (s *Sink) Mounted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mounted)
}

// MountedFor returns the number of mounted handles owned by track.
func (s *Sink) MountedFor(track domain.TrackID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, owner := range s.mounted {
		if owner == track {
			n++
		}
	}
	return n
}

// Mounts returns the total number of Mount calls.
func (s *Sink) Mounts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounts
}

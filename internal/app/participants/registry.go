// Package participants keeps the remote participants of the active room and
// the attach state of their tracks.
package participants

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

const (
	evTrackPublished   = "trackPublished"
	evTrackUnpublished = "trackUnpublished"
)

// ChangeKind says what a roster Change is about.
type ChangeKind int

const (
	TrackAttached ChangeKind = iota
	TrackDetached
	TrackToggled
	ParticipantAdded
	ParticipantRemoved
	LoudestChanged
	Cleared
)

type Change struct {
	Kind        ChangeKind
	Participant domain.ParticipantID
	Track       domain.TrackID
}

type publication struct {
	view    domain.TrackPublication
	track   core.RemoteTrack
	handles []core.RenderHandle
}

type entry struct {
	p    core.RemoteParticipant
	pubs map[domain.TrackID]*publication
}

type Registry struct {
	sink   core.RenderSink
	logger zerolog.Logger

	mu      sync.Mutex
	active  bool
	entries map[domain.ParticipantID]*entry
	loudest domain.ParticipantID
	subs    *events.Table

	changes events.Emitter[Change]
}

type Option func(*Registry)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func New(sink core.RenderSink, opts ...Option) *Registry {
	r := &Registry{
		sink:    sink,
		logger:  log.With().Str("module", "app.participants").Logger(),
		entries: make(map[domain.ParticipantID]*entry),
		subs:    events.NewTable(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnChange registers fn for roster changes. fn runs after the registry lock is released.
func (r *Registry) OnChange(fn func(Change)) func() {
	return r.changes.On(fn)
}

// Initialize replaces the registry with participants already in the room and
// attaches their already-subscribed tracks.
func (r *Registry) Initialize(participants []core.RemoteParticipant) {
	r.Clear()

	var out []Change
	r.mu.Lock()
	r.active = true
	for _, p := range participants {
		if p == nil {
			continue
		}
		out = append(out, r.addLocked(p)...)
	}
	r.mu.Unlock()
	r.emit(out)
	r.logger.Info().Int("participants", len(participants)).Msg("registry initialized")
}

// Add registers p. It is ignored while no room is active.
func (r *Registry) Add(p core.RemoteParticipant) {
	if p == nil {
		return
	}
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		r.logger.Debug().Str("participant", string(p.ID())).Msg("add ignored: no active room")
		return
	}
	out := r.addLocked(p)
	r.mu.Unlock()
	r.emit(out)
}

func (r *Registry) addLocked(p core.RemoteParticipant) []Change {
	id := p.ID()
	if _, ok := r.entries[id]; ok {
		return nil
	}
	e := &entry{p: p, pubs: make(map[domain.TrackID]*publication)}
	r.entries[id] = e
	entity := string(id)

	r.subs.Add(entity, evTrackPublished, p.OnTrackPublished(func(pub core.Publication) {
		r.published(id, pub)
	}))
	r.subs.Add(entity, evTrackUnpublished, p.OnTrackUnpublished(func(pub core.Publication) {
		r.unpublished(id, pub)
	}))

	out := []Change{{Kind: ParticipantAdded, Participant: id}}
	for _, pub := range p.Publications() {
		out = append(out, r.subscribeLocked(e, pub)...)
	}
	r.logger.Info().Str("participant", string(id)).Str("identity", p.Identity()).Msg("participant added")
	return out
}

// subscribeLocked wires a publication and attaches its track when it is already subscribed.
func (r *Registry) subscribeLocked(e *entry, pub core.Publication) []Change {
	if pub == nil {
		return nil
	}
	tid := pub.TrackID()
	if _, ok := e.pubs[tid]; ok {
		return nil
	}
	e.pubs[tid] = &publication{view: domain.TrackPublication{
		TrackID:      tid,
		Kind:         pub.Kind(),
		Subscription: domain.Unsubscribed,
		Enabled:      true,
	}}

	pid := e.p.ID()
	entity := string(pid)
	r.subs.Add(entity, pubKind(tid), pub.OnSubscribed(func(t core.RemoteTrack) {
		r.subscribed(pid, tid, t)
	}))
	r.subs.Add(entity, pubKind(tid), pub.OnUnsubscribed(func(t core.RemoteTrack) {
		r.unsubscribed(pid, tid, t)
	}))

	if t := pub.Track(); t != nil {
		return r.attachLocked(e, tid, t)
	}
	return nil
}

func pubKind(tid domain.TrackID) string   { return "publication:" + string(tid) }
func trackKind(tid domain.TrackID) string { return "track:" + string(tid) }

func (r *Registry) published(pid domain.ParticipantID, pub core.Publication) {
	r.mu.Lock()
	e, ok := r.entries[pid]
	if !ok {
		r.mu.Unlock()
		return
	}
	out := r.subscribeLocked(e, pub)
	r.mu.Unlock()
	r.emit(out)
}

func (r *Registry) unpublished(pid domain.ParticipantID, pub core.Publication) {
	if pub == nil {
		return
	}
	tid := pub.TrackID()
	r.mu.Lock()
	e, ok := r.entries[pid]
	if !ok {
		r.mu.Unlock()
		return
	}
	out := r.detachLocked(e, tid)
	delete(e.pubs, tid)
	r.mu.Unlock()

	r.subs.ReleaseKind(string(pid), pubKind(tid))
	r.subs.ReleaseKind(string(pid), trackKind(tid))
	r.emit(out)
}

func (r *Registry) subscribed(pid domain.ParticipantID, tid domain.TrackID, t core.RemoteTrack) {
	r.mu.Lock()
	e, ok := r.entries[pid]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug().Str("participant", string(pid)).Str("track", string(tid)).Msg("late subscribed ignored")
		return
	}
	out := r.attachLocked(e, tid, t)
	r.mu.Unlock()
	r.emit(out)
}

func (r *Registry) unsubscribed(pid domain.ParticipantID, tid domain.TrackID, _ core.RemoteTrack) {
	r.mu.Lock()
	e, ok := r.entries[pid]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug().Str("participant", string(pid)).Str("track", string(tid)).Msg("late unsubscribed ignored")
		return
	}
	out := r.detachLocked(e, tid)
	if pub, ok := e.pubs[tid]; ok {
		pub.view.Subscription = domain.Unsubscribed
		pub.track = nil
	}
	r.mu.Unlock()

	r.subs.ReleaseKind(string(pid), trackKind(tid))
	r.emit(out)
}

// attachLocked mounts t once. Non-renderable tracks are recorded as subscribed but never attached.
func (r *Registry) attachLocked(e *entry, tid domain.TrackID, t core.RemoteTrack) []Change {
	pub, ok := e.pubs[tid]
	if !ok || t == nil {
		return nil
	}
	pub.view.Subscription = domain.Subscribed
	if pub.view.Attached {
		return nil
	}
	if pub.track == nil {
		pub.track = t
		pub.view.Enabled = t.IsEnabled()
		r.watchTrackLocked(e.p.ID(), tid, t)
	}

	rt, renderable := t.(core.Renderable)
	if !t.Kind().Renderable() || !renderable {
		return nil
	}
	h := rt.Attach()
	pub.handles = append(pub.handles, h)
	r.sink.Mount(tid, h)
	pub.view.Attached = true
	return []Change{{Kind: TrackAttached, Participant: e.p.ID(), Track: tid}}
}

// detachLocked unmounts whatever the track hands back. Detaching a detached track is a no-op.
func (r *Registry) detachLocked(e *entry, tid domain.TrackID) []Change {
	pub, ok := e.pubs[tid]
	if !ok || !pub.view.Attached {
		return nil
	}
	handles := pub.handles
	if rt, ok := pub.track.(core.Renderable); ok {
		handles = rt.Detach()
	}
	for _, h := range handles {
		r.sink.Unmount(h)
	}
	pub.handles = nil
	pub.view.Attached = false
	return []Change{{Kind: TrackDetached, Participant: e.p.ID(), Track: tid}}
}

func (r *Registry) watchTrackLocked(pid domain.ParticipantID, tid domain.TrackID, t core.RemoteTrack) {
	entity := string(pid)
	r.subs.Add(entity, trackKind(tid), t.OnEnabled(func() { r.toggled(pid, tid, true) }))
	r.subs.Add(entity, trackKind(tid), t.OnDisabled(func() { r.toggled(pid, tid, false) }))
}

func (r *Registry) toggled(pid domain.ParticipantID, tid domain.TrackID, on bool) {
	r.mu.Lock()
	e, ok := r.entries[pid]
	if !ok {
		r.mu.Unlock()
		return
	}
	pub, ok := e.pubs[tid]
	if !ok || pub.view.Enabled == on {
		r.mu.Unlock()
		return
	}
	pub.view.Enabled = on
	r.mu.Unlock()
	r.emit([]Change{{Kind: TrackToggled, Participant: pid, Track: tid}})
}

// Remove detaches all of p's tracks and drops it. Unknown participants are ignored.
func (r *Registry) Remove(p core.RemoteParticipant) {
	if p == nil {
		return
	}
	id := p.ID()
	r.mu.Lock()
	out, ok := r.removeLocked(id)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.subs.Release(string(id))
	r.emit(out)
	r.logger.Info().Str("participant", string(id)).Msg("participant removed")
}

func (r *Registry) removeLocked(id domain.ParticipantID) ([]Change, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	var out []Change
	for tid := range e.pubs {
		out = append(out, r.detachLocked(e, tid)...)
	}
	delete(r.entries, id)
	out = append(out, Change{Kind: ParticipantRemoved, Participant: id})
	if r.loudest == id {
		r.loudest = ""
		out = append(out, Change{Kind: LoudestChanged})
	}
	return out, true
}

// Loudest records the dominant speaker. It never affects attach state and
// only points at participants the registry holds; nil clears it.
func (r *Registry) Loudest(p core.RemoteParticipant) {
	r.mu.Lock()
	var id domain.ParticipantID
	if p != nil {
		if _, ok := r.entries[p.ID()]; ok {
			id = p.ID()
		}
	}
	if id == r.loudest {
		r.mu.Unlock()
		return
	}
	r.loudest = id
	r.mu.Unlock()
	r.emit([]Change{{Kind: LoudestChanged, Participant: id}})
}

// Clear detaches everything and empties the registry. Until the next
// Initialize, Add is ignored.
func (r *Registry) Clear() {
	r.mu.Lock()
	wasActive := r.active
	r.active = false
	var out []Change
	for id := range r.entries {
		changes, _ := r.removeLocked(id)
		out = append(out, changes...)
	}
	r.loudest = ""
	r.mu.Unlock()

	r.subs.ReleaseAll()
	if wasActive || len(out) > 0 {
		out = append(out, Change{Kind: Cleared})
	}
	r.emit(out)
}

func (r *Registry) emit(changes []Change) {
	for _, c := range changes {
		r.changes.Emit(c)
	}
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) IsAlone() bool { return r.Count() == 0 }

func (r *Registry) Has(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// LoudestID returns the current dominant speaker, if any.
func (r *Registry) LoudestID() (domain.ParticipantID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loudest, r.loudest != ""
}

// Publication returns the registry view of one track.
func (r *Registry) Publication(pid domain.ParticipantID, tid domain.TrackID) (domain.TrackPublication, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[pid]
	if !ok {
		return domain.TrackPublication{}, false
	}
	pub, ok := e.pubs[tid]
	if !ok {
		return domain.TrackPublication{}, false
	}
	return pub.view, true
}

// Snapshot returns the roster in no particular order.
func (r *Registry) Snapshot() []domain.ParticipantView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ParticipantView, 0, len(r.entries))
	for id, e := range r.entries {
		v := domain.ParticipantView{ID: id, Identity: e.p.Identity(), Loudest: id == r.loudest}
		for _, pub := range e.pubs {
			v.Tracks = append(v.Tracks, pub.view)
		}
		out = append(out, v)
	}
	return out
}

// Attached counts attached tracks across the registry.
func (r *Registry) Attached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		for _, pub := range e.pubs {
			if pub.view.Attached {
				n++
			}
		}
	}
	return n
}

package sdktest

import (
	"sync"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

// RemoteTrack is a renderable remote audio or video track.
type RemoteTrack struct {
	renderer
	kind domain.TrackKind

	mu        sync.Mutex
	enabled   bool
	onEnable  events.Emitter[struct{}]
	onDisable events.Emitter[struct{}]
}

func NewRemoteTrack(id domain.TrackID, kind domain.TrackKind) *RemoteTrack {
	t := &RemoteTrack{kind: kind, enabled: true}
	t.renderer.id = id
	return t
}

func (t *RemoteTrack) ID() domain.TrackID     { return t.renderer.id }
func (t *RemoteTrack) Kind() domain.TrackKind { return t.kind }

func (t *RemoteTrack) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *RemoteTrack) OnEnabled(fn func()) func() {
	return t.onEnable.On(func(struct{}) { fn() })
}

func (t *RemoteTrack) OnDisabled(fn func()) func() {
	return t.onDisable.On(func(struct{}) { fn() })
}

// SetEnabled toggles the track and fires enabled or disabled.
func (t *RemoteTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
	if on {
		t.onEnable.Emit(struct{}{})
	} else {
		t.onDisable.Emit(struct{}{})
	}
}

// DataTrack is a remote track with no render surface.
type DataTrack struct {
	id domain.TrackID
}

func NewDataTrack(id domain.TrackID) *DataTrack { return &DataTrack{id: id} }

func (t *DataTrack) ID() domain.TrackID       { return t.id }
func (t *DataTrack) Kind() domain.TrackKind   { return domain.TrackData }
func (t *DataTrack) IsEnabled() bool          { return true }
func (t *DataTrack) OnEnabled(func()) func()  { return func() {} }
func (t *DataTrack) OnDisabled(func()) func() { return func() {} }

type Publication struct {
	id   domain.TrackID
	kind domain.TrackKind

	mu    sync.Mutex
	track core.RemoteTrack

	onSubscribed   events.Emitter[core.RemoteTrack]
	onUnsubscribed events.Emitter[core.RemoteTrack]
}

func NewPublication(id domain.TrackID, kind domain.TrackKind) *Publication {
	return &Publication{id: id, kind: kind}
}

func (p *Publication) TrackID() domain.TrackID { return p.id }
func (p *Publication) Kind() domain.TrackKind  { return p.kind }

func (p *Publication) Track() core.RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

func (p *Publication) OnSubscribed(fn func(core.RemoteTrack)) func() {
	return p.onSubscribed.On(fn)
}

func (p *Publication) OnUnsubscribed(fn func(core.RemoteTrack)) func() {
	return p.onUnsubscribed.On(fn)
}

// Subscribe delivers track and fires subscribed.
func (p *Publication) Subscribe(track core.RemoteTrack) {
	p.mu.Lock()
	p.track = track
	p.mu.Unlock()
	p.onSubscribed.Emit(track)
}

// Unsubscribe fires unsubscribed with the current track, or with track when non-nil.
func (p *Publication) Unsubscribe(track core.RemoteTrack) {
	p.mu.Lock()
	if track == nil {
		track = p.track
	}
	p.track = nil
	p.mu.Unlock()
	p.onUnsubscribed.Emit(track)
}

// Handlers returns the number of registered subscribed+unsubscribed handlers.
func (p *Publication) Handlers() int {
	return p.onSubscribed.Len() + p.onUnsubscribed.Len()
}

type Participant struct {
	id       domain.ParticipantID
	identity string

	mu   sync.Mutex
	pubs []core.Publication

	onPublished   events.Emitter[core.Publication]
	onUnpublished events.Emitter[core.Publication]
}

func NewParticipant(id domain.ParticipantID, identity string) *Participant {
	return &Participant{id: id, identity: identity}
}

func (p *Participant) ID() domain.ParticipantID { return p.id }
func (p *Participant) Identity() string         { return p.identity }

func (p *Participant) Publications() []core.Publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Publication, len(p.pubs))
	copy(out, p.pubs)
	return out
}

func (p *Participant) OnTrackPublished(fn func(core.Publication)) func() {
	return p.onPublished.On(fn)
}

func (p *Participant) OnTrackUnpublished(fn func(core.Publication)) func() {
	return p.onUnpublished.On(fn)
}

// Publish adds pub and fires trackPublished.
func (p *Participant) Publish(pub core.Publication) {
	p.mu.Lock()
	p.pubs = append(p.pubs, pub)
	p.mu.Unlock()
	p.onPublished.Emit(pub)
}

// AddExisting adds pub without firing, as if it was published before we joined.
func (p *Participant) AddExisting(pub core.Publication) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pubs = append(p.pubs, pub)
}

// Unpublish removes pub and fires trackUnpublished.
func (p *Participant) Unpublish(pub core.Publication) {
	p.mu.Lock()
	for i, x := range p.pubs {
		if x.TrackID() == pub.TrackID() {
			p.pubs = append(p.pubs[:i:i], p.pubs[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.onUnpublished.Emit(pub)
}

// Handlers returns the number of registered participant-level handlers.
func (p *Participant) Handlers() int {
	return p.onPublished.Len() + p.onUnpublished.Len()
}

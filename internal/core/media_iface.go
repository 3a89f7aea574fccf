package core

import (
	"context"

	"github.com/dkeye/roomsync/internal/domain"
)

// RenderHandle is an opaque renderable element produced by Attach.
type RenderHandle any

// Renderable is implemented by tracks that can be drawn or played.
// Detach returns the handles released by the track; the caller unmounts them.
type Renderable interface {
	Attach() RenderHandle
	Detach() []RenderHandle
}

// RenderSink is where attached handles are mounted. The component that owns a
// track's lifecycle is the only one that mounts or unmounts its handles.
type RenderSink interface {
	Mount(owner domain.TrackID, h RenderHandle)
	Unmount(h RenderHandle)
}

// LocalTrack is a capture track created by the media SDK.
type LocalTrack interface {
	Renderable
	ID() domain.TrackID
	Kind() domain.TrackKind
	DeviceID() string
	IsEnabled() bool
	Enable()
	Disable()
	// Stop releases the capture device.
	Stop()
}

// TrackConstraint selects a device; an empty DeviceID means the platform default.
type TrackConstraint struct {
	DeviceID string
}

// Constraints requests one track per non-nil kind.
type Constraints struct {
	Audio *TrackConstraint
	Video *TrackConstraint
}

type TrackFactory interface {
	// CreateLocalTracks opens the requested devices. It fails with a
	// *DeviceAcquisitionError when a device is busy, missing or not permitted.
	CreateLocalTracks(ctx context.Context, c Constraints) ([]LocalTrack, error)
}

type RemoteTrack interface {
	ID() domain.TrackID
	Kind() domain.TrackKind
	IsEnabled() bool
	OnEnabled(func()) func()
	OnDisabled(func()) func()
}

type Publication interface {
	TrackID() domain.TrackID
	Kind() domain.TrackKind
	// Track is nil until the publication is subscribed.
	Track() RemoteTrack
	OnSubscribed(func(RemoteTrack)) func()
	OnUnsubscribed(func(RemoteTrack)) func()
}

type RemoteParticipant interface {
	ID() domain.ParticipantID
	Identity() string
	Publications() []Publication
	OnTrackPublished(func(Publication)) func()
	OnTrackUnpublished(func(Publication)) func()
}

type LocalParticipant interface {
	Identity() string
	Tracks() []LocalTrack
}

// Room is a live media-network room. Every On* returns a func that removes the handler.
type Room interface {
	SID() domain.RoomSID
	Name() domain.RoomName
	MaxParticipants() int
	LocalParticipant() LocalParticipant
	Participants() []RemoteParticipant
	Disconnect()

	OnDisconnected(func(error)) func()
	OnParticipantConnected(func(RemoteParticipant)) func()
	OnParticipantDisconnected(func(RemoteParticipant)) func()
	// OnDominantSpeakerChanged passes nil when nobody is speaking.
	OnDominantSpeakerChanged(func(RemoteParticipant)) func()
}

type ConnectOptions struct {
	Name            domain.RoomName
	Tracks          []LocalTrack
	DominantSpeaker bool
}

// MediaNetwork is the external real-time media SDK entry point.
type MediaNetwork interface {
	Connect(ctx context.Context, token string, opts ConnectOptions) (Room, error)
}

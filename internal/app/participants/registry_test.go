package participants

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/sdktest"
)

func newRegistry() (*Registry, *sdktest.Sink) {
	sink := sdktest.NewSink()
	return New(sink, WithLogger(zerolog.Nop())), sink
}

func TestLateJoinerSeesExistingTracks(t *testing.T) {
	r, sink := newRegistry()

	alice := sdktest.NewParticipant("PA", "alice")
	cam := sdktest.NewPublication("TR_cam", domain.TrackVideo)
	cam.Subscribe(sdktest.NewRemoteTrack("TR_cam", domain.TrackVideo))
	alice.AddExisting(cam)

	bob := sdktest.NewParticipant("PB", "bob")
	mic := sdktest.NewPublication("TR_mic", domain.TrackAudio)
	bob.AddExisting(mic)

	r.Initialize([]core.RemoteParticipant{alice, bob})

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 1, sink.MountedFor("TR_cam"))
	assert.Zero(t, sink.MountedFor("TR_mic"), "unsubscribed publication is not attached")

	mic.Subscribe(sdktest.NewRemoteTrack("TR_mic", domain.TrackAudio))
	assert.Equal(t, 1, sink.MountedFor("TR_mic"))
	assert.Equal(t, 2, r.Attached())
}

func TestSubscribeTwiceAttachesOnce(t *testing.T) {
	r, sink := newRegistry()
	r.Initialize(nil)

	p := sdktest.NewParticipant("PA", "alice")
	r.Add(p)
	pub := sdktest.NewPublication("TR1", domain.TrackVideo)
	p.Publish(pub)

	track := sdktest.NewRemoteTrack("TR1", domain.TrackVideo)
	pub.Subscribe(track)
	pub.Subscribe(track)

	assert.Equal(t, 1, sink.MountedFor("TR1"))
	assert.Equal(t, 1, track.Elements())

	view, ok := r.Publication("PA", "TR1")
	require.True(t, ok)
	assert.Equal(t, domain.Subscribed, view.Subscription)
	assert.True(t, view.Attached)
}

func TestUnsubscribeDetaches(t *testing.T) {
	r, sink := newRegistry()
	r.Initialize(nil)

	p := sdktest.NewParticipant("PA", "alice")
	r.Add(p)
	pub := sdktest.NewPublication("TR1", domain.TrackAudio)
	p.Publish(pub)
	track := sdktest.NewRemoteTrack("TR1", domain.TrackAudio)
	pub.Subscribe(track)
	require.Equal(t, 1, sink.Mounted())

	pub.Unsubscribe(nil)
	pub.Unsubscribe(track)
	assert.Zero(t, sink.Mounted())
	assert.Zero(t, track.Elements())

	view, ok := r.Publication("PA", "TR1")
	require.True(t, ok)
	assert.Equal(t, domain.Unsubscribed, view.Subscription)
	assert.False(t, view.Attached)

	pub.Subscribe(track)
	assert.Equal(t, 1, sink.Mounted(), "resubscribe attaches again")
}

func TestDataTrackIsNeverAttached(t *testing.T) {
	r, sink := newRegistry()
	r.Initialize(nil)

	p := sdktest.NewParticipant("PA", "alice")
	r.Add(p)
	pub := sdktest.NewPublication("TR_data", domain.TrackData)
	p.Publish(pub)
	pub.Subscribe(sdktest.NewDataTrack("TR_data"))

	assert.Zero(t, sink.Mounts())
	view, ok := r.Publication("PA", "TR_data")
	require.True(t, ok)
	assert.Equal(t, domain.Subscribed, view.Subscription)
	assert.False(t, view.Attached)
}

func TestUnpublishDetachesAndForgets(t *testing.T) {
	r, sink := newRegistry()
	r.Initialize(nil)

	p := sdktest.NewParticipant("PA", "alice")
	r.Add(p)
	pub := sdktest.NewPublication("TR1", domain.TrackVideo)
	p.Publish(pub)
	pub.Subscribe(sdktest.NewRemoteTrack("TR1", domain.TrackVideo))

	p.Unpublish(pub)
	assert.Zero(t, sink.Mounted())
	_, ok := r.Publication("PA", "TR1")
	assert.False(t, ok)
	assert.Zero(t, pub.Handlers())
}

func TestRemoveParticipantWithoutTracks(t *testing.T) {
	r, _ := newRegistry()
	p := sdktest.NewParticipant("PA", "alice")
	r.Initialize([]core.RemoteParticipant{p})

	var changes []Change
	r.OnChange(func(c Change) { changes = append(changes, c) })

	assert.NotPanics(t, func() { r.Remove(p) })
	assert.True(t, r.IsAlone())
	assert.Zero(t, p.Handlers())
	assert.Equal(t, []Change{{Kind: ParticipantRemoved, Participant: "PA"}}, changes)

	assert.NotPanics(t, func() { r.Remove(p) }, "second remove is ignored")
}

func TestRemoveDetachesEverything(t *testing.T) {
	r, sink := newRegistry()
	r.Initialize(nil)

	p := sdktest.NewParticipant("PA", "alice")
	r.Add(p)
	for _, id := range []domain.TrackID{"TR_a", "TR_v"} {
		kind := domain.TrackAudio
		if id == "TR_v" {
			kind = domain.TrackVideo
		}
		pub := sdktest.NewPublication(id, kind)
		p.Publish(pub)
		pub.Subscribe(sdktest.NewRemoteTrack(id, kind))
	}
	require.Equal(t, 2, sink.Mounted())

	r.Remove(p)
	assert.Zero(t, sink.Mounted())
	assert.False(t, r.Has("PA"))
}

func TestLateCallbackAfterRemoveIsIgnored(t *testing.T) {
	r, sink := newRegistry()
	r.Initialize(nil)

	p := sdktest.NewParticipant("PA", "alice")
	r.Add(p)
	pub := sdktest.NewPublication("TR1", domain.TrackVideo)
	p.Publish(pub)
	r.Remove(p)

	pub.Subscribe(sdktest.NewRemoteTrack("TR1", domain.TrackVideo))
	p.Publish(sdktest.NewPublication("TR2", domain.TrackAudio))
	assert.Zero(t, sink.Mounts())
	assert.False(t, r.Has("PA"))
}

func TestToggleTouchesIndicatorOnly(t *testing.T) {
	r, sink := newRegistry()
	r.Initialize(nil)

	p := sdktest.NewParticipant("PA", "alice")
	r.Add(p)
	pub := sdktest.NewPublication("TR1", domain.TrackVideo)
	p.Publish(pub)
	track := sdktest.NewRemoteTrack("TR1", domain.TrackVideo)
	pub.Subscribe(track)

	var toggles int
	r.OnChange(func(c Change) {
		if c.Kind == TrackToggled {
			toggles++
		}
	})

	track.SetEnabled(false)
	view, _ := r.Publication("PA", "TR1")
	assert.False(t, view.Enabled)
	assert.True(t, view.Attached)
	assert.Equal(t, 1, sink.Mounts())

	track.SetEnabled(false)
	track.SetEnabled(true)
	view, _ = r.Publication("PA", "TR1")
	assert.True(t, view.Enabled)
	assert.Equal(t, 2, toggles)
}

func TestLoudest(t *testing.T) {
	r, sink := newRegistry()
	a := sdktest.NewParticipant("PA", "alice")
	b := sdktest.NewParticipant("PB", "bob")
	r.Initialize([]core.RemoteParticipant{a, b})

	r.Loudest(a)
	id, ok := r.LoudestID()
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantID("PA"), id)

	r.Loudest(sdktest.NewParticipant("PX", "stranger"))
	_, ok = r.LoudestID()
	assert.False(t, ok, "unknown participant clears the speaker")

	r.Loudest(b)
	r.Remove(b)
	_, ok = r.LoudestID()
	assert.False(t, ok, "removed participant is no longer loudest")

	r.Loudest(a)
	r.Loudest(nil)
	_, ok = r.LoudestID()
	assert.False(t, ok)
	assert.Zero(t, sink.Mounts())
}

func TestClearDeactivates(t *testing.T) {
	r, sink := newRegistry()
	p := sdktest.NewParticipant("PA", "alice")
	pub := sdktest.NewPublication("TR1", domain.TrackVideo)
	pub.Subscribe(sdktest.NewRemoteTrack("TR1", domain.TrackVideo))
	p.AddExisting(pub)
	r.Initialize([]core.RemoteParticipant{p})
	require.Equal(t, 1, sink.Mounted())

	r.Clear()
	assert.Zero(t, sink.Mounted())
	assert.True(t, r.IsAlone())
	assert.Zero(t, p.Handlers())
	assert.Zero(t, pub.Handlers())

	r.Add(sdktest.NewParticipant("PB", "bob"))
	assert.True(t, r.IsAlone(), "add after clear is ignored")

	r.Clear()
}

func TestSnapshot(t *testing.T) {
	r, _ := newRegistry()
	a := sdktest.NewParticipant("PA", "alice")
	a.AddExisting(sdktest.NewPublication("TR1", domain.TrackAudio))
	r.Initialize([]core.RemoteParticipant{a})
	r.Loudest(a)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "alice", snap[0].Identity)
	assert.True(t, snap[0].Loudest)
	require.Len(t, snap[0].Tracks, 1)
	assert.Equal(t, domain.TrackID("TR1"), snap[0].Tracks[0].TrackID)
}

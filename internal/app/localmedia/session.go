// Package localmedia owns the local capture tracks: at most one audio and one
// video track at a time, and the preview render surface of the video track.
package localmedia

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

// Selector picks one capture device; the other kind keeps its last explicit choice.
type Selector struct {
	Kind     domain.DeviceKind
	DeviceID string
}

type Tracks struct {
	Video core.LocalTrack
	Audio core.LocalTrack
}

// List returns the non-nil tracks, video first.
func (t Tracks) List() []core.LocalTrack {
	out := make([]core.LocalTrack, 0, 2)
	if t.Video != nil {
		out = append(out, t.Video)
	}
	if t.Audio != nil {
		out = append(out, t.Audio)
	}
	return out
}

// Toggle is emitted when a local track is enabled or disabled.
type Toggle struct {
	Kind    domain.TrackKind
	Enabled bool
}

type Session struct {
	factory core.TrackFactory
	sink    core.RenderSink
	logger  zerolog.Logger

	op sync.Mutex // serializes Initialize

	mu       sync.Mutex
	video    core.LocalTrack
	audio    core.LocalTrack
	preview  bool
	selected map[domain.DeviceKind]string

	toggles events.Emitter[Toggle]
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func New(factory core.TrackFactory, sink core.RenderSink, opts ...Option) *Session {
	s := &Session{
		factory:  factory,
		sink:     sink,
		logger:   log.With().Str("module", "app.localmedia").Logger(),
		selected: make(map[domain.DeviceKind]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize replaces the local tracks with new ones opened on sel, or on the
// platform defaults when sel is nil. On failure no track is retained.
func (s *Session) Initialize(ctx context.Context, sel *Selector) (Tracks, error) {
	s.op.Lock()
	defer s.op.Unlock()

	s.teardown()

	s.mu.Lock()
	c := s.constraintsLocked(sel)
	s.mu.Unlock()

	created, err := s.factory.CreateLocalTracks(ctx, c)
	if err != nil {
		for _, t := range created {
			t.Stop()
		}
		aerr := acquisitionError(err, sel)
		s.logger.Error().Err(aerr).Msg("create local tracks")
		return Tracks{}, aerr
	}

	var out Tracks
	for _, t := range created {
		switch {
		case t.Kind() == domain.TrackVideo && out.Video == nil:
			out.Video = t
		case t.Kind() == domain.TrackAudio && out.Audio == nil:
			out.Audio = t
		default:
			// surplus or unknown kind: keep at most one per kind
			t.Stop()
		}
	}

	s.mu.Lock()
	s.video, s.audio = out.Video, out.Audio
	if sel != nil && sel.DeviceID != "" {
		s.selected[sel.Kind] = sel.DeviceID
	}
	if out.Video != nil {
		s.sink.Mount(out.Video.ID(), out.Video.Attach())
		s.preview = true
	}
	s.mu.Unlock()

	ev := s.logger.Info()
	if out.Video != nil {
		ev = ev.Str("video_device", out.Video.DeviceID())
	}
	if out.Audio != nil {
		ev = ev.Str("audio_device", out.Audio.DeviceID())
	}
	ev.Msg("local tracks initialized")
	return out, nil
}

func (s *Session) constraintsLocked(sel *Selector) core.Constraints {
	audio := &core.TrackConstraint{DeviceID: s.selected[domain.AudioInput]}
	video := &core.TrackConstraint{DeviceID: s.selected[domain.VideoInput]}
	if sel != nil {
		switch sel.Kind {
		case domain.AudioInput:
			audio.DeviceID = sel.DeviceID
		case domain.VideoInput:
			video.DeviceID = sel.DeviceID
		}
	}
	return core.Constraints{Audio: audio, Video: video}
}

func acquisitionError(err error, sel *Selector) error {
	var dae *core.DeviceAcquisitionError
	if errors.As(err, &dae) {
		return dae
	}
	out := &core.DeviceAcquisitionError{Reason: core.ReasonFor(err), Err: err}
	if sel != nil {
		out.Kind, out.DeviceID = sel.Kind, sel.DeviceID
	}
	return out
}

// Finalize detaches the video track from the preview surface. It is a no-op
// without a track or when the preview is already detached.
func (s *Session) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeLocked()
}

func (s *Session) finalizeLocked() {
	if s.video == nil || !s.preview {
		return
	}
	for _, h := range s.video.Detach() {
		s.sink.Unmount(h)
	}
	s.preview = false
	s.logger.Debug().Str("track", string(s.video.ID())).Msg("preview detached")
}

// Reattach mounts the current video track on the preview surface again after
// a Finalize. It is a no-op without a track or when the preview is attached.
func (s *Session) Reattach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil || s.preview {
		return
	}
	s.sink.Mount(s.video.ID(), s.video.Attach())
	s.preview = true
	s.logger.Debug().Str("track", string(s.video.ID())).Msg("preview reattached")
}

// teardown finalizes and stops both tracks.
func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeLocked()
	for _, t := range []core.LocalTrack{s.video, s.audio} {
		if t != nil {
			t.Stop()
		}
	}
	s.video, s.audio = nil, nil
}

// Close releases every local track.
func (s *Session) Close() {
	s.op.Lock()
	defer s.op.Unlock()
	s.teardown()
}

// Enable turns the track of kind on without recreating it. Published tracks
// are the same objects, so the change reaches an active room.
func (s *Session) Enable(kind domain.TrackKind) error {
	return s.toggle(kind, true)
}

func (s *Session) Disable(kind domain.TrackKind) error {
	return s.toggle(kind, false)
}

func (s *Session) toggle(kind domain.TrackKind, on bool) error {
	t := s.Track(kind)
	if t == nil {
		return core.ErrNoLocalTrack
	}
	if on {
		t.Enable()
	} else {
		t.Disable()
	}
	s.toggles.Emit(Toggle{Kind: kind, Enabled: on})
	return nil
}

// OnToggle registers fn for enable/disable changes.
func (s *Session) OnToggle(fn func(Toggle)) func() {
	return s.toggles.On(fn)
}

func (s *Session) Track(kind domain.TrackKind) core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case domain.TrackVideo:
		return s.video
	case domain.TrackAudio:
		return s.audio
	}
	return nil
}

func (s *Session) Tracks() Tracks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Tracks{Video: s.video, Audio: s.audio}
}

// Selected returns the explicitly chosen device of kind, if any.
func (s *Session) Selected(kind domain.DeviceKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected[kind]
}

func (s *Session) PreviewAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// Package rtc builds local capture tracks on pion/webrtc static-sample tracks.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

var ErrTrackStopped = errors.New("track stopped")

var (
	VideoCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	AudioCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
)

// DeviceLister is the device source the factory opens from.
type DeviceLister interface {
	EnumerateDevices(ctx context.Context) ([]domain.Device, error)
}

type TrackState int32

const (
	TrackEnabled TrackState = iota
	TrackMuted
	TrackStopped
)

// Factory opens at most one track per physical device.
type Factory struct {
	devices  DeviceLister
	streamID string
	logger   zerolog.Logger

	mu   sync.Mutex
	open map[string]*Track
}

type Option func(*Factory)

func WithLogger(l zerolog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithStreamID groups the tracks under one media stream id.
func WithStreamID(id string) Option {
	return func(f *Factory) { f.streamID = id }
}

func NewFactory(devices DeviceLister, opts ...Option) *Factory {
	f := &Factory{
		devices:  devices,
		streamID: uuid.NewString(),
		logger:   log.With().Str("module", "adapters.rtc").Logger(),
		open:     make(map[string]*Track),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLocalTracks opens one track per requested kind. If any device fails
// the tracks opened so far are stopped before returning.
func (f *Factory) CreateLocalTracks(ctx context.Context, c core.Constraints) ([]core.LocalTrack, error) {
	list, err := f.devices.EnumerateDevices(ctx)
	if err != nil {
		return nil, &core.DeviceAcquisitionError{Err: fmt.Errorf("enumerate: %w", err)}
	}

	type request struct {
		kind domain.DeviceKind
		con  *core.TrackConstraint
	}
	var out []core.LocalTrack
	for _, req := range []request{{domain.VideoInput, c.Video}, {domain.AudioInput, c.Audio}} {
		if req.con == nil {
			continue
		}
		t, err := f.openTrack(list, req.kind, req.con.DeviceID)
		if err != nil {
			for _, done := range out {
				done.Stop()
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *Factory) openTrack(list []domain.Device, kind domain.DeviceKind, id string) (*Track, error) {
	dev, ok := pick(list, kind, id)
	if !ok {
		return nil, &core.DeviceAcquisitionError{
			Kind: kind, DeviceID: id, Reason: core.ReasonNotFound, Err: core.ErrDeviceNotFound,
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.open[dev.ID]; busy {
		return nil, &core.DeviceAcquisitionError{
			Kind: kind, DeviceID: dev.ID, Reason: core.ReasonNotReadable, Err: core.ErrDeviceBusy,
		}
	}

	codec, tk := AudioCodec, domain.TrackAudio
	if kind == domain.VideoInput {
		codec, tk = VideoCodec, domain.TrackVideo
	}
	tid := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(codec, tid, f.streamID)
	if err != nil {
		return nil, &core.DeviceAcquisitionError{Kind: kind, DeviceID: dev.ID, Err: err}
	}
	t := &Track{local: local, kind: tk, deviceID: dev.ID, factory: f}
	f.open[dev.ID] = t
	f.logger.Info().Str("device", dev.ID).Str("kind", string(tk)).Str("track", tid).Msg("track opened")
	return t, nil
}

func pick(list []domain.Device, kind domain.DeviceKind, id string) (domain.Device, bool) {
	for _, d := range list {
		if d.Kind == kind && (id == "" || d.ID == id) {
			return d, true
		}
	}
	return domain.Device{}, false
}

func (f *Factory) release(t *Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open[t.deviceID] == t {
		delete(f.open, t.deviceID)
		f.logger.Info().Str("device", t.deviceID).Msg("track released")
	}
}

// Open returns the number of devices currently held.
func (f *Factory) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

// Element is the render handle of a local track.
type Element struct {
	Track domain.TrackID
	Seq   int
}

// Track is a local capture track. Samples written while it is muted are dropped.
type Track struct {
	local    *webrtc.TrackLocalStaticSample
	kind     domain.TrackKind
	deviceID string
	factory  *Factory

	state   atomic.Int32
	written atomic.Int64
	dropped atomic.Int64

	mu       sync.Mutex
	seq      int
	elements []core.RenderHandle
}

func (t *Track) ID() domain.TrackID     { return domain.TrackID(t.local.ID()) }
func (t *Track) Kind() domain.TrackKind { return t.kind }
func (t *Track) DeviceID() string       { return t.deviceID }

// Local is the pion track to add to a peer connection.
func (t *Track) Local() *webrtc.TrackLocalStaticSample { return t.local }

func (t *Track) State() TrackState { return TrackState(t.state.Load()) }
func (t *Track) IsEnabled() bool   { return t.State() == TrackEnabled }

func (t *Track) Enable()  { t.state.CompareAndSwap(int32(TrackMuted), int32(TrackEnabled)) }
func (t *Track) Disable() { t.state.CompareAndSwap(int32(TrackEnabled), int32(TrackMuted)) }

// Stop releases the device. It is idempotent.
func (t *Track) Stop() {
	if TrackState(t.state.Swap(int32(TrackStopped))) == TrackStopped {
		return
	}
	t.factory.release(t)
}

// WriteSample hands a captured sample to the track unless it is muted.
func (t *Track) WriteSample(s media.Sample) error {
	switch t.State() {
	case TrackStopped:
		return ErrTrackStopped
	case TrackMuted:
		t.dropped.Add(1)
		return nil
	}
	if err := t.local.WriteSample(s); err != nil {
		return err
	}
	t.written.Add(1)
	return nil
}

// Samples returns how many samples were written and dropped.
func (t *Track) Samples() (written, dropped int64) {
	return t.written.Load(), t.dropped.Load()
}

func (t *Track) Attach() core.RenderHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	h := &Element{Track: t.ID(), Seq: t.seq}
	t.elements = append(t.elements, h)
	return h
}

func (t *Track) Detach() []core.RenderHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.elements
	t.elements = nil
	return out
}

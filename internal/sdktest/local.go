package sdktest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

type LocalTrack struct {
	renderer
	kind     domain.TrackKind
	deviceID string

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func NewLocalTrack(id domain.TrackID, kind domain.TrackKind, deviceID string) *LocalTrack {
	t := &LocalTrack{kind: kind, deviceID: deviceID, enabled: true}
	t.renderer.id = id
	return t
}

func (t *LocalTrack) ID() domain.TrackID     { return t.renderer.id }
func (t *LocalTrack) Kind() domain.TrackKind { return t.kind }
func (t *LocalTrack) DeviceID() string       { return t.deviceID }

func (t *LocalTrack) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *LocalTrack) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
}

func (t *LocalTrack) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

func (t *LocalTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *LocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Factory hands out LocalTracks and enforces one open per physical device.
type Factory struct {
	mu sync.Mutex
	// Missing device ids fail with NotFoundError.
	Missing map[string]bool
	// Err, when set, fails the next call after the video track was opened,
	// so callers see a partial acquisition.
	Err error
	// Defaults per kind when the constraint carries no device id.
	DefaultAudio string
	DefaultVideo string

	seq     int
	created []*LocalTrack
	calls   []core.Constraints
}

func NewFactory() *Factory {
	return &Factory{
		Missing:      make(map[string]bool),
		DefaultAudio: "default-mic",
		DefaultVideo: "default-cam",
	}
}

func (f *Factory) CreateLocalTracks(ctx context.Context, c core.Constraints) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)

	var out []core.LocalTrack
	open := func(kind domain.TrackKind, dk domain.DeviceKind, tc *core.TrackConstraint, def string) error {
		if tc == nil {
			return nil
		}
		id := tc.DeviceID
		if id == "" {
			id = def
		}
		if f.Missing[id] {
			return &core.DeviceAcquisitionError{Kind: dk, DeviceID: id, Reason: core.ReasonNotFound, Err: core.ErrDeviceNotFound}
		}
		if f.openLocked(id) {
			return &core.DeviceAcquisitionError{Kind: dk, DeviceID: id, Reason: core.ReasonNotReadable, Err: core.ErrDeviceBusy}
		}
		f.seq++
		t := NewLocalTrack(domain.TrackID(fmt.Sprintf("local-%s-%d", kind, f.seq)), kind, id)
		f.created = append(f.created, t)
		out = append(out, t)
		return nil
	}

	if err := open(domain.TrackVideo, domain.VideoInput, c.Video, f.DefaultVideo); err != nil {
		return out, err
	}
	if f.Err != nil {
		err := f.Err
		f.Err = nil
		return out, err
	}
	if err := open(domain.TrackAudio, domain.AudioInput, c.Audio, f.DefaultAudio); err != nil {
		return out, err
	}
	return out, nil
}

func (f *Factory) openLocked(deviceID string) bool {
	for _, t := range f.created {
		if t.deviceID == deviceID && !t.Stopped() {
			return true
		}
	}
	return false
}

// Live counts created tracks of kind that were not stopped.
func (f *Factory) Live(kind domain.TrackKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.created {
		if t.kind == kind && !t.Stopped() {
			n++
		}
	}
	return n
}

// Calls returns the constraints of every CreateLocalTracks call.
func (f *Factory) Calls() []core.Constraints {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Constraints, len(f.calls))
	copy(out, f.calls)
	return out
}

// Package devices publishes the host's capture and playback devices.
//
// Lists are only published once media permission is granted, since platforms
// withhold labels until then. A registry on a host without media devices never
// publishes: "no list yet" means unknown, not empty.
package devices

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

type Registry struct {
	platform core.DevicePlatform
	logger   zerolog.Logger

	mu      sync.RWMutex
	devices []domain.Device
	known   bool
	granted bool

	lists *events.Replay[[]domain.Device]
}

type Option func(*Registry)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func New(platform core.DevicePlatform, opts ...Option) *Registry {
	r := &Registry{
		platform: platform,
		logger:   log.With().Str("module", "app.devices").Logger(),
		lists:    events.NewReplay[[]domain.Device](1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnDevices subscribes to device lists. The last published list is replayed first.
func (r *Registry) OnDevices(fn func([]domain.Device)) func() {
	return r.lists.Subscribe(fn)
}

// Devices returns the last published list grouped by kind. ok is false until
// the first list was published.
func (r *Registry) Devices() ([]domain.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.known {
		return nil, false
	}
	out := make([]domain.Device, len(r.devices))
	copy(out, r.devices)
	return out, true
}

func (r *Registry) Granted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.granted
}

// Run follows platform events until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	if !r.platform.Supported() {
		r.logger.Warn().Msg("no media-device capability, device list stays unknown")
		<-ctx.Done()
		return ctx.Err()
	}

	evs, err := r.platform.Watch(ctx)
	if err != nil {
		return err
	}

	if r.checkPermission(ctx) {
		r.publish(ctx, true)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-evs:
			if !ok {
				r.logger.Warn().Msg("device watch closed")
				<-ctx.Done()
				return ctx.Err()
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Registry) handle(ctx context.Context, ev core.PlatformEvent) {
	switch ev.Kind {
	case core.PermissionChanged:
		was := r.setGranted(ev.Permission == domain.PermissionGranted)
		r.logger.Info().Str("permission", string(ev.Permission)).Msg("media permission changed")
		if !was && ev.Permission == domain.PermissionGranted {
			r.publish(ctx, true)
		}
	case core.DevicesChanged:
		granted := r.Granted()
		// some platforms never report permission changes, so ask again
		if !granted && !r.checkPermission(ctx) {
			r.logger.Debug().Msg("device change deferred until permission is granted")
			return
		}
		r.publish(ctx, !granted)
	}
}

// checkPermission queries the platform; a platform that cannot answer counts as granted.
func (r *Registry) checkPermission(ctx context.Context) bool {
	state, err := r.platform.QueryPermission(ctx)
	switch {
	case errors.Is(err, core.ErrPermissionQueryUnsupported):
		state = domain.PermissionGranted
	case err != nil:
		r.logger.Warn().Err(err).Msg("query media permission")
		return false
	}
	r.setGranted(state == domain.PermissionGranted)
	return state == domain.PermissionGranted
}

func (r *Registry) setGranted(on bool) (was bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	was, r.granted = r.granted, on
	return was
}

// publish enumerates and emits. Labels can be missing on the first
// enumeration after a grant, so that one is retried once.
func (r *Registry) publish(ctx context.Context, afterGrant bool) {
	list, err := r.platform.EnumerateDevices(ctx)
	if afterGrant && err == nil && len(list) > 0 && domain.Unlabeled(list) {
		r.logger.Debug().Int("devices", len(list)).Msg("devices unlabeled, enumerating again")
		list, err = r.platform.EnumerateDevices(ctx)
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("enumerate devices")
		return
	}

	list = domain.GroupDevices(list)
	r.mu.Lock()
	r.devices = list
	r.known = true
	r.mu.Unlock()

	r.logger.Info().
		Int("audio_inputs", len(domain.OfKind(list, domain.AudioInput))).
		Int("audio_outputs", len(domain.OfKind(list, domain.AudioOutput))).
		Int("video_inputs", len(domain.OfKind(list, domain.VideoInput))).
		Msg("device list updated")

	out := make([]domain.Device, len(list))
	copy(out, list)
	r.lists.Publish(out)
}

package orch

import (
	"context"

	"github.com/dkeye/roomsync/internal/app/localmedia"
	"github.com/dkeye/roomsync/internal/app/session"
	"github.com/dkeye/roomsync/internal/domain"
)

// Preview swaps the local tracks onto sel, or onto the selected devices when
// sel is nil. It waits for a join in flight. While joined, the room is joined
// again so the new tracks are the published ones.
func (o *Orchestrator) Preview(ctx context.Context, sel *localmedia.Selector) (localmedia.Tracks, error) {
	o.setup()
	o.swap.Lock()
	defer o.swap.Unlock()
	return o.previewLocked(ctx, sel)
}

func (o *Orchestrator) previewLocked(ctx context.Context, sel *localmedia.Selector) (localmedia.Tracks, error) {
	o.media.Lock()
	o.Media.Finalize()
	tracks, err := o.Media.Initialize(ctx, sel)
	o.media.Unlock()
	if err != nil {
		return localmedia.Tracks{}, err
	}

	room := o.Session.Room()
	if room == nil || o.Session.State() != session.Joined {
		return tracks, nil
	}
	o.logger.Info().Str("room", string(room.Name())).Msg("republishing after device swap")
	if _, err := o.join(ctx, room.Name(), tracks); err != nil {
		return tracks, err
	}
	return tracks, nil
}

func (o *Orchestrator) onDevices(list []domain.Device) {
	o.debounced(func() { o.revalidate(list) })
}

// revalidate moves the video track to the first camera left when the device
// it was opened on is gone.
func (o *Orchestrator) revalidate(list []domain.Device) {
	ctx := o.runCtx()
	if ctx.Err() != nil || len(list) == 0 {
		return
	}

	o.swap.Lock()
	defer o.swap.Unlock()

	current := o.Media.Selected(domain.VideoInput)
	if t := o.Media.Track(domain.TrackVideo); t != nil {
		current = t.DeviceID()
	}
	if current == "" || hasDevice(list, domain.VideoInput, current) {
		return
	}

	next, ok := firstOf(list, domain.VideoInput)
	if !ok {
		o.logger.Warn().Str("device", current).Msg("camera gone, none left")
		return
	}
	o.Metrics.DeviceSwaps.Inc()
	o.logger.Info().Str("from", current).Str("to", next.ID).Msg("camera gone, switching")
	sel := &localmedia.Selector{Kind: domain.VideoInput, DeviceID: next.ID}
	if _, err := o.previewLocked(ctx, sel); err != nil {
		o.logger.Error().Err(err).Str("device", next.ID).Msg("device swap")
	}
}

func hasDevice(list []domain.Device, kind domain.DeviceKind, id string) bool {
	for _, d := range list {
		if d.Kind == kind && d.ID == id {
			return true
		}
	}
	return false
}

func firstOf(list []domain.Device, kind domain.DeviceKind) (domain.Device, bool) {
	for _, d := range list {
		if d.Kind == kind {
			return d, true
		}
	}
	return domain.Device{}, false
}

package orch

import (
	"context"
	"errors"

	"github.com/dkeye/roomsync/internal/app/localmedia"
	"github.com/dkeye/roomsync/internal/app/notify"
	"github.com/dkeye/roomsync/internal/app/session"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

// JoinRoom joins the room called raw with the current local tracks, opening
// them on the selected devices first if there are none. Concurrent calls
// supersede each other; device swaps wait for them.
func (o *Orchestrator) JoinRoom(ctx context.Context, raw string) (core.Room, error) {
	o.setup()
	name, err := domain.NewRoomName(raw)
	if err != nil {
		return nil, err
	}

	o.swap.RLock()
	defer o.swap.RUnlock()

	tracks, err := o.prepareTracks(ctx)
	if err != nil {
		o.Metrics.Joins.WithLabelValues("device_error").Inc()
		return nil, err
	}
	return o.join(ctx, name, tracks)
}

func (o *Orchestrator) join(ctx context.Context, name domain.RoomName, tracks localmedia.Tracks) (core.Room, error) {
	room, err := o.Session.Join(ctx, name, tracks.List())
	// leaving the previous room detached the preview of tracks still in use
	o.media.Lock()
	o.Media.Reattach()
	o.media.Unlock()
	switch {
	case errors.Is(err, core.ErrJoinSuperseded):
		o.Metrics.Joins.WithLabelValues("superseded").Inc()
		return nil, err
	case err != nil:
		o.Metrics.Joins.WithLabelValues("failed").Inc()
		return nil, err
	}
	o.Metrics.Joins.WithLabelValues("ok").Inc()
	o.enqueue(job{kind: jobRefreshRoom, room: room.SID()})
	return room, nil
}

func (o *Orchestrator) prepareTracks(ctx context.Context) (localmedia.Tracks, error) {
	o.media.Lock()
	defer o.media.Unlock()
	if t := o.Media.Tracks(); t.Video != nil || t.Audio != nil {
		return t, nil
	}
	return o.Media.Initialize(ctx, nil)
}

// Leave leaves the joined room, or cancels a join in flight, and then brings
// the local preview back on the selected devices.
func (o *Orchestrator) Leave(ctx context.Context) error {
	o.setup()
	if o.Session.State() == session.Idle {
		return nil
	}
	if err := o.Session.Leave(ctx); err != nil {
		return err
	}
	_, err := o.Preview(ctx, nil)
	return err
}

// onRoomsUpdated refreshes the named room, or every room when none is named.
func (o *Orchestrator) onRoomsUpdated(m notify.RoomsUpdated) {
	if !m.Changed {
		return
	}
	if m.Room == "" {
		o.enqueue(job{kind: jobRefreshAll})
		return
	}
	o.enqueue(job{kind: jobRefreshRoom, room: m.Room})
}

func (o *Orchestrator) onRoomUpdated(m notify.RoomUpdated) {
	if !m.Changed {
		return
	}
	o.enqueue(job{kind: jobRefreshRoom, room: m.Room})
}

// onConnection refreshes everything after a reconnect, since updates sent
// during the outage were lost.
func (o *Orchestrator) onConnection(up bool) {
	if !up {
		o.logger.Warn().Msg("notification channel lost")
		return
	}
	o.mu.Lock()
	again := o.connected
	o.connected = true
	o.mu.Unlock()
	if !again {
		return
	}
	o.Metrics.Reconnects.Inc()
	o.enqueue(job{kind: jobRefreshAll})
}

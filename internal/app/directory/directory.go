// Package directory keeps the client-side projection of the room directory.
// The projection is refreshed on demand; it is never a live view of a room.
package directory

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

type ChangeKind int

const (
	// Replaced follows a full refresh; Rooms holds the new list.
	Replaced ChangeKind = iota
	// Updated follows a targeted refresh that found the room.
	Updated
	// Removed follows a targeted refresh that found nothing.
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Replaced:
		return "replaced"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

type Change struct {
	Kind  ChangeKind
	Room  domain.RoomSummary
	Rooms []domain.RoomSummary
}

type Directory struct {
	svc    core.DirectoryService
	logger zerolog.Logger
	group  singleflight.Group

	// requested counts refresh requests per key; a fetch answers every
	// request taken before it started.
	fmu       sync.Mutex
	requested map[string]uint64

	mu    sync.RWMutex
	order []domain.RoomSID
	rooms map[domain.RoomSID]domain.RoomSummary
	// issued numbers fetches as they start. A result older than the one
	// last applied to a room, or than the last full list, is dropped.
	issued    uint64
	listStamp uint64
	stamps    map[domain.RoomSID]uint64

	changes *events.Replay[Change]
}

type Option func(*Directory)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// WithReplayDepth sets how many changes a late subscriber is handed.
func WithReplayDepth(n int) Option {
	return func(d *Directory) { d.changes = events.NewReplay[Change](n) }
}

func New(svc core.DirectoryService, opts ...Option) *Directory {
	d := &Directory{
		svc:       svc,
		logger:    log.With().Str("module", "app.directory").Logger(),
		requested: make(map[string]uint64),
		rooms:     make(map[domain.RoomSID]domain.RoomSummary),
		stamps:    make(map[domain.RoomSID]uint64),
		changes:   events.NewReplay[Change](1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnChange subscribes to projection changes, replaying the retained ones first.
func (d *Directory) OnChange(fn func(Change)) func() {
	return d.changes.Subscribe(fn)
}

func (d *Directory) request(key string) uint64 {
	d.fmu.Lock()
	defer d.fmu.Unlock()
	d.requested[key]++
	return d.requested[key]
}

func (d *Directory) wanted(key string) uint64 {
	d.fmu.Lock()
	defer d.fmu.Unlock()
	return d.requested[key]
}

func (d *Directory) issue() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.issued++
	return d.issued
}

// do coalesces concurrent fetches of the same key. A request made while a
// fetch is running gets exactly one more fetch after it, never the answer of
// the running one. The shared fetch is not cancelled when one caller gives up.
func (d *Directory) do(ctx context.Context, key string, fetch func(ctx context.Context) error) (bool, error) {
	mine := d.request(key)
	shared := context.WithoutCancel(ctx)
	for {
		ch := d.group.DoChan(key, func() (any, error) {
			for {
				want := d.wanted(key)
				if err := fetch(shared); err != nil {
					return nil, err
				}
				if d.wanted(key) == want {
					return want, nil
				}
			}
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return res.Shared, res.Err
			}
			if answered, _ := res.Val.(uint64); answered >= mine {
				return res.Shared, nil
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Refresh replaces the whole projection with the service's list.
// On error the projection is left as it was.
func (d *Directory) Refresh(ctx context.Context) ([]domain.RoomSummary, error) {
	shared, err := d.do(ctx, "*", func(ctx context.Context) error {
		issue := d.issue()
		rooms, err := d.svc.ListRooms(ctx)
		if err != nil {
			return err
		}
		if d.replace(rooms, issue) {
			d.changes.Publish(Change{Kind: Replaced, Rooms: d.Snapshot()})
		}
		return nil
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("refresh directory")
		return nil, err
	}
	rooms := d.Snapshot()
	d.logger.Debug().Int("rooms", len(rooms)).Bool("shared", shared).Msg("directory refreshed")
	return rooms, nil
}

// replace installs a full list fetched as issue. Rooms refreshed on their
// own after issue started keep their newer entry.
func (d *Directory) replace(rooms []domain.RoomSummary, issue uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if issue < d.listStamp {
		return false
	}
	d.listStamp = issue

	order := make([]domain.RoomSID, 0, len(rooms))
	next := make(map[domain.RoomSID]domain.RoomSummary, len(rooms))
	for _, r := range rooms {
		if d.stamps[r.ID] > issue {
			cur, ok := d.rooms[r.ID]
			if !ok {
				continue
			}
			r = cur
		}
		if _, dup := next[r.ID]; !dup {
			order = append(order, r.ID)
		}
		next[r.ID] = r
	}
	for _, id := range d.order {
		if _, listed := next[id]; listed || d.stamps[id] <= issue {
			continue
		}
		order = append(order, id)
		next[id] = d.rooms[id]
	}
	for id, stamp := range d.stamps {
		if stamp <= issue {
			delete(d.stamps, id)
		}
	}
	d.order, d.rooms = order, next
	return true
}

// RefreshRoom refreshes only sid. An empty answer removes the room from the
// projection; ok is false then.
func (d *Directory) RefreshRoom(ctx context.Context, sid domain.RoomSID) (room domain.RoomSummary, ok bool, err error) {
	_, err = d.do(ctx, "room:"+string(sid), func(ctx context.Context) error {
		issue := d.issue()
		rooms, err := d.svc.GetRoom(ctx, sid)
		if err != nil {
			return err
		}
		if change := d.apply(sid, rooms, issue); change != nil {
			d.changes.Publish(*change)
		}
		return nil
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("room", string(sid)).Msg("refresh room")
		return domain.RoomSummary{}, false, err
	}
	room, ok = d.Room(sid)
	return room, ok, nil
}

func (d *Directory) apply(sid domain.RoomSID, rooms []domain.RoomSummary, issue uint64) *Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	if issue < d.listStamp || issue < d.stamps[sid] {
		d.logger.Debug().Str("room", string(sid)).Uint64("issue", issue).Msg("stale room result dropped")
		return nil
	}
	d.stamps[sid] = issue

	for _, r := range rooms {
		if r.ID != sid {
			continue
		}
		if _, known := d.rooms[sid]; !known {
			d.order = append(d.order, sid)
		}
		d.rooms[sid] = r
		return &Change{Kind: Updated, Room: r}
	}

	old, known := d.rooms[sid]
	if !known {
		return nil
	}
	delete(d.rooms, sid)
	for i, id := range d.order {
		if id == sid {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
	return &Change{Kind: Removed, Room: old}
}

// Snapshot returns the projection in service order.
func (d *Directory) Snapshot() []domain.RoomSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.RoomSummary, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.rooms[id])
	}
	return out
}

func (d *Directory) Room(sid domain.RoomSID) (domain.RoomSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[sid]
	return r, ok
}

// Find looks a room up by its user-chosen name.
func (d *Directory) Find(name domain.RoomName) (domain.RoomSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		if r := d.rooms[id]; r.Name == name {
			return r, true
		}
	}
	return domain.RoomSummary{}, false
}

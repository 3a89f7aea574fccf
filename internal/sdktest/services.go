package sdktest

import (
	"context"
	"sync"

	"github.com/dkeye/roomsync/internal/domain"
)

type Tokens struct {
	mu    sync.Mutex
	Value string
	Err   error
	calls int
}

func (t *Tokens) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.Err != nil {
		return "", t.Err
	}
	if t.Value == "" {
		return "token", nil
	}
	return t.Value, nil
}

func (t *Tokens) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Directory is an in-memory room directory service.
type Directory struct {
	mu    sync.Mutex
	rooms []domain.RoomSummary
	Err   error

	lists int
	gets  map[domain.RoomSID]int
}

func NewDirectory(rooms ...domain.RoomSummary) *Directory {
	return &Directory{rooms: rooms, gets: make(map[domain.RoomSID]int)}
}

func (d *Directory) ListRooms(ctx context.Context) ([]domain.RoomSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lists++
	if d.Err != nil {
		return nil, d.Err
	}
	out := make([]domain.RoomSummary, len(d.rooms))
	copy(out, d.rooms)
	return out, nil
}

func (d *Directory) GetRoom(ctx context.Context, sid domain.RoomSID) ([]domain.RoomSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gets[sid]++
	if d.Err != nil {
		return nil, d.Err
	}
	for _, r := range d.rooms {
		if r.ID == sid {
			return []domain.RoomSummary{r}, nil
		}
	}
	return nil, nil
}

// Put inserts or replaces a room.
func (d *Directory) Put(room domain.RoomSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.rooms {
		if r.ID == room.ID {
			d.rooms[i] = room
			return
		}
	}
	d.rooms = append(d.rooms, room)
}

func (d *Directory) Delete(sid domain.RoomSID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.rooms {
		if r.ID == sid {
			d.rooms = append(d.rooms[:i:i], d.rooms[i+1:]...)
			return
		}
	}
}

func (d *Directory) Lists() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lists
}

func (d *Directory) Gets(sid domain.RoomSID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gets[sid]
}

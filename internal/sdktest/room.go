package sdktest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

type LocalParticipant struct {
	identity string
	tracks   []core.LocalTrack
}

func (lp *LocalParticipant) Identity() string          { return lp.identity }
func (lp *LocalParticipant) Tracks() []core.LocalTrack { return lp.tracks }

type Room struct {
	sid      domain.RoomSID
	name     domain.RoomName
	capacity int

	mu           sync.Mutex
	local        *LocalParticipant
	participants []core.RemoteParticipant
	disconnected bool

	onDisconnected    events.Emitter[error]
	onConnected       events.Emitter[core.RemoteParticipant]
	onParticipantLeft events.Emitter[core.RemoteParticipant]
	onDominant        events.Emitter[core.RemoteParticipant]
}

func NewRoom(sid domain.RoomSID, name domain.RoomName, capacity int) *Room {
	return &Room{sid: sid, name: name, capacity: capacity, local: &LocalParticipant{identity: "me"}}
}

func (r *Room) SID() domain.RoomSID   { return r.sid }
func (r *Room) Name() domain.RoomName { return r.name }
func (r *Room) MaxParticipants() int  { return r.capacity }

func (r *Room) LocalParticipant() core.LocalParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

func (r *Room) Participants() []core.RemoteParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.RemoteParticipant, len(r.participants))
	copy(out, r.participants)
	return out
}

// Disconnect fires disconnected once, the way SDK rooms do.
func (r *Room) Disconnect() {
	r.mu.Lock()
	if r.disconnected {
		r.mu.Unlock()
		return
	}
	r.disconnected = true
	r.mu.Unlock()
	r.onDisconnected.Emit(nil)
}

// Drop simulates the network ending the room.
func (r *Room) Drop(err error) {
	r.mu.Lock()
	r.disconnected = true
	r.mu.Unlock()
	r.onDisconnected.Emit(err)
}

func (r *Room) Disconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

func (r *Room) OnDisconnected(fn func(error)) func() { return r.onDisconnected.On(fn) }

func (r *Room) OnParticipantConnected(fn func(core.RemoteParticipant)) func() {
	return r.onConnected.On(fn)
}

func (r *Room) OnParticipantDisconnected(fn func(core.RemoteParticipant)) func() {
	return r.onParticipantLeft.On(fn)
}

func (r *Room) OnDominantSpeakerChanged(fn func(core.RemoteParticipant)) func() {
	return r.onDominant.On(fn)
}

// AddExisting seeds a participant that was in the room before the join.
func (r *Room) AddExisting(p core.RemoteParticipant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = append(r.participants, p)
}

// Connect adds p and fires participantConnected.
func (r *Room) Connect(p core.RemoteParticipant) {
	r.AddExisting(p)
	r.onConnected.Emit(p)
}

// Leave removes p and fires participantDisconnected.
func (r *Room) Leave(p core.RemoteParticipant) {
	r.mu.Lock()
	for i, x := range r.participants {
		if x.ID() == p.ID() {
			r.participants = append(r.participants[:i:i], r.participants[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.onParticipantLeft.Emit(p)
}

// FireParticipantLeft emits participantDisconnected without touching membership.
func (r *Room) FireParticipantLeft(p core.RemoteParticipant) { r.onParticipantLeft.Emit(p) }

// FireParticipantConnected emits participantConnected without touching membership.
func (r *Room) FireParticipantConnected(p core.RemoteParticipant) { r.onConnected.Emit(p) }

func (r *Room) SetDominant(p core.RemoteParticipant) { r.onDominant.Emit(p) }

// Handlers returns the number of room-level handlers still registered.
func (r *Room) Handlers() int {
	return r.onDisconnected.Len() + r.onConnected.Len() + r.onParticipantLeft.Len() + r.onDominant.Len()
}

// Network connects to fake rooms by name.
type Network struct {
	mu    sync.Mutex
	rooms map[domain.RoomName]*Room
	seq   int
	// Err fails every Connect.
	Err error
	// Gate, when non-nil, blocks Connect until it is closed or ctx ends.
	Gate chan struct{}

	tokens []string
	opts   []core.ConnectOptions
}

func NewNetwork() *Network {
	return &Network{rooms: make(map[domain.RoomName]*Room)}
}

// Room returns (creating if needed) the fake room for name.
func (n *Network) Room(name domain.RoomName) *Room {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.roomLocked(name)
}

// Put registers r so Connect to its name returns it.
func (n *Network) Put(r *Room) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rooms[r.name] = r
}

func (n *Network) roomLocked(name domain.RoomName) *Room {
	if r, ok := n.rooms[name]; ok {
		return r
	}
	n.seq++
	r := NewRoom(domain.RoomSID(fmt.Sprintf("RM%d", n.seq)), name, 50)
	n.rooms[name] = r
	return r
}

func (n *Network) Connect(ctx context.Context, token string, opts core.ConnectOptions) (core.Room, error) {
	n.mu.Lock()
	n.tokens = append(n.tokens, token)
	n.opts = append(n.opts, opts)
	gate, err := n.Gate, n.Err
	n.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	r := n.roomLocked(opts.Name)
	n.mu.Unlock()

	r.mu.Lock()
	r.disconnected = false
	r.local = &LocalParticipant{identity: "me", tracks: opts.Tracks}
	r.mu.Unlock()
	return r, nil
}

// Calls returns the options of every Connect call.
func (n *Network) Calls() []core.ConnectOptions {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]core.ConnectOptions, len(n.opts))
	copy(out, n.opts)
	return out
}

// Tokens returns the credentials passed to Connect.
func (n *Network) Tokens() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.tokens))
	copy(out, n.tokens)
	return out
}

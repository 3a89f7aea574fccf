package hub

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/domain"
)

// Registry holds the open connections and their room groups.
type Registry struct {
	mu      sync.RWMutex
	conns   map[ConnID]*Conn
	groups  map[domain.RoomSID]map[ConnID]struct{}
	members map[ConnID]map[domain.RoomSID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[ConnID]*Conn),
		groups:  make(map[domain.RoomSID]map[ConnID]struct{}),
		members: make(map[ConnID]map[domain.RoomSID]struct{}),
	}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
	log.Info().Str("module", "adapters.hub").Str("conn", string(c.id)).Msg("bound connection")
}

// Remove drops id from every group it joined and returns those groups.
func (r *Registry) Remove(id ConnID) []domain.RoomSID {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined := make([]domain.RoomSID, 0, len(r.members[id]))
	for sid := range r.members[id] {
		r.leaveLocked(id, sid)
		joined = append(joined, sid)
	}
	delete(r.members, id)
	delete(r.conns, id)
	log.Info().Str("module", "adapters.hub").Str("conn", string(id)).Int("groups", len(joined)).Msg("unbind connection")
	return joined
}

// Join adds id to the group of sid. It reports false when id was already there.
func (r *Registry) Join(id ConnID, sid domain.RoomSID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	g, ok := r.groups[sid]
	if !ok {
		g = make(map[ConnID]struct{})
		r.groups[sid] = g
	}
	if _, ok := g[id]; ok {
		return false
	}
	g[id] = struct{}{}
	m, ok := r.members[id]
	if !ok {
		m = make(map[domain.RoomSID]struct{})
		r.members[id] = m
	}
	m[sid] = struct{}{}
	return true
}

func (r *Registry) Leave(id ConnID, sid domain.RoomSID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(id, sid)
}

func (r *Registry) leaveLocked(id ConnID, sid domain.RoomSID) bool {
	g, ok := r.groups[sid]
	if !ok {
		return false
	}
	if _, ok := g[id]; !ok {
		return false
	}
	delete(g, id)
	if len(g) == 0 {
		delete(r.groups, sid)
	}
	if m, ok := r.members[id]; ok {
		delete(m, sid)
	}
	return true
}

// Others returns every connection except id.
func (r *Registry) Others(id ConnID) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for cid, c := range r.conns {
		if cid != id {
			out = append(out, c)
		}
	}
	return out
}

// OthersInGroup returns the members of sid except id. The sender does not
// have to be a member.
func (r *Registry) OthersInGroup(id ConnID, sid domain.RoomSID) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.groups[sid]
	out := make([]*Conn, 0, len(g))
	for cid := range g {
		if cid == id {
			continue
		}
		if c, ok := r.conns[cid]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) InGroup(id ConnID, sid domain.RoomSID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[sid][id]
	return ok
}

func (r *Registry) GroupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) All() []*Conn {
	return r.Others("")
}

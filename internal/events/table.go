package events

import "sync"

// Table records unsubscribe funcs per entity and event kind:
// {entity -> {kind -> offs}}. Releasing an entity detaches all of its handlers.
type Table struct {
	mu   sync.Mutex
	subs map[string]map[string][]func()
}

func NewTable() *Table {
	return &Table{subs: make(map[string]map[string][]func())}
}

func (t *Table) Add(entity, kind string, off func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kinds, ok := t.subs[entity]
	if !ok {
		kinds = make(map[string][]func())
		t.subs[entity] = kinds
	}
	kinds[kind] = append(kinds[kind], off)
}

// Has reports whether entity has at least one handler for kind.
func (t *Table) Has(entity, kind string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[entity][kind]) > 0
}

// Count returns the number of handlers held for entity.
func (t *Table) Count(entity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, offs := range t.subs[entity] {
		n += len(offs)
	}
	return n
}

// ReleaseKind detaches the handlers of one kind for entity.
func (t *Table) ReleaseKind(entity, kind string) {
	t.mu.Lock()
	offs := t.subs[entity][kind]
	if kinds, ok := t.subs[entity]; ok {
		delete(kinds, kind)
		if len(kinds) == 0 {
			delete(t.subs, entity)
		}
	}
	t.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// Release detaches every handler of entity.
func (t *Table) Release(entity string) {
	t.mu.Lock()
	kinds := t.subs[entity]
	delete(t.subs, entity)
	t.mu.Unlock()
	for _, offs := range kinds {
		for _, off := range offs {
			off()
		}
	}
}

func (t *Table) ReleaseAll() {
	t.mu.Lock()
	all := t.subs
	t.subs = make(map[string]map[string][]func())
	t.mu.Unlock()
	for _, kinds := range all {
		for _, offs := range kinds {
			for _, off := range offs {
				off()
			}
		}
	}
}

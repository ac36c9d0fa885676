package datastore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/calderas/lattice/pkg/model"
)

// Memory is an in-memory Store for tests and local development.
type Memory struct {
	mu          sync.RWMutex
	templates   map[string]model.Template
	thesauri    map[string]model.Thesaurus
	entities    []model.Entity
	connections []model.Connection
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		templates: make(map[string]model.Template),
		thesauri:  make(map[string]model.Thesaurus),
	}
}

// PutTemplate stores a template, assigning an id when absent.
func (m *Memory) PutTemplate(t model.Template) model.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.templates[t.ID] = t
	return t
}

// PutThesaurus stores a thesaurus, assigning an id when absent.
func (m *Memory) PutThesaurus(t model.Thesaurus) model.Thesaurus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.thesauri[t.ID] = t
	return t
}

// PutEntity stores an entity variant, replacing any variant with the same
// sharedId and language.
func (m *Memory) PutEntity(e model.Entity) model.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SharedID == "" {
		e.SharedID = e.ID
	}
	for i := range m.entities {
		if m.entities[i].SharedID == e.SharedID && m.entities[i].Language == e.Language {
			m.entities[i] = e
			return e
		}
	}
	m.entities = append(m.entities, e)
	return e
}

// DeleteEntity removes every language variant of a sharedId.
func (m *Memory) DeleteEntity(sharedID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entities[:0]
	for _, e := range m.entities {
		if e.SharedID != sharedID {
			kept = append(kept, e)
		}
	}
	m.entities = kept
}

// PutConnection stores a connection, assigning an id when absent.
func (m *Memory) PutConnection(c model.Connection) model.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	for i := range m.connections {
		if m.connections[i].ID == c.ID {
			m.connections[i] = c
			return c
		}
	}
	m.connections = append(m.connections, c)
	return c
}

// DeleteConnection removes a connection by id.
func (m *Memory) DeleteConnection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.connections[:0]
	for _, c := range m.connections {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	m.connections = kept
}

// GetTemplate implements Store.
func (m *Memory) GetTemplate(_ context.Context, id string) (*model.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// ListTemplates implements Store.
func (m *Memory) ListTemplates(_ context.Context) ([]model.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	return out, nil
}

// GetEntities implements Store.
func (m *Memory) GetEntities(_ context.Context, f EntityFilter) ([]model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var shared map[string]bool
	if len(f.SharedIDs) > 0 {
		shared = make(map[string]bool, len(f.SharedIDs))
		for _, id := range f.SharedIDs {
			shared[id] = true
		}
	}

	var out []model.Entity
	for _, e := range m.entities {
		if shared != nil && !shared[e.SharedID] {
			continue
		}
		if f.Template != "" && e.Template != f.Template {
			continue
		}
		if f.Language != "" && e.Language != f.Language {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// GetConnections implements Store.
func (m *Memory) GetConnections(_ context.Context, f ConnectionFilter) ([]model.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var shared, hubs map[string]bool
	if len(f.SharedIDs) > 0 {
		shared = make(map[string]bool, len(f.SharedIDs))
		for _, id := range f.SharedIDs {
			shared[id] = true
		}
	}
	if len(f.Hubs) > 0 {
		hubs = make(map[string]bool, len(f.Hubs))
		for _, id := range f.Hubs {
			hubs[id] = true
		}
	}

	var out []model.Connection
	for _, c := range m.connections {
		if shared != nil && !shared[c.Entity] {
			continue
		}
		if hubs != nil && !hubs[c.Hub] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// GetThesaurus implements Store.
func (m *Memory) GetThesaurus(_ context.Context, id string) (*model.Thesaurus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.thesauri[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

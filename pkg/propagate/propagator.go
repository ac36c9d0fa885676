package propagate

import (
	"context"
	"fmt"
	"sort"

	"github.com/calderas/lattice/pkg/datastore"
	"github.com/calderas/lattice/pkg/model"
)

// EntityChange describes a mutation to an entity that may invalidate
// inherited copies held by other entities.
type EntityChange struct {
	SharedID string
	Template string
	Deleted  bool
}

// ConnectionChange describes a created or deleted connection.
type ConnectionChange struct {
	Connection model.Connection
	Deleted    bool
}

// Change is a tagged union over the two change kinds. Exactly one field is
// set.
type Change struct {
	Entity     *EntityChange
	Connection *ConnectionChange
}

// Propagator resolves changes into reindex worklists.
type Propagator struct {
	store datastore.Store
	rev   ReverseIndex
}

// New creates a propagator over the given store and reverse index.
func New(store datastore.Store, rev ReverseIndex) *Propagator {
	return &Propagator{store: store, rev: rev}
}

// AffectedEntities returns the sharedIds of every other entity whose search
// document may embed stale data after the change. The whole set is computed
// before the caller issues any reindex write. The result is a superset
// guarantee: ambiguous cases are included.
func (p *Propagator) AffectedEntities(ctx context.Context, change Change) ([]string, error) {
	affected := make(map[string]bool)

	switch {
	case change.Entity != nil:
		if err := p.collectForEntity(ctx, change.Entity.SharedID, affected); err != nil {
			return nil, err
		}
	case change.Connection != nil:
		if err := p.collectForConnection(ctx, change.Connection.Connection, affected); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("change carries neither an entity nor a connection")
	}

	out := make([]string, 0, len(affected))
	for sharedID := range affected {
		if sharedID != "" {
			out = append(out, sharedID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *Propagator) collectForEntity(ctx context.Context, sharedID string, affected map[string]bool) error {
	// Entities holding a relationship value pointing at the changed entity.
	referrers, err := p.rev.Referrers(ctx, sharedID)
	if err != nil {
		return fmt.Errorf("failed to read reverse index for %s: %w", sharedID, err)
	}
	for _, r := range referrers {
		if r != sharedID {
			affected[r] = true
		}
	}

	// Hub connections are bidirectional; include every co-member rather than
	// guessing the direction.
	conns, err := p.store.GetConnections(ctx, datastore.ConnectionFilter{SharedIDs: []string{sharedID}})
	if err != nil {
		return fmt.Errorf("failed to load connections for %s: %w", sharedID, err)
	}
	hubs := make([]string, 0, len(conns))
	for _, c := range conns {
		hubs = append(hubs, c.Hub)
	}
	if len(hubs) == 0 {
		return nil
	}
	hubConns, err := p.store.GetConnections(ctx, datastore.ConnectionFilter{Hubs: hubs})
	if err != nil {
		return fmt.Errorf("failed to load hub connections: %w", err)
	}
	for _, c := range hubConns {
		if c.Entity != sharedID {
			affected[c.Entity] = true
		}
	}
	return nil
}

func (p *Propagator) collectForConnection(ctx context.Context, conn model.Connection, affected map[string]bool) error {
	members, err := p.store.GetConnections(ctx, datastore.ConnectionFilter{Hubs: []string{conn.Hub}})
	if err != nil {
		return fmt.Errorf("failed to load hub %s: %w", conn.Hub, err)
	}
	affected[conn.Entity] = true
	for _, m := range members {
		affected[m.Entity] = true
	}
	return nil
}

// ApplyConnectionChange maintains the reverse index incrementally. Deleted
// connections intentionally leave their edges in place: the same pair may be
// linked through metadata values or another hub, and a stale edge only costs
// a wasted reindex. Rebuild prunes stale edges.
func (p *Propagator) ApplyConnectionChange(ctx context.Context, change ConnectionChange) error {
	if change.Deleted {
		return nil
	}
	conn := change.Connection
	members, err := p.store.GetConnections(ctx, datastore.ConnectionFilter{Hubs: []string{conn.Hub}})
	if err != nil {
		return fmt.Errorf("failed to load hub %s: %w", conn.Hub, err)
	}
	for _, m := range members {
		if m.Entity == conn.Entity {
			continue
		}
		if err := p.rev.Add(ctx, conn.Entity, m.Entity); err != nil {
			return err
		}
		if err := p.rev.Add(ctx, m.Entity, conn.Entity); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild recomputes the reverse index from scratch: relationship metadata
// values and hub memberships both contribute edges.
func (p *Propagator) Rebuild(ctx context.Context) error {
	if err := p.rev.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear reverse index: %w", err)
	}

	templates, err := p.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}
	byID := make(map[string]model.Template, len(templates))
	for _, t := range templates {
		byID[t.ID] = t
	}

	entities, err := p.store.GetEntities(ctx, datastore.EntityFilter{})
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}
	for _, e := range entities {
		tmpl, ok := byID[e.Template]
		if !ok {
			continue
		}
		for _, prop := range tmpl.Properties {
			if prop.Type != model.PropertyRelationship {
				continue
			}
			for _, v := range e.Metadata[prop.Name] {
				target, _ := v.Value.(string)
				if target == "" || target == e.SharedID {
					continue
				}
				if err := p.rev.Add(ctx, target, e.SharedID); err != nil {
					return err
				}
			}
		}
	}

	connections, err := p.store.GetConnections(ctx, datastore.ConnectionFilter{})
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}
	byHub := make(map[string][]string)
	for _, c := range connections {
		byHub[c.Hub] = append(byHub[c.Hub], c.Entity)
	}
	for _, members := range byHub {
		for _, a := range members {
			for _, b := range members {
				if a == b {
					continue
				}
				if err := p.rev.Add(ctx, a, b); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

package datastore

import (
	"context"
	"errors"

	"github.com/calderas/lattice/pkg/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// EntityFilter narrows GetEntities. Zero-value fields are ignored.
type EntityFilter struct {
	SharedIDs []string
	Template  string
	Language  string
}

// ConnectionFilter narrows GetConnections. Zero-value fields are ignored.
type ConnectionFilter struct {
	SharedIDs []string
	Hubs      []string
}

// Store is the persistence read contract the indexing core is written
// against. Implementations must return records matching the shapes in
// pkg/model; no storage engine specifics are assumed beyond that.
type Store interface {
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	ListTemplates(ctx context.Context) ([]model.Template, error)
	GetEntities(ctx context.Context, f EntityFilter) ([]model.Entity, error)
	GetConnections(ctx context.Context, f ConnectionFilter) ([]model.Connection, error)
	GetThesaurus(ctx context.Context, id string) (*model.Thesaurus, error)
}

package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/calderas/lattice/pkg/model"
)

var pgTracer = otel.Tracer("lattice/datastore/postgres")

// Postgres implements Store over a PostgreSQL database. Template and
// thesaurus definitions are stored as JSONB documents; entity metadata and
// connection references likewise.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// GetTemplate implements Store.
func (s *Postgres) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	ctx, span := pgTracer.Start(ctx, "GetTemplate",
		trace.WithAttributes(attribute.String("template", id)),
	)
	defer span.End()

	var definition []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT definition FROM templates WHERE id = $1
	`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get template")
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}

	var tmpl model.Template
	if err := json.Unmarshal(definition, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
	}
	tmpl.ID = id
	return &tmpl, nil
}

// ListTemplates implements Store.
func (s *Postgres) ListTemplates(ctx context.Context) ([]model.Template, error) {
	ctx, span := pgTracer.Start(ctx, "ListTemplates")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `SELECT id, definition FROM templates ORDER BY id`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list templates")
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []model.Template
	for rows.Next() {
		var id string
		var definition []byte
		if err := rows.Scan(&id, &definition); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		var tmpl model.Template
		if err := json.Unmarshal(definition, &tmpl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
		}
		tmpl.ID = id
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	span.SetAttributes(attribute.Int("template_count", len(templates)))
	return templates, nil
}

// GetEntities implements Store.
func (s *Postgres) GetEntities(ctx context.Context, f EntityFilter) ([]model.Entity, error) {
	ctx, span := pgTracer.Start(ctx, "GetEntities",
		trace.WithAttributes(attribute.Int("shared_id_count", len(f.SharedIDs))),
	)
	defer span.End()

	query := strings.Builder{}
	query.WriteString(`
		SELECT id, shared_id, language, template, title, published,
		       creation_date, edit_date, metadata, file
		FROM entities
		WHERE 1=1
	`)

	args := make([]interface{}, 0)
	argIndex := 1
	if len(f.SharedIDs) > 0 {
		query.WriteString(fmt.Sprintf(" AND shared_id = ANY($%d)", argIndex))
		args = append(args, pq.Array(f.SharedIDs))
		argIndex++
	}
	if f.Template != "" {
		query.WriteString(fmt.Sprintf(" AND template = $%d", argIndex))
		args = append(args, f.Template)
		argIndex++
	}
	if f.Language != "" {
		query.WriteString(fmt.Sprintf(" AND language = $%d", argIndex))
		args = append(args, f.Language)
		argIndex++
	}
	query.WriteString(" ORDER BY shared_id, language")

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query entities")
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		var e model.Entity
		var metadata []byte
		var editDate sql.NullInt64
		var file sql.NullString
		if err := rows.Scan(&e.ID, &e.SharedID, &e.Language, &e.Template, &e.Title,
			&e.Published, &e.CreationDate, &editDate, &metadata, &file); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if editDate.Valid {
			e.EditDate = editDate.Int64
		}
		if file.Valid {
			e.File = file.String
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", e.ID, err)
			}
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	span.SetAttributes(attribute.Int("entity_count", len(entities)))
	return entities, nil
}

// GetConnections implements Store.
func (s *Postgres) GetConnections(ctx context.Context, f ConnectionFilter) ([]model.Connection, error) {
	ctx, span := pgTracer.Start(ctx, "GetConnections")
	defer span.End()

	query := strings.Builder{}
	query.WriteString(`
		SELECT id, entity, hub, template, reference
		FROM connections
		WHERE 1=1
	`)

	args := make([]interface{}, 0)
	argIndex := 1
	if len(f.SharedIDs) > 0 {
		query.WriteString(fmt.Sprintf(" AND entity = ANY($%d)", argIndex))
		args = append(args, pq.Array(f.SharedIDs))
		argIndex++
	}
	if len(f.Hubs) > 0 {
		query.WriteString(fmt.Sprintf(" AND hub = ANY($%d)", argIndex))
		args = append(args, pq.Array(f.Hubs))
		argIndex++
	}
	query.WriteString(" ORDER BY hub, id")

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query connections")
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var connections []model.Connection
	for rows.Next() {
		var c model.Connection
		var template sql.NullString
		var reference []byte
		if err := rows.Scan(&c.ID, &c.Entity, &c.Hub, &template, &reference); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		if template.Valid {
			c.Template = template.String
		}
		if len(reference) > 0 {
			if err := json.Unmarshal(reference, &c.Reference); err != nil {
				return nil, fmt.Errorf("failed to unmarshal reference for %s: %w", c.ID, err)
			}
		}
		connections = append(connections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	span.SetAttributes(attribute.Int("connection_count", len(connections)))
	return connections, nil
}

// GetThesaurus implements Store.
func (s *Postgres) GetThesaurus(ctx context.Context, id string) (*model.Thesaurus, error) {
	ctx, span := pgTracer.Start(ctx, "GetThesaurus",
		trace.WithAttributes(attribute.String("thesaurus", id)),
	)
	defer span.End()

	var definition []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT definition FROM thesauri WHERE id = $1
	`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get thesaurus")
		return nil, fmt.Errorf("failed to get thesaurus %s: %w", id, err)
	}

	var thes model.Thesaurus
	if err := json.Unmarshal(definition, &thes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thesaurus %s: %w", id, err)
	}
	thes.ID = id
	return &thes, nil
}

package datastore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderas/lattice/pkg/model"
	"github.com/calderas/lattice/pkg/observability"
)

func TestMemory_EntityFilters(t *testing.T) {
	store := NewMemory()
	store.PutEntity(model.Entity{SharedID: "e1", Language: "en", Template: "t1"})
	store.PutEntity(model.Entity{SharedID: "e1", Language: "es", Template: "t1"})
	store.PutEntity(model.Entity{SharedID: "e2", Language: "en", Template: "t2"})

	ctx := context.Background()

	all, err := store.GetEntities(ctx, EntityFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byShared, err := store.GetEntities(ctx, EntityFilter{SharedIDs: []string{"e1"}})
	require.NoError(t, err)
	assert.Len(t, byShared, 2)

	byLang, err := store.GetEntities(ctx, EntityFilter{SharedIDs: []string{"e1"}, Language: "es"})
	require.NoError(t, err)
	require.Len(t, byLang, 1)
	assert.Equal(t, "es", byLang[0].Language)

	byTemplate, err := store.GetEntities(ctx, EntityFilter{Template: "t2"})
	require.NoError(t, err)
	assert.Len(t, byTemplate, 1)
}

func TestMemory_PutEntityReplacesVariant(t *testing.T) {
	store := NewMemory()
	store.PutEntity(model.Entity{SharedID: "e1", Language: "en", Title: "old"})
	store.PutEntity(model.Entity{SharedID: "e1", Language: "en", Title: "new"})

	entities, err := store.GetEntities(context.Background(), EntityFilter{SharedIDs: []string{"e1"}})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "new", entities[0].Title)
}

func TestMemory_ConnectionFilters(t *testing.T) {
	store := NewMemory()
	store.PutConnection(model.Connection{ID: "c1", Entity: "e1", Hub: "h1"})
	store.PutConnection(model.Connection{ID: "c2", Entity: "e2", Hub: "h1"})
	store.PutConnection(model.Connection{ID: "c3", Entity: "e3", Hub: "h2"})

	ctx := context.Background()

	byHub, err := store.GetConnections(ctx, ConnectionFilter{Hubs: []string{"h1"}})
	require.NoError(t, err)
	assert.Len(t, byHub, 2)

	byEntity, err := store.GetConnections(ctx, ConnectionFilter{SharedIDs: []string{"e3"}})
	require.NoError(t, err)
	require.Len(t, byEntity, 1)
	assert.Equal(t, "h2", byEntity[0].Hub)
}

func TestMemory_NotFound(t *testing.T) {
	store := NewMemory()
	_, err := store.GetTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetThesaurus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_GetTemplate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	definition, _ := json.Marshal(model.Template{
		Name: "Case",
		Properties: []model.Property{
			{Name: "summary", Type: model.PropertyText},
		},
	})
	mock.ExpectQuery("SELECT definition FROM templates").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"definition"}).AddRow(definition))

	store := NewPostgres(db)
	tmpl, err := store.GetTemplate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", tmpl.ID)
	assert.Equal(t, "Case", tmpl.Name)
	require.Len(t, tmpl.Properties, 1)
	assert.Equal(t, model.PropertyText, tmpl.Properties[0].Type)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetTemplateNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT definition FROM templates").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"definition"}))

	store := NewPostgres(db)
	_, err = store.GetTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_GetEntities(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	metadata, _ := json.Marshal(map[string][]model.MetadataValue{
		"summary": {{Value: "text"}},
	})
	rows := sqlmock.NewRows([]string{
		"id", "shared_id", "language", "template", "title", "published",
		"creation_date", "edit_date", "metadata", "file",
	}).AddRow("e1-en", "e1", "en", "t1", "Case one", true, int64(100), int64(200), metadata, nil)

	mock.ExpectQuery("SELECT id, shared_id, language, template").
		WillReturnRows(rows)

	store := NewPostgres(db)
	entities, err := store.GetEntities(context.Background(), EntityFilter{
		SharedIDs: []string{"e1"}, Language: "en",
	})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "e1", entities[0].SharedID)
	assert.Equal(t, int64(200), entities[0].EditDate)
	require.Contains(t, entities[0].Metadata, "summary")
	assert.Equal(t, "text", entities[0].Metadata["summary"][0].Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCached_TemplateLookups(t *testing.T) {
	inner := NewMemory()
	tmpl := inner.PutTemplate(model.Template{ID: "t1", Name: "Case"})
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	cached, err := NewCached(inner, 8, metrics)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := cached.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Case", got.Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("template")))

	// Mutation behind the cache is invisible until invalidated.
	inner.PutTemplate(model.Template{ID: "t1", Name: "Renamed"})
	got, err = cached.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Case", got.Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("template")))

	cached.Invalidate("t1")
	got, err = cached.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("template")))
}

func TestCached_ThesaurusLookupCounts(t *testing.T) {
	inner := NewMemory()
	inner.PutThesaurus(model.Thesaurus{ID: "countries", Name: "Countries"})
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	cached, err := NewCached(inner, 8, metrics)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cached.GetThesaurus(ctx, "countries")
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("thesaurus")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("thesaurus")))
}

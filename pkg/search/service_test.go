package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderas/lattice/pkg/datastore"
	"github.com/calderas/lattice/pkg/engine"
	"github.com/calderas/lattice/pkg/mapping"
	"github.com/calderas/lattice/pkg/model"
	"github.com/calderas/lattice/pkg/observability"
	"github.com/calderas/lattice/pkg/query"
	"github.com/calderas/lattice/pkg/settings"
	"github.com/calderas/lattice/pkg/transform"
)

const testIndex = "entities"

var testLanguages = model.Settings{Languages: []model.Language{
	{Key: "en", Default: true},
	{Key: "es"},
	{Key: "pt"},
}}

func caseTemplate() model.Template {
	return model.Template{
		ID:   "case",
		Name: "Case",
		Properties: []model.Property{
			{Name: "text", Type: model.PropertyText},
			{Name: "country", Type: model.PropertyMultiSelect, Content: "countries", Filter: true},
		},
	}
}

func countriesThesaurus() model.Thesaurus {
	return model.Thesaurus{
		ID: "countries",
		Values: []model.ThesaurusValue{
			{ID: "v1", Label: "Argentina"},
			{ID: "v2", Label: "Chile"},
		},
	}
}

type fixture struct {
	engine  *engine.Memory
	store   *datastore.Memory
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	eng := engine.NewMemory()
	require.NoError(t, eng.PutMapping(ctx, testIndex, mapping.BaseMapping()))
	tmpl := caseTemplate()
	require.NoError(t, eng.PutMapping(ctx, testIndex, mapping.BuildMapping(&tmpl)))

	store := datastore.NewMemory()
	store.PutTemplate(tmpl)
	store.PutTemplate(model.Template{ID: "template5", Name: "Plain"})
	store.PutThesaurus(countriesThesaurus())

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := NewService(eng, store, settings.Static{Value: testLanguages}, testIndex, metrics)
	return &fixture{engine: eng, store: store, service: svc}
}

func (f *fixture) index(t *testing.T, e model.Entity) {
	t.Helper()
	tmpl, err := f.store.GetTemplate(context.Background(), e.Template)
	require.NoError(t, err)

	doc, _ := transform.ToSearchDocument(transform.Input{
		Entity:          e,
		Template:        *tmpl,
		Thesauri:        map[string]model.Thesaurus{"countries": countriesThesaurus()},
		DefaultLanguage: "en",
	})
	result, err := f.engine.Bulk(context.Background(), testIndex, []engine.BulkOp{
		{Action: engine.ActionIndex, ID: doc.ID, Document: doc.Source()},
	})
	require.NoError(t, err)
	require.Empty(t, result.Failed())
}

func multiselect(values ...string) []model.MetadataValue {
	out := make([]model.MetadataValue, 0, len(values))
	for _, v := range values {
		out = append(out, model.MetadataValue{Value: v})
	}
	return out
}

func seedLanguageVariants(t *testing.T, f *fixture) {
	for _, lang := range []string{"en", "es", "pt"} {
		f.index(t, model.Entity{
			ID:        "shared1-" + lang,
			SharedID:  "shared1",
			Language:  lang,
			Template:  "case",
			Title:     "Shared One",
			Published: true,
			Metadata: map[string][]model.MetadataValue{
				"text": {{Value: "text"}},
			},
		})
	}
}

func rowSharedIDs(resp *Response) []string {
	var out []string
	for _, r := range resp.Rows {
		out = append(out, r.Source["sharedId"].(string))
	}
	return out
}

func TestLanguageVariantSelection(t *testing.T) {
	f := newFixture(t)
	seedLanguageVariants(t, f)

	resp, err := f.service.Search(context.Background(), query.UIQuery{
		Language: "en",
		Types:    []string{"case"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "shared1", resp.Rows[0].Source["sharedId"])
	assert.Equal(t, "en", resp.Rows[0].Source["language"])

	resp, err = f.service.Search(context.Background(), query.UIQuery{
		Language: "es",
		Types:    []string{"case"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "shared1", resp.Rows[0].Source["sharedId"])
	assert.Equal(t, "es", resp.Rows[0].Source["language"])
}

func TestUnpublishedVisibility(t *testing.T) {
	f := newFixture(t)
	f.index(t, model.Entity{
		ID: "e1", SharedID: "e1", Language: "en", Template: "case",
		Title: "Public", Published: true,
	})
	f.index(t, model.Entity{
		ID: "e2", SharedID: "e2", Language: "en", Template: "case",
		Title: "Draft", Published: false,
	})

	resp, err := f.service.Search(context.Background(), query.UIQuery{Language: "en"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, rowSharedIDs(resp))

	resp, err = f.service.Search(context.Background(), query.UIQuery{Language: "en"},
		&model.User{ID: "u1", Role: model.RoleAdmin})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, rowSharedIDs(resp))
}

func TestFilterAndOrSemantics(t *testing.T) {
	f := newFixture(t)
	f.index(t, model.Entity{
		ID: "only-v1", SharedID: "only-v1", Language: "en", Template: "case",
		Title: "Only v1", Published: true,
		Metadata: map[string][]model.MetadataValue{"country": multiselect("v1")},
	})
	f.index(t, model.Entity{
		ID: "both", SharedID: "both", Language: "en", Template: "case",
		Title: "Both", Published: true,
		Metadata: map[string][]model.MetadataValue{"country": multiselect("v1", "v2")},
	})

	resp, err := f.service.Search(context.Background(), query.UIQuery{
		Language: "en",
		Filters:  map[string]query.FilterSpec{"country": {Values: []string{"v1", "v2"}, And: true}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"both"}, rowSharedIDs(resp),
		"and semantics require every value present")

	resp, err = f.service.Search(context.Background(), query.UIQuery{
		Language: "en",
		Filters:  map[string]query.FilterSpec{"country": {Values: []string{"v1", "v2"}}},
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"only-v1", "both"}, rowSharedIDs(resp),
		"or semantics accept any value")
}

func TestFacetCounts(t *testing.T) {
	f := newFixture(t)
	f.index(t, model.Entity{
		ID: "e1", SharedID: "e1", Language: "en", Template: "case",
		Title: "One", Published: true,
		Metadata: map[string][]model.MetadataValue{"country": multiselect("v1")},
	})
	f.index(t, model.Entity{
		ID: "e2", SharedID: "e2", Language: "en", Template: "case",
		Title: "Two", Published: true,
		Metadata: map[string][]model.MetadataValue{"country": multiselect("v1")},
	})

	resp, err := f.service.Search(context.Background(), query.UIQuery{Language: "en"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Facets, 1)
	require.Equal(t, "country", resp.Facets[0].Property)

	opts := resp.Facets[0].Options
	require.Len(t, opts, 2)
	assert.Equal(t, "v1", opts[0].ID)
	assert.Equal(t, "Argentina", opts[0].Label)
	assert.Equal(t, 2, opts[0].Count)
	assert.Equal(t, 2, opts[0].FilteredCount)
	assert.Equal(t, "v2", opts[1].ID)
	assert.Equal(t, 0, opts[1].Count, "options absent from results still appear, zeroed")
}

// thesaurusLessStore reports every thesaurus as missing, wrapped the way a
// real backend surfaces lookup misses.
type thesaurusLessStore struct {
	*datastore.Memory
}

func (s thesaurusLessStore) GetThesaurus(ctx context.Context, id string) (*model.Thesaurus, error) {
	return nil, fmt.Errorf("thesaurus %s: %w", id, datastore.ErrNotFound)
}

func TestMissingThesaurusDegradesToRawIDs(t *testing.T) {
	f := newFixture(t)
	f.index(t, model.Entity{
		ID: "e1", SharedID: "e1", Language: "en", Template: "case",
		Title: "One", Published: true,
		Metadata: map[string][]model.MetadataValue{"country": multiselect("v1")},
	})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := NewService(f.engine, thesaurusLessStore{f.store}, settings.Static{Value: testLanguages}, testIndex, metrics)

	resp, err := svc.Search(context.Background(), query.UIQuery{Language: "en"}, nil)
	require.NoError(t, err, "a missing thesaurus is a data inconsistency, not a query failure")
	require.Len(t, resp.Facets, 1)
	opts := resp.Facets[0].Options
	require.Len(t, opts, 1)
	assert.Equal(t, "v1", opts[0].ID)
	assert.Equal(t, "v1", opts[0].Label, "labels fall back to raw ids")
}

func TestGeolocationModeWithoutGeoTemplates(t *testing.T) {
	f := newFixture(t)
	seedLanguageVariants(t, f)

	resp, err := f.service.Search(context.Background(), query.UIQuery{
		Language:    "en",
		Geolocation: true,
		Types:       []string{"template5"},
	}, nil)
	require.NoError(t, err, "geolocation mode over geo-less templates is empty, not an error")
	assert.Empty(t, resp.Rows)
	assert.Zero(t, resp.TotalRows)
}

func TestEngineFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.engine.FailNextSearch(engine.ErrUnavailable)

	_, err := f.service.Search(context.Background(), query.UIQuery{Language: "en"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestSearchTermMatching(t *testing.T) {
	f := newFixture(t)
	f.index(t, model.Entity{
		ID: "e1", SharedID: "e1", Language: "en", Template: "case",
		Title: "Detention report", Published: true,
	})
	f.index(t, model.Entity{
		ID: "e2", SharedID: "e2", Language: "en", Template: "case",
		Title: "Annual summary", Published: true,
		Metadata: map[string][]model.MetadataValue{"text": {{Value: "arbitrary detention"}}},
	})

	resp, err := f.service.Search(context.Background(), query.UIQuery{
		Language:   "en",
		SearchTerm: "detention",
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, rowSharedIDs(resp),
		"search covers title and text properties")
}

package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/calderas/lattice/pkg/datastore"
	"github.com/calderas/lattice/pkg/engine"
	"github.com/calderas/lattice/pkg/facets"
	"github.com/calderas/lattice/pkg/model"
	"github.com/calderas/lattice/pkg/observability"
	"github.com/calderas/lattice/pkg/query"
	"github.com/calderas/lattice/pkg/settings"
)

var tracer = otel.Tracer("lattice/search/service")

// Service executes searches against the entity index.
type Service struct {
	engine   engine.Client
	store    datastore.Store
	settings settings.Provider
	index    string
	metrics  *observability.Metrics
}

// NewService creates a search service. Metrics may be nil.
func NewService(client engine.Client, store datastore.Store, provider settings.Provider, index string, metrics *observability.Metrics) *Service {
	return &Service{
		engine:   client,
		store:    store,
		settings: provider,
		index:    index,
		metrics:  metrics,
	}
}

// Row is one search result.
type Row struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Source map[string]any `json:"source"`
}

// Response is the resolved search reply.
type Response struct {
	Rows      []Row         `json:"rows"`
	TotalRows int           `json:"totalRows"`
	Facets    []facets.Facet `json:"facets,omitempty"`
}

// Search translates and executes a UI request. The user may be nil for
// anonymous requests.
func (s *Service) Search(ctx context.Context, q query.UIQuery, user *model.User) (*Response, error) {
	ctx, span := tracer.Start(ctx, "search.service.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.term", q.SearchTerm),
		attribute.StringSlice("search.types", q.Types),
	)
	start := time.Now()

	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, s.fail(span, err, "failed to load settings")
	}
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, s.fail(span, err, "failed to load templates")
	}

	eq := query.Translate(q, user, cfg, templates)

	result, err := s.engine.Search(ctx, s.index, eq)
	if err != nil {
		return nil, s.fail(span, err, "search failed")
	}

	selected := query.SelectTemplates(q.Types, templates)
	thesauri, err := s.loadThesauri(ctx, selected)
	if err != nil {
		return nil, s.fail(span, err, "failed to load thesauri")
	}

	language := q.Language
	if language == "" {
		language = cfg.DefaultLanguage()
	}

	resp := &Response{
		Rows:      make([]Row, 0, len(result.Hits)),
		TotalRows: result.Total,
		Facets:    facets.Resolve(result.Aggregations, selected, thesauri, language),
	}
	for _, hit := range result.Hits {
		resp.Rows = append(resp.Rows, Row{ID: hit.ID, Score: hit.Score, Source: hit.Source})
	}

	if s.metrics != nil {
		s.metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
		s.metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.Int("search.total", result.Total))
	return resp, nil
}

// loadThesauri fetches the vocabularies referenced by the selected templates'
// facetable select properties. A missing thesaurus is a data inconsistency,
// not a query failure: the facet falls back to raw ids.
func (s *Service) loadThesauri(ctx context.Context, templates []model.Template) (map[string]model.Thesaurus, error) {
	out := make(map[string]model.Thesaurus)
	for _, t := range templates {
		for _, p := range t.Properties {
			if !p.Filter || !p.IsSelect() || p.Content == "" {
				continue
			}
			if _, done := out[p.Content]; done {
				continue
			}
			thesaurus, err := s.store.GetThesaurus(ctx, p.Content)
			if errors.Is(err, datastore.ErrNotFound) {
				observability.FromContext(ctx).WithField("thesaurus", p.Content).Warn("referenced thesaurus missing")
				continue
			}
			if err != nil {
				return nil, err
			}
			out[p.Content] = *thesaurus
		}
	}
	return out, nil
}

func (s *Service) fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	if s.metrics != nil {
		s.metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
	}
	return fmt.Errorf("%s: %w", msg, err)
}

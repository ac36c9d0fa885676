package datastore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/calderas/lattice/pkg/model"
	"github.com/calderas/lattice/pkg/observability"
)

// Cached wraps a Store with LRU caches for template and thesaurus lookups,
// the two record kinds read on every transform. Entity and connection reads
// pass through: they are the mutable data the index is built from.
type Cached struct {
	inner   Store
	metrics *observability.Metrics

	templates *lru.Cache[string, *model.Template]
	thesauri  *lru.Cache[string, *model.Thesaurus]
}

// NewCached wraps inner with caches of the given size per record kind.
// Hit and miss counts are reported per kind when metrics is non-nil.
func NewCached(inner Store, size int, metrics *observability.Metrics) (*Cached, error) {
	templates, err := lru.New[string, *model.Template](size)
	if err != nil {
		return nil, err
	}
	thesauri, err := lru.New[string, *model.Thesaurus](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, metrics: metrics, templates: templates, thesauri: thesauri}, nil
}

func (c *Cached) recordLookup(kind string, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
	}
}

// Invalidate drops cached copies of a template and thesaurus id. Call it on
// any template or thesaurus mutation before triggering a reindex.
func (c *Cached) Invalidate(id string) {
	c.templates.Remove(id)
	c.thesauri.Remove(id)
}

// GetTemplate implements Store.
func (c *Cached) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	if tmpl, ok := c.templates.Get(id); ok {
		c.recordLookup("template", true)
		return tmpl, nil
	}
	c.recordLookup("template", false)
	tmpl, err := c.inner.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	c.templates.Add(id, tmpl)
	return tmpl, nil
}

// ListTemplates implements Store. List results are not cached; they are only
// read by full reindex passes.
func (c *Cached) ListTemplates(ctx context.Context) ([]model.Template, error) {
	return c.inner.ListTemplates(ctx)
}

// GetEntities implements Store.
func (c *Cached) GetEntities(ctx context.Context, f EntityFilter) ([]model.Entity, error) {
	return c.inner.GetEntities(ctx, f)
}

// GetConnections implements Store.
func (c *Cached) GetConnections(ctx context.Context, f ConnectionFilter) ([]model.Connection, error) {
	return c.inner.GetConnections(ctx, f)
}

// GetThesaurus implements Store.
func (c *Cached) GetThesaurus(ctx context.Context, id string) (*model.Thesaurus, error) {
	if thes, ok := c.thesauri.Get(id); ok {
		c.recordLookup("thesaurus", true)
		return thes, nil
	}
	c.recordLookup("thesaurus", false)
	thes, err := c.inner.GetThesaurus(ctx, id)
	if err != nil {
		return nil, err
	}
	c.thesauri.Add(id, thes)
	return thes, nil
}

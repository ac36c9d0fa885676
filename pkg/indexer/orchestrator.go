package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/calderas/lattice/pkg/async"
	"github.com/calderas/lattice/pkg/datastore"
	"github.com/calderas/lattice/pkg/engine"
	"github.com/calderas/lattice/pkg/fulltext"
	"github.com/calderas/lattice/pkg/mapping"
	"github.com/calderas/lattice/pkg/model"
	"github.com/calderas/lattice/pkg/observability"
	"github.com/calderas/lattice/pkg/propagate"
	"github.com/calderas/lattice/pkg/settings"
	"github.com/calderas/lattice/pkg/transform"
)

var tracer = otel.Tracer("lattice/indexer")

// Config bounds the orchestrator's batching and concurrency.
type Config struct {
	BatchSize  int
	MaxRetries int
	Workers    int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Orchestrator drives reindexing.
type Orchestrator struct {
	store      datastore.Store
	engine     engine.Client
	text       fulltext.Source
	propagator *propagate.Propagator
	settings   settings.Provider
	index      string
	logger     *observability.Logger
	metrics    *observability.Metrics
	cfg        Config
	locks      *async.KeyedLocks
}

// New creates an orchestrator. The fulltext source and metrics may be nil.
func New(store datastore.Store, client engine.Client, text fulltext.Source, propagator *propagate.Propagator, provider settings.Provider, index string, logger *observability.Logger, metrics *observability.Metrics, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:      store,
		engine:     client,
		text:       text,
		propagator: propagator,
		settings:   provider,
		index:      index,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg.withDefaults(),
		locks:      async.NewKeyedLocks(),
	}
}

// EnsureMappings validates every template and applies its mapping fragment
// on top of the base mapping. A conflicting fragment fails that template and
// is reported, so authors are warned before data is mismapped.
func (o *Orchestrator) EnsureMappings(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "indexer.ensure_mappings")
	defer span.End()

	if err := o.engine.PutMapping(ctx, o.index, mapping.BaseMapping()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "base mapping failed")
		return fmt.Errorf("failed to apply base mapping: %w", err)
	}

	templates, err := o.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	var errs []error
	for i := range templates {
		t := templates[i]
		if err := model.ValidateTemplate(&t); err != nil {
			errs = append(errs, fmt.Errorf("template %s invalid: %w", t.ID, err))
			continue
		}
		if err := o.engine.PutMapping(ctx, o.index, mapping.BuildMapping(&t)); err != nil {
			if errors.Is(err, engine.ErrMappingConflict) && o.metrics != nil {
				o.metrics.MappingConflicts.Inc()
			}
			errs = append(errs, fmt.Errorf("mapping for template %s: %w", t.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Reindex transforms and upserts the referenced entities. Refs with an empty
// language cover every variant of the sharedId. Different sharedId groups
// proceed concurrently; the same sharedId never interleaves.
func (o *Orchestrator) Reindex(ctx context.Context, refs []model.EntityRef) error {
	ctx, span := tracer.Start(ctx, "indexer.reindex")
	defer span.End()
	span.SetAttributes(attribute.Int("reindex.refs", len(refs)))

	groups := groupBySharedID(refs)

	var mu sync.Mutex
	var errs []error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for sharedID, languages := range groups {
		g.Go(func() error {
			o.locks.Lock(sharedID)
			defer o.locks.Unlock(sharedID)

			if err := o.reindexGroup(ctx, sharedID, languages); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reindex incomplete")
		return err
	}
	return nil
}

// DeleteFromIndex removes the referenced entities and their fullText
// children from the index.
func (o *Orchestrator) DeleteFromIndex(ctx context.Context, refs []model.EntityRef) error {
	ctx, span := tracer.Start(ctx, "indexer.delete")
	defer span.End()

	var ops []engine.BulkOp
	for sharedID := range groupBySharedID(refs) {
		ids, err := o.lookupDocIDs(ctx, sharedID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			ops = append(ops, engine.BulkOp{Action: engine.ActionDelete, ID: id})
		}
	}
	return o.flush(ctx, ops)
}

// DeleteByTemplate removes every document created from a template. It
// queries the index rather than the datastore because template deletion
// usually removes the entities from the store first.
func (o *Orchestrator) DeleteByTemplate(ctx context.Context, templateID string) error {
	ctx, span := tracer.Start(ctx, "indexer.delete_by_template")
	defer span.End()
	span.SetAttributes(attribute.String("template", templateID))

	result, err := o.engine.Search(ctx, o.index, &engine.Query{
		Bool: engine.BoolQuery{
			Filter: []engine.Clause{{Term: &engine.TermClause{Field: "template", Value: templateID}}},
		},
		Limit: engine.MaxResultWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to locate documents for template %s: %w", templateID, err)
	}

	ops := make([]engine.BulkOp, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ops = append(ops, engine.BulkOp{Action: engine.ActionDelete, ID: hit.ID})
	}
	o.logger.WithFields(map[string]any{
		"template":  templateID,
		"documents": len(ops),
	}).Info("deleting documents for template")
	return o.flush(ctx, ops)
}

// ReindexAll rebuilds the whole index: mappings, the reverse-reference
// index, then every entity.
func (o *Orchestrator) ReindexAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "indexer.reindex_all")
	defer span.End()

	if err := o.EnsureMappings(ctx); err != nil {
		return err
	}
	if o.propagator != nil {
		if err := o.propagator.Rebuild(ctx); err != nil {
			return fmt.Errorf("failed to rebuild reverse index: %w", err)
		}
	}

	entities, err := o.store.GetEntities(ctx, datastore.EntityFilter{})
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}

	seen := make(map[string]bool)
	var refs []model.EntityRef
	for _, e := range entities {
		if !seen[e.SharedID] {
			seen[e.SharedID] = true
			refs = append(refs, model.EntityRef{SharedID: e.SharedID})
		}
	}
	o.logger.WithField("entities", len(refs)).Info("full reindex started")
	return o.Reindex(ctx, refs)
}

// ApplyChange propagates a change: the affected worklist is computed fully
// before any write, then the changed entity and every affected entity are
// reindexed (or deleted).
func (o *Orchestrator) ApplyChange(ctx context.Context, change propagate.Change) error {
	ctx, span := tracer.Start(ctx, "indexer.apply_change")
	defer span.End()

	// Read phase. Nothing is written until the worklist is complete.
	affected, err := o.propagator.AffectedEntities(ctx, change)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "propagation failed")
		return err
	}
	if change.Connection != nil {
		if err := o.propagator.ApplyConnectionChange(ctx, *change.Connection); err != nil {
			return err
		}
	}
	if o.metrics != nil {
		o.metrics.PropagationFanout.Observe(float64(len(affected)))
	}

	refs := make([]model.EntityRef, 0, len(affected)+1)
	for _, sharedID := range affected {
		refs = append(refs, model.EntityRef{SharedID: sharedID})
	}

	if change.Entity != nil {
		self := model.EntityRef{SharedID: change.Entity.SharedID}
		if change.Entity.Deleted {
			if err := o.DeleteFromIndex(ctx, []model.EntityRef{self}); err != nil {
				return err
			}
		} else {
			refs = append(refs, self)
		}
	}
	return o.Reindex(ctx, refs)
}

func (o *Orchestrator) reindexGroup(ctx context.Context, sharedID string, languages []string) error {
	filter := datastore.EntityFilter{SharedIDs: []string{sharedID}}
	entities, err := o.store.GetEntities(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", sharedID, err)
	}
	if len(languages) > 0 {
		wanted := make(map[string]bool, len(languages))
		for _, l := range languages {
			wanted[l] = true
		}
		kept := entities[:0]
		for _, e := range entities {
			if wanted[e.Language] {
				kept = append(kept, e)
			}
		}
		entities = kept
	}

	var ops []engine.BulkOp
	for _, e := range entities {
		entityOps, err := o.buildOps(ctx, e)
		if err != nil {
			return err
		}
		ops = append(ops, entityOps...)
	}
	return o.flush(ctx, ops)
}

// buildOps resolves every lookup the transform needs, then runs it.
func (o *Orchestrator) buildOps(ctx context.Context, e model.Entity) ([]engine.BulkOp, error) {
	tmpl, err := o.store.GetTemplate(ctx, e.Template)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			// An entity pointing at a deleted template cannot be mapped.
			observability.FromContext(ctx).WithFields(map[string]any{
				"sharedId": e.SharedID,
				"template": e.Template,
			}).Warn("skipping entity with missing template")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load template %s: %w", e.Template, err)
	}

	in := transform.Input{
		Entity:   e,
		Template: *tmpl,
	}

	in.Thesauri, err = o.loadThesauri(ctx, tmpl)
	if err != nil {
		return nil, err
	}
	in.RelatedEntities, in.RelatedTemplates, err = o.loadRelated(ctx, tmpl, e)
	if err != nil {
		return nil, err
	}

	if o.text != nil && e.File != "" {
		chunks, err := o.text.Chunks(ctx, e.File)
		switch {
		case errors.Is(err, fulltext.ErrNoText):
			// Nothing extracted yet; index without text.
		case err != nil:
			observability.FromContext(ctx).WithError(err).WithField("file", e.File).
				Warn("text chunks unavailable, indexing without fullText")
		default:
			in.Chunks = chunks
		}
	}

	cfg, err := o.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	in.DefaultLanguage = cfg.DefaultLanguage()

	doc, chunkDocs := transform.ToSearchDocument(in)
	ops := []engine.BulkOp{{Action: engine.ActionIndex, ID: doc.ID, Document: doc.Source()}}
	for _, c := range chunkDocs {
		ops = append(ops, engine.BulkOp{
			Action:   engine.ActionIndex,
			ID:       c.ID,
			Routing:  c.Parent,
			Document: c.Source(),
		})
	}
	return ops, nil
}

func (o *Orchestrator) loadThesauri(ctx context.Context, tmpl *model.Template) (map[string]model.Thesaurus, error) {
	out := make(map[string]model.Thesaurus)
	for _, p := range tmpl.Properties {
		if !p.IsSelect() || p.Content == "" {
			continue
		}
		if _, done := out[p.Content]; done {
			continue
		}
		t, err := o.store.GetThesaurus(ctx, p.Content)
		if errors.Is(err, datastore.ErrNotFound) {
			// Labels degrade to empty; the transform tolerates it.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load thesaurus %s: %w", p.Content, err)
		}
		out[p.Content] = *t
	}
	return out, nil
}

func (o *Orchestrator) loadRelated(ctx context.Context, tmpl *model.Template, e model.Entity) ([]model.Entity, map[string]model.Template, error) {
	var targets []string
	seen := make(map[string]bool)
	for _, p := range tmpl.Properties {
		if p.Type != model.PropertyRelationship {
			continue
		}
		for _, v := range e.Metadata[p.Name] {
			if id, ok := v.Value.(string); ok && id != "" && !seen[id] {
				seen[id] = true
				targets = append(targets, id)
			}
		}
	}
	if len(targets) == 0 {
		return nil, nil, nil
	}

	related, err := o.store.GetEntities(ctx, datastore.EntityFilter{SharedIDs: targets})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load related entities: %w", err)
	}

	relatedTemplates := make(map[string]model.Template)
	for _, r := range related {
		if _, done := relatedTemplates[r.Template]; done {
			continue
		}
		rt, err := o.store.GetTemplate(ctx, r.Template)
		if errors.Is(err, datastore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load related template %s: %w", r.Template, err)
		}
		relatedTemplates[r.Template] = *rt
	}
	return related, relatedTemplates, nil
}

// flush writes ops in batches, retrying retryable item failures. Fatal item
// errors are collected and surfaced; successful siblings stay indexed.
func (o *Orchestrator) flush(ctx context.Context, ops []engine.BulkOp) error {
	var errs []error
	for start := 0; start < len(ops); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(ops) {
			end = len(ops)
		}
		if err := o.flushBatch(ctx, ops[start:end]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) flushBatch(ctx context.Context, batch []engine.BulkOp) error {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.IndexBatchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	pending := batch
	var fatal []engine.BulkItem

	for attempt := 0; ; attempt++ {
		result, err := o.engine.Bulk(ctx, o.index, pending)
		if err != nil {
			// The whole request failed; nothing was applied and the batch is
			// retryable in full by the caller.
			return fmt.Errorf("bulk request failed: %w", err)
		}

		o.recordOutcomes(pending, result)

		var retry []engine.BulkOp
		for _, item := range result.Failed() {
			if item.Err.Retryable && attempt < o.cfg.MaxRetries {
				retry = append(retry, item.Op)
				continue
			}
			fatal = append(fatal, item)
		}
		if len(retry) == 0 {
			break
		}
		if o.metrics != nil {
			o.metrics.BulkRetriesTotal.Add(float64(len(retry)))
		}
		pending = retry
	}

	if len(fatal) == 0 {
		return nil
	}
	errs := make([]error, 0, len(fatal))
	for _, item := range fatal {
		o.logger.WithFields(map[string]any{
			"id":     item.Op.ID,
			"action": string(item.Op.Action),
			"type":   item.Err.Type,
		}).Error("bulk item failed permanently")
		errs = append(errs, fmt.Errorf("item %s: %w", item.Op.ID, item.Err))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) recordOutcomes(ops []engine.BulkOp, result *engine.BulkResult) {
	if o.metrics == nil {
		return
	}
	for _, item := range result.Items {
		status := "ok"
		if item.Err != nil {
			status = "error"
			o.metrics.BulkItemErrorsTotal.WithLabelValues(item.Err.Type).Inc()
		} else if item.Op.Action == engine.ActionIndex {
			o.metrics.IndexedDocuments.Inc()
		}
		o.metrics.IndexOperationsTotal.WithLabelValues(string(item.Op.Action), status).Inc()
	}
}

// lookupDocIDs finds the index document ids holding a sharedId, preferring
// the datastore and falling back to the index itself for already-deleted
// entities.
func (o *Orchestrator) lookupDocIDs(ctx context.Context, sharedID string) ([]string, error) {
	entities, err := o.store.GetEntities(ctx, datastore.EntityFilter{SharedIDs: []string{sharedID}})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", sharedID, err)
	}
	if len(entities) > 0 {
		ids := make([]string, 0, len(entities))
		for _, e := range entities {
			ids = append(ids, e.ID)
		}
		return ids, nil
	}

	result, err := o.engine.Search(ctx, o.index, &engine.Query{
		Bool: engine.BoolQuery{
			Filter: []engine.Clause{{Term: &engine.TermClause{Field: "sharedId", Value: sharedID}}},
		},
		Limit: MaxVariants,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to locate documents for %s: %w", sharedID, err)
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// MaxVariants bounds the per-sharedId document lookup. A sharedId has one
// document per configured language, so this is generous.
const MaxVariants = 100

func groupBySharedID(refs []model.EntityRef) map[string][]string {
	groups := make(map[string][]string)
	for _, ref := range refs {
		if ref.Language == "" {
			// An empty language means every variant; it overrides narrower
			// refs for the same sharedId.
			groups[ref.SharedID] = nil
			continue
		}
		if langs, ok := groups[ref.SharedID]; !ok || langs != nil {
			groups[ref.SharedID] = append(groups[ref.SharedID], ref.Language)
		}
	}
	for id, langs := range groups {
		sort.Strings(langs)
		groups[id] = langs
	}
	return groups
}

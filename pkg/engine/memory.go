package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-memory Client used for development and tests. It executes
// the same query model a production engine would, including post-filter
// semantics for aggregations and per-item bulk failures via injection hooks.
type Memory struct {
	mu      sync.RWMutex
	indexes map[string]*memIndex

	bulkErr      error
	searchErr    error
	itemFailures map[string][]*ItemError
}

type memIndex struct {
	docs   map[string]map[string]any
	chunks map[string]map[string]string // parent id -> chunk id -> text
	fields map[string]string            // field path -> mapped type
}

// NewMemory creates an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{
		indexes:      make(map[string]*memIndex),
		itemFailures: make(map[string][]*ItemError),
	}
}

func (m *Memory) index(name string) *memIndex {
	idx, ok := m.indexes[name]
	if !ok {
		idx = &memIndex{
			docs:   make(map[string]map[string]any),
			chunks: make(map[string]map[string]string),
			fields: make(map[string]string),
		}
		m.indexes[name] = idx
	}
	return idx
}

// FailNextBulk makes the next Bulk call fail wholesale with err.
func (m *Memory) FailNextBulk(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkErr = err
}

// FailNextSearch makes the next Search call fail with err.
func (m *Memory) FailNextSearch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchErr = err
}

// FailItem makes the next `times` bulk operations against the given document
// id fail with itemErr.
func (m *Memory) FailItem(id string, times int, itemErr *ItemError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < times; i++ {
		m.itemFailures[id] = append(m.itemFailures[id], itemErr)
	}
}

// Document returns a stored document by id.
func (m *Memory) Document(index, id string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[index]
	if !ok {
		return nil, false
	}
	doc, ok := idx.docs[id]
	return doc, ok
}

// Count returns the number of stored entity documents.
func (m *Memory) Count(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[index]
	if !ok {
		return 0
	}
	return len(idx.docs)
}

// PutMapping merges a mapping fragment, rejecting type conflicts.
func (m *Memory) PutMapping(_ context.Context, index string, fragment map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.index(index)
	props, _ := fragment["properties"].(map[string]any)
	return mergeMappingFields(idx.fields, "", props)
}

func mergeMappingFields(fields map[string]string, prefix string, props map[string]any) error {
	for name, raw := range props {
		def, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if typ, ok := def["type"].(string); ok {
			if existing, ok := fields[path]; ok && existing != typ {
				return fmt.Errorf("field %q mapped as %s, fragment wants %s: %w",
					path, existing, typ, ErrMappingConflict)
			}
			fields[path] = typ
		}
		if sub, ok := def["properties"].(map[string]any); ok {
			if err := mergeMappingFields(fields, path, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// Bulk applies operations, honoring injected failures.
func (m *Memory) Bulk(_ context.Context, index string, ops []BulkOp) (*BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bulkErr != nil {
		err := m.bulkErr
		m.bulkErr = nil
		return nil, err
	}

	idx := m.index(index)
	result := &BulkResult{Items: make([]BulkItem, 0, len(ops))}
	for _, op := range ops {
		if pending := m.itemFailures[op.ID]; len(pending) > 0 {
			m.itemFailures[op.ID] = pending[1:]
			result.Items = append(result.Items, BulkItem{Op: op, Err: pending[0]})
			continue
		}

		switch op.Action {
		case ActionIndex:
			if op.Routing != "" {
				// fullText child document routed to its parent entity.
				text, _ := op.Document["fullText"].(string)
				if idx.chunks[op.Routing] == nil {
					idx.chunks[op.Routing] = make(map[string]string)
				}
				idx.chunks[op.Routing][op.ID] = text
			} else {
				idx.docs[op.ID] = op.Document
			}
		case ActionDelete:
			delete(idx.docs, op.ID)
			delete(idx.chunks, op.ID)
		}
		result.Items = append(result.Items, BulkItem{Op: op})
	}
	return result, nil
}

// Search executes a translated query.
func (m *Memory) Search(_ context.Context, index string, q *Query) (*SearchResult, error) {
	m.mu.Lock()
	if m.searchErr != nil {
		err := m.searchErr
		m.searchErr = nil
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := &SearchResult{Aggregations: make(map[string]Aggregation)}
	if q.MatchNone {
		return result, nil
	}

	idx, ok := m.indexes[index]
	if !ok {
		return result, nil
	}

	// Base matches drive aggregations; the post filter narrows hits only.
	var base []scoredHit
	for id, doc := range idx.docs {
		match, score := idx.matchBool(id, doc, &q.Bool)
		if match {
			base = append(base, scoredHit{id: id, score: score})
		}
	}

	var hits []scoredHit
	for _, s := range base {
		if q.PostFilter != nil {
			if match, _ := idx.matchBool(s.id, idx.docs[s.id], q.PostFilter); !match {
				continue
			}
		}
		hits = append(hits, s)
	}
	result.Total = len(hits)

	sortHits(hits, idx, q.Sort)

	from, limit := q.From, q.Limit
	if from > len(hits) {
		from = len(hits)
	}
	end := len(hits)
	if limit > 0 && from+limit < end {
		end = from + limit
	}
	for _, s := range hits[from:end] {
		result.Hits = append(result.Hits, Hit{
			ID:     s.id,
			Score:  s.score,
			Source: projectFields(idx.docs[s.id], q.SelectFields),
		})
	}

	for name, agg := range q.Aggregations {
		result.Aggregations[name] = idx.aggregate(base, agg)
	}
	return result, nil
}

type scoredHit struct {
	id    string
	score float64
}

func sortHits(hits []scoredHit, idx *memIndex, specs []SortSpec) {
	sort.SliceStable(hits, func(i, j int) bool {
		for _, spec := range specs {
			if spec.ByScore {
				if hits[i].score != hits[j].score {
					return hits[i].score > hits[j].score
				}
				continue
			}
			a := firstSortValue(idx.docs[hits[i].id], spec.Field)
			b := firstSortValue(idx.docs[hits[j].id], spec.Field)
			if cmp := compareValues(a, b); cmp != 0 {
				if spec.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		// Stable pagination: ties broken by id.
		return hits[i].id < hits[j].id
	})
}

func firstSortValue(doc map[string]any, field string) any {
	values := resolvePath(doc, splitField(field))
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

func compareValues(a, b any) int {
	// Missing values sort last regardless of direction.
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(
		strings.ToLower(fmt.Sprintf("%v", a)),
		strings.ToLower(fmt.Sprintf("%v", b)),
	)
}

func projectFields(doc map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return doc
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// matchBool evaluates a boolean query against a document, returning the
// relevance score contributed by query-string clauses.
func (idx *memIndex) matchBool(id string, doc map[string]any, b *BoolQuery) (bool, float64) {
	score := 0.0

	for _, c := range b.Must {
		ok, s := idx.matchClause(id, doc, c)
		if !ok {
			return false, 0
		}
		score += s
	}
	for _, c := range b.Filter {
		if ok, _ := idx.matchClause(id, doc, c); !ok {
			return false, 0
		}
	}
	for _, c := range b.MustNot {
		if ok, _ := idx.matchClause(id, doc, c); ok {
			return false, 0
		}
	}
	if len(b.Should) > 0 {
		matched := false
		for _, c := range b.Should {
			if ok, s := idx.matchClause(id, doc, c); ok {
				matched = true
				score += s
			}
		}
		// Should is only a hard requirement when nothing else constrains
		// the query.
		if !matched && len(b.Must) == 0 && len(b.Filter) == 0 {
			return false, 0
		}
	}
	return true, score
}

func (idx *memIndex) matchClause(id string, doc map[string]any, c Clause) (bool, float64) {
	switch {
	case c.QueryString != nil:
		expr := parseQueryString(c.QueryString.Query)
		text := idx.fieldText(id, doc, c.QueryString.Fields)
		if expr.matches(text) {
			return true, expr.score(text)
		}
		return false, 0

	case c.Term != nil:
		for _, v := range resolvePath(doc, splitField(c.Term.Field)) {
			if equalValues(v, c.Term.Value) {
				return true, 0
			}
		}
		return false, 0

	case c.Terms != nil:
		for _, v := range resolvePath(doc, splitField(c.Terms.Field)) {
			for _, want := range c.Terms.Values {
				if equalValues(v, want) {
					return true, 0
				}
			}
		}
		return false, 0

	case c.Range != nil:
		for _, v := range resolvePath(doc, splitField(c.Range.Field)) {
			if rangeMatches(v, c.Range.From, c.Range.To) {
				return true, 0
			}
		}
		return false, 0

	case c.Exists != nil:
		return len(resolvePath(doc, splitField(c.Exists.Field))) > 0, 0

	case c.Nested != nil:
		for _, el := range resolvePath(doc, splitField(c.Nested.Path)) {
			elDoc, ok := el.(map[string]any)
			if !ok {
				continue
			}
			if match, _ := idx.matchBool(id, elDoc, &c.Nested.Query); match {
				return true, 0
			}
		}
		return false, 0

	case c.Bool != nil:
		return idx.matchBool(id, doc, c.Bool)
	}
	return false, 0
}

func (idx *memIndex) fieldText(id string, doc map[string]any, fields []string) string {
	var b strings.Builder
	for _, f := range fields {
		if f == "fullText" {
			for _, text := range idx.chunks[id] {
				b.WriteString(strings.ToLower(text))
				b.WriteString(" ")
			}
			continue
		}
		for _, v := range resolvePath(doc, splitField(f)) {
			if s, ok := v.(string); ok {
				b.WriteString(strings.ToLower(s))
				b.WriteString(" ")
			}
		}
	}
	return b.String()
}

func (idx *memIndex) aggregate(base []scoredHit, agg TermsAggregation) Aggregation {
	counts := make(map[string]int)
	filtered := make(map[string]int)

	for _, s := range base {
		doc := idx.docs[s.id]
		keys := aggregationKeys(doc, agg)
		if len(keys) == 0 {
			continue
		}

		inFiltered := true
		if agg.FilteredBy != nil {
			inFiltered, _ = idx.matchBool(s.id, doc, agg.FilteredBy)
		}
		for key := range keys {
			counts[key]++
			if inFiltered {
				filtered[key]++
			}
		}
	}

	buckets := make([]Bucket, 0, len(counts))
	for key, count := range counts {
		buckets = append(buckets, Bucket{Key: key, Count: count, FilteredCount: filtered[key]})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Key < buckets[j].Key
	})
	if agg.Size > 0 && len(buckets) > agg.Size {
		buckets = buckets[:agg.Size]
	}
	return Aggregation{Buckets: buckets}
}

// aggregationKeys returns the distinct bucket keys a document contributes to,
// counting each at most once per document.
func aggregationKeys(doc map[string]any, agg TermsAggregation) map[string]bool {
	keys := make(map[string]bool)
	if agg.NestedPath != "" {
		for _, el := range resolvePath(doc, splitField(agg.NestedPath)) {
			elDoc, ok := el.(map[string]any)
			if !ok {
				continue
			}
			for _, v := range resolvePath(elDoc, splitField(agg.Field)) {
				keys[stringValue(v)] = true
			}
		}
		return keys
	}
	for _, v := range resolvePath(doc, splitField(agg.Field)) {
		keys[stringValue(v)] = true
	}
	return keys
}

// splitField splits a dotted field path, dropping the engine-level ".sort"
// sub-field suffix: sort sub-fields are derived from the same source value.
func splitField(field string) []string {
	field = strings.TrimSuffix(field, ".sort")
	return strings.Split(field, ".")
}

// resolvePath walks a dotted path through nested maps, fanning out over
// arrays, and returns all leaf values.
func resolvePath(v any, segs []string) []any {
	if v == nil {
		return nil
	}
	if len(segs) == 0 {
		if arr, ok := v.([]any); ok {
			var out []any
			for _, el := range arr {
				out = append(out, resolvePath(el, nil)...)
			}
			return out
		}
		return []any{v}
	}
	switch val := v.(type) {
	case map[string]any:
		return resolvePath(val[segs[0]], segs[1:])
	case []any:
		var out []any
		for _, el := range val {
			out = append(out, resolvePath(el, segs)...)
		}
		return out
	default:
		return nil
	}
}

func equalValues(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func rangeMatches(v any, from, to *float64) bool {
	// {from, to} pair values match on overlap with the filter range.
	if pair, ok := v.(map[string]any); ok {
		pairFrom, hasFrom := toFloat(pair["from"])
		pairTo, hasTo := toFloat(pair["to"])
		if !hasFrom && !hasTo {
			return false
		}
		if from != nil && hasTo && pairTo < *from {
			return false
		}
		if to != nil && hasFrom && pairFrom > *to {
			return false
		}
		return true
	}

	f, ok := toFloat(v)
	if !ok {
		return false
	}
	if from != nil && f < *from {
		return false
	}
	if to != nil && f > *to {
		return false
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

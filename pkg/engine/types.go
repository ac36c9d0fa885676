package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable indicates the engine could not be reached at all. Batches
// failing with it are retryable in full.
var ErrUnavailable = errors.New("search engine unavailable")

// MaxResultWindow is the largest From+Limit a single search may request,
// matching the default window of the backing engine.
const MaxResultWindow = 10000

// ErrMappingConflict indicates a field is already mapped with an incompatible
// type. It is fatal for the PutMapping call that triggered it.
var ErrMappingConflict = errors.New("mapping conflict")

// Client is the search engine contract consumed by the indexing core.
type Client interface {
	// PutMapping applies a per-template mapping fragment to the index.
	// Fragments are additive; re-applying an identical fragment is a no-op.
	PutMapping(ctx context.Context, index string, fragment map[string]any) error

	// Bulk executes index/delete operations and reports per-item status.
	Bulk(ctx context.Context, index string, ops []BulkOp) (*BulkResult, error)

	// Search executes a translated query.
	Search(ctx context.Context, index string, q *Query) (*SearchResult, error)
}

// Action is a bulk operation kind.
type Action string

const (
	ActionIndex  Action = "index"
	ActionDelete Action = "delete"
)

// BulkOp is one upsert or delete against the index. Routing carries the
// parent id for fullText child documents.
type BulkOp struct {
	Action   Action
	ID       string
	Routing  string
	Document map[string]any
}

// ItemError is a per-item bulk failure.
type ItemError struct {
	Type      string
	Reason    string
	Retryable bool
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// BulkItem is the per-item outcome of a bulk request.
type BulkItem struct {
	Op  BulkOp
	Err *ItemError
}

// BulkResult reports the outcome of a bulk request.
type BulkResult struct {
	Items []BulkItem
}

// Failed returns the items that did not succeed.
func (r *BulkResult) Failed() []BulkItem {
	var out []BulkItem
	for _, item := range r.Items {
		if item.Err != nil {
			out = append(out, item)
		}
	}
	return out
}

// Clause is one boolean query clause. Exactly one field is set.
type Clause struct {
	QueryString *QueryStringClause
	Term        *TermClause
	Terms       *TermsClause
	Range       *RangeClause
	Exists      *ExistsClause
	Nested      *NestedClause
	Bool        *BoolQuery
}

// QueryStringClause is a pass-through full-text query using standard
// query-string operators (AND/OR/NOT, quotes, * and ? wildcards).
type QueryStringClause struct {
	Query  string
	Fields []string
}

// TermClause matches documents whose field contains the exact value.
type TermClause struct {
	Field string
	Value any
}

// TermsClause matches documents whose field contains any of the values.
type TermsClause struct {
	Field  string
	Values []string
}

// RangeClause is an inclusive numeric range. Multi-valued fields match when
// any stored value falls in range; {from, to} pair values match on overlap.
type RangeClause struct {
	Field string
	From  *float64
	To    *float64
}

// ExistsClause matches documents carrying at least one value for the field.
type ExistsClause struct {
	Field string
}

// NestedClause evaluates a boolean query against each element of a nested
// field, matching when any single element satisfies it.
type NestedClause struct {
	Path  string
	Query BoolQuery
}

// BoolQuery combines clauses. Must and Filter clauses all have to match,
// MustNot clauses must not, and Should requires at least one match when it is
// the only clause group present.
type BoolQuery struct {
	Must    []Clause
	Should  []Clause
	MustNot []Clause
	Filter  []Clause
}

// Empty reports whether the query has no clauses.
func (b *BoolQuery) Empty() bool {
	return len(b.Must) == 0 && len(b.Should) == 0 && len(b.MustNot) == 0 && len(b.Filter) == 0
}

// SortSpec orders results by a field's sort sub-field, or by relevance score.
type SortSpec struct {
	Field   string
	Desc    bool
	ByScore bool
}

// TermsAggregation buckets documents per distinct field value. FilteredBy
// holds every active facet filter except the aggregated property's own, so
// each bucket reports both a global and a filtered count.
type TermsAggregation struct {
	Field      string
	NestedPath string
	Size       int
	FilteredBy *BoolQuery
}

// Query is the structured output of pkg/query's translation.
type Query struct {
	// MatchNone short-circuits to an empty result set. Used by geolocation
	// mode when no selected template declares a geolocation property.
	MatchNone bool

	// Bool carries visibility, full-text and template constraints;
	// aggregations are computed against it.
	Bool BoolQuery

	// PostFilter carries the property facet filters. It narrows hits but not
	// aggregations.
	PostFilter *BoolQuery

	Sort         []SortSpec
	From         int
	Limit        int
	SelectFields []string
	Aggregations map[string]TermsAggregation
}

// Hit is one matching document.
type Hit struct {
	ID     string
	Score  float64
	Source map[string]any
}

// Bucket is one aggregation bucket: Count is the global occurrence within the
// base query, FilteredCount the occurrence among documents matching the
// aggregation's FilteredBy query.
type Bucket struct {
	Key           string
	Count         int
	FilteredCount int
}

// Aggregation is the raw per-field bucket list.
type Aggregation struct {
	Buckets []Bucket
}

// SearchResult is the engine's reply to a Search call.
type SearchResult struct {
	Hits         []Hit
	Total        int
	Aggregations map[string]Aggregation
}

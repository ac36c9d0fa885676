package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIndex = "entities"

func seedDocs(t *testing.T, m *Memory, docs map[string]map[string]any) {
	t.Helper()
	ops := make([]BulkOp, 0, len(docs))
	for id, doc := range docs {
		ops = append(ops, BulkOp{Action: ActionIndex, ID: id, Document: doc})
	}
	result, err := m.Bulk(context.Background(), testIndex, ops)
	require.NoError(t, err)
	require.Empty(t, result.Failed())
}

func TestMemory_PutMappingConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.PutMapping(ctx, testIndex, map[string]any{
		"properties": map[string]any{
			"metadata": map[string]any{"properties": map[string]any{
				"amount": map[string]any{"type": "double"},
			}},
		},
	})
	require.NoError(t, err)

	// Idempotent re-apply.
	err = m.PutMapping(ctx, testIndex, map[string]any{
		"properties": map[string]any{
			"metadata": map[string]any{"properties": map[string]any{
				"amount": map[string]any{"type": "double"},
			}},
		},
	})
	require.NoError(t, err)

	// Incompatible reuse of the same field surfaces a mapping conflict.
	err = m.PutMapping(ctx, testIndex, map[string]any{
		"properties": map[string]any{
			"metadata": map[string]any{"properties": map[string]any{
				"amount": map[string]any{"type": "keyword"},
			}},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMappingConflict))
}

func TestMemory_BulkItemFailures(t *testing.T) {
	m := NewMemory()
	m.FailItem("e2", 1, &ItemError{Type: "unavailable", Reason: "shard down", Retryable: true})

	result, err := m.Bulk(context.Background(), testIndex, []BulkOp{
		{Action: ActionIndex, ID: "e1", Document: map[string]any{"title": "one"}},
		{Action: ActionIndex, ID: "e2", Document: map[string]any{"title": "two"}},
	})
	require.NoError(t, err)

	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "e2", failed[0].Op.ID)
	assert.True(t, failed[0].Err.Retryable)

	// e1 landed despite the sibling failure.
	_, ok := m.Document(testIndex, "e1")
	assert.True(t, ok)
	_, ok = m.Document(testIndex, "e2")
	assert.False(t, ok)

	// Retrying just the failed item succeeds once the injection is consumed.
	result, err = m.Bulk(context.Background(), testIndex, []BulkOp{failed[0].Op})
	require.NoError(t, err)
	assert.Empty(t, result.Failed())
}

func TestMemory_TermAndTermsClauses(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, map[string]map[string]any{
		"e1": {"language": "en", "metadata": map[string]any{
			"country": []any{map[string]any{"value": "c1", "label": "Argentina"}},
		}},
		"e2": {"language": "en", "metadata": map[string]any{
			"country": []any{
				map[string]any{"value": "c1", "label": "Argentina"},
				map[string]any{"value": "c2", "label": "Spain"},
			},
		}},
	})

	q := &Query{Bool: BoolQuery{Filter: []Clause{
		{Terms: &TermsClause{Field: "metadata.country.value", Values: []string{"c2"}}},
	}}}
	result, err := m.Search(context.Background(), testIndex, q)
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "e2", result.Hits[0].ID)

	// AND semantics expressed as separate term clauses.
	q = &Query{Bool: BoolQuery{Filter: []Clause{
		{Term: &TermClause{Field: "metadata.country.value", Value: "c1"}},
		{Term: &TermClause{Field: "metadata.country.value", Value: "c2"}},
	}}}
	result, err = m.Search(context.Background(), testIndex, q)
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "e2", result.Hits[0].ID)
}

func TestMemory_RangeClause(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, map[string]map[string]any{
		"e1": {"metadata": map[string]any{"date": []any{map[string]any{"value": 100}}}},
		"e2": {"metadata": map[string]any{"date": []any{map[string]any{"value": 500}}}},
		"e3": {"metadata": map[string]any{"period": []any{map[string]any{"from": 50, "to": 150}}}},
		"e4": {"metadata": map[string]any{"period": []any{map[string]any{"from": 300, "to": 400}}}},
	})

	from, to := 90.0, 200.0
	q := &Query{Bool: BoolQuery{Filter: []Clause{{Bool: &BoolQuery{Should: []Clause{
		{Range: &RangeClause{Field: "metadata.date.value", From: &from, To: &to}},
		{Range: &RangeClause{Field: "metadata.period", From: &from, To: &to}},
	}}}}}}
	result, err := m.Search(context.Background(), testIndex, q)
	require.NoError(t, err)

	ids := hitIDs(result)
	assert.ElementsMatch(t, []string{"e1", "e3"}, ids)
}

func TestMemory_NestedClause(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, map[string]map[string]any{
		"e1": {"metadata": map[string]any{"rulings": []any{
			map[string]any{"court": []any{"supreme"}, "year": []any{"2001"}},
		}}},
		"e2": {"metadata": map[string]any{"rulings": []any{
			map[string]any{"court": []any{"appeals"}, "year": []any{"2001"}},
			map[string]any{"court": []any{"supreme"}, "year": []any{"1999"}},
		}}},
	})

	// Both sub-filters must hold on a single nested element.
	q := &Query{Bool: BoolQuery{Filter: []Clause{{Nested: &NestedClause{
		Path: "metadata.rulings",
		Query: BoolQuery{Filter: []Clause{
			{Terms: &TermsClause{Field: "court", Values: []string{"supreme"}}},
			{Terms: &TermsClause{Field: "year", Values: []string{"2001"}}},
		}},
	}}}}}
	result, err := m.Search(context.Background(), testIndex, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, hitIDs(result))
}

func TestMemory_QueryString(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, map[string]map[string]any{
		"e1": {"title": "Report on arbitrary detention"},
		"e2": {"title": "Annual report"},
		"e3": {"title": "Detention centers survey"},
	})

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "single term", query: "report", want: []string{"e1", "e2"}},
		{name: "default OR", query: "report detention", want: []string{"e1", "e2", "e3"}},
		{name: "explicit AND", query: "report AND detention", want: []string{"e1"}},
		{name: "NOT", query: "report NOT detention", want: []string{"e2"}},
		{name: "phrase", query: `"annual report"`, want: []string{"e2"}},
		{name: "wildcard", query: "deten*", want: []string{"e1", "e3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &Query{Bool: BoolQuery{Must: []Clause{
				{QueryString: &QueryStringClause{Query: tt.query, Fields: []string{"title"}}},
			}}}
			result, err := m.Search(context.Background(), testIndex, q)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, hitIDs(result))
		})
	}
}

func TestMemory_FullTextChildDocuments(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, map[string]map[string]any{
		"e1": {"title": "First"},
		"e2": {"title": "Second"},
	})

	_, err := m.Bulk(context.Background(), testIndex, []BulkOp{
		{Action: ActionIndex, ID: "e1_page_1", Routing: "e1", Document: map[string]any{
			"fullText": "testimony about the incident", "page": 1,
		}},
	})
	require.NoError(t, err)

	q := &Query{Bool: BoolQuery{Must: []Clause{
		{QueryString: &QueryStringClause{Query: "testimony", Fields: []string{"title", "fullText"}}},
	}}}
	result, err := m.Search(context.Background(), testIndex, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, hitIDs(result))

	// Chunk documents never surface as hits themselves.
	assert.Equal(t, 2, m.Count(testIndex))
}

func TestMemory_PostFilterAggregations(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, map[string]map[string]any{
		"e1": {"metadata": map[string]any{"country": []any{map[string]any{"value": "c1"}}}},
		"e2": {"metadata": map[string]any{"country": []any{map[string]any{"value": "c1"}}}},
		"e3": {"metadata": map[string]any{"country": []any{map[string]any{"value": "c2"}}}},
	})

	countryFilter := &BoolQuery{Filter: []Clause{
		{Terms: &TermsClause{Field: "metadata.country.value", Values: []string{"c1"}}},
	}}
	q := &Query{
		PostFilter: countryFilter,
		Aggregations: map[string]TermsAggregation{
			// The country aggregation excludes its own filter: every option
			// keeps its global count while filtered counts reflect the other
			// active filters (none here).
			"country": {Field: "metadata.country.value"},
		},
	}
	result, err := m.Search(context.Background(), testIndex, q)
	require.NoError(t, err)

	// Hits are narrowed by the post filter.
	assert.Equal(t, 2, result.Total)

	agg := result.Aggregations["country"]
	require.Len(t, agg.Buckets, 2)
	byKey := map[string]Bucket{}
	for _, b := range agg.Buckets {
		byKey[b.Key] = b
	}
	assert.Equal(t, 2, byKey["c1"].Count)
	assert.Equal(t, 1, byKey["c2"].Count)
}

func TestMemory_AggregationFilteredCounts(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, map[string]map[string]any{
		"e1": {"metadata": map[string]any{
			"country": []any{map[string]any{"value": "c1"}},
			"issue":   []any{map[string]any{"value": "i1"}},
		}},
		"e2": {"metadata": map[string]any{
			"country": []any{map[string]any{"value": "c2"}},
			"issue":   []any{map[string]any{"value": "i1"}},
		}},
		"e3": {"metadata": map[string]any{
			"country": []any{map[string]any{"value": "c2"}},
			"issue":   []any{map[string]any{"value": "i2"}},
		}},
	})

	issueFilter := &BoolQuery{Filter: []Clause{
		{Terms: &TermsClause{Field: "metadata.issue.value", Values: []string{"i1"}}},
	}}
	q := &Query{
		PostFilter: issueFilter,
		Aggregations: map[string]TermsAggregation{
			// Country counts filtered by the issue facet (the "other" filter).
			"country": {Field: "metadata.country.value", FilteredBy: issueFilter},
		},
	}
	result, err := m.Search(context.Background(), testIndex, q)
	require.NoError(t, err)

	byKey := map[string]Bucket{}
	for _, b := range result.Aggregations["country"].Buckets {
		byKey[b.Key] = b
	}
	assert.Equal(t, 1, byKey["c1"].Count)
	assert.Equal(t, 1, byKey["c1"].FilteredCount)
	assert.Equal(t, 2, byKey["c2"].Count)
	assert.Equal(t, 1, byKey["c2"].FilteredCount)
}

func TestMemory_SortingAndPagination(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, map[string]map[string]any{
		"e1": {"title": "Charlie"},
		"e2": {"title": "alpha"},
		"e3": {"title": "Bravo"},
		"e4": {"title": "alpha"},
	})

	q := &Query{
		Sort:  []SortSpec{{Field: "title.sort"}},
		From:  0,
		Limit: 2,
	}
	result, err := m.Search(context.Background(), testIndex, q)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)
	// Case-insensitive ordering with id tie-break.
	assert.Equal(t, []string{"e2", "e4"}, hitIDs(result))

	q.From = 2
	result, err = m.Search(context.Background(), testIndex, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e1"}, hitIDs(result))
}

func TestMemory_MatchNone(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, map[string]map[string]any{"e1": {"title": "x"}})

	result, err := m.Search(context.Background(), testIndex, &Query{MatchNone: true})
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
	assert.Equal(t, 0, result.Total)
}

func TestMemory_InjectedEngineFailures(t *testing.T) {
	m := NewMemory()
	m.FailNextBulk(ErrUnavailable)
	_, err := m.Bulk(context.Background(), testIndex, []BulkOp{{Action: ActionIndex, ID: "x"}})
	assert.ErrorIs(t, err, ErrUnavailable)

	m.FailNextSearch(ErrUnavailable)
	_, err = m.Search(context.Background(), testIndex, &Query{})
	assert.ErrorIs(t, err, ErrUnavailable)

	// One-shot: subsequent calls succeed.
	_, err = m.Search(context.Background(), testIndex, &Query{})
	assert.NoError(t, err)
}

func hitIDs(r *SearchResult) []string {
	ids := make([]string, 0, len(r.Hits))
	for _, h := range r.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

// Package engine defines the search engine client contract the indexing core
// is written against, plus an in-memory engine that executes the same query
// model for development and tests.
//
// # Overview
//
// The core never speaks a concrete wire protocol. pkg/query produces a *Query
// (a structured boolean/aggregation model mirroring the query-string, terms,
// range, nested and geo vocabulary of mainstream search engines), pkg/indexer
// produces BulkOp batches, and any Client implementation carries them out.
//
// # Query model
//
// Query.Bool holds the visibility and full-text constraints. Property facet
// filters live in Query.PostFilter so that aggregations are computed before
// they apply; each TermsAggregation carries its own FilteredBy query holding
// every active filter except the aggregated property's own. This split is
// what produces the paired filtered/unfiltered facet counts resolved by
// pkg/facets.
//
// # Failure semantics
//
// Bulk reports per-item status; ItemError.Retryable distinguishes transient
// failures (retried by pkg/indexer) from fatal ones such as mapping
// conflicts, which are surfaced without aborting sibling items.
package engine

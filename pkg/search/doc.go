// Package search is the read path: it compiles a UI request into an engine
// query, executes it and resolves the returned aggregations into facets.
//
// Engine failures surface as errors. A client must never mistake "engine
// down" for "no matches", so there is no silent empty-result fallback.
package search

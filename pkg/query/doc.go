// Package query translates UI search requests into engine queries.
//
// Translation is a pure function over the request, the requesting user, the
// tenant settings and the template set. It never reads ambient state and
// performs no I/O, so every visibility and filter rule is testable in
// isolation.
//
// The facet contract drives the query shape: property filters go into the
// post filter so aggregations still see the full base result set, and each
// property's aggregation is filtered by every active filter except its own.
// Malformed input degrades instead of failing: filters and sorts referencing
// properties absent from the selected templates are dropped.
package query

// Package facets turns raw aggregation buckets into UI-ready facet options.
//
// The engine reports two counts per bucket: the global occurrence within the
// base result set and the occurrence among documents matching every other
// active filter. The resolver pairs those counts with the thesaurus-declared
// option list, so the UI can show zero-count options in their configured
// order instead of whatever the engine happened to bucket.
package facets

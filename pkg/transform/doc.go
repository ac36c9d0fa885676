// Package transform projects entities into index-ready search documents.
//
// ToSearchDocument is a pure function: every lookup it needs (the template,
// referenced entities, thesauri, extracted text chunks, default language) is
// pre-resolved into its Input. The transform itself performs no I/O and is
// never a suspension point, which keeps it unit-testable without an index or
// database and lets callers parallelize it freely.
//
// Data inconsistencies degrade instead of failing: a thesaurus label that
// cannot be resolved keeps its value with an empty label, and a dangling
// relationship simply embeds no inherited value.
package transform

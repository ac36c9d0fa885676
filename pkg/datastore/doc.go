// Package datastore defines the persistence lookups the indexing core
// depends on, with in-memory, PostgreSQL and cached implementations.
//
// The core only ever reads: templates, entities, connections and thesauri are
// created and mutated elsewhere. Store is therefore a read contract; the
// Memory implementation additionally exposes Put helpers for tests and
// seeding.
package datastore

// Package model defines the schema registry and record types shared by the
// indexing core: templates, properties, thesauri, entities, connections and
// settings.
//
// # Overview
//
// A Template describes one entity "type" as an ordered list of typed
// properties. Entities are language variants of a logical document sharing a
// SharedID. Connections are relationship edges between entities and double as
// the propagation edges for inherited metadata.
//
// The types here carry no behavior beyond lookups and validation; everything
// that reads or writes an index lives in the packages layered on top
// (pkg/mapping, pkg/transform, pkg/query, pkg/indexer).
//
// # Related Packages
//
//   - pkg/mapping: projects a Template into an index mapping fragment
//   - pkg/transform: projects an Entity into a search document
//   - pkg/datastore: loads these records from persistence
package model

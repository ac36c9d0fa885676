// Package mapping projects template definitions into index mapping
// fragments.
//
// Each property type has one registered field builder; adding a property type
// is a single registration in fieldBuilders. Fragments are pure functions of
// the template, idempotent, and additive: templates sharing an index only
// ever add fields, so applying a fragment never invalidates the fields of a
// previously mapped template. Reusing a property name with an incompatible
// type across templates is the one case the engine rejects (see
// engine.ErrMappingConflict).
package mapping

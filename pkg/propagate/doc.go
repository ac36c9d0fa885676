// Package propagate computes which entities hold stale denormalized
// inherited metadata after an entity or connection change.
//
// # Policy
//
// Over-inclusion is safe: an unnecessary reindex is wasted work. Under-
// inclusion serves stale inherited data to users and is a correctness bug.
// Whenever relationship direction or template matching is ambiguous (hub
// connections are bidirectional) the propagator includes both sides.
//
// # Reverse-reference index
//
// Instead of scanning the corpus for referencing entities on every change,
// the propagator maintains a reverse index from a sharedId to the sharedIds
// referencing it, rebuilt incrementally on connection changes. Memory and
// Redis backends implement the same contract.
package propagate

// Package indexer orchestrates the write path: it resolves everything a
// transform needs from the datastore, runs the pure transformer and writes
// the resulting documents to the engine in batches.
//
// Ordering rules:
//
//   - On any change, the affected-entity worklist is computed in full before
//     the first bulk write goes out. A write-then-read interleaving could
//     otherwise index a document and immediately invalidate it.
//   - Groups with different sharedIds reindex concurrently; operations on
//     one sharedId are serialized through a per-key lock.
//
// Failure rules: a bulk request the engine rejects outright fails the batch
// atomically and is retryable in full. Per-item failures are retried only
// for retryable error types; fatal item errors (mapping conflicts) surface
// to the caller without undoing the batch's successful items.
package indexer

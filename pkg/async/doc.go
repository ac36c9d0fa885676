// Package async provides safe concurrent execution primitives for background
// indexing work.
//
// SafeGo runs a function in a goroutine with panic recovery, a timeout and
// error logging; use it instead of a bare go statement so a failed background
// reindex cannot crash the process.
//
// WorkerPool is a bounded pool for fire-and-forget jobs with graceful
// shutdown.
//
// KeyedLocks serializes work per key: reindex batches for different sharedId
// groups may run concurrently, but operations on the same entity must not
// interleave.
package async

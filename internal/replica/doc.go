// Package replica keeps a live copy of one product's level 3 book.
//
// A Replica consumes sequenced feed events from a channel and runs each one
// through a sequence gate:
//
//	sequence <= current      Drop (duplicate or stale)
//	sequence == current + 1  Apply
//	sequence >  current + 1  GapResync
//
// A gap, or an event the book cannot apply, starts a resync: live events are
// buffered (bounded), a snapshot is fetched from the SnapshotSource with
// retries, the store is swapped in one step, and buffered events newer than
// the snapshot are replayed in order. Only one resync runs at a time.
//
// All mutation happens on the replica's run goroutine. Query methods take a
// read lock and are safe to call from any goroutine.
package replica

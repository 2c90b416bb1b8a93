// Package poller implements the Book Checkpointer component.
//
// The checkpointer:
//   - Walks every replica on a fixed interval (default 5 minutes)
//   - Copies the book of replicas that are live and have moved since the
//     last checkpoint
//   - Hands the copies to a SnapshotHandler with bounded concurrency
//   - Takes one final pass on Stop when configured to
package poller

// Package writer implements the Postgres writers.
//
// Writers:
//   - Match writer: batches captured matches into the matches table
//   - Book writer: stores replica checkpoints in book_checkpoints and
//     book_checkpoint_orders
//
// Both writers are append-only. Prices and sizes are written as NUMERIC
// text so no precision is lost.
package writer

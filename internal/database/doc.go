// Package database provides the PostgreSQL connection pool and schema for
// book checkpoints and captured matches.
package database

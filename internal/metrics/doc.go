// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Replica event throughput, stale drops, sequence gaps and book faults
//   - Resyncs by reason and snapshot fetch failures
//   - Pending buffer evictions during resync
//   - WebSocket reconnects and router message rates
//   - Writer rows and Kafka quote publishing
//
// Collectors are package-level and labelled by product where it applies.
// Init registers them on a fresh registry served by Handler.
package metrics

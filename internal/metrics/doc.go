// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Stream messages, applied and stale updates, decode errors per ingester
//   - Connection state, reconnects and subscribe batches
//   - Snapshot request outcomes and latency
//   - Writer flushes and rows written
//   - Sink delivery failures
//
// A nil *Metrics is valid and records nothing, so components can run with
// metrics disabled.
package metrics

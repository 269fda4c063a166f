// Package poller implements the Snapshot Poller component.
//
// The Snapshot Poller:
//   - Fetches the latest price for every known feed on a fixed interval
//   - Splits the key set into batches, one REST request each
//   - Bounds concurrent requests and retries transient failures with backoff
//   - Hands results to sinks with source="rest"; it never writes the stream cache
package poller

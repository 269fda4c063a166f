// Package model defines shared data types used across the feed ingestion engine.
//
// Conventions:
//   - Keys: FeedKey strings (normalized Hermes feed ids, or BlockStreamKey)
//   - Observations: integer mantissa scaled by a power-of-ten exponent
//   - Publish times: int64 seconds since Unix epoch
//   - Receive times: time.Time captured when the frame was read
//   - Session IDs: uuid.UUID, one per stream connection
package model

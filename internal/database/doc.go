// Package database manages the TimescaleDB connection pool and schema for
// the observation archive.
//
// Tables:
//   - price_observations: one row per accepted price update, keyed by
//     (feed_id, publish_time, source)
//   - block_observations: one row per accepted block, keyed by slot
//
// Both are converted to hypertables when the timescaledb extension is installed;
// plain PostgreSQL works too.
package database

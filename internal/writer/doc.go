// Package writer archives accepted updates to TimescaleDB.
//
// Writers:
//   - PriceWriter: price_observations, one row per (feed, publish time, source)
//   - BlockWriter: block_observations, one row per slot
//
// Each writer consumes a router buffer and inserts in pgx batches, flushing on
// batch size or interval. All writers are append-only: duplicate rows are
// dropped with ON CONFLICT DO NOTHING and counted as conflicts.
package writer

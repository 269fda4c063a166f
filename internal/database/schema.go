package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool used for schema management.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	createPriceTable = `CREATE TABLE IF NOT EXISTS price_observations (
	feed_id        TEXT        NOT NULL,
	publish_time   TIMESTAMPTZ NOT NULL,
	source         TEXT        NOT NULL,
	price          BIGINT      NOT NULL,
	conf           BIGINT      NOT NULL,
	expo           INTEGER     NOT NULL,
	ema_price      BIGINT      NOT NULL,
	ema_conf       BIGINT      NOT NULL,
	ema_expo       INTEGER     NOT NULL,
	ema_publish_time TIMESTAMPTZ NOT NULL,
	session_id     UUID,
	received_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (feed_id, publish_time, source)
)`

	createBlockTable = `CREATE TABLE IF NOT EXISTS block_observations (
	slot               BIGINT      NOT NULL,
	blockhash          TEXT        NOT NULL,
	previous_blockhash TEXT        NOT NULL,
	parent_slot        BIGINT      NOT NULL,
	block_time         TIMESTAMPTZ,
	block_height       BIGINT,
	transaction_count  INTEGER     NOT NULL,
	session_id         UUID,
	received_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (slot)
)`

	hasTimescale = `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`

	priceHypertable = `SELECT create_hypertable('price_observations', 'publish_time', if_not_exists => TRUE, migrate_data => TRUE)`

	// Slots are not timestamps; partition by integer range.
	blockHypertable = `SELECT create_hypertable('block_observations', 'slot', chunk_time_interval => 1000000, if_not_exists => TRUE, migrate_data => TRUE)`
)

// EnsureSchema creates the archive tables if missing, and converts them to
// hypertables when TimescaleDB is available.
func EnsureSchema(ctx context.Context, db Querier, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, stmt := range []string{createPriceTable, createBlockTable} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	var timescale bool
	if err := db.QueryRow(ctx, hasTimescale).Scan(&timescale); err != nil {
		return fmt.Errorf("check timescaledb extension: %w", err)
	}
	if !timescale {
		logger.Info("timescaledb extension not installed, using plain tables")
		return nil
	}

	for _, stmt := range []string{priceHypertable, blockHypertable} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create hypertable: %w", err)
		}
	}
	logger.Info("archive schema ready", "hypertables", true)
	return nil
}

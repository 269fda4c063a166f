package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// WriterConfig holds batching settings shared by all writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: time.Second,
	}
}

// BatchSender is satisfied by *pgxpool.Pool and *pgx.Conn.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterMetrics are cumulative counters for one writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Skipped   int64 // Updates that could not be converted to a row
	Errors    int64 // Failed flushes
	Flushes   int64
}

// priceRow is one row of price_observations.
type priceRow struct {
	FeedID         string
	PublishTime    time.Time
	Source         string
	Price          int64
	Conf           int64
	Expo           int32
	EMAPrice       int64
	EMAConf        int64
	EMAExpo        int32
	EMAPublishTime time.Time
	SessionID      pgtype.UUID
	ReceivedAt     time.Time
}

// blockRow is one row of block_observations.
type blockRow struct {
	Slot              int64
	Blockhash         string
	PreviousBlockhash string
	ParentSlot        int64
	BlockTime         pgtype.Timestamptz
	BlockHeight       pgtype.Int8
	TransactionCount  int32
	SessionID         pgtype.UUID
	ReceivedAt        time.Time
}

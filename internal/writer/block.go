package writer

import (
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/feedstream/internal/metrics"
	"github.com/rickgao/feedstream/internal/model"
	"github.com/rickgao/feedstream/internal/router"
)

const insertBlock = `
	INSERT INTO block_observations (
		slot, blockhash, previous_blockhash, parent_slot, block_time,
		block_height, transaction_count, session_id, received_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (slot) DO NOTHING
`

// BlockWriter consumes block updates and writes them to block_observations.
type BlockWriter struct {
	*batchWriter[blockRow]
}

// NewBlockWriter creates a BlockWriter reading from input.
func NewBlockWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[model.Update],
	db BatchSender,
	m *metrics.Metrics,
	logger *slog.Logger,
) *BlockWriter {
	w := &BlockWriter{newBatchWriter[blockRow]("block_observations", cfg, input, db, m, logger)}
	w.transform = toBlockRow
	w.queue = queueBlock
	return w
}

// toBlockRow converts a block update. Unknown block time and height become NULL.
func toBlockRow(u model.Update) (blockRow, bool) {
	if u.Block == nil {
		return blockRow{}, false
	}
	b := u.Block
	if b.Slot > math.MaxInt64 || b.ParentSlot > math.MaxInt64 {
		return blockRow{}, false
	}

	receivedAt := u.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	row := blockRow{
		Slot:              int64(b.Slot),
		Blockhash:         b.Blockhash,
		PreviousBlockhash: b.PreviousBlockhash,
		ParentSlot:        int64(b.ParentSlot),
		TransactionCount:  int32(b.TransactionCount),
		SessionID:         sessionUUID(u.SessionID),
		ReceivedAt:        receivedAt.UTC(),
	}
	if b.BlockTime != 0 {
		row.BlockTime = pgtype.Timestamptz{Time: time.Unix(b.BlockTime, 0).UTC(), Valid: true}
	}
	if b.BlockHeight != 0 && b.BlockHeight <= math.MaxInt64 {
		row.BlockHeight = pgtype.Int8{Int64: int64(b.BlockHeight), Valid: true}
	}
	return row, true
}

func queueBlock(b *pgx.Batch, r blockRow) {
	b.Queue(insertBlock,
		r.Slot, r.Blockhash, r.PreviousBlockhash, r.ParentSlot, r.BlockTime,
		r.BlockHeight, r.TransactionCount, r.SessionID, r.ReceivedAt,
	)
}

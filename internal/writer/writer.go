package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/feedstream/internal/metrics"
	"github.com/rickgao/feedstream/internal/model"
	"github.com/rickgao/feedstream/internal/router"
)

// batchWriter is the consume/batch/flush loop shared by the table writers.
// transform converts an update to a row (false skips it); queue appends the
// row's INSERT to a pgx batch.
type batchWriter[R any] struct {
	table  string
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the router
	input *router.GrowableBuffer[model.Update]

	// Database
	db BatchSender

	transform func(model.Update) (R, bool)
	queue     func(*pgx.Batch, R)

	// Batching
	batch       []R
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle. writeCtx carries ctx's values but not its cancellation, so a
	// batch taken from input is not lost when shutdown begins.
	ctx      context.Context
	writeCtx context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Metrics
	stats   WriterMetrics
	metrics *metrics.Metrics
}

func newBatchWriter[R any](
	table string,
	cfg WriterConfig,
	input *router.GrowableBuffer[model.Update],
	db BatchSender,
	m *metrics.Metrics,
	logger *slog.Logger,
) *batchWriter[R] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &batchWriter[R]{
		table:   table,
		cfg:     cfg,
		input:   input,
		db:      db,
		logger:  logger.With("writer", table),
		batch:   make([]R, 0, cfg.BatchSize),
		metrics: m,
	}
}

// Start begins consuming updates and writing to the database.
func (w *batchWriter[R]) Start(ctx context.Context) error {
	w.writeCtx = context.WithoutCancel(ctx)
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the writer. Updates still buffered are written in a final
// flush bounded by ctx.
func (w *batchWriter[R]) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
		return ctx.Err()
	}

	for _, u := range w.input.DrainTo(0) {
		w.add(u)
	}
	w.flush(ctx)

	w.logger.Info("writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *batchWriter[R]) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *batchWriter[R]) consumeLoop() {
	defer w.wg.Done()

	for {
		u, ok := w.input.Receive(w.ctx)
		if !ok {
			return
		}
		if w.add(u) {
			w.flush(w.writeCtx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *batchWriter[R]) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.writeCtx)
		}
	}
}

// add transforms an update and appends it to the batch. Reports whether the
// batch is full.
func (w *batchWriter[R]) add(u model.Update) bool {
	row, ok := w.transform(u)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	if !ok {
		w.stats.Skipped++
		return false
	}
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch to the database.
func (w *batchWriter[R]) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]R, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	w.metrics.WriterFlush(w.table, len(batch)-conflicts, err)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed batch",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert sends rows as one pgx.Batch and counts rows dropped by ON CONFLICT.
func (w *batchWriter[R]) batchInsert(ctx context.Context, rows []R) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		w.queue(batch, r)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// sessionUUID maps uuid.Nil (snapshot updates) to NULL.
func sessionUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

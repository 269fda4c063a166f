package writer

import (
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/feedstream/internal/metrics"
	"github.com/rickgao/feedstream/internal/model"
	"github.com/rickgao/feedstream/internal/router"
)

const insertPrice = `
	INSERT INTO price_observations (
		feed_id, publish_time, source, price, conf, expo,
		ema_price, ema_conf, ema_expo, ema_publish_time, session_id, received_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (feed_id, publish_time, source) DO NOTHING
`

// PriceWriter consumes price updates and writes them to price_observations.
type PriceWriter struct {
	*batchWriter[priceRow]
}

// NewPriceWriter creates a PriceWriter reading from input.
func NewPriceWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[model.Update],
	db BatchSender,
	m *metrics.Metrics,
	logger *slog.Logger,
) *PriceWriter {
	w := &PriceWriter{newBatchWriter[priceRow]("price_observations", cfg, input, db, m, logger)}
	w.transform = w.toRow
	w.queue = queuePrice
	return w
}

// toRow converts a price update. Confidence intervals beyond BIGINT range are
// skipped rather than truncated.
func (w *PriceWriter) toRow(u model.Update) (priceRow, bool) {
	if u.Price == nil {
		return priceRow{}, false
	}
	p := u.Price
	if p.Price.Conf > math.MaxInt64 || p.EMAPrice.Conf > math.MaxInt64 {
		w.logger.Warn("confidence out of range, skipping", "feed_id", p.ID, "conf", p.Price.Conf)
		return priceRow{}, false
	}

	receivedAt := u.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return priceRow{
		FeedID:         p.ID.String(),
		PublishTime:    p.Price.Time(),
		Source:         string(u.Source),
		Price:          p.Price.Price,
		Conf:           int64(p.Price.Conf),
		Expo:           p.Price.Expo,
		EMAPrice:       p.EMAPrice.Price,
		EMAConf:        int64(p.EMAPrice.Conf),
		EMAExpo:        p.EMAPrice.Expo,
		EMAPublishTime: p.EMAPrice.Time(),
		SessionID:      sessionUUID(u.SessionID),
		ReceivedAt:     receivedAt.UTC(),
	}, true
}

func queuePrice(b *pgx.Batch, r priceRow) {
	b.Queue(insertPrice,
		r.FeedID, r.PublishTime, r.Source, r.Price, r.Conf, r.Expo,
		r.EMAPrice, r.EMAConf, r.EMAExpo, r.EMAPublishTime, r.SessionID, r.ReceivedAt,
	)
}

package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/feedstream/internal/api"
	"github.com/rickgao/feedstream/internal/codec"
	"github.com/rickgao/feedstream/internal/ingest"
	"github.com/rickgao/feedstream/internal/metrics"
	"github.com/rickgao/feedstream/internal/model"
)

// KeySource provides the feed keys to poll. *ingest.Ingester satisfies it.
type KeySource interface {
	Keys() []model.FeedKey
}

// Fetcher performs one snapshot request. *api.Client satisfies it.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, keys []model.FeedKey, version int) (codec.Snapshot, error)
}

// Config holds poller configuration.
type Config struct {
	Interval     time.Duration // Poll interval (default: 1m)
	Concurrency  int           // Max concurrent requests (default: 4)
	Timeout      time.Duration // Per-request timeout (default: 10s)
	BatchSize    int           // Max keys per request (default: 100)
	APIVersion   int           // Snapshot payload version (default: 2)
	MaxRetries   int           // Retries after the first attempt (default: 3)
	RetryBackoff time.Duration // First retry delay, doubled per attempt (default: 1s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Minute,
		Concurrency:  4,
		Timeout:      10 * time.Second,
		BatchSize:    100,
		APIVersion:   2,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	Batches   int
	Published int64
	Failed    int64 // Batches that failed after all retries
}

// Poller periodically fetches price snapshots via the REST API.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	keys    KeySource
	sinks   []ingest.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, fetcher Fetcher, keys KeySource, sinks []ingest.Sink, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.APIVersion == 0 {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		keys:    keys,
		sinks:   sinks,
		metrics: m,
		logger:  logger.With("component", "poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
		"batch_size", p.cfg.BatchSize,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.PollOnce(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(p.ctx)
		}
	}
}

// PollOnce runs one cycle over every key from the KeySource.
func (p *Poller) PollOnce(ctx context.Context) CycleStats {
	start := time.Now()

	keys := p.keys.Keys()
	if len(keys) == 0 {
		p.logger.Debug("no feeds to poll")
		return CycleStats{}
	}

	batches := chunk(keys, p.cfg.BatchSize)
	var published, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, batch := range batches {
		g.Go(func() error {
			n, err := p.pollBatch(gctx, batch)
			if err != nil {
				if gctx.Err() == nil {
					p.logger.Warn("failed to poll batch", "keys", len(batch), "error", err)
				}
				failed.Add(1)
				return nil
			}
			published.Add(int64(n))
			return nil
		})
	}
	g.Wait()

	stats := CycleStats{
		Batches:   len(batches),
		Published: published.Load(),
		Failed:    failed.Load(),
	}
	p.logger.Info("poll cycle complete",
		"feeds", len(keys),
		"batches", stats.Batches,
		"published", stats.Published,
		"failed", stats.Failed,
		"duration", time.Since(start),
	)
	return stats
}

// pollBatch fetches one batch with retries and publishes every decoded feed.
func (p *Poller) pollBatch(ctx context.Context, keys []model.FeedKey) (int, error) {
	snap, err := p.fetchWithRetry(ctx, keys)
	if err != nil {
		return 0, err
	}

	receivedAt := time.Now()
	published := 0
	for i := range snap.Feeds {
		feed := snap.Feeds[i]
		u := model.Update{
			Key:        feed.ID,
			Source:     model.SourceSnapshot,
			ReceivedAt: receivedAt,
			Price:      &feed,
		}
		for _, s := range p.sinks {
			if err := s.Publish(u); err != nil {
				p.logger.Debug("sink rejected snapshot update", "key", feed.ID, "error", err)
				p.metrics.SinkError("poller")
			}
		}
		published++
	}
	return published, nil
}

func (p *Poller) fetchWithRetry(ctx context.Context, keys []model.FeedKey) (codec.Snapshot, error) {
	backoff := ingest.Backoff{Base: p.cfg.RetryBackoff, Max: p.cfg.RetryBackoff << p.cfg.MaxRetries}

	for attempt := 0; ; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		start := time.Now()
		snap, err := p.fetcher.FetchSnapshot(reqCtx, keys, p.cfg.APIVersion)
		cancel()
		p.metrics.SnapshotRequest(err, time.Since(start), len(snap.Feeds), len(snap.Errors))

		if err == nil {
			return snap, nil
		}
		if attempt >= p.cfg.MaxRetries || !retryable(err) {
			return codec.Snapshot{}, err
		}

		delay := backoff.Next()
		p.logger.Debug("retrying snapshot request", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return codec.Snapshot{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// retryable reports whether a failed request may succeed on retry: 5xx and 429
// responses, and transport failures that produced no response at all.
func retryable(err error) bool {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return errors.Is(err, model.ErrTransport)
}

func chunk(keys []model.FeedKey, size int) [][]model.FeedKey {
	batches := make([][]model.FeedKey, 0, (len(keys)+size-1)/size)
	for size < len(keys) {
		keys, batches = keys[size:], append(batches, keys[:size:size])
	}
	return append(batches, keys)
}

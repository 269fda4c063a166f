package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/feedstream/internal/api"
	"github.com/rickgao/feedstream/internal/codec"
	"github.com/rickgao/feedstream/internal/config"
	"github.com/rickgao/feedstream/internal/connection"
	"github.com/rickgao/feedstream/internal/database"
	"github.com/rickgao/feedstream/internal/ingest"
	"github.com/rickgao/feedstream/internal/metrics"
	"github.com/rickgao/feedstream/internal/model"
	"github.com/rickgao/feedstream/internal/poller"
	"github.com/rickgao/feedstream/internal/router"
	"github.com/rickgao/feedstream/internal/storage"
	"github.com/rickgao/feedstream/internal/version"
	"github.com/rickgao/feedstream/internal/writer"
)

// stopper is anything started by main that needs an orderly shutdown.
type stopper interface {
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/ingester.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting ingester",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"feeds", len(cfg.Hermes.FeedIDs),
		"solana", cfg.Solana.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ingester failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ingester stopped")
}

func run(ctx context.Context, cfg *config.ServiceConfig, logger *slog.Logger) error {
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// Router fans accepted updates out to the archive and the mirror.
	rtr := router.New(router.Config{
		InitialCapacity: cfg.Writers.BufferSize,
		MaxCapacity:     cfg.Writers.MaxBufferSize,
	}, m, logger)
	sinks := []ingest.Sink{rtr}

	var stoppers []stopper

	// Archive
	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.Timescale, "feedstream-"+cfg.Instance.ID)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool, logger); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}

		wcfg := writer.WriterConfig{BatchSize: cfg.Writers.BatchSize, FlushInterval: cfg.Writers.FlushInterval}
		pw := writer.NewPriceWriter(wcfg, rtr.Route("timescale-prices", router.KindPrice), pool, m, logger)
		if err := pw.Start(ctx); err != nil {
			return fmt.Errorf("start price writer: %w", err)
		}
		stoppers = append(stoppers, pw)

		if cfg.Solana.Enabled {
			bw := writer.NewBlockWriter(wcfg, rtr.Route("timescale-blocks", router.KindBlock), pool, m, logger)
			if err := bw.Start(ctx); err != nil {
				return fmt.Errorf("start block writer: %w", err)
			}
			stoppers = append(stoppers, bw)
		}
	}

	// Latest-value mirror
	if cfg.Redis.Enabled {
		rs, err := storage.NewRedisStorage(storage.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TTL:       cfg.Redis.TTL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Metrics:   m,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rs.Close()

		rs.Start(ctx, rtr.Route("redis", router.KindAll))
		stoppers = append(stoppers, rs)
	}

	// Writers and the mirror stop after the router closes, so they drain.
	sinkStoppers := stoppers
	stoppers = nil

	// Ingesters
	ingCfg := ingest.Config{
		ReconnectBase: cfg.Connections.ReconnectBaseDelay,
		ReconnectMax:  cfg.Connections.ReconnectMaxDelay,
		Sinks:         sinks,
		Metrics:       m,
	}

	priceCfg := ingCfg
	priceCfg.InitialKeys = model.Keys(cfg.Hermes.FeedIDs...)
	prices := ingest.NewPriceIngester(priceCfg, connection.Dialer(clientConfig(cfg.Connections, cfg.Hermes.WSURL), logger), logger)
	if err := prices.Start(ctx); err != nil {
		return fmt.Errorf("start price ingester: %w", err)
	}
	stoppers = append(stoppers, prices)

	var blocks *ingest.Ingester[model.Block]
	if cfg.Solana.Enabled {
		sub := codec.BlockSubscribeConfig{
			Commitment:                     cfg.Solana.Commitment,
			Encoding:                       cfg.Solana.Encoding,
			ShowRewards:                    *cfg.Solana.ShowRewards,
			TransactionDetails:             cfg.Solana.TransactionDetails,
			MaxSupportedTransactionVersion: cfg.Solana.MaxSupportedTransactionVersion,
		}
		blocks = ingest.NewBlockIngester(ingCfg, sub, connection.Dialer(clientConfig(cfg.Connections, cfg.Solana.WSURL), logger), logger)
		if err := blocks.Start(ctx); err != nil {
			return fmt.Errorf("start block ingester: %w", err)
		}
		stoppers = append(stoppers, blocks)
	}

	// Snapshot poller
	if cfg.Poller.Enabled {
		client := api.NewClient(cfg.Hermes.RestURL,
			api.WithLogger(logger),
			api.WithTimeout(cfg.Hermes.Timeout),
			api.WithRateLimit(cfg.Hermes.RequestsPerSecond),
		)
		p := poller.New(poller.Config{
			Interval:     cfg.Poller.Interval,
			Concurrency:  cfg.Poller.Concurrency,
			Timeout:      cfg.Hermes.Timeout,
			BatchSize:    cfg.Hermes.BatchSize,
			APIVersion:   cfg.Hermes.APIVersion,
			MaxRetries:   cfg.Poller.MaxRetries,
			RetryBackoff: cfg.Poller.RetryBackoff,
		}, client, prices, sinks, m, logger)
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
		// Poller stops first.
		stoppers = append([]stopper{p}, stoppers...)
	}

	// Health and metrics server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metrics.Handler(reg, cfg.Metrics.Path, healthFunc(prices, blocks, pool, rtr)),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("ingester running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, s := range stoppers {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.Warn("stop failed", "error", err)
		}
	}
	rtr.Close()
	for _, s := range sinkStoppers {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.Warn("stop failed", "error", err)
		}
	}

	healthServer.Shutdown(shutdownCtx)
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func clientConfig(c config.ConnectionsConfig, url string) connection.ClientConfig {
	return connection.ClientConfig{
		URL:              url,
		HandshakeTimeout: c.HandshakeTimeout,
		PingInterval:     c.PingInterval,
		PingTimeout:      c.PingTimeout,
		WriteTimeout:     c.WriteTimeout,
		ReadLimit:        c.ReadLimit,
		BufferSize:       c.BufferSize,
	}
}

// healthFunc reports unhealthy while the price stream is not streaming or the
// archive database is unreachable.
func healthFunc(
	prices *ingest.Ingester[model.PriceFeed],
	blocks *ingest.Ingester[model.Block],
	pool *pgxpool.Pool,
	rtr *router.Router,
) metrics.HealthFunc {
	return func() (bool, map[string]any) {
		healthy := true
		components := map[string]any{
			"version": version.Info(),
			"router":  rtr.Stats(),
		}

		components["prices"] = ingesterHealth(prices.State(), len(prices.Keys()), len(prices.Snapshot()))
		if prices.State() != ingest.StateStreaming {
			healthy = false
		}

		if blocks != nil {
			components["blocks"] = ingesterHealth(blocks.State(), len(blocks.Keys()), len(blocks.Snapshot()))
			if blocks.State() != ingest.StateStreaming {
				healthy = false
			}
		}

		if pool != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				healthy = false
				components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				components["timescaledb"] = "connected"
			}
		}

		return healthy, components
	}
}

func ingesterHealth(state ingest.State, keys, cached int) map[string]any {
	return map[string]any{
		"state":  state.String(),
		"keys":   keys,
		"cached": cached,
	}
}

// streamtest connects to the Hermes price stream (and optionally a Solana
// block stream) and prints accepted updates to the console.
// Usage: go run ./cmd/streamtest --config configs/ingester.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/feedstream/internal/codec"
	"github.com/rickgao/feedstream/internal/config"
	"github.com/rickgao/feedstream/internal/connection"
	"github.com/rickgao/feedstream/internal/ingest"
	"github.com/rickgao/feedstream/internal/model"
	"github.com/rickgao/feedstream/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/ingester.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full update JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Hermes.FeedIDs) == 0 {
		logger.Error("no feeds configured", "hint", "set hermes.feed_ids")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	rtr := router.New(router.DefaultConfig(), nil, logger)
	console := rtr.Route("console", router.KindAll)

	connCfg := connection.DefaultClientConfig()
	connCfg.URL = cfg.Hermes.WSURL

	ingCfg := ingest.Config{
		InitialKeys:   model.Keys(cfg.Hermes.FeedIDs...),
		ReconnectBase: cfg.Connections.ReconnectBaseDelay,
		ReconnectMax:  cfg.Connections.ReconnectMaxDelay,
		Sinks:         []ingest.Sink{rtr},
	}
	prices := ingest.NewPriceIngester(ingCfg, connection.Dialer(connCfg, logger), logger)

	logger.Info("starting price stream", "url", connCfg.URL, "feeds", len(cfg.Hermes.FeedIDs))
	if err := prices.Start(ctx); err != nil {
		logger.Error("failed to start price ingester", "error", err)
		os.Exit(1)
	}

	var blocks *ingest.Ingester[model.Block]
	if cfg.Solana.Enabled {
		blockConn := connection.DefaultClientConfig()
		blockConn.URL = cfg.Solana.WSURL

		sub := codec.DefaultBlockSubscribeConfig()
		sub.Commitment = cfg.Solana.Commitment

		blocks = ingest.NewBlockIngester(ingest.Config{Sinks: []ingest.Sink{rtr}}, sub, connection.Dialer(blockConn, logger), logger)
		logger.Info("starting block stream", "url", blockConn.URL)
		if err := blocks.Start(ctx); err != nil {
			logger.Error("failed to start block ingester", "error", err)
			os.Exit(1)
		}
	}

	// Console printer
	go printUpdates(ctx, console, *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				routerStats := rtr.Stats()
				logger.Info("stats",
					"price_state", prices.State(),
					"active", len(prices.Active()),
					"pending", len(prices.Pending()),
					"cached", len(prices.Snapshot()),
					"published", routerStats.Published,
					"dropped", routerStats.Dropped,
					"console_buf", console.Len(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	prices.Stop(shutdownCtx)
	if blocks != nil {
		blocks.Stop(shutdownCtx)
	}
	rtr.Close()

	logger.Info("shutdown complete")
}

func printUpdates(ctx context.Context, buf *router.GrowableBuffer[model.Update], verbose bool) {
	for {
		u, ok := buf.Receive(ctx)
		if !ok {
			return
		}

		if verbose {
			data, _ := json.MarshalIndent(u, "", "  ")
			fmt.Printf("[UPDATE] %s\n", data)
			continue
		}

		switch {
		case u.Price != nil:
			fmt.Printf("[PRICE] id=%s price=%g conf=%g publish_time=%s\n",
				u.Key, u.Price.Price.Float64(), u.Price.Price.ConfFloat64(), u.Price.Price.Time().Format(time.RFC3339))
		case u.Block != nil:
			fmt.Printf("[BLOCK] slot=%d hash=%s parent=%d txs=%d\n",
				u.Block.Slot, u.Block.Blockhash, u.Block.ParentSlot, u.Block.TransactionCount)
		}
	}
}

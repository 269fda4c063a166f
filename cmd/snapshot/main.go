// snapshot fetches the latest prices for a set of feeds once and prints them.
// Usage: go run ./cmd/snapshot -ids 0xe62d...,0xff61... [-api-version 1]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rickgao/feedstream/internal/api"
	"github.com/rickgao/feedstream/internal/model"
)

func main() {
	baseURL := flag.String("url", api.DefaultBaseURL, "Hermes REST base URL")
	ids := flag.String("ids", "", "comma-separated feed ids")
	apiVersion := flag.Int("api-version", 2, "snapshot payload version (1 or 2)")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	asJSON := flag.Bool("json", false, "print feeds as JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	keys := model.Keys(splitIDs(*ids)...)
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "usage: snapshot -ids <id>[,<id>...]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := api.NewClient(*baseURL, api.WithLogger(logger), api.WithTimeout(*timeout))
	snap, err := client.FetchSnapshot(ctx, keys, *apiVersion)
	if err != nil {
		logger.Error("snapshot failed", "error", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(snap.Feeds)
	} else {
		for _, f := range snap.Feeds {
			fmt.Printf("%s\n  price:     %s = %g\n  ema_price: %s = %g\n",
				f.ID, f.Price, f.Price.Float64(), f.EMAPrice, f.EMAPrice.Float64())
		}
	}

	if len(snap.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "%d record(s) dropped\n", len(snap.Errors))
	}
	if snap.Binary != nil {
		fmt.Fprintf(os.Stderr, "binary update: %s, %d chunk(s)\n", snap.Binary.Encoding, len(snap.Binary.Data))
	}
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

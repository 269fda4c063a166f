package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/feedstream/internal/codec"
	"github.com/rickgao/feedstream/internal/model"
)

const (
	pathLatestV1 = "/api/latest_price_feeds"
	pathLatestV2 = "/v2/updates/price/latest"
)

// Fetch retrieves the current price and EMA price for keys.
//
// Records that fail to decode are logged and dropped; the remaining feeds are
// returned. A body that cannot be parsed at all fails the call with a
// *codec.DecodeError.
func (c *Client) Fetch(ctx context.Context, keys []model.FeedKey, version int) ([]model.PriceFeed, error) {
	snap, err := c.FetchSnapshot(ctx, keys, version)
	if err != nil {
		return nil, err
	}
	return snap.Feeds, nil
}

// FetchSnapshot is Fetch with the full decode result, including the v2 binary
// blob and per-record errors.
func (c *Client) FetchSnapshot(ctx context.Context, keys []model.FeedKey, version int) (codec.Snapshot, error) {
	v, err := codec.ParseVersion(version)
	if err != nil {
		return codec.Snapshot{}, err
	}
	if len(keys) == 0 {
		return codec.Snapshot{}, fmt.Errorf("%w: no feed ids", model.ErrInvalidArgument)
	}

	path, query := snapshotRequest(v, keys)

	body, err := c.doRequest(ctx, path, query)
	if err != nil {
		return codec.Snapshot{}, err
	}

	snap, err := codec.DecodeSnapshot(v, body)
	if err != nil {
		return codec.Snapshot{}, err
	}

	for _, recErr := range snap.Errors {
		c.logger.Warn("dropping malformed snapshot record", "version", version, "error", recErr)
	}

	c.logger.Debug("fetched snapshot",
		"version", version,
		"requested", len(keys),
		"decoded", len(snap.Feeds),
		"dropped", len(snap.Errors),
	)

	return snap, nil
}

// snapshotRequest builds the path and query for one snapshot call.
// ids[] carries the comma-joined key list.
func snapshotRequest(v codec.Version, keys []model.FeedKey) (string, url.Values) {
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.String()
	}

	query := url.Values{}
	query.Set("ids[]", strings.Join(ids, ","))

	if v == codec.V1 {
		query.Set("binary", "true")
		return pathLatestV1, query
	}
	query.Set("encoding", "base64")
	query.Set("parsed", "true")
	return pathLatestV2, query
}

package ingest

import (
	"sync/atomic"

	"github.com/rickgao/feedstream/internal/codec"
	"github.com/rickgao/feedstream/internal/model"
)

// Protocol adapts one push endpoint's wire format to the ingestion loop.
type Protocol[V model.Versioned] interface {
	// Name labels logs and metrics.
	Name() string

	// Normalize maps a caller-supplied key to the form the stream reports.
	Normalize(key model.FeedKey) model.FeedKey

	// Subscribe builds one subscribe control message covering keys.
	Subscribe(keys []model.FeedKey) ([]byte, error)

	// Unsubscribe builds an unsubscribe control message, or returns nil if the
	// endpoint has none.
	Unsubscribe(keys []model.FeedKey) ([]byte, error)

	// Decode parses one text frame.
	Decode(raw []byte) (codec.Event, error)

	// Extract returns the cache entry carried by a data event.
	// ok is false for events that do not update the cache.
	Extract(ev codec.Event) (key model.FeedKey, v V, ok bool)
}

// PriceProtocol speaks the Hermes price stream.
type PriceProtocol struct{}

var _ Protocol[model.PriceFeed] = PriceProtocol{}

func (PriceProtocol) Name() string { return "price" }

func (PriceProtocol) Normalize(key model.FeedKey) model.FeedKey {
	return model.NormalizeFeedID(string(key))
}

func (PriceProtocol) Subscribe(keys []model.FeedKey) ([]byte, error) {
	return codec.EncodeSubscribe(keys)
}

func (PriceProtocol) Unsubscribe(keys []model.FeedKey) ([]byte, error) {
	return codec.EncodeUnsubscribe(keys)
}

func (PriceProtocol) Decode(raw []byte) (codec.Event, error) {
	return codec.DecodeStreamMessage(raw)
}

func (PriceProtocol) Extract(ev codec.Event) (model.FeedKey, model.PriceFeed, bool) {
	if pu, ok := ev.(codec.PriceUpdate); ok {
		return pu.Feed.ID, pu.Feed, true
	}
	return "", model.PriceFeed{}, false
}

// BlockProtocol speaks Solana's blockSubscribe. Every key normalizes to
// model.BlockStreamKey.
type BlockProtocol struct {
	cfg    codec.BlockSubscribeConfig
	nextID atomic.Int64
}

var _ Protocol[model.Block] = (*BlockProtocol)(nil)

// NewBlockProtocol creates a block protocol with the given subscribe params.
func NewBlockProtocol(cfg codec.BlockSubscribeConfig) *BlockProtocol {
	return &BlockProtocol{cfg: cfg}
}

func (p *BlockProtocol) Name() string { return "block" }

func (p *BlockProtocol) Normalize(model.FeedKey) model.FeedKey {
	return model.BlockStreamKey
}

// Subscribe ignores keys; blockSubscribe covers the whole stream.
func (p *BlockProtocol) Subscribe([]model.FeedKey) ([]byte, error) {
	return codec.EncodeBlockSubscribe(p.nextID.Add(1), p.cfg)
}

// Unsubscribe returns nil. Updates for an unregistered stream are dropped
// locally until the next reconnect.
func (p *BlockProtocol) Unsubscribe([]model.FeedKey) ([]byte, error) {
	return nil, nil
}

func (p *BlockProtocol) Decode(raw []byte) (codec.Event, error) {
	return codec.DecodeBlockMessage(raw)
}

func (p *BlockProtocol) Extract(ev codec.Event) (model.FeedKey, model.Block, bool) {
	if bu, ok := ev.(codec.BlockUpdate); ok && !bu.HasError() {
		return model.BlockStreamKey, bu.Block, true
	}
	return "", model.Block{}, false
}

package ingest

import (
	"testing"

	"github.com/rickgao/feedstream/internal/codec"
	"github.com/rickgao/feedstream/internal/model"
)

func TestPriceProtocol(t *testing.T) {
	p := PriceProtocol{}

	if got := p.Normalize("0xABCD"); got != "abcd" {
		t.Errorf("Normalize() = %q, want abcd", got)
	}

	feed := model.PriceFeed{ID: "abcd", Price: model.Observation{PublishTime: 5}}
	key, v, ok := p.Extract(codec.PriceUpdate{Feed: feed})
	if !ok || key != "abcd" || v.Version() != 5 {
		t.Errorf("Extract(PriceUpdate) = %q, %+v, %v", key, v, ok)
	}

	for _, ev := range []codec.Event{codec.SubscribeAck{OK: true}, codec.Unrecognized{Type: "x"}, codec.BlockUpdate{Slot: 1}} {
		if _, _, ok := p.Extract(ev); ok {
			t.Errorf("Extract(%T) should not produce an entry", ev)
		}
	}

	msg, err := p.Unsubscribe([]model.FeedKey{"abcd"})
	if err != nil || string(msg) != `{"ids":["abcd"],"type":"unsubscribe"}` {
		t.Errorf("Unsubscribe() = %s, %v", msg, err)
	}
}

func TestBlockProtocol(t *testing.T) {
	p := NewBlockProtocol(codec.DefaultBlockSubscribeConfig())

	if got := p.Normalize("whatever"); got != model.BlockStreamKey {
		t.Errorf("Normalize() = %q, want %q", got, model.BlockStreamKey)
	}

	key, v, ok := p.Extract(codec.BlockUpdate{Slot: 9, Block: model.Block{Slot: 9}})
	if !ok || key != model.BlockStreamKey || v.Version() != 9 {
		t.Errorf("Extract(BlockUpdate) = %q, %+v, %v", key, v, ok)
	}
	if _, _, ok := p.Extract(codec.BlockUpdate{Slot: 9, Err: `"boom"`}); ok {
		t.Error("errored block should not produce an entry")
	}

	// Request ids increase per subscribe.
	first, _ := p.Subscribe(nil)
	second, _ := p.Subscribe(nil)
	if string(first) == string(second) {
		t.Error("subscribe requests should carry distinct ids")
	}

	if msg, err := p.Unsubscribe([]model.FeedKey{model.BlockStreamKey}); msg != nil || err != nil {
		t.Errorf("Unsubscribe() = %s, %v, want nil, nil", msg, err)
	}
}

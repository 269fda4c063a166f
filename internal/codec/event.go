package codec

import "github.com/rickgao/feedstream/internal/model"

// Event is a decoded stream message. The set of implementations is closed.
type Event interface {
	isEvent()
}

// SubscribeAck is the server's answer to a subscribe control message.
// The whole batch is acknowledged or refused as one unit.
type SubscribeAck struct {
	OK             bool
	Reason         string // Server-provided error text when !OK
	SubscriptionID uint64 // JSON-RPC subscription id (block stream only)
}

// PriceUpdate carries one price/EMA pair for Feed.ID.
type PriceUpdate struct {
	Feed model.PriceFeed
}

// BlockUpdate carries one block notification. Err holds the raw error JSON when
// the node reported a failure for this slot; Block is then typically empty.
type BlockUpdate struct {
	Slot  uint64
	Err   string
	Block model.Block
}

// HasError reports whether the node attached an error to this slot.
func (b BlockUpdate) HasError() bool {
	return b.Err != ""
}

// Unrecognized is a well-formed message of a type this engine does not consume.
type Unrecognized struct {
	Type string
}

func (SubscribeAck) isEvent() {}
func (PriceUpdate) isEvent()  {}
func (BlockUpdate) isEvent()  {}
func (Unrecognized) isEvent() {}

package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FeedKey identifies a subscribable entity: a price feed id, or BlockStreamKey.
type FeedKey string

// BlockStreamKey is the singleton key under which the block stream is cached.
const BlockStreamKey FeedKey = "blocks"

func (k FeedKey) String() string {
	return string(k)
}

// NormalizeFeedID lower-cases a Hermes feed id and strips the 0x prefix.
// Hermes stream messages omit the prefix, so registrations must match that form.
func NormalizeFeedID(id string) FeedKey {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "0x")
	return FeedKey(id)
}

// Keys converts raw strings into FeedKeys without normalization.
func Keys(ids ...string) []FeedKey {
	keys := make([]FeedKey, len(ids))
	for i, id := range ids {
		keys[i] = FeedKey(id)
	}
	return keys
}

// -----------------------------------------------------------------------------
// Observation Types
// -----------------------------------------------------------------------------

// Observation is one decoded value: Price * 10^Expo, with uncertainty Conf in the same scale.
type Observation struct {
	Conf        uint64 // Confidence interval (same scale as Price)
	Expo        int32  // Power-of-ten exponent
	Price       int64  // Signed mantissa
	PublishTime int64  // Seconds since epoch
}

// Float64 returns the scaled value.
func (o Observation) Float64() float64 {
	return float64(o.Price) * math.Pow10(int(o.Expo))
}

// ConfFloat64 returns the scaled confidence interval.
func (o Observation) ConfFloat64() float64 {
	return float64(o.Conf) * math.Pow10(int(o.Expo))
}

// Time returns PublishTime as a UTC time.
func (o Observation) Time() time.Time {
	return time.Unix(o.PublishTime, 0).UTC()
}

func (o Observation) String() string {
	return fmt.Sprintf("Observation(conf=%d, expo=%d, price=%d, publish_time=%d)",
		o.Conf, o.Expo, o.Price, o.PublishTime)
}

// PriceFeed pairs the direct price with its exponentially-weighted moving average.
// Both halves decode together or the feed is discarded.
type PriceFeed struct {
	ID       FeedKey
	Price    Observation
	EMAPrice Observation
}

// Version orders feeds by publish time of the direct price.
func (p PriceFeed) Version() int64 {
	return p.Price.PublishTime
}

// Block is the summary of one block notification.
type Block struct {
	Slot              uint64
	Blockhash         string
	PreviousBlockhash string
	ParentSlot        uint64
	BlockTime         int64  // Seconds since epoch, 0 if unknown
	BlockHeight       uint64 // 0 if unknown
	TransactionCount  int
}

// Version orders blocks by slot.
func (b Block) Version() int64 {
	return int64(b.Slot)
}

// Versioned values can be ordered so that older arrivals do not replace newer ones.
type Versioned interface {
	Version() int64
}

// -----------------------------------------------------------------------------
// Downstream Types
// -----------------------------------------------------------------------------

// Source identifies where an update came from.
type Source string

const (
	SourceStream   Source = "ws"
	SourceSnapshot Source = "rest"
)

// Update is an accepted observation handed to downstream sinks.
// Exactly one of Price and Block is set.
type Update struct {
	Key        FeedKey
	Source     Source
	SessionID  uuid.UUID // Stream session that delivered it (uuid.Nil for snapshots)
	ReceivedAt time.Time
	Price      *PriceFeed
	Block      *Block
}

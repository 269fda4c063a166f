package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rickgao/feedstream/internal/model"
)

// Version selects the snapshot payload shape.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

// ParseVersion validates a snapshot API version.
func ParseVersion(n int) (Version, error) {
	switch Version(n) {
	case V1, V2:
		return Version(n), nil
	}
	return 0, fmt.Errorf("%w: %d", model.ErrUnsupportedVersion, n)
}

// priceJSON is the wire form of one observation. price and conf are decimal strings.
type priceJSON struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// feedJSON is the per-feed object shared by v1 snapshots, v2 "parsed" entries
// and stream price_update messages.
type feedJSON struct {
	ID       string          `json:"id"`
	Price    *priceJSON      `json:"price"`
	EMAPrice *priceJSON      `json:"ema_price"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	VAA      string          `json:"vaa,omitempty"`
}

// BinaryBlob is the v2 update payload. It is passed through, not parsed.
type BinaryBlob struct {
	Encoding string   `json:"encoding"`
	Data     []string `json:"data"`
}

type v2Response struct {
	Binary *BinaryBlob       `json:"binary"`
	Parsed []json.RawMessage `json:"parsed"`
}

// Snapshot is the result of decoding one snapshot response.
// Feeds holds every record that decoded; Errors holds one *DecodeError per record that did not.
type Snapshot struct {
	Feeds  []model.PriceFeed
	Binary *BinaryBlob // v2 only
	Errors []error
}

// DecodeSnapshot decodes a snapshot body. It fails only when the body as a whole
// cannot be parsed; individual bad records are collected in Snapshot.Errors.
func DecodeSnapshot(v Version, raw []byte) (Snapshot, error) {
	var elems []json.RawMessage
	var snap Snapshot

	switch v {
	case V1:
		if err := json.Unmarshal(raw, &elems); err != nil {
			return Snapshot{}, decodeErr("", "body", err)
		}
	case V2:
		var resp v2Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return Snapshot{}, decodeErr("", "body", err)
		}
		elems = resp.Parsed
		snap.Binary = resp.Binary
	default:
		return Snapshot{}, fmt.Errorf("%w: %d", model.ErrUnsupportedVersion, v)
	}

	snap.Feeds = make([]model.PriceFeed, 0, len(elems))
	for _, elem := range elems {
		feed, err := DecodeFeed(elem)
		if err != nil {
			snap.Errors = append(snap.Errors, err)
			continue
		}
		snap.Feeds = append(snap.Feeds, feed)
	}

	return snap, nil
}

// DecodeFeed decodes a single feed object with both price and ema_price.
func DecodeFeed(raw []byte) (model.PriceFeed, error) {
	var f feedJSON
	if err := json.Unmarshal(raw, &f); err != nil {
		return model.PriceFeed{}, decodeErr("", "", err)
	}
	return f.toModel()
}

func (f *feedJSON) toModel() (model.PriceFeed, error) {
	key := model.NormalizeFeedID(f.ID)
	if key == "" {
		return model.PriceFeed{}, decodeErr("", "id", errors.New("missing feed id"))
	}

	price, err := f.Price.toModel(key, "price")
	if err != nil {
		return model.PriceFeed{}, err
	}
	ema, err := f.EMAPrice.toModel(key, "ema_price")
	if err != nil {
		return model.PriceFeed{}, err
	}

	return model.PriceFeed{ID: key, Price: price, EMAPrice: ema}, nil
}

func (p *priceJSON) toModel(key model.FeedKey, field string) (model.Observation, error) {
	if p == nil {
		return model.Observation{}, decodeErr(key, field, errors.New("missing"))
	}

	price, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return model.Observation{}, decodeErr(key, field+".price", err)
	}

	// ParseUint rejects a leading '-', which enforces conf >= 0.
	conf, err := strconv.ParseUint(p.Conf, 10, 64)
	if err != nil {
		return model.Observation{}, decodeErr(key, field+".conf", err)
	}

	return model.Observation{
		Conf:        conf,
		Expo:        p.Expo,
		Price:       price,
		PublishTime: p.PublishTime,
	}, nil
}

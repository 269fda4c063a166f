package codec

import (
	"encoding/json"
	"errors"

	"github.com/rickgao/feedstream/internal/model"
)

// Hermes stream message types.
const (
	TypeResponse    = "response"
	TypePriceUpdate = "price_update"

	statusSuccess = "success"
)

// hermesEnvelope covers every inbound Hermes stream message.
type hermesEnvelope struct {
	Type      string          `json:"type"`
	Status    string          `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
	PriceFeed json.RawMessage `json:"price_feed,omitempty"`
}

// DecodeStreamMessage decodes one Hermes stream text frame.
func DecodeStreamMessage(raw []byte) (Event, error) {
	var env hermesEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, decodeErr("", "envelope", err)
	}

	switch env.Type {
	case "":
		return nil, decodeErr("", "type", errors.New("missing message type"))

	case TypeResponse:
		return SubscribeAck{
			OK:     env.Status == statusSuccess,
			Reason: env.Error,
		}, nil

	case TypePriceUpdate:
		if len(env.PriceFeed) == 0 || string(env.PriceFeed) == "null" {
			return nil, decodeErr("", "price_feed", errors.New("missing"))
		}
		feed, err := DecodeFeed(env.PriceFeed)
		if err != nil {
			return nil, err
		}
		return PriceUpdate{Feed: feed}, nil
	}

	return Unrecognized{Type: env.Type}, nil
}

// subscribeRequest is the Hermes subscribe/unsubscribe control message.
type subscribeRequest struct {
	IDs     []string `json:"ids"`
	Type    string   `json:"type"`
	Verbose bool     `json:"verbose,omitempty"`
	Binary  bool     `json:"binary,omitempty"`
}

// EncodeSubscribe builds {"ids":[...],"type":"subscribe","verbose":true,"binary":true}.
func EncodeSubscribe(keys []model.FeedKey) ([]byte, error) {
	return json.Marshal(subscribeRequest{
		IDs:     keyStrings(keys),
		Type:    "subscribe",
		Verbose: true,
		Binary:  true,
	})
}

// EncodeUnsubscribe builds {"ids":[...],"type":"unsubscribe"}.
func EncodeUnsubscribe(keys []model.FeedKey) ([]byte, error) {
	return json.Marshal(subscribeRequest{
		IDs:  keyStrings(keys),
		Type: "unsubscribe",
	})
}

func keyStrings(keys []model.FeedKey) []string {
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = string(k)
	}
	return ids
}

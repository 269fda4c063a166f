package codec

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/rickgao/feedstream/internal/model"
)

// MethodBlockNotification is the JSON-RPC method of pushed blocks.
const MethodBlockNotification = "blockNotification"

// BlockSubscribeConfig is the second positional param of blockSubscribe.
type BlockSubscribeConfig struct {
	Commitment                     string `json:"commitment"`
	Encoding                       string `json:"encoding"`
	ShowRewards                    bool   `json:"showRewards"`
	TransactionDetails             string `json:"transactionDetails"`
	MaxSupportedTransactionVersion int    `json:"maxSupportedTransactionVersion"`
}

// DefaultBlockSubscribeConfig matches the node defaults used for full block capture.
func DefaultBlockSubscribeConfig() BlockSubscribeConfig {
	return BlockSubscribeConfig{
		Commitment:                     "confirmed",
		Encoding:                       "base64",
		ShowRewards:                    true,
		TransactionDetails:             "full",
		MaxSupportedTransactionVersion: 0,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type blockParams struct {
	Result struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Slot  uint64          `json:"slot"`
			Err   json.RawMessage `json:"err"`
			Block *struct {
				Blockhash         string            `json:"blockhash"`
				PreviousBlockhash string            `json:"previousBlockhash"`
				ParentSlot        uint64            `json:"parentSlot"`
				BlockTime         *int64            `json:"blockTime"`
				BlockHeight       *uint64           `json:"blockHeight"`
				Transactions      []json.RawMessage `json:"transactions"`
			} `json:"block"`
		} `json:"value"`
	} `json:"result"`
	Subscription uint64 `json:"subscription"`
}

// EncodeBlockSubscribe builds a JSON-RPC blockSubscribe request for all blocks.
func EncodeBlockSubscribe(id int64, cfg BlockSubscribeConfig) ([]byte, error) {
	return json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "blockSubscribe",
		Params:  []any{"all", cfg},
	})
}

// DecodeBlockMessage decodes one JSON-RPC text frame from a block subscription.
func DecodeBlockMessage(raw []byte) (Event, error) {
	var env rpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, decodeErr("", "envelope", err)
	}

	if env.Method == MethodBlockNotification {
		return decodeBlockNotification(env.Params)
	}

	if env.ID != nil {
		if env.Error != nil {
			return SubscribeAck{OK: false, Reason: env.Error.Message}, nil
		}
		if len(env.Result) > 0 {
			var subID uint64
			if err := json.Unmarshal(env.Result, &subID); err != nil {
				return nil, decodeErr("", "result", err)
			}
			return SubscribeAck{OK: true, SubscriptionID: subID}, nil
		}
	}

	if env.Method == "" {
		return nil, decodeErr("", "method", errors.New("neither a response nor a notification"))
	}
	return Unrecognized{Type: env.Method}, nil
}

func decodeBlockNotification(raw json.RawMessage) (Event, error) {
	if len(raw) == 0 {
		return nil, decodeErr(model.BlockStreamKey, "params", errors.New("missing"))
	}

	var p blockParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, decodeErr(model.BlockStreamKey, "params", err)
	}

	v := p.Result.Value
	slot := v.Slot
	if slot == 0 {
		slot = p.Result.Context.Slot
	}

	update := BlockUpdate{Slot: slot}
	if e := bytes.TrimSpace(v.Err); len(e) > 0 && !bytes.Equal(e, []byte("null")) {
		update.Err = string(e)
	}

	update.Block.Slot = slot
	if b := v.Block; b != nil {
		update.Block.Blockhash = b.Blockhash
		update.Block.PreviousBlockhash = b.PreviousBlockhash
		update.Block.ParentSlot = b.ParentSlot
		update.Block.TransactionCount = len(b.Transactions)
		if b.BlockTime != nil {
			update.Block.BlockTime = *b.BlockTime
		}
		if b.BlockHeight != nil {
			update.Block.BlockHeight = *b.BlockHeight
		}
	} else if !update.HasError() {
		return nil, decodeErr(model.BlockStreamKey, "block", errors.New("missing block without error"))
	}

	return update, nil
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/feedstream/internal/model"
)

const blockNotification = `{
	"jsonrpc": "2.0",
	"method": "blockNotification",
	"params": {
		"result": {
			"context": {"slot": 112301554},
			"value": {
				"slot": 112301554,
				"err": null,
				"block": {
					"previousBlockhash": "GJp125YAN4ufCSUvZJVdCyWQJ7RPWMmwxoyUQySydZA",
					"blockhash": "6ojMHjctdqfB55JDpEpqfHnP96fiaHEcvzEQ2NNcxzHP",
					"parentSlot": 112301553,
					"blockTime": 1639926816,
					"blockHeight": 101210751,
					"transactions": [{}, {}, {}]
				}
			}
		},
		"subscription": 14
	}
}`

func TestDecodeBlockMessage_Notification(t *testing.T) {
	ev, err := DecodeBlockMessage([]byte(blockNotification))
	require.NoError(t, err)

	upd, ok := ev.(BlockUpdate)
	require.True(t, ok, "expected BlockUpdate, got %T", ev)
	assert.False(t, upd.HasError())
	assert.Equal(t, uint64(112301554), upd.Slot)
	assert.Equal(t, model.Block{
		Slot:              112301554,
		Blockhash:         "6ojMHjctdqfB55JDpEpqfHnP96fiaHEcvzEQ2NNcxzHP",
		PreviousBlockhash: "GJp125YAN4ufCSUvZJVdCyWQJ7RPWMmwxoyUQySydZA",
		ParentSlot:        112301553,
		BlockTime:         1639926816,
		BlockHeight:       101210751,
		TransactionCount:  3,
	}, upd.Block)
}

func TestDecodeBlockMessage_NotificationWithError(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"blockNotification","params":{"result":{"context":{"slot":5},
		"value":{"slot":5,"err":{"BlockStoreError":"BlockNotAvailable"},"block":null}},"subscription":1}}`

	ev, err := DecodeBlockMessage([]byte(raw))
	require.NoError(t, err)

	upd := ev.(BlockUpdate)
	assert.True(t, upd.HasError())
	assert.Equal(t, uint64(5), upd.Slot)
	assert.Contains(t, upd.Err, "BlockNotAvailable")
}

func TestDecodeBlockMessage_Acks(t *testing.T) {
	ev, err := DecodeBlockMessage([]byte(`{"jsonrpc":"2.0","result":14,"id":1}`))
	require.NoError(t, err)
	assert.Equal(t, SubscribeAck{OK: true, SubscriptionID: 14}, ev)

	ev, err = DecodeBlockMessage([]byte(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":1}`))
	require.NoError(t, err)
	assert.Equal(t, SubscribeAck{OK: false, Reason: "Method not found"}, ev)
}

func TestDecodeBlockMessage_Malformed(t *testing.T) {
	for _, raw := range []string{
		`nope`,
		`{"jsonrpc":"2.0"}`,
		`{"jsonrpc":"2.0","result":"abc","id":1}`,
		`{"jsonrpc":"2.0","method":"blockNotification","params":{"result":{"value":{"slot":1,"err":null,"block":null}}}}`,
		`{"jsonrpc":"2.0","method":"blockNotification"}`,
	} {
		_, err := DecodeBlockMessage([]byte(raw))
		assert.ErrorIs(t, err, model.ErrDecode, "input %s", raw)
	}
}

func TestDecodeBlockMessage_OtherNotification(t *testing.T) {
	ev, err := DecodeBlockMessage([]byte(`{"jsonrpc":"2.0","method":"slotNotification","params":{}}`))
	require.NoError(t, err)
	assert.Equal(t, Unrecognized{Type: "slotNotification"}, ev)
}

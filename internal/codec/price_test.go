package codec

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/feedstream/internal/model"
)

const (
	feedA = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
	feedB = "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
)

func feedObject(id, price, conf string, publishTime int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"price": {"price": %q, "conf": %q, "expo": -8, "publish_time": %d},
		"ema_price": {"price": %q, "conf": %q, "expo": -8, "publish_time": %d}
	}`, id, price, conf, publishTime, price, conf, publishTime)
}

func TestParseVersion(t *testing.T) {
	for _, n := range []int{1, 2} {
		v, err := ParseVersion(n)
		require.NoError(t, err)
		assert.Equal(t, Version(n), v)
	}

	for _, n := range []int{0, 3, -1} {
		_, err := ParseVersion(n)
		assert.ErrorIs(t, err, model.ErrUnsupportedVersion)
	}
}

func TestDecodeSnapshot_V1(t *testing.T) {
	raw := "[" + feedObject("0x"+feedA, "6140993501000", "2940953499", 1717632000) + "," +
		feedObject(feedB, "123456789", "5", 1000) + "]"

	snap, err := DecodeSnapshot(V1, []byte(raw))
	require.NoError(t, err)
	assert.Empty(t, snap.Errors)
	assert.Nil(t, snap.Binary)
	require.Len(t, snap.Feeds, 2)

	// Each element decodes independently.
	assert.Equal(t, model.FeedKey(feedA), snap.Feeds[0].ID)
	assert.Equal(t, int64(6140993501000), snap.Feeds[0].Price.Price)
	assert.Equal(t, uint64(2940953499), snap.Feeds[0].Price.Conf)
	assert.Equal(t, int32(-8), snap.Feeds[0].Price.Expo)
	assert.Equal(t, int64(1717632000), snap.Feeds[0].Price.PublishTime)

	assert.Equal(t, model.FeedKey(feedB), snap.Feeds[1].ID)
	assert.Equal(t, model.Observation{Conf: 5, Expo: -8, Price: 123456789, PublishTime: 1000}, snap.Feeds[1].Price)
	assert.Equal(t, snap.Feeds[1].Price, snap.Feeds[1].EMAPrice)
}

func TestDecodeSnapshot_V2(t *testing.T) {
	raw := `{
		"binary": {"encoding": "base64", "data": ["UE5BVQEAAAAD"]},
		"parsed": [` + feedObject(feedA, "1000000000", "1000000", 1234567890) + `]
	}`

	snap, err := DecodeSnapshot(V2, []byte(raw))
	require.NoError(t, err)
	require.NotNil(t, snap.Binary)
	assert.Equal(t, "base64", snap.Binary.Encoding)
	assert.Equal(t, []string{"UE5BVQEAAAAD"}, snap.Binary.Data)
	require.Len(t, snap.Feeds, 1)
	assert.Equal(t, int64(1000000000), snap.Feeds[0].Price.Price)
	assert.Equal(t, uint64(1000000), snap.Feeds[0].EMAPrice.Conf)
}

func TestDecodeSnapshot_BadRecordDoesNotFailBatch(t *testing.T) {
	tests := []struct {
		name  string
		bad   string
		field string
	}{
		{"non-numeric price", feedObject(feedB, "12.5", "1", 1), "price.price"},
		{"negative conf", feedObject(feedB, "100", "-1", 1), "price.conf"},
		{"empty conf", feedObject(feedB, "100", "", 1), "price.conf"},
		{"missing ema", `{"id": "` + feedB + `", "price": {"price": "1", "conf": "1", "expo": 0, "publish_time": 1}}`, "ema_price"},
		{"bad ema price", `{"id": "` + feedB + `", "price": {"price": "1", "conf": "1", "expo": 0, "publish_time": 1},
			"ema_price": {"price": "x", "conf": "1", "expo": 0, "publish_time": 1}}`, "ema_price.price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := "[" + feedObject(feedA, "100", "1", 1) + "," + tt.bad + "]"

			snap, err := DecodeSnapshot(V1, []byte(raw))
			require.NoError(t, err)
			require.Len(t, snap.Feeds, 1)
			assert.Equal(t, model.FeedKey(feedA), snap.Feeds[0].ID)

			require.Len(t, snap.Errors, 1)
			assert.ErrorIs(t, snap.Errors[0], model.ErrDecode)

			var de *DecodeError
			require.True(t, errors.As(snap.Errors[0], &de))
			assert.Equal(t, model.FeedKey(feedB), de.Key)
			assert.Equal(t, tt.field, de.Field)
		})
	}
}

func TestDecodeSnapshot_BodyErrors(t *testing.T) {
	_, err := DecodeSnapshot(V1, []byte(`{"parsed": []}`))
	assert.ErrorIs(t, err, model.ErrDecode)

	_, err = DecodeSnapshot(V2, []byte(`not json`))
	assert.ErrorIs(t, err, model.ErrDecode)

	_, err = DecodeSnapshot(Version(3), []byte(`[]`))
	assert.ErrorIs(t, err, model.ErrUnsupportedVersion)
}

func TestDecodeFeed_MissingID(t *testing.T) {
	_, err := DecodeFeed([]byte(`{"price": {"price": "1", "conf": "1"}, "ema_price": {"price": "1", "conf": "1"}}`))
	assert.ErrorIs(t, err, model.ErrDecode)
}

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFillEvent(t *testing.T) {
	raw := []byte(`{"orderId":"123","side":"BUY","price":"42000.5","filledQty":"0.01","status":"FILLED","ts":1700000000000}`)
	ev, err := decodeFillEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "123", ev.OrderID)
	assert.Equal(t, "BUY", ev.Side)
	assert.Equal(t, 42000.5, ev.Price)
	assert.Equal(t, 0.01, ev.FilledQuantity)
	assert.Equal(t, "FILLED", ev.Status)
	assert.Equal(t, int64(1700000000000), ev.EventTimeMS)
}

func TestDecodeFillEventRejectsBadFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing order id", `{"side":"BUY","price":"1","filledQty":"1","status":"NEW"}`},
		{"missing status", `{"orderId":"1","side":"BUY","price":"1","filledQty":"1"}`},
		{"bad price", `{"orderId":"1","side":"BUY","price":"x","filledQty":"1","status":"NEW"}`},
		{"bad qty", `{"orderId":"1","side":"BUY","price":"1","filledQty":"","status":"NEW"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeFillEvent([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_engine/internal/domain"
)

const streamOrder = `{"orderId":"c9cc56cb","orderLinkId":"trend+BTCUSD.1a2.0ff-long-SL","symbol":"BTCUSD",
"price":"0.00","qty":"10","side":"Sell","orderStatus":"Untriggered","leavesQty":"10","cumExecQty":"0",
"cumExecValue":"0","triggerPrice":"38000.00","triggerDirection":1,"createdTime":"1701099868000","updatedTime":"1701099868909"}`

func TestDecodeOrder(t *testing.T) {
	o, err := DecodeOrder([]byte(streamOrder), false)
	require.NoError(t, err)

	assert.Equal(t, "c9cc56cb", o.ExchangeID)
	assert.Equal(t, "trend+BTCUSD.1a2.0ff-long-SL", o.LinkID)
	assert.Equal(t, domain.OrderKindSL, o.ID.Kind)
	assert.Equal(t, "trend", o.ID.StrategyID)
	assert.Equal(t, -10.0, o.Amount)
	assert.Nil(t, o.LimitPrice)
	require.NotNil(t, o.TriggerPrice)
	assert.Equal(t, 38000.0, *o.TriggerPrice)
	assert.True(t, o.Active)
	assert.False(t, o.TriggerConsumed)
	assert.Equal(t, time.UnixMilli(1701099868909), o.UpdatedAt)
	assert.Nil(t, o.ExecutedPrice)
}

func TestDecodeOrderFallsBackToCreatedTime(t *testing.T) {
	raw := `{"orderId":"x","symbol":"BTCUSDT","qty":"1","side":"Buy","orderStatus":"Filled",
"price":"100","cumExecQty":"1","cumExecValue":"101","createdTime":"1700000000000"}`
	o, err := DecodeOrder([]byte(raw), false)
	require.NoError(t, err)

	assert.Equal(t, time.UnixMilli(1700000000000), o.UpdatedAt)
	assert.False(t, o.Active)
	assert.True(t, o.ID.PositionID.IsZero())
	assert.Equal(t, "x", o.LinkID)
	assert.Equal(t, 1.0, o.ExecutedAmount)
	require.NotNil(t, o.ExecutedPrice)
	assert.Equal(t, 101.0, *o.ExecutedPrice)
}

func TestDecodeOrderInverseExecutedPrice(t *testing.T) {
	raw := `{"orderId":"x","symbol":"BTCUSD","qty":"100","side":"Sell","orderStatus":"Filled",
"cumExecQty":"100","cumExecValue":"0.002","updatedTime":"1700000000000"}`
	o, err := DecodeOrder([]byte(raw), true)
	require.NoError(t, err)
	assert.Equal(t, -100.0, o.ExecutedAmount)
	assert.InDelta(t, 50000.0, *o.ExecutedPrice, 1e-6)
}

func TestDecodeOrderMalformed(t *testing.T) {
	bad := []string{
		`not json`,
		`{"orderLinkId":"a","qty":"1","side":"Buy"}`,
		`{"orderId":"a","side":"Buy"}`,
		`{"orderId":"a","qty":"1","side":"Up"}`,
		`{"orderId":"a","qty":"abc","side":"Buy"}`,
		`{"orderId":"a","qty":"1","side":"Buy","price":"x"}`,
	}
	for _, raw := range bad {
		o, err := DecodeOrder([]byte(raw), false)
		assert.ErrorIs(t, err, domain.ErrDecode, raw)
		assert.Nil(t, o)
	}
}

func TestDecodeBarShapes(t *testing.T) {
	rest, err := DecodeBar([]byte(`["1700000000000","100","110","90","105","12.5","1300"]`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000), rest.Time)
	assert.Equal(t, domain.Bar{Time: rest.Time, Open: 100, High: 110, Low: 90, Close: 105, Volume: 12.5}, rest)

	stream, err := DecodeBar([]byte(`{"start":1700000000000,"end":1700000059999,"interval":"1",
"open":"100","close":"105","high":"110","low":"90","volume":"12.5","confirm":false}`))
	require.NoError(t, err)
	assert.Equal(t, rest, stream)

	legacy, err := DecodeBar([]byte(`{"open_time":1700000000,"open":100,"high":110,"low":90,"close":105,"volume":12.5}`))
	require.NoError(t, err)
	assert.Equal(t, rest.Time.Unix(), legacy.Time.Unix())
	assert.Equal(t, rest.Close, legacy.Close)
}

func TestDecodeBarMalformed(t *testing.T) {
	for _, raw := range []string{
		`["1700000000000","100","110"]`,
		`{"start":1700000000000,"open":"1","high":"1","low":"1"}`,
		`{"open":"1","high":"1","low":"1","close":"1","volume":"1"}`,
		`["a","b","c","d","e","f"]`,
	} {
		_, err := DecodeBar([]byte(raw))
		assert.ErrorIs(t, err, domain.ErrDecode, raw)
	}
}

func TestDecodeExecution(t *testing.T) {
	raw := `{"execId":"e1","orderId":"ex1","orderLinkId":"s+BTCUSDT.001.002-short-ENTRY","symbol":"BTCUSDT",
"side":"Sell","execQty":"0.4","execPrice":"30000","orderQty":"1","leavesQty":"0.6","execTime":"1700000000123"}`
	e, err := DecodeExecution([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "ex1", e.ExchangeID)
	assert.Equal(t, domain.SideSell, e.Side)
	assert.Equal(t, -0.4, e.Amount())
	assert.Equal(t, 0.6, e.LeavesQty)
	assert.Equal(t, time.UnixMilli(1700000000123), e.Time)

	_, err = DecodeExecution([]byte(`{"orderId":"ex1","side":"Sell","execQty":"0.4"}`))
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestDecodePositionSide(t *testing.T) {
	p, err := DecodePositionSide([]byte(`{"symbol":"BTCUSD","side":"None","size":"0","entryPrice":"0"}`))
	require.NoError(t, err)
	assert.Equal(t, "None", p.Side)

	p, err = DecodePositionSide([]byte(`{"symbol":"BTCUSDT","side":"Buy","size":"0.5","avgPrice":"27000.5"}`))
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.Size)
	assert.Equal(t, 27000.5, p.EntryPrice)

	_, err = DecodePositionSide([]byte(`{"symbol":"BTCUSDT","side":"Long"}`))
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestDecodeWalletAndTicker(t *testing.T) {
	balance, ok, err := DecodeWallet([]byte(`{"coin":[{"coin":"USDT","walletBalance":"12.5"},{"coin":"BTC","walletBalance":"0.1"}]}`), "BTC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.1, balance)

	_, ok, err = DecodeWallet([]byte(`{"coin":[]}`), "BTC")
	require.NoError(t, err)
	assert.False(t, ok)

	symbol, last, ok, err := DecodeTicker([]byte(`{"symbol":"BTCUSDT","lastPrice":"30100.5"}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "BTCUSDT", symbol)
	assert.Equal(t, 30100.5, last)

	_, _, ok, err = DecodeTicker([]byte(`{"symbol":"BTCUSDT","bid1Price":"1"}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSplitFrame(t *testing.T) {
	items, err := SplitFrame([]byte(`[{"a":1},{"a":2}]`))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = SplitFrame([]byte(`{"symbol":"BTCUSDT"}`))
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = SplitFrame([]byte(`  `))
	assert.ErrorIs(t, err, domain.ErrDecode)
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamEventsFromAccount(t *testing.T) {
	for _, topic := range []string{"order", "stopOrder", "execution", "position", "wallet"} {
		assert.True(t, StreamEvents{Topic: topic}.FromAccount(), topic)
	}
	for _, topic := range []string{"", "kline.1.BTCUSDT", "tickers.BTCUSDT", "publicTrade.BTCUSDT"} {
		assert.False(t, StreamEvents{Topic: topic}.FromAccount(), topic)
	}
}

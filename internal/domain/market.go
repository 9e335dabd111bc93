package domain

import "time"

// Bar is one OHLCV candle. Time is the bar's start.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type OrderBookEntry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type OrderBook struct {
	Symbol string           `json:"symbol"`
	Bids   []OrderBookEntry `json:"bids"`
	Asks   []OrderBookEntry `json:"asks"`
}

type PublicTrade struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Size   float64 `json:"size"`
	Price  float64 `json:"price"`
	Time   int64   `json:"time"`
}

type FundingRate struct {
	Symbol string    `json:"symbol"`
	Rate   float64   `json:"rate"`
	Time   time.Time `json:"time"`
}

// Liquidity is the summed resting size on each side of the book.
type Liquidity struct {
	BidSize float64 `json:"bid_size"`
	AskSize float64 `json:"ask_size"`
}

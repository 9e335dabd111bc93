package domain

import "github.com/shopspring/decimal"

type Instrument struct {
	Symbol            string  `json:"symbol"`
	BaseCoin          string  `json:"base_coin"`
	QuoteCoin         string  `json:"quote_coin"`
	Status            string  `json:"status"`
	TickSize          float64 `json:"tick_size"`
	LotSize           float64 `json:"lot_size"`
	MinQty            float64 `json:"min_qty"`
	MakerFee          float64 `json:"maker_fee"`
	TakerFee          float64 `json:"taker_fee"`
	IsInverse         bool    `json:"is_inverse"`
	PricePrecision    int32   `json:"price_precision"`
	QuantityPrecision int32   `json:"quantity_precision"`
	LaunchTime        int64   `json:"launch_time"`
}

// NormalizePrice snaps price onto the tick grid, rounding up or down.
func (i Instrument) NormalizePrice(price float64, roundUp bool) float64 {
	if i.TickSize <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(i.TickSize)
	steps := decimal.NewFromFloat(price).Div(tick)
	if roundUp {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	return steps.Mul(tick).Round(i.PricePrecision).InexactFloat64()
}

// NormalizeSize truncates a signed size toward zero onto the lot grid.
func (i Instrument) NormalizeSize(size float64) float64 {
	if i.LotSize <= 0 {
		return size
	}
	lot := decimal.NewFromFloat(i.LotSize)
	steps := decimal.NewFromFloat(size).Div(lot).Truncate(0)
	return steps.Mul(lot).Round(i.QuantityPrecision).InexactFloat64()
}

// FormatPrice renders a price with the instrument's precision.
func (i Instrument) FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).StringFixed(i.PricePrecision)
}

// FormatQty renders an unsigned quantity with the instrument's precision.
func (i Instrument) FormatQty(qty float64) string {
	return decimal.NewFromFloat(qty).Abs().StringFixed(i.QuantityPrecision)
}

// PrecisionOf returns the number of decimals of a step like 0.001.
func PrecisionOf(step float64) int32 {
	if step <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

type Ticker struct {
	Symbol          string  `json:"symbol"`
	Bid             float64 `json:"bid"`
	Ask             float64 `json:"ask"`
	LastPrice       float64 `json:"last_price"`
	Volume24h       float64 `json:"volume_24h"`
	OpenInterest    float64 `json:"open_interest"`
	FundingRate     float64 `json:"funding_rate"`
	NextFundingTime int64   `json:"next_funding_time"`
}

package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"go.uber.org/zap"
)

const fundingPageLimit = 200

type wireBook struct {
	S string     `json:"s"`
	B [][]string `json:"b"`
	A [][]string `json:"a"`
}

// FetchOrderBook returns up to limit levels per side.
func (b *BybitAdapter) FetchOrderBook(ctx context.Context, limit int) (*domain.OrderBook, error) {
	var result wireBook
	if err := b.do(ctx, request{
		method:  http.MethodGet,
		path:    "/v5/market/orderbook",
		query:   b.symbolQuery(map[string]string{"limit": strconv.Itoa(limit)}),
		context: "get_orderbook",
	}, &result); err != nil {
		return nil, err
	}

	ob := &domain.OrderBook{
		Symbol: result.S,
		Bids:   make([]domain.OrderBookEntry, 0, len(result.B)),
		Asks:   make([]domain.OrderBookEntry, 0, len(result.A)),
	}
	for _, bid := range result.B {
		if e, ok := parseLevel(bid); ok {
			ob.Bids = append(ob.Bids, e)
		}
	}
	for _, ask := range result.A {
		if e, ok := parseLevel(ask); ok {
			ob.Asks = append(ob.Asks, e)
		}
	}
	return ob, nil
}

func parseLevel(level []string) (domain.OrderBookEntry, bool) {
	if len(level) < 2 {
		return domain.OrderBookEntry{}, false
	}
	price, err1 := strconv.ParseFloat(level[0], 64)
	size, err2 := strconv.ParseFloat(level[1], 64)
	if err1 != nil || err2 != nil {
		return domain.OrderBookEntry{}, false
	}
	return domain.OrderBookEntry{Price: price, Size: size}, true
}

// FetchLiquidity sums the resting size over the top 50 levels of each side.
func (b *BybitAdapter) FetchLiquidity(ctx context.Context) (domain.Liquidity, error) {
	ob, err := b.FetchOrderBook(ctx, 50)
	if err != nil {
		return domain.Liquidity{}, err
	}
	var liq domain.Liquidity
	for _, e := range ob.Bids {
		liq.BidSize += e.Size
	}
	for _, e := range ob.Asks {
		liq.AskSize += e.Size
	}
	return liq, nil
}

// FetchTicker combines the best bid/ask with the tickers endpoint.
func (b *BybitAdapter) FetchTicker(ctx context.Context) (domain.Ticker, error) {
	ob, err := b.FetchOrderBook(ctx, 1)
	if err != nil {
		return domain.Ticker{}, err
	}
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return domain.Ticker{}, b.fail("get_ticker", fmt.Errorf("%w: empty top of book", domain.ErrMalformedResponse))
	}

	var result struct {
		List []struct {
			Symbol          string `json:"symbol"`
			LastPrice       number `json:"lastPrice"`
			Turnover24h     number `json:"turnover24h"`
			OpenInterest    number `json:"openInterest"`
			FundingRate     number `json:"fundingRate"`
			NextFundingTime number `json:"nextFundingTime"`
		} `json:"list"`
	}
	if err := b.do(ctx, request{
		method:  http.MethodGet,
		path:    "/v5/market/tickers",
		query:   b.symbolQuery(nil),
		context: "get_tickers",
	}, &result); err != nil {
		return domain.Ticker{}, err
	}
	if len(result.List) == 0 {
		return domain.Ticker{}, b.fail("get_tickers", fmt.Errorf("%w: empty ticker list", domain.ErrMalformedResponse))
	}

	t := result.List[0]
	return domain.Ticker{
		Symbol:          t.Symbol,
		Bid:             ob.Bids[0].Price,
		Ask:             ob.Asks[0].Price,
		LastPrice:       float64(t.LastPrice),
		Volume24h:       float64(t.Turnover24h),
		OpenInterest:    float64(t.OpenInterest),
		FundingRate:     float64(t.FundingRate),
		NextFundingTime: int64(t.NextFundingTime),
	}, nil
}

type wireInstrument struct {
	Symbol        string          `json:"symbol"`
	BaseCoin      string          `json:"baseCoin"`
	QuoteCoin     string          `json:"quoteCoin"`
	Status        string          `json:"status"`
	LaunchTime    number          `json:"launchTime"`
	PriceScale    number          `json:"priceScale"`
	PriceFilter   wirePriceFilter `json:"priceFilter"`
	LotSizeFilter wireLotFilter   `json:"lotSizeFilter"`
}

type wirePriceFilter struct {
	TickSize number `json:"tickSize"`
}

type wireLotFilter struct {
	QtyStep       number `json:"qtyStep"`
	BasePrecision number `json:"basePrecision"`
	MinOrderQty   number `json:"minOrderQty"`
}

func (w wireInstrument) toDomain(category string) domain.Instrument {
	lot := float64(w.LotSizeFilter.QtyStep)
	if lot == 0 {
		// spot instruments only carry basePrecision
		lot = float64(w.LotSizeFilter.BasePrecision)
	}
	inst := domain.Instrument{
		Symbol:            w.Symbol,
		BaseCoin:          w.BaseCoin,
		QuoteCoin:         w.QuoteCoin,
		Status:            w.Status,
		TickSize:          float64(w.PriceFilter.TickSize),
		LotSize:           lot,
		MinQty:            float64(w.LotSizeFilter.MinOrderQty),
		IsInverse:         category == "inverse",
		PricePrecision:    int32(w.PriceScale),
		QuantityPrecision: domain.PrecisionOf(lot),
		LaunchTime:        int64(w.LaunchTime),
	}
	if inst.PricePrecision == 0 {
		inst.PricePrecision = domain.PrecisionOf(inst.TickSize)
	}
	return inst
}

// FetchInstruments lists every instrument of the configured category.
func (b *BybitAdapter) FetchInstruments(ctx context.Context) ([]domain.Instrument, error) {
	q := b.symbolQuery(nil)
	q.Del("symbol")
	var result struct {
		List []wireInstrument `json:"list"`
	}
	if err := b.do(ctx, request{
		method:  http.MethodGet,
		path:    "/v5/market/instruments-info",
		query:   q,
		context: "get_instruments_info",
	}, &result); err != nil {
		return nil, err
	}

	instruments := make([]domain.Instrument, 0, len(result.List))
	for _, item := range result.List {
		instruments = append(instruments, item.toDomain(b.cfg.Category))
	}
	return instruments, nil
}

// FetchInstrument loads the configured symbol with its fee rates and makes it
// the formatting reference for orders. A failing fee lookup falls back to
// zero fees.
func (b *BybitAdapter) FetchInstrument(ctx context.Context) (domain.Instrument, error) {
	var fees struct {
		List []struct {
			MakerFeeRate number `json:"makerFeeRate"`
			TakerFeeRate number `json:"takerFeeRate"`
		} `json:"list"`
	}
	feeErr := b.do(ctx, request{
		method:  http.MethodGet,
		path:    "/v5/account/fee-rate",
		query:   b.symbolQuery(nil),
		context: "get_fee_rates",
	}, &fees)
	if feeErr == nil && len(fees.List) == 0 {
		b.logger.Warn("fee rate list empty, using zero fees")
	}

	var result struct {
		List []wireInstrument `json:"list"`
	}
	if err := b.do(ctx, request{
		method:  http.MethodGet,
		path:    "/v5/market/instruments-info",
		query:   b.symbolQuery(nil),
		context: "get_instruments_info",
	}, &result); err != nil {
		return domain.Instrument{}, err
	}

	for _, item := range result.List {
		if item.Symbol != b.cfg.Symbol {
			continue
		}
		inst := item.toDomain(b.cfg.Category)
		if inst.BaseCoin == "" || b.cfg.Category == "inverse" {
			inst.BaseCoin = b.cfg.BaseCoin
		}
		if feeErr == nil && len(fees.List) > 0 {
			inst.MakerFee = float64(fees.List[0].MakerFeeRate)
			inst.TakerFee = float64(fees.List[0].TakerFeeRate)
		}
		b.SetInstrument(inst)
		return inst, nil
	}
	return domain.Instrument{}, b.fail("get_instruments_info",
		fmt.Errorf("%w: instrument %s not found", domain.ErrMalformedResponse, b.cfg.Symbol))
}

// FetchFundingHistory returns funding rates within [start, end], oldest
// first. Pages are walked backward through endTime.
func (b *BybitAdapter) FetchFundingHistory(ctx context.Context, start, end time.Time) ([]domain.FundingRate, error) {
	if start.After(end) {
		start, end = end, start
	}
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	pageEnd := endMs
	rates := make(map[int64]float64)

	for {
		q := b.symbolQuery(map[string]string{
			"startTime": strconv.FormatInt(startMs, 10),
			"endTime":   strconv.FormatInt(pageEnd, 10),
			"limit":     strconv.Itoa(fundingPageLimit),
		})
		var result struct {
			List []struct {
				FundingRate          number `json:"fundingRate"`
				FundingRateTimestamp number `json:"fundingRateTimestamp"`
			} `json:"list"`
		}
		if err := b.do(ctx, request{
			method:  http.MethodGet,
			path:    "/v5/market/funding/history",
			query:   q,
			context: "get_funding_history",
		}, &result); err != nil {
			return nil, err
		}
		if len(result.List) == 0 {
			break
		}

		minSeen := int64(-1)
		for _, row := range result.List {
			ts := int64(row.FundingRateTimestamp)
			if ts >= startMs && ts <= endMs {
				rates[ts] = float64(row.FundingRate)
			}
			if minSeen < 0 || ts < minSeen {
				minSeen = ts
			}
		}
		if minSeen <= startMs || minSeen-1 >= pageEnd {
			break
		}
		pageEnd = minSeen - 1

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	out := make([]domain.FundingRate, 0, len(rates))
	for ts, rate := range rates {
		out = append(out, domain.FundingRate{Symbol: b.cfg.Symbol, Rate: rate, Time: time.UnixMilli(ts)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	b.logger.Debug("funding history loaded", zap.Int("rates", len(out)))
	return out, nil
}

package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"go.uber.org/zap"
)

const klinePageLimit = 200

// FetchCandles loads enough base candles for minBars bars of timeframeMinutes
// and re-buckets them. Bars are returned newest first; the first one is the
// still forming bar. Only a failing first page is an error, later pages stop
// the walk.
func (b *BybitAdapter) FetchCandles(ctx context.Context, timeframeMinutes, offsetMinutes, minBars int) ([]domain.Bar, error) {
	if timeframeMinutes <= 0 {
		return nil, fmt.Errorf("invalid timeframe %d", timeframeMinutes)
	}
	base := domain.BaseResolution(timeframeMinutes)
	needed := float64(minBars) * float64(timeframeMinutes) / float64(base)
	requests := 1 + int(math.Ceil(needed/klinePageLimit))

	var subbars []domain.Bar // newest first
	end := int64(0)
	for i := 0; i < requests; i++ {
		page, err := b.fetchKlinePage(ctx, base, end)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			b.logger.Warn("stopping kline history walk", zap.Int("page", i), zap.Error(err))
			break
		}
		if len(page) == 0 {
			break
		}
		subbars = append(subbars, page...)
		end = page[len(page)-1].Time.UnixMilli() - 1
	}

	return domain.AggregateBars(subbars, timeframeMinutes, offsetMinutes), nil
}

// fetchKlinePage returns one page of base candles ending at endMs (0 = now),
// newest first as the exchange delivers them.
func (b *BybitAdapter) fetchKlinePage(ctx context.Context, base int, endMs int64) ([]domain.Bar, error) {
	extra := map[string]string{
		"interval": strconv.Itoa(base),
		"limit":    strconv.Itoa(klinePageLimit),
	}
	if endMs > 0 {
		extra["end"] = strconv.FormatInt(endMs, 10)
	}
	var result struct {
		List []json.RawMessage `json:"list"`
	}
	if err := b.do(ctx, request{
		method:  http.MethodGet,
		path:    "/v5/market/kline",
		query:   b.symbolQuery(extra),
		context: "get_kline",
	}, &result); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(result.List))
	for _, raw := range result.List {
		bar, err := DecodeBar(raw)
		if err != nil {
			return nil, b.fail("get_kline", fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err))
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

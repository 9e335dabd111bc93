package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var openOrderFilters = []string{"Order", "StopOrder", "tpslOrder"}

// TriggerDirection is 1 when the market has to rise to the trigger and 2 when
// it has to fall to it.
func TriggerDirection(last, trigger float64) int {
	if last < trigger {
		return 1
	}
	return 2
}

// TriggerAlreadyHit reports whether an ENTRY/TP trigger is already satisfied
// by the last price. Stop losses always keep their trigger.
func TriggerAlreadyHit(kind domain.OrderKind, last, trigger, amount float64) bool {
	if kind == domain.OrderKindSL {
		return false
	}
	sign := 1.0
	if amount < 0 {
		sign = -1
	}
	return (last-trigger)*sign >= 0
}

// SubmitOrder places order and stores the exchange id on it. A trigger that
// is already hit is removed from the order before sending. Stop losses
// without a trigger price are refused.
func (b *BybitAdapter) SubmitOrder(ctx context.Context, order *domain.Order, lastPrice float64) error {
	kind := order.ID.Kind
	if kind == domain.OrderKindSL && order.TriggerPrice == nil {
		b.logger.Warn("stop loss without trigger price not sent", zap.String("orderId", order.LinkID))
		return fmt.Errorf("%w: stop loss %s has no trigger price", domain.ErrInvalidOrder, order.LinkID)
	}
	body := map[string]any{
		"category":    b.cfg.Category,
		"symbol":      b.cfg.Symbol,
		"side":        string(order.Side()),
		"qty":         b.formatQty(order.Amount),
		"orderLinkId": order.LinkID,
		"timeInForce": "GTC",
		"positionIdx": 0,
	}

	if order.TriggerPrice != nil {
		trigger := *order.TriggerPrice
		if TriggerAlreadyHit(kind, lastPrice, trigger, order.Amount) {
			b.logger.Warn("removed trigger price because condition is already true",
				zap.Float64("last", lastPrice), zap.Float64("trigger", trigger),
				zap.Float64("amount", order.Amount), zap.String("orderId", order.LinkID))
			order.TriggerPrice = nil
		} else {
			body["triggerDirection"] = TriggerDirection(lastPrice, trigger)
			body["triggerPrice"] = b.formatPrice(trigger, order.Amount > 0)
		}
	}

	if kind == domain.OrderKindSL {
		body["orderType"] = "Market"
		body["slOrderType"] = "Market"
		body["tpslMode"] = "Full"
	} else if order.LimitPrice != nil {
		body["orderType"] = "Limit"
		body["price"] = b.formatPrice(*order.LimitPrice, order.Amount < 0)
	} else {
		body["orderType"] = "Market"
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	err := b.do(ctx, request{
		method:  http.MethodPost,
		path:    "/v5/order/create",
		body:    body,
		context: "create order " + order.LinkID,
	}, &result)
	if err != nil {
		return err
	}
	if result.OrderID == "" {
		return b.fail("create order "+order.LinkID, fmt.Errorf("%w: empty orderId", domain.ErrMalformedResponse))
	}
	order.ExchangeID = result.OrderID
	b.logger.Info("order placed", zap.String("orderId", order.LinkID), zap.String("exchangeId", order.ExchangeID))
	return nil
}

// AmendOrder changes size, trigger and limit of a live order.
func (b *BybitAdapter) AmendOrder(ctx context.Context, order *domain.Order, lastPrice float64) error {
	body := map[string]any{
		"category": b.cfg.Category,
		"symbol":   b.cfg.Symbol,
		"qty":      b.formatQty(order.Amount),
	}
	b.identify(body, order)

	if order.TriggerPrice != nil {
		body["triggerPrice"] = b.formatPrice(*order.TriggerPrice, order.Amount > 0)
		body["triggerDirection"] = TriggerDirection(lastPrice, *order.TriggerPrice)
	}
	if order.LimitPrice != nil && order.ID.Kind != domain.OrderKindSL {
		body["price"] = b.formatPrice(*order.LimitPrice, order.Amount < 0)
	}

	return b.do(ctx, request{
		method:  http.MethodPost,
		path:    "/v5/order/amend",
		body:    body,
		context: "amend order " + order.LinkID,
		benign:  benignOrderCodes,
	}, nil)
}

// CancelOrder cancels a live order. Orders the exchange no longer knows count
// as cancelled.
func (b *BybitAdapter) CancelOrder(ctx context.Context, order *domain.Order) error {
	body := map[string]any{
		"category": b.cfg.Category,
		"symbol":   b.cfg.Symbol,
	}
	b.identify(body, order)

	return b.do(ctx, request{
		method:  http.MethodPost,
		path:    "/v5/order/cancel",
		body:    body,
		context: "cancel order " + order.LinkID,
		benign:  benignOrderCodes,
	}, nil)
}

func (b *BybitAdapter) identify(body map[string]any, order *domain.Order) {
	if order.ExchangeID != "" {
		body["orderId"] = order.ExchangeID
	} else {
		body["orderLinkId"] = order.LinkID
	}
}

// FetchOpenOrders loads active orders of all three filters concurrently. Any
// failing filter fails the whole call.
func (b *BybitAdapter) FetchOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	pages := make([][]*domain.Order, len(openOrderFilters))
	g, gctx := errgroup.WithContext(ctx)
	for i, filter := range openOrderFilters {
		g.Go(func() error {
			orders, err := b.fetchOpenOrders(gctx, filter)
			if err != nil {
				return err
			}
			pages[i] = orders
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []*domain.Order
	for _, page := range pages {
		for _, o := range page {
			if _, ok := seen[o.ExchangeID]; ok {
				continue
			}
			seen[o.ExchangeID] = struct{}{}
			out = append(out, o)
		}
	}
	return out, nil
}

func (b *BybitAdapter) fetchOpenOrders(ctx context.Context, filter string) ([]*domain.Order, error) {
	inverse := b.cfg.Category == "inverse"
	var out []*domain.Order
	cursor := ""
	for {
		query := b.symbolQuery(map[string]string{"orderFilter": filter, "limit": "50"})
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var result struct {
			List           []json.RawMessage `json:"list"`
			NextPageCursor string            `json:"nextPageCursor"`
		}
		ctxName := "get_open_orders(" + filter + ")"
		if err := b.do(ctx, request{method: http.MethodGet, path: "/v5/order/realtime", query: query, context: ctxName}, &result); err != nil {
			return nil, err
		}
		for _, raw := range result.List {
			o, err := DecodeOrder(raw, inverse)
			if err != nil {
				return nil, b.fail(ctxName, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err))
			}
			if o.Active {
				out = append(out, o)
			}
		}
		if result.NextPageCursor == "" || len(result.List) == 0 || result.NextPageCursor == cursor {
			return out, nil
		}
		cursor = result.NextPageCursor
	}
}

// FetchPositions returns the long and the short side of the hedge-mode position.
func (b *BybitAdapter) FetchPositions(ctx context.Context) (long, short domain.ShadowPosition, err error) {
	var result struct {
		List []json.RawMessage `json:"list"`
	}
	if err = b.do(ctx, request{
		method:  http.MethodGet,
		path:    "/v5/position/list",
		query:   b.symbolQuery(nil),
		context: "get_positions",
	}, &result); err != nil {
		return long, short, err
	}

	for _, raw := range result.List {
		p, decErr := DecodePositionSide(raw)
		if decErr != nil {
			return long, short, b.fail("get_positions", fmt.Errorf("%w: %v", domain.ErrMalformedResponse, decErr))
		}
		switch p.Side {
		case "Buy":
			long = domain.ShadowPosition{Quantity: p.Size, AvgEntryPrice: p.EntryPrice}
		case "Sell":
			short = domain.ShadowPosition{Quantity: -p.Size, AvgEntryPrice: p.EntryPrice}
		}
	}
	return long, short, nil
}

// FetchBalance returns the wallet balance of the configured base coin.
func (b *BybitAdapter) FetchBalance(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	q.Set("coin", b.cfg.BaseCoin)
	var result struct {
		List []json.RawMessage `json:"list"`
	}
	if err := b.do(ctx, request{
		method:  http.MethodGet,
		path:    "/v5/account/wallet-balance",
		query:   q,
		context: "get_wallet_balance",
	}, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		b.logger.Warn("wallet list empty", zap.String("coin", b.cfg.BaseCoin))
		return 0, nil
	}
	balance, ok, err := DecodeWallet(result.List[0], b.cfg.BaseCoin)
	if err != nil {
		return 0, b.fail("get_wallet_balance", fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err))
	}
	if !ok {
		b.logger.Warn("coin not in wallet", zap.String("coin", b.cfg.BaseCoin))
	}
	return balance, nil
}

// formatQty renders |amount| on the lot grid.
func (b *BybitAdapter) formatQty(amount float64) string {
	inst, ok := b.currentInstrument()
	if !ok {
		return strconv.FormatFloat(abs(amount), 'f', -1, 64)
	}
	return inst.FormatQty(inst.NormalizeSize(abs(amount)))
}

// formatPrice renders a price on the tick grid.
func (b *BybitAdapter) formatPrice(price float64, roundUp bool) string {
	inst, ok := b.currentInstrument()
	if !ok {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	return inst.FormatPrice(inst.NormalizePrice(price, roundUp))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

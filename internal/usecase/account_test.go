package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/usecase"
	"go.uber.org/zap"
)

var t0 = time.Unix(1_700_000_000, 0)

func testOrderID(kind domain.OrderKind) domain.OrderID {
	pos := domain.PositionID{StrategyID: "trend", Symbol: "BTCUSDT", TimeFrag: 0x1a2, Nonce: 0x0ff, Direction: domain.DirectionLong}
	return domain.NewOrderID(pos, kind, 0)
}

func streamOrder(id domain.OrderID, exchangeID string, at time.Time) *domain.Order {
	o := domain.NewOrder(id, "BTCUSDT", 1, domain.Price(100), domain.Price(105))
	o.ExchangeID = exchangeID
	o.UpdatedAt = at
	return o
}

func TestAccount_ApplyOrderRejectsStale(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	id := testOrderID(domain.OrderKindEntry)

	first := streamOrder(id, "ex1", t0.Add(2*time.Second))
	first.ExecutedAmount = 0.5
	_, ok := acc.ApplyOrder(first, t0)
	require.True(t, ok)

	older := streamOrder(id, "ex1", t0.Add(time.Second))
	older.ExecutedAmount = 0.5
	_, ok = acc.ApplyOrder(older, t0)
	assert.False(t, ok)

	lessFilled := streamOrder(id, "ex1", t0.Add(3*time.Second))
	lessFilled.ExecutedAmount = 0.2
	stored, ok := acc.ApplyOrder(lessFilled, t0)
	assert.False(t, ok)
	assert.Equal(t, 0.5, stored.ExecutedAmount)
	assert.Equal(t, t0.Add(2*time.Second), stored.UpdatedAt)
}

func TestAccount_ApplyOrderBackfillsTriggerAndLimit(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	id := testOrderID(domain.OrderKindEntry)
	_, ok := acc.ApplyOrder(streamOrder(id, "ex1", t0), t0)
	require.True(t, ok)

	update := streamOrder(id, "ex1", t0.Add(time.Second))
	update.TriggerPrice = nil
	update.LimitPrice = nil
	stored, ok := acc.ApplyOrder(update, t0)
	require.True(t, ok)

	require.NotNil(t, stored.TriggerPrice)
	assert.Equal(t, 105.0, *stored.TriggerPrice)
	assert.True(t, stored.TriggerConsumed)
	require.NotNil(t, stored.LimitPrice)
	assert.Equal(t, 100.0, *stored.LimitPrice)
}

func TestAccount_ApplyOrderIsIdempotent(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	id := testOrderID(domain.OrderKindTP)
	acc.ApplyOrder(streamOrder(id, "ex1", t0), t0)

	update := streamOrder(id, "ex1", t0.Add(time.Second))
	update.TriggerPrice = nil
	update.Active = false

	first, _ := acc.ApplyOrder(update, t0.Add(time.Minute))
	snapshot := first.Clone()
	second, _ := acc.ApplyOrder(update, t0.Add(2*time.Minute))

	assert.Same(t, first, second)
	assert.Equal(t, snapshot, second)
	require.NotNil(t, second.InactiveSince)
	assert.Equal(t, t0.Add(time.Minute), *second.InactiveSince)
	assert.Len(t, acc.Orders(), 1)
}

func TestAccount_ReactivatedOrderIsStampedAgain(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	id := testOrderID(domain.OrderKindEntry)

	cancelled := streamOrder(id, "ex1", t0)
	cancelled.Active = false
	stored, _ := acc.ApplyOrder(cancelled, t0)
	require.NotNil(t, stored.InactiveSince)

	live := streamOrder(id, "ex1", t0.Add(time.Second))
	stored, ok := acc.ApplyOrder(live, t0.Add(time.Second))
	require.True(t, ok)
	assert.True(t, stored.Active)
	assert.Nil(t, stored.InactiveSince)

	done := streamOrder(id, "ex1", t0.Add(2*time.Second))
	done.Active = false
	stored, _ = acc.ApplyOrder(done, t0.Add(2*time.Second))
	require.NotNil(t, stored.InactiveSince)
	assert.Equal(t, t0.Add(2*time.Second), *stored.InactiveSince)
}

func TestAccount_FilledOrderStaysInactive(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	id := testOrderID(domain.OrderKindEntry)

	filled := streamOrder(id, "ex1", t0)
	filled.ExecutedAmount = 1
	acc.ApplyOrder(filled, t0)

	late := streamOrder(id, "ex1", t0.Add(time.Second))
	late.ExecutedAmount = 1
	stored, _ := acc.ApplyOrder(late, t0.Add(time.Second))
	assert.False(t, stored.Active)
	require.NotNil(t, stored.InactiveSince)
	assert.Equal(t, t0, *stored.InactiveSince)
}

func TestAccount_ApplyExecutionMatchesByLinkID(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	id := testOrderID(domain.OrderKindEntry)
	order := domain.NewOrder(id, "BTCUSDT", -1, domain.Price(100), nil)
	acc.Track(order, t0)

	exec := domain.Execution{ExecID: "e1", ExchangeID: "ex9", LinkID: id.String(), Side: domain.SideSell,
		Quantity: 0.4, Price: 100, OrderQty: 1, LeavesQty: 0.6, Time: t0.Add(time.Second)}
	got, ok := acc.ApplyExecution(exec, t0)
	require.True(t, ok)
	assert.Same(t, order, got)
	assert.Equal(t, "ex9", order.ExchangeID)
	assert.Same(t, order, acc.OrderByExchangeID("ex9"))
	assert.InDelta(t, -0.4, order.ExecutedAmount, 1e-9)
	assert.True(t, order.Active)

	exec2 := exec
	exec2.ExecID, exec2.LinkID, exec2.Price, exec2.Quantity, exec2.LeavesQty = "e2", "", 102, 0.6, 0
	_, ok = acc.ApplyExecution(exec2, t0.Add(time.Minute))
	require.True(t, ok)
	assert.InDelta(t, -1.0, order.ExecutedAmount, 1e-9)
	assert.InDelta(t, 101.2, *order.ExecutedPrice, 1e-9)
	assert.False(t, order.Active)
	require.NotNil(t, order.InactiveSince)

	// a replayed partial fill never shrinks the executed amount
	_, ok = acc.ApplyExecution(exec, t0.Add(2*time.Minute))
	require.True(t, ok)
	assert.InDelta(t, -1.0, order.ExecutedAmount, 1e-9)
	assert.Equal(t, t0.Add(time.Minute), *order.InactiveSince)
}

func TestAccount_ApplyExecutionUnknownOrderDropped(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	_, ok := acc.ApplyExecution(domain.Execution{ExchangeID: "nope", LinkID: "nope", Quantity: 1, Side: domain.SideBuy}, t0)
	assert.False(t, ok)
	assert.Empty(t, acc.Orders())
}

func TestAccount_PositionSidesAndNet(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	acc.ApplyWallet(1000)
	acc.ApplyPositionSide(domain.PositionSideUpdate{Symbol: "BTCUSDT", Side: "Buy", Size: 3, EntryPrice: 100})
	acc.ApplyPositionSide(domain.PositionSideUpdate{Symbol: "BTCUSDT", Side: "Sell", Size: 1, EntryPrice: 110})

	net := acc.Net()
	assert.Equal(t, 2.0, net.Quantity)
	assert.Equal(t, 100.0, net.AvgEntryPrice)
	assert.Equal(t, 1000.0, net.WalletBalance)
	assert.Equal(t, -1.0, acc.Short().Quantity)
	assert.Equal(t, 1000.0, acc.Long().WalletBalance)

	acc.ApplyPositionSide(domain.PositionSideUpdate{Symbol: "BTCUSDT", Side: "Sell", Size: 3, EntryPrice: 120})
	assert.Equal(t, 120.0, acc.Net().AvgEntryPrice, "ties go to the short side")

	acc.ApplyPositionSide(domain.PositionSideUpdate{Symbol: "BTCUSDT", Side: "None"})
	assert.Equal(t, domain.AccountPosition{WalletBalance: 1000}, acc.Net())
}

func TestAccount_ApplyBars(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	acc.SetBars([]domain.Bar{
		{Time: t0.Add(2 * time.Minute), Close: 3},
		{Time: t0.Add(time.Minute), Close: 2},
		{Time: t0, Close: 1},
	})

	assert.False(t, acc.ApplyBars([]domain.Bar{{Time: t0.Add(time.Minute), Close: 2.5}}))
	assert.Equal(t, 2.5, acc.Bars()[1].Close)

	assert.False(t, acc.ApplyBars([]domain.Bar{{Time: t0.Add(-time.Minute), Close: 0}}))
	assert.Len(t, acc.Bars(), 3)

	assert.True(t, acc.ApplyBars([]domain.Bar{{Time: t0.Add(3 * time.Minute), Close: 4}, {Time: t0.Add(2 * time.Minute), Close: 3.5}}))
	bars := acc.Bars()
	require.Len(t, bars, 3)
	assert.Equal(t, 4.0, bars[0].Close)
	assert.Equal(t, 3.5, bars[1].Close)
	assert.Equal(t, 4.0, acc.LastPrice())

	agg := acc.BarsOf(2, 0)
	require.NotEmpty(t, agg)
	assert.Equal(t, 4.0, agg[0].Close)
}

func TestAccount_PruneAfterRetention(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	done := streamOrder(testOrderID(domain.OrderKindSL), "ex1", t0)
	done.Active = false
	acc.ApplyOrder(done, t0)
	acc.ApplyOrder(streamOrder(testOrderID(domain.OrderKindTP), "ex2", t0), t0)

	assert.Equal(t, 0, acc.Prune(t0.Add(time.Minute), time.Hour))
	assert.Equal(t, 1, acc.Prune(t0.Add(2*time.Hour), time.Hour))
	assert.Nil(t, acc.OrderByExchangeID("ex1"))
	assert.Len(t, acc.Orders(), 1)
	assert.Len(t, acc.OpenOrders(), 1)
}

func TestAccount_SyncOpenOrders(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	vanished := streamOrder(testOrderID(domain.OrderKindTP), "ex1", t0)
	kept := streamOrder(testOrderID(domain.OrderKindSL), "ex2", t0)
	acc.ApplyOrder(vanished, t0)
	acc.ApplyOrder(kept, t0)

	fresh := domain.NewOrder(testOrderID(domain.OrderKindEntry), "BTCUSDT", 1, nil, nil)
	started := t0.Add(time.Minute)
	acc.Track(fresh, started.Add(time.Second))

	changed := acc.SyncOpenOrders([]*domain.Order{streamOrder(kept.ID, "ex2", t0.Add(30*time.Second))}, started, started.Add(2*time.Second))

	assert.Len(t, changed, 2)
	assert.False(t, acc.OrderByExchangeID("ex1").Active)
	assert.True(t, acc.OrderByExchangeID("ex2").Active)
	assert.True(t, acc.Order(fresh.LinkID).Active)
}

func TestAccount_ApplyEvents(t *testing.T) {
	acc := usecase.NewAccount("BTCUSDT", zap.NewNop())
	id := testOrderID(domain.OrderKindEntry)
	order := streamOrder(id, "ex1", t0)

	ch := acc.Apply(domain.StreamEvents{
		Topic:  "order",
		Orders: []*domain.Order{order},
		Executions: []domain.Execution{{ExchangeID: "ex1", Side: domain.SideBuy, Quantity: 1, Price: 100,
			OrderQty: 1, LeavesQty: 0, Time: t0.Add(time.Second)}},
		WalletBalance: domain.Price(50),
		LastPrice:     domain.Price(101),
	}, t0)

	require.Len(t, ch.Orders, 1)
	require.Len(t, ch.Fills, 1)
	assert.True(t, ch.AccountUpdate)
	assert.True(t, ch.PriceUpdated)
	assert.False(t, ch.Orders[0].Active)
	assert.Equal(t, 50.0, acc.Balance())
	assert.Equal(t, 101.0, acc.LastPrice())
}

package usecase

import (
	"math"
	"time"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"go.uber.org/zap"
)

// Fill is an execution matched to the order it belongs to.
type Fill struct {
	Order     *domain.Order
	Execution domain.Execution
}

// Changes summarizes what one batch of stream events did to the account.
type Changes struct {
	Orders        []*domain.Order
	Fills         []Fill
	NewBar        bool
	PriceUpdated  bool
	AccountUpdate bool
}

// Account is the local model of one symbol on the exchange account. It is
// owned by a single bot goroutine and is not safe for concurrent use.
type Account struct {
	symbol string
	logger *zap.Logger

	orders     []*domain.Order
	byLink     map[string]*domain.Order
	byExchange map[string]*domain.Order

	long    domain.ShadowPosition
	short   domain.ShadowPosition
	net     domain.AccountPosition
	balance float64

	lastPrice  float64
	bars       []domain.Bar // newest first
	barLimit   int
	instrument domain.Instrument
}

func NewAccount(symbol string, logger *zap.Logger) *Account {
	return &Account{
		symbol:     symbol,
		logger:     logger,
		byLink:     make(map[string]*domain.Order),
		byExchange: make(map[string]*domain.Order),
	}
}

// Apply folds a drained batch of stream events into the account.
func (a *Account) Apply(ev domain.StreamEvents, now time.Time) Changes {
	var ch Changes
	for _, o := range ev.Orders {
		if merged, ok := a.ApplyOrder(o, now); ok {
			ch.Orders = appendUnique(ch.Orders, merged)
		}
	}
	for _, e := range ev.Executions {
		if o, ok := a.ApplyExecution(e, now); ok {
			ch.Fills = append(ch.Fills, Fill{Order: o, Execution: e})
			ch.Orders = appendUnique(ch.Orders, o)
		}
	}
	for _, p := range ev.Positions {
		a.ApplyPositionSide(p)
		ch.AccountUpdate = true
	}
	if ev.WalletBalance != nil {
		a.ApplyWallet(*ev.WalletBalance)
		ch.AccountUpdate = true
	}
	if len(ev.Bars) > 0 {
		ch.NewBar = a.ApplyBars(ev.Bars)
		ch.PriceUpdated = true
	}
	if ev.LastPrice != nil {
		a.ApplyLastPrice(*ev.LastPrice)
		ch.PriceUpdated = true
	}
	return ch
}

func appendUnique(orders []*domain.Order, o *domain.Order) []*domain.Order {
	for _, existing := range orders {
		if existing == o {
			return orders
		}
	}
	return append(orders, o)
}

// ApplyOrder merges an order update into the local state and returns the
// stored order. Updates older than the stored state, or reporting less
// execution, are rejected.
func (a *Account) ApplyOrder(update *domain.Order, now time.Time) (*domain.Order, bool) {
	existing := a.lookup(update.LinkID, update.ExchangeID)
	if existing == nil {
		stored := update.Clone()
		if !stored.Active || stored.IsFilled() {
			stored.Deactivate(now)
		}
		a.index(stored)
		return stored, true
	}

	if update.UpdatedAt.Before(existing.UpdatedAt) ||
		math.Abs(update.ExecutedAmount) < math.Abs(existing.ExecutedAmount) {
		a.logger.Debug("stale order update ignored",
			zap.String("order", update.LinkID),
			zap.Time("update_time", update.UpdatedAt),
			zap.Time("known_time", existing.UpdatedAt))
		return existing, false
	}

	merged := update.Clone()
	if merged.TriggerPrice == nil && existing.TriggerPrice != nil {
		merged.TriggerPrice = existing.TriggerPrice
		merged.TriggerConsumed = true
	}
	merged.TriggerConsumed = merged.TriggerConsumed || existing.TriggerConsumed
	if merged.LimitPrice == nil {
		merged.LimitPrice = existing.LimitPrice
	}
	if merged.ExecutedPrice == nil {
		merged.ExecutedPrice = existing.ExecutedPrice
	}
	if merged.ID.PositionID.IsZero() {
		merged.ID = existing.ID
		merged.LinkID = existing.LinkID
	}
	if merged.ExchangeID == "" {
		merged.ExchangeID = existing.ExchangeID
	}
	if !existing.Active && existing.IsFilled() {
		merged.Active = false
	}

	inactiveSince := existing.InactiveSince
	if merged.Active && !existing.Active {
		// live again on the exchange, e.g. after a submit that timed out locally
		inactiveSince = nil
	}
	*existing = *merged
	existing.InactiveSince = inactiveSince
	if !existing.Active || existing.IsFilled() {
		existing.Deactivate(now)
	}
	a.index(existing)
	return existing, true
}

// ApplyExecution adds a fill to the order it belongs to, matched by exchange
// id first and link id second.
func (a *Account) ApplyExecution(e domain.Execution, now time.Time) (*domain.Order, bool) {
	o := a.byExchange[e.ExchangeID]
	if o == nil && e.LinkID != "" {
		o = a.byLink[e.LinkID]
		if o != nil && o.ExchangeID == "" {
			o.ExchangeID = e.ExchangeID
			a.index(o)
		}
	}
	if o == nil {
		a.logger.Warn("execution for unknown order",
			zap.String("exec_id", e.ExecID),
			zap.String("order_id", e.ExchangeID),
			zap.String("link_id", e.LinkID))
		return nil, false
	}

	sign := math.Copysign(1, o.Amount)
	executed := o.ExecutedAmount + e.Amount()
	if e.OrderQty > 0 {
		executed = (e.OrderQty - e.LeavesQty) * sign
	}
	if delta := math.Abs(executed) - math.Abs(o.ExecutedAmount); delta > 0 {
		if o.ExecutedPrice == nil || o.ExecutedAmount == 0 {
			o.ExecutedPrice = domain.Price(e.Price)
		} else {
			prev := math.Abs(o.ExecutedAmount)
			o.ExecutedPrice = domain.Price((*o.ExecutedPrice*prev + e.Price*delta) / (prev + delta))
		}
		o.ExecutedAmount = executed
	}
	if e.Time.After(o.UpdatedAt) {
		o.UpdatedAt = e.Time
	}
	if o.IsFilled() {
		o.Deactivate(now)
	}
	return o, true
}

// ApplyPositionSide replaces one shadow position. A flat update resets both.
func (a *Account) ApplyPositionSide(u domain.PositionSideUpdate) {
	switch u.Side {
	case "Buy":
		a.long = domain.ShadowPosition{Quantity: u.Size, AvgEntryPrice: u.EntryPrice, WalletBalance: a.balance}
	case "Sell":
		a.short = domain.ShadowPosition{Quantity: -u.Size, AvgEntryPrice: u.EntryPrice, WalletBalance: a.balance}
	default:
		a.long = domain.ShadowPosition{WalletBalance: a.balance}
		a.short = domain.ShadowPosition{WalletBalance: a.balance}
	}
	a.recompute()
}

// SetPositions replaces both shadows from a REST snapshot.
func (a *Account) SetPositions(long, short domain.ShadowPosition) {
	a.long = long
	a.short = short
	a.recompute()
}

func (a *Account) ApplyWallet(balance float64) {
	a.balance = balance
	a.recompute()
}

func (a *Account) recompute() {
	a.long.WalletBalance = a.balance
	a.short.WalletBalance = a.balance
	a.net = domain.NetPosition(a.long, a.short, a.balance)
}

func (a *Account) ApplyLastPrice(price float64) {
	if price > 0 {
		a.lastPrice = price
	}
}

// SetBars replaces the base resolution bar history. The length also becomes
// the limit kept by ApplyBars.
func (a *Account) SetBars(bars []domain.Bar) {
	a.bars = append([]domain.Bar(nil), bars...)
	a.barLimit = len(bars)
	if len(a.bars) > 0 && a.lastPrice == 0 {
		a.lastPrice = a.bars[0].Close
	}
}

// ApplyBars merges streamed base bars (newest first). A bar whose start is
// already known replaces it, a newer one is prepended, anything older than
// the history is ignored. It reports whether a new bar started.
func (a *Account) ApplyBars(bars []domain.Bar) bool {
	newBar := false
	for i := len(bars) - 1; i >= 0; i-- {
		bar := bars[i]
		switch {
		case len(a.bars) == 0:
			a.bars = []domain.Bar{bar}
			newBar = true
		case bar.Time.After(a.bars[0].Time):
			a.bars = append([]domain.Bar{bar}, a.bars...)
			newBar = true
		default:
			for idx := range a.bars {
				if a.bars[idx].Time.Equal(bar.Time) {
					a.bars[idx] = bar
					break
				}
			}
		}
	}
	if a.barLimit > 0 && len(a.bars) > a.barLimit {
		a.bars = a.bars[:a.barLimit]
	}
	if len(a.bars) > 0 {
		a.lastPrice = a.bars[0].Close
	}
	return newBar
}

// Track registers an order about to be submitted so stream updates find it.
func (a *Account) Track(o *domain.Order, now time.Time) {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	a.index(o)
}

// Prune drops inactive orders that have been inactive for longer than
// retention and returns how many were removed.
func (a *Account) Prune(now time.Time, retention time.Duration) int {
	kept := a.orders[:0]
	removed := 0
	for _, o := range a.orders {
		if !o.Active && o.InactiveSince != nil && now.Sub(*o.InactiveSince) > retention {
			delete(a.byLink, o.LinkID)
			if o.ExchangeID != "" {
				delete(a.byExchange, o.ExchangeID)
			}
			removed++
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(a.orders); i++ {
		a.orders[i] = nil
	}
	a.orders = kept
	return removed
}

// SyncOpenOrders merges a REST snapshot of open orders. Local active orders
// missing from the snapshot that were not updated after the snapshot started
// are marked inactive.
func (a *Account) SyncOpenOrders(snapshot []*domain.Order, started, now time.Time) []*domain.Order {
	seen := make(map[*domain.Order]bool, len(snapshot))
	var changed []*domain.Order
	for _, o := range snapshot {
		merged, ok := a.ApplyOrder(o, now)
		seen[merged] = true
		if ok {
			changed = append(changed, merged)
		}
	}
	for _, o := range a.orders {
		if !o.Active || seen[o] || o.UpdatedAt.After(started) {
			continue
		}
		a.logger.Info("order vanished from exchange", zap.String("order", o.LinkID), zap.String("exchange_id", o.ExchangeID))
		o.Deactivate(now)
		changed = append(changed, o)
	}
	return changed
}

func (a *Account) lookup(linkID, exchangeID string) *domain.Order {
	if exchangeID != "" {
		if o := a.byExchange[exchangeID]; o != nil {
			return o
		}
	}
	if linkID != "" {
		return a.byLink[linkID]
	}
	return nil
}

func (a *Account) index(o *domain.Order) {
	if o.LinkID == "" {
		o.LinkID = o.ExchangeID
	}
	if _, ok := a.byLink[o.LinkID]; !ok && !a.contains(o) {
		a.orders = append(a.orders, o)
	}
	a.byLink[o.LinkID] = o
	if o.ExchangeID != "" {
		a.byExchange[o.ExchangeID] = o
	}
}

func (a *Account) contains(o *domain.Order) bool {
	if o.ExchangeID == "" {
		return false
	}
	return a.byExchange[o.ExchangeID] == o
}

// Order returns the order with the given link id.
func (a *Account) Order(linkID string) *domain.Order {
	return a.byLink[linkID]
}

// OrderByExchangeID returns the order with the given exchange id.
func (a *Account) OrderByExchangeID(id string) *domain.Order {
	return a.byExchange[id]
}

// OpenOrders returns the active orders in the order they became known.
func (a *Account) OpenOrders() []*domain.Order {
	var open []*domain.Order
	for _, o := range a.orders {
		if o.Active {
			open = append(open, o)
		}
	}
	return open
}

// OrdersOf returns the active orders belonging to a position.
func (a *Account) OrdersOf(id domain.PositionID) []*domain.Order {
	var out []*domain.Order
	for _, o := range a.orders {
		if o.Active && o.ID.PositionID == id {
			out = append(out, o)
		}
	}
	return out
}

func (a *Account) Orders() []*domain.Order { return a.orders }
func (a *Account) Long() domain.ShadowPosition { return a.long }
func (a *Account) Short() domain.ShadowPosition { return a.short }
func (a *Account) Net() domain.AccountPosition { return a.net }
func (a *Account) Balance() float64 { return a.balance }
func (a *Account) LastPrice() float64 { return a.lastPrice }
func (a *Account) Bars() []domain.Bar { return a.bars }

// BarsOf re-buckets the base history into bars of timeframeMinutes, newest
// first.
func (a *Account) BarsOf(timeframeMinutes, offsetMinutes int) []domain.Bar {
	return domain.AggregateBars(a.bars, timeframeMinutes, offsetMinutes)
}
func (a *Account) Instrument() domain.Instrument { return a.instrument }
func (a *Account) SetInstrument(inst domain.Instrument) { a.instrument = inst }

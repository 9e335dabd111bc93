package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_engine/internal/domain"
	"go.uber.org/zap"
)

type BotConfig struct {
	ID                       string
	Symbol                   string
	MinutesPerBar            int
	BarOffsetMinutes         int
	MinBars                  int
	CancelTriggeredAfterBars int
	OrderSyncInterval        time.Duration
	OrderRetention           time.Duration
}

func (c *BotConfig) applyDefaults() {
	if c.MinutesPerBar <= 0 {
		c.MinutesPerBar = 240
	}
	if c.MinBars <= 0 {
		c.MinBars = 100
	}
	if c.OrderSyncInterval <= 0 {
		c.OrderSyncInterval = 5 * time.Minute
	}
	if c.OrderRetention <= 0 {
		c.OrderRetention = time.Hour
	}
}

// Bot runs the processing tick of one symbol: it drains stream events,
// reconciles them into the account, drives position lifecycles and hands the
// result to the strategies owning the affected positions. Without strategies
// it only monitors the account.
type Bot struct {
	cfg        BotConfig
	exchange   domain.Exchange
	events     domain.EventSource
	repo       domain.TradeRepository
	notifier   domain.Notifier
	logger     *zap.Logger
	strategies map[string]domain.Strategy
	order      []domain.Strategy

	account  *Account
	registry *Registry
	runID    string
	now      func() time.Time

	lastBarTime      time.Time
	lastAccountEvent time.Time
}

func NewBot(cfg BotConfig, exchange domain.Exchange, events domain.EventSource, strategies []domain.Strategy,
	repo domain.TradeRepository, notifier domain.Notifier, logger *zap.Logger) *Bot {
	cfg.applyDefaults()
	logger = logger.With(zap.String("bot", cfg.ID), zap.String("symbol", cfg.Symbol))
	b := &Bot{
		cfg:        cfg,
		exchange:   exchange,
		events:     events,
		repo:       repo,
		notifier:   notifier,
		logger:     logger,
		strategies: make(map[string]domain.Strategy, len(strategies)),
		account:    NewAccount(cfg.Symbol, logger.Named("account")),
		registry:   NewRegistry(logger.Named("registry")),
		runID:      uuid.NewString(),
		now:        time.Now,
	}
	for _, s := range strategies {
		if _, dup := b.strategies[s.ID()]; dup {
			logger.Warn("duplicate strategy id ignored", zap.String("strategy", s.ID()))
			continue
		}
		b.strategies[s.ID()] = s
		b.order = append(b.order, s)
	}
	return b
}

func (b *Bot) Account() *Account { return b.account }
func (b *Bot) Registry() *Registry { return b.registry }

// Positions returns a copy of all open positions.
func (b *Bot) Positions() []*domain.Position {
	return b.registry.Snapshot()
}

// Run seeds the state from REST and then processes stream notifications until
// ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Init(ctx); err != nil {
		return err
	}
	if len(b.order) == 0 {
		b.logger.Info("no strategies configured, running in monitor mode")
	}

	ticker := time.NewTicker(b.cfg.OrderSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bot stopped")
			return nil
		case topic := <-b.events.Notifications():
			b.Process(ctx, topic)
		case <-ticker.C:
			b.Resync(ctx)
		}
	}
}

// Init loads instrument, orders, positions, balance and bar history.
func (b *Bot) Init(ctx context.Context) error {
	now := b.now()

	inst, err := b.exchange.FetchInstrument(ctx)
	if err != nil {
		return fmt.Errorf("load instrument: %w", err)
	}
	b.account.SetInstrument(inst)

	orders, err := b.exchange.FetchOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	for _, o := range orders {
		b.account.ApplyOrder(o, now)
	}

	long, short, err := b.exchange.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	b.account.SetPositions(long, short)

	balance, err := b.exchange.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	b.account.ApplyWallet(balance)

	base := domain.BaseResolution(b.cfg.MinutesPerBar)
	subbars := (b.minBars() + 1) * b.cfg.MinutesPerBar / base
	bars, err := b.exchange.FetchCandles(ctx, base, 0, subbars)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}
	b.account.SetBars(bars)
	if agg := b.account.BarsOf(b.cfg.MinutesPerBar, b.cfg.BarOffsetMinutes); len(agg) > 0 {
		b.lastBarTime = agg[0].Time
	}

	if ticker, err := b.exchange.FetchTicker(ctx); err == nil {
		b.account.ApplyLastPrice(ticker.LastPrice)
	} else {
		b.logger.Warn("initial ticker unavailable", zap.Error(err))
	}

	b.recoverPositions(now)
	b.lastAccountEvent = now

	b.logger.Info("bot initialized",
		zap.Int("open_orders", len(b.account.OpenOrders())),
		zap.Int("positions", b.registry.Len()),
		zap.Float64("balance", balance),
		zap.Float64("net_qty", b.account.Net().Quantity),
		zap.Int("bars", len(bars)))
	return nil
}

func (b *Bot) minBars() int {
	n := b.cfg.MinBars
	for _, s := range b.order {
		if m := s.MinBarsNeeded(); m > n {
			n = m
		}
	}
	return n
}

// recoverPositions rebuilds registry entries from our open orders. A position
// with an active entry order is pending, one with only exit orders is open.
func (b *Bot) recoverPositions(now time.Time) {
	for _, o := range b.account.OpenOrders() {
		pid := o.ID.PositionID
		if pid.IsZero() || b.strategies[pid.StrategyID] == nil {
			continue
		}
		pos := b.registry.Get(pid)
		if pos == nil {
			pos = domain.NewPosition(pid, 0, 0, 0, now)
			pos.Status = domain.PositionOpen
			b.registry.Put(pos)
		}
		switch o.ID.Kind {
		case domain.OrderKindEntry:
			pos.Amount = o.Amount
			pos.WantedEntry = orderPrice(o, 0)
			pos.Status = domain.PositionPending
			if o.TriggerConsumed {
				pos.MarkTriggered(now)
			}
		case domain.OrderKindSL:
			pos.InitialStop = orderPrice(o, 0)
			if pos.Amount == 0 {
				pos.Amount = -o.Amount
			}
		case domain.OrderKindTP:
			if pos.Amount == 0 {
				pos.Amount = -o.Amount
			}
		}
	}
	if n := b.registry.Len(); n > 0 {
		b.logger.Info("recovered positions from open orders", zap.Int("count", n))
	}
}

func orderPrice(o *domain.Order, fallback float64) float64 {
	switch {
	case o.ExecutedPrice != nil:
		return *o.ExecutedPrice
	case o.LimitPrice != nil:
		return *o.LimitPrice
	case o.TriggerPrice != nil:
		return *o.TriggerPrice
	}
	return fallback
}

// Process drains one topic and runs a full tick on the result.
func (b *Bot) Process(ctx context.Context, topic string) {
	now := b.now()
	ev := b.events.Collect(topic)
	ch := b.account.Apply(ev, now)
	if ev.FromAccount() {
		b.lastAccountEvent = now
	}
	b.tick(ctx, ch, now)
}

// Resync reloads open orders, positions and balance over REST when the
// account stream has been silent for longer than the sync interval.
func (b *Bot) Resync(ctx context.Context) {
	started := b.now()
	if started.Sub(b.lastAccountEvent) < b.cfg.OrderSyncInterval {
		return
	}
	orders, err := b.exchange.FetchOpenOrders(ctx)
	if err != nil {
		b.logger.Warn("order resync failed", zap.Error(err))
		return
	}
	now := b.now()
	ch := Changes{Orders: b.account.SyncOpenOrders(orders, started, now), AccountUpdate: true}

	if long, short, err := b.exchange.FetchPositions(ctx); err == nil {
		b.account.SetPositions(long, short)
	} else {
		b.logger.Warn("position resync failed", zap.Error(err))
	}
	if balance, err := b.exchange.FetchBalance(ctx); err == nil {
		b.account.ApplyWallet(balance)
	} else {
		b.logger.Warn("balance resync failed", zap.Error(err))
	}

	b.lastAccountEvent = now
	b.logger.Debug("account resynced", zap.Int("changed_orders", len(ch.Orders)))
	b.tick(ctx, ch, now)
}

func (b *Bot) tick(ctx context.Context, ch Changes, now time.Time) {
	tick := b.buildTick(now)

	b.recordFills(ctx, ch.Fills)
	b.syncExecutions(ctx, ch.Orders, tick, now)
	b.expireTriggered(ctx, tick, now)

	if len(b.order) == 0 {
		b.monitor(ch)
	} else if tick.LastPrice > 0 && len(tick.Bars) > 0 {
		b.runStrategies(ctx, tick, now)
	}

	if n := b.account.Prune(now, b.cfg.OrderRetention); n > 0 {
		b.logger.Debug("pruned inactive orders", zap.Int("count", n))
	}
}

func (b *Bot) buildTick(now time.Time) *domain.Tick {
	bars := b.account.BarsOf(b.cfg.MinutesPerBar, b.cfg.BarOffsetMinutes)
	isNewBar := false
	if len(bars) > 0 && bars[0].Time.After(b.lastBarTime) {
		isNewBar = !b.lastBarTime.IsZero()
		b.lastBarTime = bars[0].Time
	}
	return &domain.Tick{
		Time:       now,
		Symbol:     b.cfg.Symbol,
		Bars:       bars,
		IsNewBar:   isNewBar,
		LastPrice:  b.account.LastPrice(),
		Account:    b.account.Net(),
		Long:       b.account.Long(),
		Short:      b.account.Short(),
		Instrument: b.account.Instrument(),
		OpenOrders: b.account.OpenOrders(),
	}
}

func (b *Bot) recordFills(ctx context.Context, fills []Fill) {
	for _, f := range fills {
		e := f.Execution
		if b.repo != nil {
			if err := b.repo.SaveExecution(ctx, &domain.ExecutionRecord{BotID: b.cfg.ID, Execution: e}); err != nil {
				b.logger.Error("failed to save execution", zap.String("exec_id", e.ExecID), zap.Error(err))
			}
		}
		b.logger.Info("order executed",
			zap.String("order", f.Order.LinkID),
			zap.String("side", string(e.Side)),
			zap.Float64("qty", e.Quantity),
			zap.Float64("price", e.Price))
		b.notify(fmt.Sprintf("%s: %s %g %s @ %g (%s)", b.cfg.ID, e.Side, e.Quantity, e.Symbol, e.Price, f.Order.LinkID))
	}
}

// syncExecutions moves the positions behind changed orders through their
// lifecycle and tells the owning strategy.
func (b *Bot) syncExecutions(ctx context.Context, orders []*domain.Order, tick *domain.Tick, now time.Time) {
	for _, o := range orders {
		pid := o.ID.PositionID
		if pid.IsZero() {
			continue
		}
		pos := b.registry.Get(pid)
		if pos == nil {
			continue
		}

		prev := pos.Status
		switch o.ID.Kind {
		case domain.OrderKindEntry:
			if o.TriggerConsumed {
				pos.MarkTriggered(now)
			}
			switch {
			case o.IsFilled() || (!o.Active && o.ExecutedAmount != 0):
				pos.Amount = o.ExecutedAmount
				pos.MarkOpen(orderPrice(o, tick.LastPrice), now)
			case !o.Active && (pos.Status == domain.PositionPending || pos.Status == domain.PositionTriggered):
				pos.MarkNotFilled(now)
			}
		case domain.OrderKindTP, domain.OrderKindSL:
			if !o.Active && o.ExecutedAmount != 0 && pos.Status == domain.PositionOpen &&
				math.Abs(o.ExecutedAmount) >= math.Abs(pos.Amount) {
				pos.MarkClosed(orderPrice(o, tick.LastPrice), now)
			}
		}

		if pos.Status != prev {
			b.positionChanged(ctx, pos, prev, tick, now)
		}
	}
}

// expireTriggered gives up on triggered entries that stayed unfilled for
// CancelTriggeredAfterBars bars.
func (b *Bot) expireTriggered(ctx context.Context, tick *domain.Tick, now time.Time) {
	if b.cfg.CancelTriggeredAfterBars <= 0 {
		return
	}
	wait := time.Duration(b.cfg.CancelTriggeredAfterBars*b.cfg.MinutesPerBar) * time.Minute
	for _, pos := range b.registry.Select(func(p *domain.Position) bool {
		return p.Status == domain.PositionTriggered && p.WaitingSince != nil && now.Sub(*p.WaitingSince) >= wait
	}) {
		b.logger.Info("triggered entry not filled in time", zap.String("position", pos.ID.String()))
		pos.MarkNotFilled(now)
		b.positionChanged(ctx, pos, domain.PositionTriggered, tick, now)
	}
}

func (b *Bot) positionChanged(ctx context.Context, pos *domain.Position, prev domain.PositionStatus, tick *domain.Tick, now time.Time) {
	b.logger.Info("position status changed",
		zap.String("position", pos.ID.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(pos.Status)))

	if s := b.strategies[pos.ID.StrategyID]; s != nil {
		b.registry.WithStrategy(s.ID(), func(owned map[domain.PositionID]*domain.Position) {
			s.PositionChanged(pos, tick, owned)
		})
	}
	if pos.IsTerminal() {
		b.finish(ctx, pos, now)
	}
}

// finish cancels what is left of a terminal position, removes it from the
// registry and writes its history row.
func (b *Bot) finish(ctx context.Context, pos *domain.Position, now time.Time) {
	for _, o := range b.account.OrdersOf(pos.ID) {
		b.cancel(ctx, o, now)
	}
	b.registry.Delete(pos.ID)

	h := pos.History(b.cfg.ID, b.runID, b.account.Instrument().IsInverse)
	if b.repo != nil {
		if err := b.repo.SavePositionHistory(ctx, h); err != nil {
			b.logger.Error("failed to save position history", zap.String("position", h.PositionID), zap.Error(err))
		}
	}
	if pos.Status == domain.PositionClosed {
		b.notify(fmt.Sprintf("%s: closed %s pnl %.6g", b.cfg.ID, h.PositionID, h.RealizedPnL))
	}
}

func (b *Bot) runStrategies(ctx context.Context, tick *domain.Tick, now time.Time) {
	intents := &domain.Intents{}
	ready := make(map[string]bool, len(b.order))
	for _, s := range b.order {
		if len(tick.Bars) < s.MinBarsNeeded() {
			b.logger.Debug("not enough bars for strategy", zap.String("strategy", s.ID()), zap.Int("bars", len(tick.Bars)))
			continue
		}
		ready[s.ID()] = true
	}

	b.registry.RouteOrders(tick.OpenOrders, func(sid string) bool { return ready[sid] },
		func(sid string, orders []*domain.Order, owned map[domain.PositionID]*domain.Position) {
			s := b.strategies[sid]
			for _, o := range orders {
				s.ManageOpenOrder(o, owned[o.ID.PositionID], tick, owned, intents)
			}
		})

	for _, s := range b.order {
		if !ready[s.ID()] {
			continue
		}
		b.registry.WithStrategy(s.ID(), func(owned map[domain.PositionID]*domain.Position) {
			for _, pos := range sortedPositions(owned) {
				if pos.Status == domain.PositionOpen {
					s.ManagePosition(pos, tick, intents)
				}
			}
			if tick.IsNewBar {
				s.OpenNewTrades(tick, owned, intents)
			}
		})
	}

	if !intents.Empty() {
		b.execute(ctx, intents, tick, now)
	}
}

func sortedPositions(owned map[domain.PositionID]*domain.Position) []*domain.Position {
	out := make([]*domain.Position, 0, len(owned))
	for _, pos := range owned {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// execute sends the collected intents to the exchange: cancels first, then
// amendments, then new orders. Cancelled positions are finished right away;
// an open one is recorded as closed at the last price.
func (b *Bot) execute(ctx context.Context, intents *domain.Intents, tick *domain.Tick, now time.Time) {
	for _, pid := range intents.CancelPositions {
		pos := b.registry.Get(pid)
		if pos == nil {
			for _, o := range b.account.OrdersOf(pid) {
				b.cancel(ctx, o, now)
			}
			continue
		}
		b.logger.Info("position cancelled by strategy",
			zap.String("position", pid.String()), zap.String("status", string(pos.Status)))
		if pos.Status == domain.PositionOpen {
			pos.MarkClosed(tick.LastPrice, now)
		} else {
			pos.MarkNotFilled(now)
		}
		b.finish(ctx, pos, now)
	}
	for _, o := range intents.Cancel {
		b.cancel(ctx, o, now)
	}
	for _, o := range intents.Update {
		if !o.Active {
			continue
		}
		if err := b.exchange.AmendOrder(ctx, o, tick.LastPrice); err != nil {
			b.logger.Warn("amend failed", zap.String("order", o.LinkID), zap.Error(err))
		}
	}
	for _, o := range intents.New {
		if b.strategies[o.ID.StrategyID] == nil {
			b.logger.Error("rejected order without owning strategy", zap.String("order", o.LinkID))
			continue
		}
		if o.Symbol == "" {
			o.Symbol = b.cfg.Symbol
		}
		b.account.Track(o, now)
		if err := b.exchange.SubmitOrder(ctx, o, tick.LastPrice); err != nil {
			b.logger.Warn("submit failed", zap.String("order", o.LinkID), zap.Error(err))
			o.Deactivate(now)
		}
	}
}

func (b *Bot) cancel(ctx context.Context, o *domain.Order, now time.Time) {
	if !o.Active {
		return
	}
	if err := b.exchange.CancelOrder(ctx, o); err != nil {
		b.logger.Warn("cancel failed", zap.String("order", o.LinkID), zap.Error(err))
		return
	}
	o.Deactivate(now)
}

func (b *Bot) monitor(ch Changes) {
	for _, o := range ch.Orders {
		b.logger.Info("order update", zap.Stringer("order", o))
	}
	if ch.AccountUpdate {
		net := b.account.Net()
		b.logger.Info("account update",
			zap.Float64("net_qty", net.Quantity),
			zap.Float64("avg_entry", net.AvgEntryPrice),
			zap.Float64("balance", net.WalletBalance))
	}
}

func (b *Bot) notify(text string) {
	if b.notifier != nil {
		b.notifier.Notify(text)
	}
}

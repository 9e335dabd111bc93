package domain

import (
	"context"
	"time"
)

// Exchange is the subset of the gateway a bot needs during its tick.
type Exchange interface {
	SubmitOrder(ctx context.Context, order *Order, lastPrice float64) error
	AmendOrder(ctx context.Context, order *Order, lastPrice float64) error
	CancelOrder(ctx context.Context, order *Order) error

	FetchOpenOrders(ctx context.Context) ([]*Order, error)
	FetchPositions(ctx context.Context) (long, short ShadowPosition, err error)
	FetchBalance(ctx context.Context) (float64, error)
	FetchCandles(ctx context.Context, timeframeMinutes, offsetMinutes, minBars int) ([]Bar, error)
	FetchTicker(ctx context.Context) (Ticker, error)
	FetchInstrument(ctx context.Context) (Instrument, error)
}

// Tick is the read-only view handed to strategies.
type Tick struct {
	Time       time.Time
	Symbol     string
	Bars       []Bar // newest first, Bars[0] is still forming
	IsNewBar   bool
	LastPrice  float64
	Account    AccountPosition
	Long       ShadowPosition
	Short      ShadowPosition
	Instrument Instrument
	OpenOrders []*Order
}

// Strategy is implemented outside the engine. The owned map holds only the
// strategy's own positions; mutating it in place is how a strategy adds or
// removes positions.
type Strategy interface {
	ID() string
	MinBarsNeeded() int
	PositionChanged(pos *Position, tick *Tick, owned map[PositionID]*Position)
	ManageOpenOrder(order *Order, pos *Position, tick *Tick, owned map[PositionID]*Position, intents *Intents)
	ManagePosition(pos *Position, tick *Tick, intents *Intents)
	OpenNewTrades(tick *Tick, owned map[PositionID]*Position, intents *Intents)
}

// ExecutionRecord is a persisted fill.
type ExecutionRecord struct {
	ID    int64
	BotID string
	Execution
}

// TradeRepository defines storage operations for fills and finished positions.
type TradeRepository interface {
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
	ListExecutions(ctx context.Context, botID string, limit int) ([]*ExecutionRecord, error)

	SavePositionHistory(ctx context.Context, history *PositionHistory) error
	ListPositionHistory(ctx context.Context, botID string, limit int) ([]*PositionHistory, error)
}

// Notifier delivers short human readable messages. Implementations must not
// block the caller.
type Notifier interface {
	Notify(text string)
}

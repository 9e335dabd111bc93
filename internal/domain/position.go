package domain

import "time"

type PositionStatus string

const (
	PositionPending   PositionStatus = "pending"
	PositionTriggered PositionStatus = "triggered"
	PositionOpen      PositionStatus = "open"
	PositionNotFilled PositionStatus = "notFilled"
	PositionClosed    PositionStatus = "closed"
)

// Position is one trading decision of a strategy. It lives in the registry
// until it is closed or never filled.
type Position struct {
	ID          PositionID
	Amount      float64 // signed
	WantedEntry float64
	InitialStop float64
	Status      PositionStatus
	EntryTime   time.Time

	// WaitingSince is set only while Status is PositionTriggered.
	WaitingSince *time.Time

	FilledEntry *float64
	ExitPrice   *float64
	ExitTime    *time.Time
}

// NewPosition creates a pending position.
func NewPosition(id PositionID, amount, wantedEntry, initialStop float64, now time.Time) *Position {
	return &Position{
		ID:          id,
		Amount:      amount,
		WantedEntry: wantedEntry,
		InitialStop: initialStop,
		Status:      PositionPending,
		EntryTime:   now,
	}
}

// MarkTriggered moves a pending position to triggered.
func (p *Position) MarkTriggered(now time.Time) {
	if p.Status != PositionPending {
		return
	}
	p.Status = PositionTriggered
	t := now
	p.WaitingSince = &t
}

// MarkOpen records the entry fill.
func (p *Position) MarkOpen(price float64, now time.Time) {
	if p.Status == PositionOpen || p.IsTerminal() {
		return
	}
	p.Status = PositionOpen
	p.WaitingSince = nil
	p.FilledEntry = Price(price)
	p.EntryTime = now
}

// MarkNotFilled ends a position whose entry never executed.
func (p *Position) MarkNotFilled(now time.Time) {
	if p.IsTerminal() {
		return
	}
	p.Status = PositionNotFilled
	p.WaitingSince = nil
	t := now
	p.ExitTime = &t
}

// MarkClosed ends an open position at the given exit price.
func (p *Position) MarkClosed(price float64, now time.Time) {
	if p.IsTerminal() {
		return
	}
	p.Status = PositionClosed
	p.WaitingSince = nil
	p.ExitPrice = Price(price)
	t := now
	p.ExitTime = &t
}

// IsTerminal reports whether the position should leave the registry.
func (p *Position) IsTerminal() bool {
	return p.Status == PositionClosed || p.Status == PositionNotFilled
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	c := *p
	c.FilledEntry = clonePrice(p.FilledEntry)
	c.ExitPrice = clonePrice(p.ExitPrice)
	if p.WaitingSince != nil {
		t := *p.WaitingSince
		c.WaitingSince = &t
	}
	if p.ExitTime != nil {
		t := *p.ExitTime
		c.ExitTime = &t
	}
	return &c
}

// History builds the row persisted when the position leaves the registry.
func (p *Position) History(botID, runID string, inverse bool) *PositionHistory {
	h := &PositionHistory{
		BotID:       botID,
		RunID:       runID,
		PositionID:  p.ID.String(),
		StrategyID:  p.ID.StrategyID,
		Symbol:      p.ID.Symbol,
		Direction:   p.ID.Direction,
		Status:      p.Status,
		Amount:      p.Amount,
		WantedEntry: p.WantedEntry,
		InitialStop: p.InitialStop,
		EntryTime:   p.EntryTime,
	}
	if p.FilledEntry != nil {
		h.EntryPrice = *p.FilledEntry
	}
	if p.ExitPrice != nil {
		h.ExitPrice = *p.ExitPrice
	}
	if p.ExitTime != nil {
		h.ClosedAt = *p.ExitTime
	}
	if h.EntryPrice > 0 && h.ExitPrice > 0 {
		if inverse {
			h.RealizedPnL = p.Amount * (1/h.EntryPrice - 1/h.ExitPrice)
		} else {
			h.RealizedPnL = p.Amount * (h.ExitPrice - h.EntryPrice)
		}
	}
	return h
}

// PositionHistory represents a position that left the registry.
type PositionHistory struct {
	ID          int64
	BotID       string
	RunID       string
	PositionID  string
	StrategyID  string
	Symbol      string
	Direction   Direction
	Status      PositionStatus
	Amount      float64
	WantedEntry float64
	InitialStop float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	EntryTime   time.Time
	ClosedAt    time.Time
}

// ShadowPosition is the exchange's view of one side of a hedge-mode account.
// Long quantities are >= 0, short quantities <= 0.
type ShadowPosition struct {
	Quantity      float64
	AvgEntryPrice float64
	WalletBalance float64
}

// AccountPosition is the net position derived from both shadows.
type AccountPosition struct {
	Quantity      float64
	AvgEntryPrice float64
	WalletBalance float64
}

// NetPosition sums both sides. The average entry price is taken from the side
// with the larger absolute quantity; ties go to the short side.
func NetPosition(long, short ShadowPosition, balance float64) AccountPosition {
	avg := short.AvgEntryPrice
	if long.Quantity > -short.Quantity {
		avg = long.AvgEntryPrice
	}
	return AccountPosition{
		Quantity:      long.Quantity + short.Quantity,
		AvgEntryPrice: avg,
		WalletBalance: balance,
	}
}

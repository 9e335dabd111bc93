package domain

import (
	"fmt"
	"math"
	"time"
)

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Sign maps Buy to +1 and everything else to -1.
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// SideOf returns the exchange side for a signed amount.
func SideOf(amount float64) Side {
	if amount > 0 {
		return SideBuy
	}
	return SideSell
}

// Order is the local view of one exchange order.
type Order struct {
	ID         OrderID // zero for orders not created by this engine
	LinkID     string  // client order id as sent on the wire
	ExchangeID string
	Symbol     string

	Amount         float64 // signed, sign = direction
	LimitPrice     *float64
	TriggerPrice   *float64
	ExecutedAmount float64 // signed
	ExecutedPrice  *float64

	Active          bool
	TriggerConsumed bool
	UpdatedAt       time.Time
	InactiveSince   *time.Time
}

// NewOrder creates an active order owned by id.
func NewOrder(id OrderID, symbol string, amount float64, limit, trigger *float64) *Order {
	return &Order{
		ID:           id,
		LinkID:       id.String(),
		Symbol:       symbol,
		Amount:       amount,
		LimitPrice:   limit,
		TriggerPrice: trigger,
		Active:       true,
	}
}

// Side is the exchange side of the order.
func (o *Order) Side() Side {
	return SideOf(o.Amount)
}

// IsFilled reports whether the executed magnitude reached the order size.
func (o *Order) IsFilled() bool {
	return o.Amount != 0 && math.Abs(o.ExecutedAmount) >= math.Abs(o.Amount)
}

// Deactivate marks the order inactive and stamps InactiveSince once.
func (o *Order) Deactivate(now time.Time) {
	o.Active = false
	if o.InactiveSince == nil {
		t := now
		o.InactiveSince = &t
	}
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.LimitPrice = clonePrice(o.LimitPrice)
	c.TriggerPrice = clonePrice(o.TriggerPrice)
	c.ExecutedPrice = clonePrice(o.ExecutedPrice)
	if o.InactiveSince != nil {
		t := *o.InactiveSince
		c.InactiveSince = &t
	}
	return &c
}

func (o *Order) String() string {
	return fmt.Sprintf("%s (%s) %.5f@%s/%s ex=%.5f active=%t triggered=%t",
		o.LinkID, o.ExchangeID, o.Amount, fmtPrice(o.LimitPrice), fmtPrice(o.TriggerPrice),
		o.ExecutedAmount, o.Active, o.TriggerConsumed)
}

// Price returns a pointer to v, for optional price fields.
func Price(v float64) *float64 {
	return &v
}

func clonePrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func fmtPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}

// Execution is one fill reported by the exchange.
type Execution struct {
	ExecID     string
	ExchangeID string // order id assigned by the exchange
	LinkID     string
	Symbol     string
	Side       Side
	Quantity   float64 // unsigned exec qty
	Price      float64
	OrderQty   float64
	LeavesQty  float64
	Time       time.Time
}

// Amount is the signed executed quantity of this fill.
func (e Execution) Amount() float64 {
	return e.Quantity * e.Side.Sign()
}

// Intents collects the order actions a strategy wants issued after a tick.
type Intents struct {
	New             []*Order
	Update          []*Order
	Cancel          []*Order
	CancelPositions []PositionID
}

// Empty reports whether nothing was requested.
func (i *Intents) Empty() bool {
	return len(i.New) == 0 && len(i.Update) == 0 && len(i.Cancel) == 0 && len(i.CancelPositions) == 0
}

package domain

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionShort {
		return DirectionLong
	}
	return DirectionShort
}

// OrderKind is the role of an order inside its position. Any token other than
// the known kinds is kept verbatim so ids still round-trip.
type OrderKind string

const (
	OrderKindEntry OrderKind = "ENTRY"
	OrderKindTP    OrderKind = "TP"
	OrderKindSL    OrderKind = "SL"
)

// IsKnown reports whether the kind is one of ENTRY, TP or SL.
func (k OrderKind) IsKnown() bool {
	return k == OrderKindEntry || k == OrderKindTP || k == OrderKindSL
}

// PositionID identifies one trading decision of one strategy in one direction.
//
// Wire form: <strategyId>+<symbol>.<timeHex>.<nonceHex>-<long|short>
type PositionID struct {
	StrategyID string
	Symbol     string
	TimeFrag   uint32
	Nonce      uint32
	Direction  Direction
}

// IsZero reports whether the id was never set (orders not created by us).
func (p PositionID) IsZero() bool {
	return p.StrategyID == ""
}

// SignalID returns the direction-less part of the id.
func (p PositionID) SignalID() string {
	return fmt.Sprintf("%s+%s.%03x.%03x", p.StrategyID, p.Symbol, p.TimeFrag, p.Nonce)
}

func (p PositionID) String() string {
	return p.SignalID() + "-" + string(p.Direction)
}

// WithDirection returns the id of the same signal in the given direction.
func (p PositionID) WithDirection(d Direction) PositionID {
	p.Direction = d
	return p
}

// OrderID is a PositionID plus the order's role and an optional sequence
// number distinguishing several orders of the same kind.
//
// Wire form: <positionId>-<KIND>[-<seqHex>]
type OrderID struct {
	PositionID
	Kind OrderKind
	Seq  uint32
}

// NewOrderID builds the id of an order belonging to pos.
func NewOrderID(pos PositionID, kind OrderKind, seq uint32) OrderID {
	return OrderID{PositionID: pos, Kind: kind, Seq: seq}
}

func (o OrderID) String() string {
	if o.PositionID.IsZero() {
		return ""
	}
	s := o.PositionID.String() + "-" + string(o.Kind)
	if o.Seq > 0 {
		s += "-" + strconv.FormatUint(uint64(o.Seq), 16)
	}
	return s
}

// ParsePositionID decodes the wire form produced by PositionID.String.
func ParsePositionID(s string) (PositionID, error) {
	id, parts, err := parseSignal(s)
	if err != nil {
		return PositionID{}, err
	}
	if len(parts) != 1 {
		return PositionID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	dir, err := parseDirection(parts[0])
	if err != nil {
		return PositionID{}, fmt.Errorf("%w: %q", err, s)
	}
	id.Direction = dir
	return id, nil
}

// ParseOrderID decodes the wire form produced by OrderID.String.
func ParseOrderID(s string) (OrderID, error) {
	pos, parts, err := parseSignal(s)
	if err != nil {
		return OrderID{}, err
	}
	if len(parts) < 2 || len(parts) > 3 || parts[1] == "" {
		return OrderID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	dir, err := parseDirection(parts[0])
	if err != nil {
		return OrderID{}, fmt.Errorf("%w: %q", err, s)
	}
	pos.Direction = dir

	id := OrderID{PositionID: pos, Kind: OrderKind(parts[1])}
	if len(parts) == 3 {
		seq, err := strconv.ParseUint(parts[2], 16, 32)
		if err != nil || seq == 0 {
			return OrderID{}, fmt.Errorf("%w: bad sequence in %q", ErrInvalidID, s)
		}
		id.Seq = uint32(seq)
	}
	return id, nil
}

// parseSignal splits "<strategy>+<symbol>.<time>.<nonce>-rest..." and returns
// the remaining dash separated parts.
func parseSignal(s string) (PositionID, []string, error) {
	plus := strings.IndexByte(s, '+')
	if plus <= 0 {
		return PositionID{}, nil, fmt.Errorf("%w: missing strategy prefix in %q", ErrInvalidID, s)
	}
	parts := strings.Split(s[plus+1:], "-")
	if len(parts) < 2 {
		return PositionID{}, nil, fmt.Errorf("%w: missing direction in %q", ErrInvalidID, s)
	}

	signal := parts[0]
	nonceDot := strings.LastIndexByte(signal, '.')
	if nonceDot <= 0 {
		return PositionID{}, nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	timeDot := strings.LastIndexByte(signal[:nonceDot], '.')
	if timeDot <= 0 {
		return PositionID{}, nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}

	timeFrag, err := strconv.ParseUint(signal[timeDot+1:nonceDot], 16, 32)
	if err != nil {
		return PositionID{}, nil, fmt.Errorf("%w: bad time fragment in %q", ErrInvalidID, s)
	}
	nonce, err := strconv.ParseUint(signal[nonceDot+1:], 16, 32)
	if err != nil {
		return PositionID{}, nil, fmt.Errorf("%w: bad nonce in %q", ErrInvalidID, s)
	}

	return PositionID{
		StrategyID: s[:plus],
		Symbol:     signal[:timeDot],
		TimeFrag:   uint32(timeFrag),
		Nonce:      uint32(nonce),
	}, parts[1:], nil
}

func parseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionLong, DirectionShort:
		return Direction(s), nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidID, s)
}

// SignalIDGenerator hands out position ids. The nonce is a monotonic counter
// seeded from a random UUID so restarts do not replay the same sequence.
type SignalIDGenerator struct {
	counter atomic.Uint32
}

func NewSignalIDGenerator() *SignalIDGenerator {
	g := &SignalIDGenerator{}
	seed := uuid.New()
	g.counter.Store(binary.BigEndian.Uint32(seed[:4]))
	return g
}

// Next returns a fresh position id for the bar starting at barTime.
func (g *SignalIDGenerator) Next(strategyID, symbol string, barTime time.Time, barDelta time.Duration, dir Direction) (PositionID, error) {
	if strategyID == "" || strings.ContainsAny(strategyID, "+-") {
		return PositionID{}, fmt.Errorf("%w: strategy id %q", ErrInvalidID, strategyID)
	}
	if strings.ContainsAny(symbol, "+-") {
		return PositionID{}, fmt.Errorf("%w: symbol %q", ErrInvalidID, symbol)
	}
	var timeFrag uint32
	if secs := int64(barDelta / time.Second); secs > 0 {
		timeFrag = uint32((barTime.Unix() / secs) % 0xFFF)
	}
	return PositionID{
		StrategyID: strategyID,
		Symbol:     symbol,
		TimeFrag:   timeFrag,
		Nonce:      g.counter.Add(1) & 0xFFF,
		Direction:  dir,
	}, nil
}

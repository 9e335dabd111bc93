package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/vitos/crypto_trade_engine/internal/domain"
)

// number accepts both quoted and bare numbers, Bybit mixes them.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = number(f)
	return nil
}

type wireOrder struct {
	OrderID      string  `json:"orderId"`
	OrderLinkID  string  `json:"orderLinkId"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Qty          *number `json:"qty"`
	Price        string  `json:"price"`
	TriggerPrice string  `json:"triggerPrice"`
	OrderStatus  string  `json:"orderStatus"`
	CumExecQty   number  `json:"cumExecQty"`
	CumExecValue number  `json:"cumExecValue"`
	CreatedTime  number  `json:"createdTime"`
	UpdatedTime  number  `json:"updatedTime"`
}

type wireExecution struct {
	ExecID      string  `json:"execId"`
	OrderID     string  `json:"orderId"`
	OrderLinkID string  `json:"orderLinkId"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	ExecQty     *number `json:"execQty"`
	ExecPrice   *number `json:"execPrice"`
	OrderQty    *number `json:"orderQty"`
	LeavesQty   *number `json:"leavesQty"`
	ExecTime    number  `json:"execTime"`
}

type wirePosition struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       *number `json:"size"`
	EntryPrice *number `json:"entryPrice"`
	AvgPrice   *number `json:"avgPrice"`
}

type wireBar struct {
	Start    *number `json:"start"`
	OpenTime *number `json:"open_time"`
	Open     *number `json:"open"`
	High     *number `json:"high"`
	Low      *number `json:"low"`
	Close    *number `json:"close"`
	Volume   *number `json:"volume"`
}

type wireWallet struct {
	Coin []struct {
		Coin          string  `json:"coin"`
		WalletBalance *number `json:"walletBalance"`
	} `json:"coin"`
}

// SplitFrame returns the items of a frame's data field. Array payloads yield
// one item per element, object payloads yield themselves.
func SplitFrame(data []byte) ([][]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", domain.ErrDecode)
	}
	if data[0] != '[' {
		return [][]byte{data}, nil
	}
	var items []json.RawMessage
	if err := sonic.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: frame: %v", domain.ErrDecode, err)
	}
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}

// DecodeOrder turns one order object (REST or stream) into an Order.
func DecodeOrder(raw []byte, inverse bool) (*domain.Order, error) {
	var w wireOrder
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: order: %v", domain.ErrDecode, err)
	}
	if w.OrderID == "" || w.Qty == nil {
		return nil, fmt.Errorf("%w: order missing orderId or qty", domain.ErrDecode)
	}
	side, err := parseSide(w.Side)
	if err != nil {
		return nil, err
	}
	sign := side.Sign()

	limit, err := optionalPrice(w.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: order price: %v", domain.ErrDecode, err)
	}
	trigger, err := optionalPrice(w.TriggerPrice)
	if err != nil {
		return nil, fmt.Errorf("%w: order triggerPrice: %v", domain.ErrDecode, err)
	}

	o := &domain.Order{
		LinkID:         w.OrderLinkID,
		ExchangeID:     w.OrderID,
		Symbol:         w.Symbol,
		Amount:         float64(*w.Qty) * sign,
		LimitPrice:     limit,
		TriggerPrice:   trigger,
		ExecutedAmount: float64(w.CumExecQty) * sign,
	}
	if o.LinkID == "" {
		o.LinkID = w.OrderID
	}
	if id, err := domain.ParseOrderID(w.OrderLinkID); err == nil {
		o.ID = id
	}

	switch w.OrderStatus {
	case "New", "Untriggered", "PartiallyFilled", "Triggered":
		o.Active = true
	}
	switch w.OrderStatus {
	case "Triggered":
		o.TriggerConsumed = true
	case "PartiallyFilled", "Filled":
		o.TriggerConsumed = trigger != nil
	}

	ts := w.UpdatedTime
	if ts == 0 {
		ts = w.CreatedTime
	}
	if ts > 0 {
		o.UpdatedAt = time.UnixMilli(int64(ts))
	}

	if qty, value := float64(w.CumExecQty), float64(w.CumExecValue); qty != 0 && value != 0 {
		if inverse {
			o.ExecutedPrice = domain.Price(qty / value)
		} else {
			o.ExecutedPrice = domain.Price(value / qty)
		}
	}
	return o, nil
}

// DecodeExecution turns one execution object into an Execution.
func DecodeExecution(raw []byte) (domain.Execution, error) {
	var w wireExecution
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return domain.Execution{}, fmt.Errorf("%w: execution: %v", domain.ErrDecode, err)
	}
	if w.OrderID == "" || w.ExecQty == nil || w.ExecPrice == nil || w.OrderQty == nil || w.LeavesQty == nil {
		return domain.Execution{}, fmt.Errorf("%w: execution missing fields", domain.ErrDecode)
	}
	side, err := parseSide(w.Side)
	if err != nil {
		return domain.Execution{}, err
	}
	return domain.Execution{
		ExecID:     w.ExecID,
		ExchangeID: w.OrderID,
		LinkID:     w.OrderLinkID,
		Symbol:     w.Symbol,
		Side:       side,
		Quantity:   float64(*w.ExecQty),
		Price:      float64(*w.ExecPrice),
		OrderQty:   float64(*w.OrderQty),
		LeavesQty:  float64(*w.LeavesQty),
		Time:       time.UnixMilli(int64(w.ExecTime)),
	}, nil
}

// DecodePositionSide decodes a position object. Stream frames carry
// entryPrice, REST responses carry avgPrice.
func DecodePositionSide(raw []byte) (domain.PositionSideUpdate, error) {
	var w wirePosition
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return domain.PositionSideUpdate{}, fmt.Errorf("%w: position: %v", domain.ErrDecode, err)
	}
	switch w.Side {
	case "Buy", "Sell", "None", "":
	default:
		return domain.PositionSideUpdate{}, fmt.Errorf("%w: position side %q", domain.ErrDecode, w.Side)
	}
	p := domain.PositionSideUpdate{Symbol: w.Symbol, Side: w.Side}
	if w.Size != nil {
		p.Size = float64(*w.Size)
	}
	switch {
	case w.EntryPrice != nil:
		p.EntryPrice = float64(*w.EntryPrice)
	case w.AvgPrice != nil:
		p.EntryPrice = float64(*w.AvgPrice)
	}
	return p, nil
}

// DecodeBar accepts REST kline rows ["start","o","h","l","c","v",...] in
// milliseconds, stream kline objects with "start" in milliseconds and legacy
// objects with "open_time" in seconds.
func DecodeBar(raw []byte) (domain.Bar, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var row []number
		if err := sonic.Unmarshal(raw, &row); err != nil {
			return domain.Bar{}, fmt.Errorf("%w: kline row: %v", domain.ErrDecode, err)
		}
		if len(row) < 6 {
			return domain.Bar{}, fmt.Errorf("%w: kline row has %d fields", domain.ErrDecode, len(row))
		}
		return domain.Bar{
			Time:   time.UnixMilli(int64(row[0])),
			Open:   float64(row[1]),
			High:   float64(row[2]),
			Low:    float64(row[3]),
			Close:  float64(row[4]),
			Volume: float64(row[5]),
		}, nil
	}

	var w wireBar
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return domain.Bar{}, fmt.Errorf("%w: kline: %v", domain.ErrDecode, err)
	}
	if w.Open == nil || w.High == nil || w.Low == nil || w.Close == nil || w.Volume == nil {
		return domain.Bar{}, fmt.Errorf("%w: kline missing prices", domain.ErrDecode)
	}
	var t time.Time
	switch {
	case w.OpenTime != nil:
		t = time.Unix(int64(*w.OpenTime), 0)
	case w.Start != nil:
		t = time.UnixMilli(int64(*w.Start))
	default:
		return domain.Bar{}, fmt.Errorf("%w: kline missing start", domain.ErrDecode)
	}
	return domain.Bar{
		Time:   t,
		Open:   float64(*w.Open),
		High:   float64(*w.High),
		Low:    float64(*w.Low),
		Close:  float64(*w.Close),
		Volume: float64(*w.Volume),
	}, nil
}

// DecodeTicker extracts the symbol and last price from a tickers item.
// Delta frames may omit lastPrice, then ok is false.
func DecodeTicker(raw []byte) (symbol string, last float64, ok bool, err error) {
	var w struct {
		Symbol    string  `json:"symbol"`
		LastPrice *number `json:"lastPrice"`
	}
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return "", 0, false, fmt.Errorf("%w: ticker: %v", domain.ErrDecode, err)
	}
	if w.LastPrice == nil {
		return w.Symbol, 0, false, nil
	}
	return w.Symbol, float64(*w.LastPrice), true, nil
}

// DecodeTrade extracts the price of a public trade item. The v5 stream uses
// short keys, legacy frames use "price".
func DecodeTrade(raw []byte) (float64, error) {
	var w struct {
		P     *number `json:"p"`
		Price *number `json:"price"`
	}
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return 0, fmt.Errorf("%w: trade: %v", domain.ErrDecode, err)
	}
	switch {
	case w.P != nil:
		return float64(*w.P), nil
	case w.Price != nil:
		return float64(*w.Price), nil
	}
	return 0, fmt.Errorf("%w: trade missing price", domain.ErrDecode)
}

// DecodeWallet returns the wallet balance of coin, ok is false when the
// item does not mention it.
func DecodeWallet(raw []byte, coin string) (balance float64, ok bool, err error) {
	var w wireWallet
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return 0, false, fmt.Errorf("%w: wallet: %v", domain.ErrDecode, err)
	}
	for _, c := range w.Coin {
		if c.Coin == coin && c.WalletBalance != nil {
			return float64(*c.WalletBalance), true, nil
		}
	}
	return 0, false, nil
}

func parseSide(s string) (domain.Side, error) {
	switch domain.Side(s) {
	case domain.SideBuy, domain.SideSell:
		return domain.Side(s), nil
	}
	return "", fmt.Errorf("%w: side %q", domain.ErrDecode, s)
}

// optionalPrice maps "", "0" and friends to nil.
func optionalPrice(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if v == 0 {
		return nil, nil
	}
	return &v, nil
}

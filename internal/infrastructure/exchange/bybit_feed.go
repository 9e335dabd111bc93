package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	TopicOrder     = "order"
	TopicStopOrder = "stopOrder"
	TopicExecution = "execution"
	TopicPosition  = "position"
	TopicWallet    = "wallet"
)

var privateTopics = map[string]bool{
	TopicOrder:     true,
	TopicStopOrder: true,
	TopicExecution: true,
	TopicPosition:  true,
	TopicWallet:    true,
}

type FeedConfig struct {
	Symbol        string
	BaseCoin      string
	MinutesPerBar int
	Inverse       bool
}

// Feed owns the private and the public socket of one bot and turns queued
// frames into domain events.
type Feed struct {
	cfg     FeedConfig
	private *Socket
	public  *Socket
	notify  chan string
	logger  *zap.Logger
}

func NewFeed(cfg FeedConfig, privateCfg, publicCfg SocketConfig, logger *zap.Logger) *Feed {
	notify := make(chan string, 64)
	return &Feed{
		cfg:     cfg,
		private: NewSocket(privateCfg, notify, logger.Named("private")),
		public:  NewSocket(publicCfg, notify, logger.Named("public")),
		notify:  notify,
		logger:  logger,
	}
}

// KlineTopic is the bar topic matching the configured bar size.
func (f *Feed) KlineTopic() string {
	interval := "1"
	if f.cfg.MinutesPerBar > 60 {
		interval = "60"
	}
	return "kline." + interval + "." + f.cfg.Symbol
}

func (f *Feed) TickerTopic() string {
	return "tickers." + f.cfg.Symbol
}

// Start connects both sockets and subscribes the default topics.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.subscribeDefaults(); err != nil {
		return err
	}
	if err := f.private.Connect(ctx); err != nil {
		return fmt.Errorf("private stream: %w", err)
	}
	if err := f.public.Connect(ctx); err != nil {
		f.private.Close()
		return fmt.Errorf("public stream: %w", err)
	}
	return nil
}

func (f *Feed) subscribeDefaults() error {
	if err := f.private.Subscribe(TopicOrder, TopicStopOrder, TopicExecution, TopicPosition, TopicWallet); err != nil {
		return err
	}
	return f.public.Subscribe(f.KlineTopic(), f.TickerTopic())
}

// Subscribe adds topics to the socket that serves them.
func (f *Feed) Subscribe(topics ...string) error {
	for _, t := range topics {
		if err := f.socketFor(t).Subscribe(t); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) Notifications() <-chan string {
	return f.notify
}

func (f *Feed) Close() error {
	errPriv := f.private.Close()
	errPub := f.public.Close()
	if errPriv != nil {
		return errPriv
	}
	return errPub
}

func (f *Feed) socketFor(topic string) *Socket {
	if privateTopics[topic] {
		return f.private
	}
	return f.public
}

// Collect drains topic and decodes every item. Malformed items and items of
// other symbols are logged and dropped; unknown topics are dropped whole.
func (f *Feed) Collect(topic string) domain.StreamEvents {
	ev := domain.StreamEvents{Topic: topic}
	frames := f.socketFor(topic).Drain(topic)
	if len(frames) == 0 {
		return ev
	}

	handle, ok := f.decoderFor(topic)
	if !ok {
		f.logger.Error("unknown topic in stream", zap.String("topic", topic), zap.Int("frames", len(frames)))
		return ev
	}

	for _, frame := range frames {
		items, err := SplitFrame(frame)
		if err != nil {
			f.logger.Error("bad stream frame", zap.String("topic", topic), zap.Error(err))
			continue
		}
		for _, item := range items {
			if err := handle(item, &ev); err != nil {
				f.logger.Error("bad stream item", zap.String("topic", topic), zap.Error(err))
			}
		}
	}

	if len(ev.Bars) > 1 {
		sort.SliceStable(ev.Bars, func(i, j int) bool { return ev.Bars[i].Time.After(ev.Bars[j].Time) })
	}
	return ev
}

type itemDecoder func(item []byte, ev *domain.StreamEvents) error

func (f *Feed) decoderFor(topic string) (itemDecoder, bool) {
	symbol := f.cfg.Symbol
	switch {
	case topic == TopicOrder || topic == TopicStopOrder:
		return f.decodeOrder, true
	case topic == TopicExecution:
		return f.decodeExecution, true
	case topic == TopicPosition:
		return f.decodePosition, true
	case topic == TopicWallet:
		return f.decodeWallet, true
	case strings.HasPrefix(topic, "kline.") && strings.HasSuffix(topic, "."+symbol):
		return decodeKline, true
	case topic == "trade."+symbol || topic == "publicTrade."+symbol:
		return decodeTrade, true
	case topic == "tickers."+symbol:
		return f.decodeTicker, true
	}
	return nil, false
}

func (f *Feed) decodeOrder(item []byte, ev *domain.StreamEvents) error {
	o, err := DecodeOrder(item, f.cfg.Inverse)
	if err != nil {
		return err
	}
	if o.Symbol != f.cfg.Symbol {
		return nil
	}
	ev.Orders = append(ev.Orders, o)
	return nil
}

func (f *Feed) decodeExecution(item []byte, ev *domain.StreamEvents) error {
	e, err := DecodeExecution(item)
	if err != nil {
		return err
	}
	if e.Symbol != f.cfg.Symbol {
		f.logger.Info("execution on other symbol", zap.String("symbol", e.Symbol))
		return nil
	}
	ev.Executions = append(ev.Executions, e)
	return nil
}

func (f *Feed) decodePosition(item []byte, ev *domain.StreamEvents) error {
	p, err := DecodePositionSide(item)
	if err != nil {
		return err
	}
	if p.Symbol != f.cfg.Symbol {
		return nil
	}
	ev.Positions = append(ev.Positions, p)
	return nil
}

func (f *Feed) decodeWallet(item []byte, ev *domain.StreamEvents) error {
	balance, ok, err := DecodeWallet(item, f.cfg.BaseCoin)
	if err != nil {
		return err
	}
	if ok {
		ev.WalletBalance = domain.Price(balance)
	}
	return nil
}

func (f *Feed) decodeTicker(item []byte, ev *domain.StreamEvents) error {
	symbol, last, ok, err := DecodeTicker(item)
	if err != nil {
		return err
	}
	if ok && symbol == f.cfg.Symbol {
		ev.LastPrice = domain.Price(last)
	}
	return nil
}

func decodeKline(item []byte, ev *domain.StreamEvents) error {
	bar, err := DecodeBar(item)
	if err != nil {
		return err
	}
	ev.Bars = append(ev.Bars, bar)
	return nil
}

func decodeTrade(item []byte, ev *domain.StreamEvents) error {
	price, err := DecodeTrade(item)
	if err != nil {
		return err
	}
	ev.LastPrice = domain.Price(price)
	return nil
}

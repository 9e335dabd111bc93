package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	BybitPrivateWSURL        = "wss://stream.bybit.com/v5/private?max_alive_time=5m"
	BybitTestnetPrivateWSURL = "wss://stream-testnet.bybit.com/v5/private?max_alive_time=5m"
	BybitPublicWSURL         = "wss://stream.bybit.com/v5/public/"
	BybitTestnetPublicWSURL  = "wss://stream-testnet.bybit.com/v5/public/"

	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPingPeriod is how often a ping frame is sent.
	wsPingPeriod = 20 * time.Second

	// wsPongWait is the time allowed between two reads. Must be more than wsPingPeriod.
	wsPongWait = 3 * wsPingPeriod

	// authExpiry is added to the current time to form the auth "expires" value.
	authExpiry = 5 * time.Second
)

// PrivateWSURL returns the private stream endpoint.
func PrivateWSURL(testnet bool) string {
	if testnet {
		return BybitTestnetPrivateWSURL
	}
	return BybitPrivateWSURL
}

// PublicWSURL returns the public stream endpoint for a category.
func PublicWSURL(testnet bool, category string) string {
	if testnet {
		return BybitTestnetPublicWSURL + category
	}
	return BybitPublicWSURL + category
}

type SocketConfig struct {
	URL           string
	APIKey        string // empty for public sockets
	APISecret     string
	QueueCapacity int
	PingPeriod    time.Duration
	Backoff       Backoff
}

// Socket is one Bybit stream connection. It reconnects on its own and
// restores subscriptions and authentication after every reconnect. Frames are
// queued per topic; nothing is decoded on the socket goroutine.
type Socket struct {
	cfg     SocketConfig
	private bool
	logger  *zap.Logger
	queue   *topicQueue
	dialer  *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	topics []string
	known  map[string]struct{}
	closed bool

	writeMu sync.Mutex
	authed  atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewSocket(cfg SocketConfig, notify chan<- string, logger *zap.Logger) *Socket {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = wsPingPeriod
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	return &Socket{
		cfg:     cfg,
		private: cfg.APIKey != "",
		logger:  logger.With(zap.String("ws", cfg.URL)),
		queue:   newTopicQueue(cfg.QueueCapacity, notify),
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		known:   make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// Connect dials once and keeps the connection alive in the background until
// ctx is cancelled or Close is called.
func (s *Socket) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	go s.run(ctx, conn)
	return nil
}

// Subscribe registers topics. Already known topics are ignored, so calling it
// twice is harmless. Topics are re-sent on every reconnect.
func (s *Socket) Subscribe(topics ...string) error {
	s.mu.Lock()
	var fresh []string
	for _, t := range topics {
		if _, ok := s.known[t]; ok {
			continue
		}
		s.known[t] = struct{}{}
		s.topics = append(s.topics, t)
		fresh = append(fresh, t)
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	for _, t := range fresh {
		if err := s.send(conn, map[string]any{"op": "subscribe", "args": []string{t}}); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Subscribed reports whether topic was registered.
func (s *Socket) Subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[topic]
	return ok
}

// Drain returns all frames queued for topic. Private sockets return nothing
// until the server acknowledged authentication; the frames stay queued and the
// topic is signaled again once the ack arrives.
func (s *Socket) Drain(topic string) [][]byte {
	if s.private && !s.authed.Load() {
		s.logger.Debug("drain before auth ack", zap.String("topic", topic))
		s.queue.Rearm(topic)
		return nil
	}
	return s.queue.Drain(topic)
}

// Authenticated reports whether the auth ack arrived on the current connection.
func (s *Socket) Authenticated() bool {
	return s.authed.Load()
}

func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			s.writeMu.Unlock()
			err = conn.Close()
		}
	})
	return err
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	s.authed.Store(false)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if err := s.send(conn, map[string]string{"op": "ping"}); err != nil {
			s.logger.Warn("app ping failed", zap.Error(err))
		}
		return nil
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil, errors.New("socket closed")
	}
	s.conn = conn
	topics := append([]string(nil), s.topics...)
	s.mu.Unlock()

	if s.private {
		if err := s.send(conn, s.authMessage(time.Now())); err != nil {
			conn.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}
	for _, t := range topics {
		if err := s.send(conn, map[string]any{"op": "subscribe", "args": []string{t}}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("resubscribe %s: %w", t, err)
		}
	}
	s.logger.Info("bybit ws connected", zap.Int("topics", len(topics)), zap.Bool("private", s.private))
	return conn, nil
}

func (s *Socket) authMessage(now time.Time) map[string]any {
	expires := strconv.FormatInt(now.Add(authExpiry).UnixMilli(), 10)
	return map[string]any{
		"op":   "auth",
		"args": []string{s.cfg.APIKey, expires, signRealtime(s.cfg.APISecret, expires)},
	}
}

// signRealtime is the stream auth signature: hex(HMAC_SHA256(secret, "GET/realtime"+expires)).
func signRealtime(secret, expires string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte("GET/realtime" + expires))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Socket) run(ctx context.Context, conn *websocket.Conn) {
	for {
		s.readLoop(conn)
		s.authed.Store(false)
		if s.isClosed() || ctx.Err() != nil {
			return
		}

		for attempt := 1; ; attempt++ {
			delay := s.cfg.Backoff.Next(attempt)
			s.logger.Warn("bybit ws reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-time.After(delay):
			}
			c, err := s.dial(ctx)
			if err == nil {
				conn = c
				break
			}
			s.logger.Error("bybit ws reconnect failed", zap.Error(err))
		}
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	stop := make(chan struct{})
	go s.pingLoop(conn, stop)
	defer func() {
		close(stop)
		conn.Close()
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.logger.Warn("bybit ws read error", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		s.handleMessage(message)
	}
}

func (s *Socket) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.logger.Warn("bybit ws ping failed", zap.Error(err))
				return
			}
		}
	}
}

type wsEnvelope struct {
	Success *bool           `json:"success"`
	Op      string          `json:"op"`
	RetMsg  string          `json:"ret_msg"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
}

func (s *Socket) handleMessage(message []byte) {
	var env wsEnvelope
	if err := sonic.Unmarshal(message, &env); err != nil {
		s.logger.Error("bybit ws unmarshal error", zap.Error(err))
		return
	}

	if env.Success != nil {
		if *env.Success {
			if env.Op == "auth" {
				s.authed.Store(true)
				s.logger.Info("bybit ws authenticated")
				// frames held back while unauthenticated
				s.queue.Resignal()
			}
		} else {
			s.logger.Error("bybit ws error", zap.String("op", env.Op), zap.String("ret_msg", env.RetMsg))
		}
	}

	if env.Topic != "" && len(env.Data) > 0 {
		s.queue.Push(env.Topic, []byte(env.Data))
	}
}

func (s *Socket) send(conn *websocket.Conn, v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

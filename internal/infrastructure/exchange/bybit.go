package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/vitos/crypto_trade_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL        = "https://api.bybit.com"
	BybitTestnetBaseURL = "https://api-testnet.bybit.com"

	recvWindow = 5000
)

// Codes meaning the order is unknown or already finished. Cancel and amend
// treat them as success.
var benignOrderCodes = []int{110001, 110008, 110010, 170213}

// BaseURL returns the REST endpoint for the environment.
func BaseURL(testnet bool) string {
	if testnet {
		return BybitTestnetBaseURL
	}
	return BybitBaseURL
}

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Category  string // linear, inverse or spot
	Symbol    string
	BaseCoin  string // wallet coin used for the balance
	Timeout   time.Duration
}

// BybitAdapter is the REST gateway for one symbol of one account.
type BybitAdapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu         sync.RWMutex
	instrument *domain.Instrument
	onAPIError func(msg string)
}

func NewBybitAdapter(cfg Config, logger *zap.Logger) *BybitAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BybitBaseURL
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &BybitAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("symbol", cfg.Symbol), zap.String("category", cfg.Category)),
	}
}

// OnAPIError registers the callback invoked with a short message whenever a
// call fails.
func (b *BybitAdapter) OnAPIError(fn func(msg string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAPIError = fn
}

// SetInstrument sets the instrument used to format prices and quantities.
func (b *BybitAdapter) SetInstrument(inst domain.Instrument) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instrument = &inst
}

func (b *BybitAdapter) currentInstrument() (domain.Instrument, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.instrument == nil {
		return domain.Instrument{}, false
	}
	return *b.instrument, true
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.cfg.APIKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, query url.Values, payload map[string]any) ([]byte, error) {
	timestamp := time.Now().UnixMilli()

	var body []byte
	var paramsStr string
	target := b.cfg.BaseURL + path

	if payload != nil {
		jsonBody, err := sonic.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if len(query) > 0 {
		paramsStr = query.Encode()
		target += "?" + paramsStr
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-BAPI-API-KEY", b.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	return respBody, nil
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    map[string]any
	context string
	benign  []int
}

type envelope struct {
	RetCode *int            `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// do performs a request and decodes the envelope's result into out. Failures
// are logged and reported through the error callback before being returned.
func (b *BybitAdapter) do(ctx context.Context, r request, out any) error {
	raw, err := b.sendRequest(ctx, r.method, r.path, r.query, r.body)
	if err != nil {
		return b.fail(r.context, fmt.Errorf("%w (%s): %v", domain.ErrTransport, r.context, err))
	}

	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return b.fail(r.context, fmt.Errorf("%w (%s): %v", domain.ErrMalformedResponse, r.context, err))
	}
	if env.RetCode == nil {
		return b.fail(r.context, fmt.Errorf("%w (%s): no retCode", domain.ErrMalformedResponse, r.context))
	}
	if *env.RetCode != 0 {
		apiErr := &domain.APIError{Context: r.context, Code: *env.RetCode, Msg: env.RetMsg}
		for _, code := range r.benign {
			if code == apiErr.Code {
				b.logger.Warn("order already gone", zap.String("context", r.context),
					zap.Int("retCode", apiErr.Code), zap.String("retMsg", apiErr.Msg))
				return nil
			}
		}
		return b.fail(r.context, apiErr)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return b.fail(r.context, fmt.Errorf("%w (%s): result missing", domain.ErrMalformedResponse, r.context))
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(env.Result, out); err != nil {
		return b.fail(r.context, fmt.Errorf("%w (%s): %v", domain.ErrMalformedResponse, r.context, err))
	}
	return nil
}

func (b *BybitAdapter) fail(context string, err error) error {
	b.logger.Error("bybit request failed", zap.String("context", context), zap.Error(err))

	b.mu.RLock()
	cb := b.onAPIError
	b.mu.RUnlock()
	if cb != nil {
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			cb(fmt.Sprintf("Bybit API error (%s): %d %s", context, apiErr.Code, apiErr.Msg))
		} else {
			cb(fmt.Sprintf("Bybit request failed (%s): %v", context, err))
		}
	}
	return err
}

func (b *BybitAdapter) symbolQuery(extra map[string]string) url.Values {
	q := url.Values{}
	q.Set("category", b.cfg.Category)
	q.Set("symbol", b.cfg.Symbol)
	for k, v := range extra {
		q.Set(k, v)
	}
	return q
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
logging:
  level: debug
telegram:
  chat_id: 12
bots:
  - id: btc-1
    api_key: file-key
    api_secret: file-secret
    symbol: BTCUSDT
    minutes_per_bar: 60
    order_sync_interval: 2m
  - id: inv
    category: inverse
    symbol: BTCUSD
    api_key: k
    api_secret: s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")
	t.Setenv("BYBIT_API_KEY_BTC_1", "env-key")
	t.Setenv("TELEGRAM_TOKEN", "tg")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "engine.db", cfg.Storage.Path)
	assert.Equal(t, "tg", cfg.Telegram.Token)
	assert.Equal(t, int64(12), cfg.Telegram.ChatID)

	btc := cfg.Bots[0]
	assert.Equal(t, "env-key", btc.APIKey)
	assert.Equal(t, "file-secret", btc.APISecret)
	assert.Equal(t, "linear", btc.Category)
	assert.Equal(t, 2*time.Minute, btc.OrderSyncInterval)
	assert.Equal(t, time.Hour, btc.OrderRetention)
	assert.Equal(t, 100, btc.MinBars)
	assert.Equal(t, "USDT", btc.Coin())

	inv := cfg.Bots[1]
	assert.Equal(t, 240, inv.MinutesPerBar)
	assert.Equal(t, "BTC", inv.Coin())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "bots:\n  - id: a\n    symbl: BTCUSDT\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := BotConfig{ID: "a", Symbol: "BTCUSDT", Category: "linear", APIKey: "k", APISecret: "s", MinutesPerBar: 60}
	tests := []struct {
		name string
		bots []BotConfig
	}{
		{"no bots", nil},
		{"bad id", []BotConfig{func() BotConfig { b := valid; b.ID = " "; return b }()}},
		{"duplicate", []BotConfig{valid, valid}},
		{"no symbol", []BotConfig{func() BotConfig { b := valid; b.Symbol = ""; return b }()}},
		{"category", []BotConfig{func() BotConfig { b := valid; b.Category = "spot"; return b }()}},
		{"no secret", []BotConfig{func() BotConfig { b := valid; b.APISecret = ""; return b }()}},
		{"offset", []BotConfig{func() BotConfig { b := valid; b.BarOffsetMinutes = 60; return b }()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Bots: tt.bots}
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, (&Config{Bots: []BotConfig{valid}}).Validate())
}

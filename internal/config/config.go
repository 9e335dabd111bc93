package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	Bots []BotConfig `yaml:"bots"`
}

type BotConfig struct {
	ID        string `yaml:"id"`
	Testnet   bool   `yaml:"testnet"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Category  string `yaml:"category"`
	Symbol    string `yaml:"symbol"`
	BaseCoin  string `yaml:"base_coin"`

	MinutesPerBar            int           `yaml:"minutes_per_bar"`
	BarOffsetMinutes         int           `yaml:"bar_offset_minutes"`
	MinBars                  int           `yaml:"min_bars"`
	CancelTriggeredAfterBars int           `yaml:"cancel_triggered_after_bars"`
	OrderSyncInterval        time.Duration `yaml:"order_sync_interval"`
	OrderRetention           time.Duration `yaml:"order_retention"`
	RequestTimeout           time.Duration `yaml:"request_timeout"`
}

// Coin is the wallet coin the bot's balance is kept in.
func (b BotConfig) Coin() string {
	if b.BaseCoin != "" {
		return b.BaseCoin
	}
	if b.Category == "inverse" {
		return strings.TrimSuffix(b.Symbol, "USD")
	}
	for _, quote := range []string{"USDT", "USDC"} {
		if strings.HasSuffix(b.Symbol, quote) {
			return quote
		}
	}
	return "USDT"
}

// Load reads the YAML file at path, fills defaults and applies environment
// overrides from the process and an optional .env file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	// a missing .env is fine
	_ = godotenv.Load()

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "engine.db"
	}
	for i := range c.Bots {
		b := &c.Bots[i]
		if b.Category == "" {
			b.Category = "linear"
		}
		if b.MinutesPerBar == 0 {
			b.MinutesPerBar = 240
		}
		if b.MinBars == 0 {
			b.MinBars = 100
		}
		if b.OrderSyncInterval == 0 {
			b.OrderSyncInterval = 5 * time.Minute
		}
		if b.OrderRetention == 0 {
			b.OrderRetention = time.Hour
		}
		if b.RequestTimeout == 0 {
			b.RequestTimeout = 10 * time.Second
		}
	}
}

// applyEnvOverrides lets BYBIT_API_KEY_<ID> / BYBIT_API_SECRET_<ID> set a
// bot's credentials, falling back to the unsuffixed variables.
func (c *Config) applyEnvOverrides() {
	for i := range c.Bots {
		b := &c.Bots[i]
		suffix := envSuffix(b.ID)
		setStr(&b.APIKey, "BYBIT_API_KEY")
		setStr(&b.APIKey, "BYBIT_API_KEY_"+suffix)
		setStr(&b.APISecret, "BYBIT_API_SECRET")
		setStr(&b.APISecret, "BYBIT_API_SECRET_"+suffix)
	}
	setStr(&c.Telegram.Token, "TELEGRAM_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
}

func envSuffix(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, id)
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if len(c.Bots) == 0 {
		return errors.New("config: no bots configured")
	}
	seen := make(map[string]bool, len(c.Bots))
	for _, b := range c.Bots {
		if strings.TrimSpace(b.ID) == "" {
			return fmt.Errorf("config: invalid bot id %q", b.ID)
		}
		if seen[b.ID] {
			return fmt.Errorf("config: duplicate bot id %q", b.ID)
		}
		seen[b.ID] = true
		if b.Symbol == "" {
			return fmt.Errorf("config: bot %s: symbol is required", b.ID)
		}
		if b.Category != "linear" && b.Category != "inverse" {
			return fmt.Errorf("config: bot %s: unsupported category %q", b.ID, b.Category)
		}
		if b.APIKey == "" || b.APISecret == "" {
			return fmt.Errorf("config: bot %s: api key and secret are required", b.ID)
		}
		if b.MinutesPerBar <= 0 || b.BarOffsetMinutes < 0 || b.BarOffsetMinutes >= b.MinutesPerBar {
			return fmt.Errorf("config: bot %s: invalid bar size %d/%d", b.ID, b.MinutesPerBar, b.BarOffsetMinutes)
		}
	}
	return nil
}

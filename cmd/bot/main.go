package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vitos/crypto_trade_engine/internal/config"
	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/notify"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_engine/internal/usecase"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// 4. Init Notifier
	var notifier domain.Notifier = notify.Nop{}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, "", log.Named("telegram"))
		if err != nil {
			log.Error("Failed to init telegram, notifications disabled", zap.Error(err))
		} else {
			notifier = tg
			g.Go(func() error {
				tg.Run(ctx)
				return nil
			})
		}
	}

	// 5. Start one bot per configured symbol
	for _, bc := range cfg.Bots {
		g.Go(func() error {
			return runBot(ctx, bc, store, notifier, log)
		})
	}

	log.Info("Engine started", zap.Int("bots", len(cfg.Bots)))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Engine stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Shutting down...")
}

func runBot(ctx context.Context, bc config.BotConfig, store *storage.SQLiteStore, notifier domain.Notifier, log *zap.Logger) error {
	log = log.With(zap.String("bot", bc.ID))
	prefix := fmt.Sprintf("[%s %s]", bc.ID, bc.Symbol)

	adapter := exchange.NewBybitAdapter(exchange.Config{
		BaseURL:   exchange.BaseURL(bc.Testnet),
		APIKey:    bc.APIKey,
		APISecret: bc.APISecret,
		Category:  bc.Category,
		Symbol:    bc.Symbol,
		BaseCoin:  bc.Coin(),
		Timeout:   bc.RequestTimeout,
	}, log.Named("bybit"))
	adapter.OnAPIError(func(msg string) {
		notifier.Notify(prefix + " api error: " + msg)
	})

	feed := exchange.NewFeed(exchange.FeedConfig{
		Symbol:        bc.Symbol,
		BaseCoin:      bc.Coin(),
		MinutesPerBar: bc.MinutesPerBar,
		Inverse:       bc.Category == "inverse",
	}, exchange.SocketConfig{
		URL:       exchange.PrivateWSURL(bc.Testnet),
		APIKey:    bc.APIKey,
		APISecret: bc.APISecret,
	}, exchange.SocketConfig{
		URL: exchange.PublicWSURL(bc.Testnet, bc.Category),
	}, log.Named("feed"))
	if err := feed.Start(ctx); err != nil {
		return fmt.Errorf("bot %s: %w", bc.ID, err)
	}
	defer feed.Close()

	// Strategies are plugged in by the embedding application; without any the
	// bot only mirrors the account.
	bot := usecase.NewBot(usecase.BotConfig{
		ID:                       bc.ID,
		Symbol:                   bc.Symbol,
		MinutesPerBar:            bc.MinutesPerBar,
		BarOffsetMinutes:         bc.BarOffsetMinutes,
		MinBars:                  bc.MinBars,
		CancelTriggeredAfterBars: bc.CancelTriggeredAfterBars,
		OrderSyncInterval:        bc.OrderSyncInterval,
		OrderRetention:           bc.OrderRetention,
	}, adapter, feed, nil, store, prefixed{prefix, notifier}, log)

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot %s: %w", bc.ID, err)
	}
	return nil
}

// prefixed tags every message with the bot it came from.
type prefixed struct {
	prefix string
	next   domain.Notifier
}

func (p prefixed) Notify(text string) { p.next.Notify(p.prefix + " " + text) }

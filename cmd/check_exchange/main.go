package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_trade_engine/internal/config"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	botID := flag.String("bot", "", "bot id to check, first configured bot when empty")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.Bots) == 0 {
		fmt.Println("No bots configured")
		os.Exit(1)
	}
	bc := cfg.Bots[0]
	for _, b := range cfg.Bots {
		if b.ID == *botID {
			bc = b
		}
	}

	fmt.Printf("Testing Bybit Interaction...\n")
	fmt.Printf("Endpoint: %s\n", exchange.BaseURL(bc.Testnet))
	if len(bc.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", bc.APIKey[:4])
	}

	adapter := exchange.NewBybitAdapter(exchange.Config{
		BaseURL:   exchange.BaseURL(bc.Testnet),
		APIKey:    bc.APIKey,
		APISecret: bc.APISecret,
		Category:  bc.Category,
		Symbol:    bc.Symbol,
		BaseCoin:  bc.Coin(),
		Timeout:   bc.RequestTimeout,
	}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Public endpoints
	ticker, err := adapter.FetchTicker(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get ticker: %v\n", err)
	} else {
		fmt.Printf("✅ Ticker (%s): last=%f bid=%f ask=%f funding=%f\n",
			bc.Symbol, ticker.LastPrice, ticker.Bid, ticker.Ask, ticker.FundingRate)
	}

	inst, err := adapter.FetchInstrument(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get instrument: %v\n", err)
	} else {
		adapter.SetInstrument(inst)
		fmt.Printf("✅ Instrument: tick=%g lot=%g min=%g maker=%g taker=%g inverse=%t\n",
			inst.TickSize, inst.LotSize, inst.MinQty, inst.MakerFee, inst.TakerFee, inst.IsInverse)
	}

	liq, err := adapter.FetchLiquidity(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get liquidity: %v\n", err)
	} else {
		fmt.Printf("✅ Liquidity (top 50): bids=%f asks=%f\n", liq.BidSize, liq.AskSize)
	}

	now := time.Now()
	rates, err := adapter.FetchFundingHistory(ctx, now.Add(-72*time.Hour), now)
	if err != nil {
		fmt.Printf("❌ Failed to get funding history: %v\n", err)
	} else {
		fmt.Printf("✅ Funding rates (72h): %d\n", len(rates))
		for _, r := range rates {
			fmt.Printf("   %s %.6f\n", r.Time.Format(time.RFC3339), r.Rate)
		}
	}

	// 3. Private endpoints
	balance, err := adapter.FetchBalance(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
	} else {
		fmt.Printf("✅ Balance (%s): %f\n", bc.Coin(), balance)
	}

	long, short, err := adapter.FetchPositions(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get positions: %v\n", err)
	} else {
		fmt.Printf("✅ Long: qty=%f entry=%f\n", long.Quantity, long.AvgEntryPrice)
		fmt.Printf("✅ Short: qty=%f entry=%f\n", short.Quantity, short.AvgEntryPrice)
	}

	orders, err := adapter.FetchOpenOrders(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get open orders: %v\n", err)
		return
	}
	fmt.Printf("✅ Open orders: %d\n", len(orders))
	for _, o := range orders {
		fmt.Printf("   %s\n", o)
	}
}

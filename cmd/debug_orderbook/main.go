package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/vitos/crypto_trade_engine/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "symbol to fetch")
	category := flag.String("category", "linear", "linear or inverse")
	depth := flag.Int("depth", 5, "levels per side to print")
	testnet := flag.Bool("testnet", false, "use the testnet endpoint")
	flag.Parse()

	// public endpoint, no keys needed
	adapter := exchange.NewBybitAdapter(exchange.Config{
		BaseURL:  exchange.BaseURL(*testnet),
		Category: *category,
		Symbol:   *symbol,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Printf("Fetching Order Book for %s (%s)...\n", *symbol, *category)
	ob, err := adapter.FetchOrderBook(ctx, *depth)
	if err != nil {
		log.Fatalf("Error fetching order book: %v", err)
	}

	fmt.Printf("Order Book: %d Bids, %d Asks\n", len(ob.Bids), len(ob.Asks))
	for i := len(ob.Asks) - 1; i >= 0; i-- {
		fmt.Printf("  ask %.4f (Size: %.4f)\n", ob.Asks[i].Price, ob.Asks[i].Size)
	}
	for _, bid := range ob.Bids {
		fmt.Printf("  bid %.4f (Size: %.4f)\n", bid.Price, bid.Size)
	}
	if len(ob.Bids) > 0 && len(ob.Asks) > 0 {
		spread := ob.Asks[0].Price - ob.Bids[0].Price
		fmt.Printf("Spread: %.4f (%.4f%%)\n", spread, spread/ob.Bids[0].Price*100)
	}
}

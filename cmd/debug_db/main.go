package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_trade_engine/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "engine.db", "path to the sqlite database")
	botID := flag.String("bot", "", "bot id")
	limit := flag.Int("limit", 20, "rows per table")
	flag.Parse()

	if *botID == "" {
		fmt.Println("Usage: debug_db -bot <id> [-db engine.db] [-limit 20]")
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	history, err := store.ListPositionHistory(ctx, *botID, *limit)
	if err != nil {
		fmt.Printf("Failed to list position history: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d finished positions:\n", len(history))
	for _, h := range history {
		fmt.Printf("- %s %s %s amount=%f entry=%f exit=%f pnl=%f closed=%s\n",
			h.PositionID, h.Direction, h.Status, h.Amount, h.EntryPrice, h.ExitPrice,
			h.RealizedPnL, h.ClosedAt.Format(time.RFC3339))
	}

	execs, err := store.ListExecutions(ctx, *botID, *limit)
	if err != nil {
		fmt.Printf("Failed to list executions: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nFound %d executions:\n", len(execs))
	for _, e := range execs {
		fmt.Printf("- %s %s %s qty=%f price=%f link=%s\n",
			e.Time.Format(time.RFC3339), e.ExecID, e.Side, e.Quantity, e.Price, e.LinkID)
	}
}

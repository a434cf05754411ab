// Command positions prints the open book and the realized trade record
// from the store. Read-only; safe to run next to a live trader.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hetulpatel/updown/internal/logging"
	sqlstore "github.com/hetulpatel/updown/internal/storage/sqlite"
)

func main() {
	logging.InitFromEnv()

	store, err := sqlstore.Open(os.Getenv("SQLITE_PATH"))
	if err != nil {
		logging.Fatalf("[positions] open sqlite: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	open, bad := store.LoadPositions(ctx)
	for _, err := range bad {
		logging.Warnf("[positions] bad record: %v", err)
	}

	now := time.Now()
	fmt.Printf("open positions: %d\n", len(open))
	for _, p := range open {
		fmt.Printf("  %-4s %-5s %-12s entry %.4f peak %.4f size %.2f age %s status %s\n",
			p.Asset, p.Side, p.Strategy, p.EntryPrice, p.PeakPrice, p.Size,
			p.Age(now).Round(time.Second), p.Status)
	}

	summaries, err := store.TradeSummaries(ctx)
	if err != nil {
		logging.Fatalf("[positions] trade summaries: %v", err)
	}
	fmt.Printf("\nrealized record:\n")
	if len(summaries) == 0 {
		fmt.Println("  no settled trades yet")
		return
	}
	totalPnL := 0.0
	for _, s := range summaries {
		fmt.Printf("  %-12s %-4s %d/%d wins pnl %+.2f\n", s.Strategy, s.Asset, s.Wins, s.Total, s.PnLUSD)
		totalPnL += s.PnLUSD
	}
	fmt.Printf("  total pnl %+.2f\n", totalPnL)
}

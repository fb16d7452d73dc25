package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/web3guy0/pipbot/storage"
	"github.com/web3guy0/pipbot/types"
)

var (
	dsn    string
	date   string
	trades int
)

// rootCmd prints persisted tracker state and the trade log
var rootCmd = &cobra.Command{
	Use:   "dump_state",
	Short: "Inspect persisted pipbot tracker state",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := storage.New(dsn)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		snaps, err := loadSnapshots(ctx, db)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		printSnapshots(snaps)

		if trades > 0 {
			recent, err := db.GetRecentTrades(ctx, trades)
			if err != nil {
				return fmt.Errorf("load trades: %w", err)
			}
			printTrades(recent)
		}
		return nil
	},
}

func main() {
	_ = godotenv.Load()

	defaultDSN := os.Getenv("DATABASE_URL")
	if defaultDSN == "" {
		defaultDSN = "data/pipbot.db"
	}

	rootCmd.Flags().StringVar(&dsn, "db", defaultDSN, "database DSN or SQLite path")
	rootCmd.Flags().StringVar(&date, "date", "", "trading date YYYY-MM-DD (default: latest per symbol)")
	rootCmd.Flags().IntVar(&trades, "trades", 20, "recent trade log rows to print, 0 to skip")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSnapshots(ctx context.Context, db *storage.Database) ([]types.TrackerSnapshot, error) {
	if date != "" {
		return db.LoadDate(ctx, date)
	}
	latest, err := db.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.TrackerSnapshot, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	return out, nil
}

func printSnapshots(snaps []types.TrackerSnapshot) {
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Symbol < snaps[j].Symbol })

	fmt.Printf("📦 TRACKER STATE - %d symbols\n\n", len(snaps))
	for _, s := range snaps {
		status := "⚪ idle"
		if s.PositionOpen {
			status = fmt.Sprintf("🟢 %s from %s", s.Direction, s.LastThresholdPrice.Decimal.String())
		}
		fmt.Printf("%-8s %s  start %s (%s @ %s)  %s  entries %d\n",
			s.Symbol, s.Date(), s.Reference.Price.String(), s.Reference.PriceType,
			s.Reference.Time.UTC().Format("15:04"), status, s.Entries)
		for _, ev := range s.History {
			fmt.Printf("           %s %-12s %-4s %s (%s pips)\n",
				ev.Time.UTC().Format("15:04:05"), ev.Kind, ev.Direction, ev.Price.String(), ev.Pips.StringFixed(1))
		}
	}
}

func printTrades(rows []types.TradeRecord) {
	fmt.Printf("\n📜 RECENT TRADES - %d\n\n", len(rows))
	for _, t := range rows {
		line := fmt.Sprintf("%s  %-5s %-8s %-4s %s x %s  %s",
			t.Timestamp.UTC().Format("2006-01-02 15:04:05"), t.Action, t.Symbol, t.Side,
			t.Price.String(), t.Volume.String(), t.Status)
		if t.Error != "" {
			line += "  " + t.Error
		}
		fmt.Println(line)
	}
}

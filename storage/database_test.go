package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/types"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "state", "pipbot.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func trackingSnapshot(date string) types.TrackerSnapshot {
	refTime := time.Date(2024, 1, 9, 19, 30, 0, 0, time.UTC)
	evTime := refTime.Add(2 * time.Hour)
	return types.TrackerSnapshot{
		Symbol: "EURUSD",
		Reference: types.ReferencePoint{
			Symbol:    "EURUSD",
			Price:     decimal.RequireFromString("1.1"),
			Time:      refTime,
			Date:      date,
			PriceType: "open",
		},
		LastThresholdPrice: decimal.NewNullDecimal(decimal.RequireFromString("1.1015")),
		Direction:          types.DirectionUp,
		PositionOpen:       true,
		Entries:            1,
		History: []types.ThresholdEvent{{
			Symbol:    "EURUSD",
			Price:     decimal.RequireFromString("1.1015"),
			Pips:      decimal.RequireFromString("15"),
			Direction: types.DirectionUp,
			Kind:      types.EventOpen,
			Time:      evTime,
		}},
		UpdatedAt: evTime,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	in := trackingSnapshot("2024-01-10")

	if err := db.Upsert(ctx, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	all, err := db.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, ok := all["EURUSD"]
	if !ok {
		t.Fatalf("expected EURUSD snapshot, got %v", all)
	}

	if !out.Reference.Price.Equal(in.Reference.Price) || !out.Reference.Time.Equal(in.Reference.Time) {
		t.Fatalf("reference mismatch: %+v vs %+v", out.Reference, in.Reference)
	}
	if out.Date() != "2024-01-10" || out.Reference.PriceType != "open" {
		t.Fatalf("unexpected date/price type %+v", out.Reference)
	}
	if !out.LastThresholdPrice.Valid || !out.LastThresholdPrice.Decimal.Equal(in.LastThresholdPrice.Decimal) {
		t.Fatalf("expected last threshold 1.1015, got %+v", out.LastThresholdPrice)
	}
	if out.Direction != types.DirectionUp || !out.PositionOpen || out.Entries != 1 {
		t.Fatalf("unexpected tracking fields %+v", out)
	}
	if len(out.History) != 1 {
		t.Fatalf("expected 1 history event, got %d", len(out.History))
	}
	h := out.History[0]
	if !h.Price.Equal(in.History[0].Price) || !h.Pips.Equal(in.History[0].Pips) ||
		h.Kind != types.EventOpen || !h.Time.Equal(in.History[0].Time) {
		t.Fatalf("history mismatch: %+v", h)
	}
}

func TestUpsertReplacesSameDay(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	snap := trackingSnapshot("2024-01-10")
	if err := db.Upsert(ctx, snap); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	snap.Direction = types.DirectionNone
	snap.PositionOpen = false
	snap.LastThresholdPrice = decimal.NullDecimal{}
	snap.UpdatedAt = snap.UpdatedAt.Add(time.Minute)
	if err := db.Upsert(ctx, snap); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rows, err := db.LoadDate(ctx, "2024-01-10")
	if err != nil {
		t.Fatalf("load date: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row per (symbol, date), got %d", len(rows))
	}
	if rows[0].PositionOpen || rows[0].LastThresholdPrice.Valid {
		t.Fatalf("expected last write to win, got %+v", rows[0])
	}
}

func TestLoadAllPrefersLatestDate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := trackingSnapshot("2024-01-09")
	newer := trackingSnapshot("2024-01-10")
	newer.Entries = 2

	for _, s := range []types.TrackerSnapshot{newer, old} {
		if err := db.Upsert(ctx, s); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	all, err := db.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := all["EURUSD"].Date(); got != "2024-01-10" {
		t.Fatalf("expected latest date 2024-01-10, got %s", got)
	}
}

func TestTradeLog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.LogTrade(ctx, &TradeLog{
		Symbol: "EURUSD",
		Date:   "2024-01-10",
		Action: "OPEN",
		Side:   "BUY",
		Price:  decimal.RequireFromString("1.1015"),
		Volume: decimal.RequireFromString("0.01"),
		Status: "failed",
		Error:  "terminal offline",
	})
	if err != nil {
		t.Fatalf("log trade: %v", err)
	}

	trades, err := db.GetRecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("recent trades: %v", err)
	}
	if len(trades) != 1 || trades[0].Status != "failed" || trades[0].Error != "terminal offline" {
		t.Fatalf("unexpected trades %+v", trades)
	}
	if trades[0].ID == "" {
		t.Fatalf("expected generated id")
	}
}

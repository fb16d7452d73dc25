package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/types"
)

type staleRecorder struct {
	snaps   []types.TrackerSnapshot
	volumes []decimal.Decimal
}

func (s *staleRecorder) HandleStale(ctx context.Context, snap types.TrackerSnapshot, volume decimal.Decimal) bool {
	s.snaps = append(s.snaps, snap)
	s.volumes = append(s.volumes, volume)
	return true
}

func hasMessage(msgs []string, sub string) bool {
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func TestWeekendRollKeepsOpenPosition(t *testing.T) {
	h := newHarness(newMemStore())
	friday := time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC)
	h.engine.now = func() time.Time { return friday }
	h.engine.Bootstrap(context.Background())

	h.tick(t, "1.1015")
	if row := h.store.snaps["EURUSD"]; row.Date() != "2024-01-12" || !row.PositionOpen {
		t.Fatalf("expected open Friday row, got %+v", row)
	}

	h.engine.now = func() time.Time { return time.Date(2024, 1, 13, 1, 0, 0, 0, time.UTC) }
	h.tick(t, "1.1015")

	if len(h.exec.effects) != 1 {
		t.Fatalf("expected no second open over the Friday position, got %+v", h.exec.effects)
	}
	if row := h.store.snaps["EURUSD"]; row.Date() != "2024-01-12" || !row.PositionOpen {
		t.Fatalf("expected Friday row to stay open, got %+v", row)
	}
	if snap, _ := h.registry.Snapshot("EURUSD"); !snap.PositionOpen || snap.Direction != types.DirectionUp {
		t.Fatalf("expected tracker to keep the position, got %+v", snap)
	}

	h.tick(t, "1.1020")
	if len(h.exec.effects) != 2 || h.exec.effects[1].Kind != types.EffectClosePosition {
		t.Fatalf("expected the kept position to close normally, got %+v", h.exec.effects)
	}
}

func TestDayRollHandsOpenPositionToStaleHandler(t *testing.T) {
	h := newHarness(newMemStore())
	stale := &staleRecorder{}
	h.registry.SetStaleHandler(stale)
	h.engine.Bootstrap(context.Background())
	h.tick(t, "1.1015")

	h.engine.now = func() time.Time { return time.Date(2024, 1, 11, 1, 0, 0, 0, time.UTC) }
	h.tick(t, "1.1000")

	if len(stale.snaps) != 1 {
		t.Fatalf("expected one orphaned position, got %d", len(stale.snaps))
	}
	got := stale.snaps[0]
	if got.Symbol != "EURUSD" || got.Date() != "2024-01-10" || !got.PositionOpen || got.Direction != types.DirectionUp {
		t.Fatalf("unexpected orphan %+v", got)
	}
	if !stale.volumes[0].Equal(d("0.01")) {
		t.Fatalf("expected configured volume, got %s", stale.volumes[0])
	}

	snap, _ := h.registry.Snapshot("EURUSD")
	if snap.Date() != "2024-01-11" || snap.PositionOpen {
		t.Fatalf("expected a fresh tracker for the new day, got %+v", snap)
	}
}

func TestDayRollAlertsWithoutStaleHandler(t *testing.T) {
	h := newHarness(newMemStore())
	h.engine.Bootstrap(context.Background())
	h.tick(t, "1.1015")

	refs, failed := h.registry.ResetDaily(context.Background(), time.Date(2024, 1, 11, 1, 0, 0, 0, time.UTC))
	if len(refs) != 1 || len(failed) != 0 {
		t.Fatalf("expected a fresh reference, got refs=%d failed=%v", len(refs), failed)
	}
	if !hasMessage(h.msgs.msgs, "STALE POSITION") {
		t.Fatalf("expected an operator alert, got %v", h.msgs.msgs)
	}
}

func TestResetReplacesFlatTrackerOnSameDate(t *testing.T) {
	h := newHarness(newMemStore())
	h.engine.Bootstrap(context.Background())

	h.history.opens["EURUSD"] = d("1.2000")
	h.registry.ResetDaily(context.Background(), wednesday)

	snap, _ := h.registry.Snapshot("EURUSD")
	if !snap.Reference.Price.Equal(d("1.2000")) {
		t.Fatalf("expected flat tracker to be re-resolved, got %s", snap.Reference.Price)
	}
}

package feeds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/exec"
	"github.com/web3guy0/pipbot/types"
)

// fakeHistory serves bars only at or before cutoff; everything after is missing
type fakeHistory struct {
	cutoff time.Time
	calls  int
	err    error
}

func (f *fakeHistory) HistoricalBar(ctx context.Context, symbol string, at time.Time, g exec.Granularity) (types.Bar, error) {
	f.calls++
	if f.err != nil {
		return types.Bar{}, f.err
	}
	if at.After(f.cutoff) {
		return types.Bar{}, exec.ErrNoData
	}
	return types.Bar{
		Symbol: symbol,
		Open:   decimal.RequireFromString("1.1000"),
		Close:  decimal.RequireFromString("1.2000"),
		Time:   at,
	}, nil
}

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func newResolver(t *testing.T, h History, policy MondayPolicy) *Resolver {
	return NewResolver(h, ResolverConfig{
		Location:           kolkata(t),
		ReferenceHour:      1,
		FridayCloseHourUTC: 21,
		Monday:             policy,
	})
}

func TestTargetWeekdayUsesReferenceHourOpen(t *testing.T) {
	r := newResolver(t, nil, MondayAllDay)
	loc := r.Location()

	// Wednesday 2024-01-10 10:00 IST
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, loc)
	got := r.Target(now)

	want := time.Date(2024, 1, 10, 1, 0, 0, 0, loc)
	if !got.At.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got.At)
	}
	if got.PriceType != PriceTypeOpen || got.Date != "2024-01-10" {
		t.Fatalf("unexpected target %+v", got)
	}
}

func TestTargetWeekdayBeforeReferenceHourUsesSameDay(t *testing.T) {
	r := newResolver(t, nil, MondayAllDay)
	loc := r.Location()

	// Wednesday 2024-01-10 00:30 IST, before the reference bar exists
	got := r.Target(time.Date(2024, 1, 10, 0, 30, 0, 0, loc))

	want := time.Date(2024, 1, 10, 1, 0, 0, 0, loc)
	if !got.At.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got.At)
	}
	if got.PriceType != PriceTypeOpen || got.Date != "2024-01-10" {
		t.Fatalf("unexpected target %+v", got)
	}
}

func TestTargetWeekendUsesFridayClose(t *testing.T) {
	r := newResolver(t, nil, MondayAllDay)
	loc := r.Location()

	friClose := time.Date(2024, 1, 12, 21, 0, 0, 0, time.UTC)
	for _, now := range []time.Time{
		time.Date(2024, 1, 13, 9, 0, 0, 0, loc),  // Saturday
		time.Date(2024, 1, 14, 23, 0, 0, 0, loc), // Sunday
		time.Date(2024, 1, 15, 15, 0, 0, 0, loc), // Monday afternoon
	} {
		got := r.Target(now)
		if !got.At.Equal(friClose) {
			t.Fatalf("%v: expected Friday close %v, got %v", now, friClose, got.At)
		}
		if got.PriceType != PriceTypeClose || got.Date != "2024-01-12" {
			t.Fatalf("%v: unexpected target %+v", now, got)
		}
	}
}

func TestMondayBeforeReferenceHourPolicy(t *testing.T) {
	r := newResolver(t, nil, MondayBeforeReferenceHour)
	loc := r.Location()

	early := r.Target(time.Date(2024, 1, 15, 0, 30, 0, 0, loc))
	if early.PriceType != PriceTypeClose || early.Date != "2024-01-12" {
		t.Fatalf("expected Friday close before reference hour, got %+v", early)
	}

	later := r.Target(time.Date(2024, 1, 15, 9, 0, 0, 0, loc))
	if later.PriceType != PriceTypeOpen || later.Date != "2024-01-15" {
		t.Fatalf("expected Monday open after reference hour, got %+v", later)
	}
}

func TestResolveStepsBackToAvailableBar(t *testing.T) {
	loc := kolkata(t)
	target := time.Date(2024, 1, 10, 1, 0, 0, 0, loc)
	h := &fakeHistory{cutoff: target.Add(-5 * time.Minute)}
	r := newResolver(t, h, MondayAllDay)

	ref, err := r.Resolve(context.Background(), "EURUSD", time.Date(2024, 1, 10, 9, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ref.Time.Equal(h.cutoff) {
		t.Fatalf("expected actual bar time %v, got %v", h.cutoff, ref.Time)
	}
	if !ref.Price.Equal(decimal.RequireFromString("1.1")) {
		t.Fatalf("expected open price 1.1, got %s", ref.Price)
	}
	if h.calls != 6 {
		t.Fatalf("expected 6 history calls, got %d", h.calls)
	}
	if ref.Date != "2024-01-10" || ref.PriceType != PriceTypeOpen {
		t.Fatalf("unexpected reference %+v", ref)
	}
}

func TestResolveWeekendUsesClosePrice(t *testing.T) {
	loc := kolkata(t)
	h := &fakeHistory{cutoff: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newResolver(t, h, MondayAllDay)

	ref, err := r.Resolve(context.Background(), "EURUSD", time.Date(2024, 1, 13, 12, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ref.Price.Equal(decimal.RequireFromString("1.2")) || ref.PriceType != PriceTypeClose {
		t.Fatalf("expected close price 1.2, got %s (%s)", ref.Price, ref.PriceType)
	}
}

func TestResolveGivesUpAfterMaxSteps(t *testing.T) {
	loc := kolkata(t)
	h := &fakeHistory{cutoff: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newResolver(t, h, MondayAllDay)

	_, err := r.Resolve(context.Background(), "EURUSD", time.Date(2024, 1, 10, 9, 0, 0, 0, loc))
	if !errors.Is(err, ErrNoDataAvailable) {
		t.Fatalf("expected ErrNoDataAvailable, got %v", err)
	}
	if h.calls != DefaultMaxSteps {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxSteps, h.calls)
	}
}

func TestResolveStopsOnCancel(t *testing.T) {
	loc := kolkata(t)
	h := &fakeHistory{cutoff: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newResolver(t, h, MondayAllDay)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "EURUSD", time.Date(2024, 1, 10, 9, 0, 0, 0, loc))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.calls != 0 {
		t.Fatalf("expected no history calls, got %d", h.calls)
	}
}

func TestResolveStopsOnHistoryError(t *testing.T) {
	loc := kolkata(t)
	refused := errors.New("dial tcp 127.0.0.1:8787: connection refused")
	h := &fakeHistory{err: refused}
	r := newResolver(t, h, MondayAllDay)

	_, err := r.Resolve(context.Background(), "EURUSD", time.Date(2024, 1, 10, 9, 0, 0, 0, loc))
	if !errors.Is(err, refused) {
		t.Fatalf("expected the history error, got %v", err)
	}
	if errors.Is(err, ErrNoDataAvailable) {
		t.Fatalf("expected a transport error, not missing data")
	}
	if h.calls != 1 {
		t.Fatalf("expected a single history call, got %d", h.calls)
	}
}

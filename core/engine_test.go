package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/exec"
	"github.com/web3guy0/pipbot/feeds"
	"github.com/web3guy0/pipbot/pips"
	"github.com/web3guy0/pipbot/risk"
	"github.com/web3guy0/pipbot/strategy"
	"github.com/web3guy0/pipbot/types"
)

var (
	wednesday = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	d         = decimal.RequireFromString
)

type fakeHistory struct {
	mu    sync.Mutex
	opens map[string]decimal.Decimal
	calls int
}

func (h *fakeHistory) HistoricalBar(ctx context.Context, symbol string, at time.Time, g exec.Granularity) (types.Bar, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	p, ok := h.opens[symbol]
	if !ok {
		return types.Bar{}, exec.ErrNoData
	}
	return types.Bar{Symbol: symbol, Open: p, Close: p, Time: at}, nil
}

type fakeQuotes struct {
	asks map[string]decimal.Decimal
	err  error
}

func (q *fakeQuotes) LatestQuote(ctx context.Context, symbol string) (types.Quote, error) {
	if q.err != nil {
		return types.Quote{}, q.err
	}
	ask, ok := q.asks[symbol]
	if !ok {
		return types.Quote{}, exec.ErrUnavailable
	}
	return types.Quote{Symbol: symbol, Bid: ask.Sub(d("0.0002")), Ask: ask}, nil
}

type fakeExecutor struct {
	fail    bool
	effects []types.Effect
}

func (f *fakeExecutor) Execute(ctx context.Context, effect types.Effect, volume decimal.Decimal) (*types.OrderResult, error) {
	f.effects = append(f.effects, effect)
	if f.fail {
		return nil, errors.New("order failed: requote")
	}
	return &types.OrderResult{Symbol: effect.Symbol, Side: effect.Side, Volume: volume, Price: effect.Event.Price}, nil
}

type memStore struct {
	mu    sync.Mutex
	snaps map[string]types.TrackerSnapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]types.TrackerSnapshot)}
}

func (m *memStore) Upsert(ctx context.Context, s types.TrackerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[s.Symbol] = s
	return nil
}

func (m *memStore) LoadAll(ctx context.Context) (map[string]types.TrackerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.TrackerSnapshot, len(m.snaps))
	for k, v := range m.snaps {
		out[k] = v
	}
	return out, nil
}

type msgSink struct{ msgs []string }

func (m *msgSink) Send(text string) { m.msgs = append(m.msgs, text) }

type harness struct {
	engine   *Engine
	registry *Registry
	history  *fakeHistory
	quotes   *fakeQuotes
	exec     *fakeExecutor
	store    *memStore
	msgs     *msgSink
}

func newHarness(store *memStore, symbols ...string) *harness {
	h := &harness{
		history: &fakeHistory{opens: map[string]decimal.Decimal{"EURUSD": d("1.1000")}},
		quotes:  &fakeQuotes{asks: map[string]decimal.Decimal{}},
		exec:    &fakeExecutor{},
		store:   store,
		msgs:    &msgSink{},
	}
	if len(symbols) == 0 {
		symbols = []string{"EURUSD"}
	}

	var instruments []Instrument
	for _, s := range symbols {
		instruments = append(instruments, Instrument{
			Symbol: s,
			Thresholds: strategy.Thresholds{
				First:    decimal.NewFromInt(15),
				Close:    decimal.NewFromInt(5),
				Opposite: decimal.NewFromInt(10),
			},
			Volume: d("0.01"),
		})
	}

	resolver := feeds.NewResolver(h.history, feeds.ResolverConfig{
		Location:           time.UTC,
		ReferenceHour:      1,
		FridayCloseHourUTC: 21,
		MaxSteps:           3,
	})
	h.registry = NewRegistry(instruments, pips.DefaultTable(decimal.Zero), resolver, store, h.msgs, time.Second)
	router := NewRouter(h.exec, h.registry, h.msgs)
	h.engine = NewEngine(EngineConfig{PollInterval: time.Second, CallTimeout: time.Second}, h.quotes, h.registry, router, nil, nil)
	h.engine.now = func() time.Time { return wednesday }
	return h
}

func (h *harness) tick(t *testing.T, ask string) {
	t.Helper()
	h.quotes.asks["EURUSD"] = d(ask)
	h.engine.cycle(context.Background())
}

func TestEngineOpensAndClosesOnThresholds(t *testing.T) {
	h := newHarness(newMemStore())
	h.engine.Bootstrap(context.Background())

	h.tick(t, "1.1014")
	if len(h.exec.effects) != 0 {
		t.Fatalf("expected no order below the first threshold, got %d", len(h.exec.effects))
	}

	h.tick(t, "1.1015")
	if len(h.exec.effects) != 1 || h.exec.effects[0].Kind != types.EffectOpenPosition || h.exec.effects[0].Side != types.SideBuy {
		t.Fatalf("expected one BUY open, got %+v", h.exec.effects)
	}
	if snap := h.store.snaps["EURUSD"]; !snap.PositionOpen || snap.Direction != types.DirectionUp {
		t.Fatalf("expected persisted open position, got %+v", snap)
	}

	h.tick(t, "1.1018")
	if len(h.exec.effects) != 1 {
		t.Fatalf("expected no close before the close threshold")
	}

	h.tick(t, "1.1020")
	if len(h.exec.effects) != 2 || h.exec.effects[1].Reason != types.EventContinuation {
		t.Fatalf("expected continuation close, got %+v", h.exec.effects)
	}
	snap := h.store.snaps["EURUSD"]
	if snap.PositionOpen || snap.LastThresholdPrice.Valid || len(snap.History) != 2 {
		t.Fatalf("expected flat persisted snapshot with two events, got %+v", snap)
	}
}

func TestFailedOrderLeavesTrackerUnchanged(t *testing.T) {
	h := newHarness(newMemStore())
	h.engine.Bootstrap(context.Background())
	h.exec.fail = true

	h.tick(t, "1.1015")
	snap, _ := h.registry.Snapshot("EURUSD")
	if snap.PositionOpen || snap.Entries != 0 || len(snap.History) != 0 {
		t.Fatalf("expected tracker unchanged after failure, got %+v", snap)
	}

	h.exec.fail = false
	h.tick(t, "1.1015")
	if snap, _ := h.registry.Snapshot("EURUSD"); !snap.PositionOpen {
		t.Fatalf("expected open on the next successful attempt")
	}
	if len(h.exec.effects) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(h.exec.effects))
	}
}

func TestRestartDoesNotReopen(t *testing.T) {
	store := newMemStore()
	store.snaps["EURUSD"] = types.TrackerSnapshot{
		Symbol: "EURUSD",
		Reference: types.ReferencePoint{
			Symbol:    "EURUSD",
			Price:     d("1.1000"),
			Date:      "2024-01-10",
			PriceType: feeds.PriceTypeOpen,
			Time:      time.Date(2024, 1, 10, 1, 0, 0, 0, time.UTC),
		},
		LastThresholdPrice: decimal.NewNullDecimal(d("1.1015")),
		Direction:          types.DirectionUp,
		PositionOpen:       true,
		Entries:            1,
	}

	h := newHarness(store)
	h.engine.Bootstrap(context.Background())
	if h.history.calls != 0 {
		t.Fatalf("expected restored tracker to skip history, got %d calls", h.history.calls)
	}

	h.tick(t, "1.1016")
	if len(h.exec.effects) != 0 {
		t.Fatalf("expected no duplicate open after restart, got %+v", h.exec.effects)
	}

	h.tick(t, "1.1020")
	if len(h.exec.effects) != 1 || h.exec.effects[0].Kind != types.EffectClosePosition {
		t.Fatalf("expected a close from the restored position, got %+v", h.exec.effects)
	}
}

func TestRestoreIgnoresStaleSnapshot(t *testing.T) {
	store := newMemStore()
	store.snaps["EURUSD"] = types.TrackerSnapshot{
		Symbol:             "EURUSD",
		Reference:          types.ReferencePoint{Symbol: "EURUSD", Price: d("1.0900"), Date: "2024-01-09"},
		LastThresholdPrice: decimal.NewNullDecimal(d("1.0915")),
		Direction:          types.DirectionUp,
		PositionOpen:       true,
	}

	h := newHarness(store)
	h.engine.Bootstrap(context.Background())

	snap, ok := h.registry.Snapshot("EURUSD")
	if !ok || snap.Date() != "2024-01-10" || snap.PositionOpen {
		t.Fatalf("expected fresh tracker for today, got %+v", snap)
	}
	if !snap.Reference.Price.Equal(d("1.1000")) {
		t.Fatalf("expected resolved start price, got %s", snap.Reference.Price)
	}
	if store.snaps["EURUSD"].Date() != "2024-01-10" {
		t.Fatalf("expected today's snapshot to be persisted")
	}
}

func TestPauseBlocksOpensNotCloses(t *testing.T) {
	h := newHarness(newMemStore())
	h.engine.Bootstrap(context.Background())

	h.engine.Pause()
	h.tick(t, "1.1015")
	if len(h.exec.effects) != 0 {
		t.Fatalf("expected no open while paused")
	}

	h.engine.Resume()
	h.tick(t, "1.1015")
	if len(h.exec.effects) != 1 {
		t.Fatalf("expected open after resume")
	}

	h.engine.Pause()
	h.tick(t, "1.1020")
	if len(h.exec.effects) != 2 || h.exec.effects[1].Kind != types.EffectClosePosition {
		t.Fatalf("expected close while paused, got %+v", h.exec.effects)
	}
	h.engine.Resume()
}

func TestTrippedBreakerBlocksOpens(t *testing.T) {
	h := newHarness(newMemStore())
	h.engine.breaker = risk.NewCircuitBreaker(1, time.Hour)
	h.engine.breaker.RecordFailure("EURUSD")
	h.engine.Bootstrap(context.Background())

	h.tick(t, "1.1015")
	if len(h.exec.effects) != 0 {
		t.Fatalf("expected breaker to block the open")
	}
}

func TestDailyResetAtReferenceHour(t *testing.T) {
	h := newHarness(newMemStore())
	h.engine.Bootstrap(context.Background())
	h.tick(t, "1.1015")

	h.history.opens["EURUSD"] = d("1.2000")
	h.engine.now = func() time.Time { return time.Date(2024, 1, 11, 0, 59, 0, 0, time.UTC) }
	h.tick(t, "1.1015")
	if snap, _ := h.registry.Snapshot("EURUSD"); snap.Date() != "2024-01-10" {
		t.Fatalf("expected no reset before the reference hour, got %s", snap.Date())
	}

	h.engine.now = func() time.Time { return time.Date(2024, 1, 11, 1, 0, 30, 0, time.UTC) }
	h.tick(t, "1.2001")
	snap, _ := h.registry.Snapshot("EURUSD")
	if snap.Date() != "2024-01-11" || !snap.Reference.Price.Equal(d("1.2000")) {
		t.Fatalf("expected new day's reference, got %+v", snap.Reference)
	}
	if snap.PositionOpen || len(snap.History) != 0 {
		t.Fatalf("expected a fresh tracker, got %+v", snap)
	}

	calls := h.history.calls
	h.tick(t, "1.2001")
	if h.history.calls != calls {
		t.Fatalf("expected a single reset per day")
	}
}

func TestResetFailureSkipsOnlyThatInstrument(t *testing.T) {
	h := newHarness(newMemStore(), "EURUSD", "GBPUSD")
	refs, failed := h.registry.ResetDaily(context.Background(), wednesday)

	if len(refs) != 1 || refs[0].Symbol != "EURUSD" {
		t.Fatalf("expected EURUSD reference, got %+v", refs)
	}
	if len(failed) != 1 || failed[0] != "GBPUSD" {
		t.Fatalf("expected GBPUSD failure, got %v", failed)
	}
	if h.registry.Has("GBPUSD") {
		t.Fatalf("expected no tracker for the failed instrument")
	}
	if len(h.msgs.msgs) != 1 {
		t.Fatalf("expected one start price summary, got %d", len(h.msgs.msgs))
	}

	h.quotes.asks["GBPUSD"] = d("1.3000")
	h.tick(t, "1.1000")
	if len(h.exec.effects) != 0 {
		t.Fatalf("expected untracked instrument to be skipped")
	}
}

func TestQuoteErrorSkipsCycle(t *testing.T) {
	h := newHarness(newMemStore())
	h.engine.Bootstrap(context.Background())
	h.quotes.err = exec.ErrUnavailable

	h.tick(t, "1.1015")
	if len(h.exec.effects) != 0 {
		t.Fatalf("expected no transition without a price")
	}
}

func TestPickPriceSide(t *testing.T) {
	q := types.Quote{Bid: d("1.1000"), Ask: d("1.1002")}
	cases := map[string]string{"ask": "1.1002", "bid": "1.1000", "mid": "1.1001"}
	for side, want := range cases {
		e := &Engine{cfg: EngineConfig{PriceSide: side}}
		if got := e.pick(q); !got.Equal(d(want)) {
			t.Fatalf("%s: expected %s, got %s", side, want, got)
		}
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(newMemStore())
	h.engine.Bootstrap(context.Background())
	h.quotes.asks["EURUSD"] = d("1.1015")

	h.engine.Start(context.Background())
	h.engine.Start(context.Background())
	h.engine.Stop()
	h.engine.Stop()

	if len(h.exec.effects) > 1 {
		t.Fatalf("expected at most one open, got %d", len(h.exec.effects))
	}
	if h.engine.Mode() != "live" {
		t.Fatalf("expected live mode")
	}
}

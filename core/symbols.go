package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/bot"
	"github.com/web3guy0/pipbot/feeds"
	"github.com/web3guy0/pipbot/metrics"
	"github.com/web3guy0/pipbot/pips"
	"github.com/web3guy0/pipbot/strategy"
	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SYMBOLS - Tracker registry, one tracker per instrument per trading day
// ═══════════════════════════════════════════════════════════════════════════════
//
// The polling goroutine is the only writer. Telegram commands read snapshots
// under the read lock.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Store persists tracker snapshots keyed by (symbol, date), last write wins
type Store interface {
	Upsert(ctx context.Context, snap types.TrackerSnapshot) error
	LoadAll(ctx context.Context) (map[string]types.TrackerSnapshot, error)
}

// StaleHandler takes over a position left open when its trading day ends
type StaleHandler interface {
	HandleStale(ctx context.Context, snap types.TrackerSnapshot, volume decimal.Decimal) bool
}

// Instrument is a configured symbol with its thresholds and lot size
type Instrument struct {
	Symbol     string
	Thresholds strategy.Thresholds
	Volume     decimal.Decimal
}

// Registry maps instruments to their trackers
type Registry struct {
	mu sync.RWMutex

	instruments []Instrument
	bySymbol    map[string]Instrument
	trackers    map[string]*strategy.Tracker

	table    *pips.Table
	resolver *feeds.Resolver
	store    Store
	notifier bot.Notifier
	stale    StaleHandler
	timeout  time.Duration
}

// NewRegistry creates an empty registry. store may be nil.
func NewRegistry(instruments []Instrument, table *pips.Table, resolver *feeds.Resolver, store Store, notifier bot.Notifier, callTimeout time.Duration) *Registry {
	if notifier == nil {
		notifier = bot.Nop{}
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	r := &Registry{
		instruments: instruments,
		bySymbol:    make(map[string]Instrument, len(instruments)),
		trackers:    make(map[string]*strategy.Tracker),
		table:       table,
		resolver:    resolver,
		store:       store,
		notifier:    notifier,
		timeout:     callTimeout,
	}
	for _, in := range instruments {
		r.bySymbol[in.Symbol] = in
	}
	return r
}

// ResetDaily discards every tracker and resolves a fresh reference for each
// instrument. Instruments that fail keep no tracker until the next reset.
//
// An open position whose trading day key is unchanged (weekend, Monday on the
// Friday close) keeps its tracker. One whose day has ended goes to the stale
// handler, or to the operator when none is set.
func (r *Registry) ResetDaily(ctx context.Context, now time.Time) ([]types.ReferencePoint, []string) {
	date := r.resolver.Target(now).Date

	var orphans []types.TrackerSnapshot
	r.mu.Lock()
	for symbol, t := range r.trackers {
		if t.Tracking() {
			if t.Reference().Date == date {
				log.Info().
					Str("symbol", symbol).
					Str("date", date).
					Str("direction", string(t.Direction())).
					Msg("📌 Same trading day, keeping open position")
				continue
			}
			orphans = append(orphans, t.Snapshot())
		}
		delete(r.trackers, symbol)
		metrics.SetPosition(symbol, false)
	}
	r.mu.Unlock()

	for _, snap := range orphans {
		r.handleStale(ctx, snap)
	}

	return r.ResolveMissing(ctx, now)
}

func (r *Registry) handleStale(ctx context.Context, snap types.TrackerSnapshot) {
	log.Warn().
		Str("symbol", snap.Symbol).
		Str("direction", string(snap.Direction)).
		Str("date", snap.Date()).
		Msg("⚠️ Day rolled with a position still open")

	if r.stale == nil {
		r.notifier.Send(bot.FormatStalePosition(snap))
		return
	}
	r.stale.HandleStale(ctx, snap, r.bySymbol[snap.Symbol].Volume)
}

// SetStaleHandler sets the policy for positions orphaned at the daily roll
func (r *Registry) SetStaleHandler(h StaleHandler) {
	r.stale = h
}

// ResolveMissing resolves references only for instruments without a tracker
func (r *Registry) ResolveMissing(ctx context.Context, now time.Time) ([]types.ReferencePoint, []string) {
	target := r.resolver.Target(now)
	log.Info().
		Str("date", target.Date).
		Str("price_type", target.PriceType).
		Time("target", target.At.UTC()).
		Msg("📍 Resolving start prices")

	var (
		refs   []types.ReferencePoint
		failed []string
	)
	for _, in := range r.instruments {
		if r.Has(in.Symbol) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		ref, err := r.resolver.Resolve(ctx, in.Symbol, now)
		if err != nil {
			metrics.ReferenceFailures.WithLabelValues(in.Symbol).Inc()
			log.Error().Err(err).Str("symbol", in.Symbol).Msg("❌ No start price, instrument skipped today")
			failed = append(failed, in.Symbol)
			continue
		}

		r.mu.Lock()
		r.trackers[in.Symbol] = strategy.NewTracker(r.table, in.Thresholds, ref)
		r.mu.Unlock()

		log.Info().
			Str("symbol", in.Symbol).
			Str("price", ref.Price.String()).
			Str("type", ref.PriceType).
			Time("bar", ref.Time).
			Msg("📍 Start price")
		refs = append(refs, ref)
	}

	if len(refs) > 0 || len(failed) > 0 {
		r.notifier.Send(bot.FormatReferenceSummary(refs, failed))
	}
	return refs, failed
}

// Restore adopts persisted snapshots belonging to the current trading day and
// returns how many were restored.
func (r *Registry) Restore(ctx context.Context, now time.Time) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	snaps, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	date := r.resolver.Target(now).Date
	restored := 0

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.instruments {
		snap, ok := snaps[in.Symbol]
		if !ok {
			continue
		}
		if snap.Date() != date || !snap.Reference.Price.IsPositive() {
			log.Debug().Str("symbol", in.Symbol).Str("date", snap.Date()).Msg("Ignoring stale snapshot")
			continue
		}

		t := strategy.FromSnapshot(r.table, in.Thresholds, snap)
		r.trackers[in.Symbol] = t
		metrics.SetPosition(in.Symbol, t.Tracking())
		restored++

		log.Info().
			Str("symbol", in.Symbol).
			Str("date", date).
			Str("start", snap.Reference.Price.String()).
			Str("direction", string(t.Direction())).
			Bool("position_open", t.Tracking()).
			Msg("♻️ Restored tracker")
	}
	return restored, nil
}

// Persist upserts every tracker's snapshot
func (r *Registry) Persist(ctx context.Context) {
	for _, in := range r.instruments {
		r.PersistSymbol(ctx, in.Symbol)
	}
}

// PersistSymbol upserts one tracker's snapshot. Failures are logged, never fatal.
func (r *Registry) PersistSymbol(ctx context.Context, symbol string) {
	if r.store == nil {
		return
	}
	snap, ok := r.Snapshot(symbol)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.Upsert(ctx, snap); err != nil {
		metrics.PersistErrors.Inc()
		log.Error().Err(err).Str("symbol", symbol).Msg("Failed to persist tracker state")
	}
}

// Evaluate asks the symbol's tracker what price would do, without changing it
func (r *Registry) Evaluate(symbol string, price decimal.Decimal, now time.Time) *strategy.Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[symbol]
	if !ok {
		return nil
	}
	metrics.PipsFromReference.WithLabelValues(symbol).Set(t.PipsFromReference(price).InexactFloat64())
	return t.Evaluate(price, now)
}

// Commit applies a decision to the symbol's tracker
func (r *Registry) Commit(symbol string, d *strategy.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[symbol]
	if !ok {
		return
	}
	t.Commit(d)
	metrics.SetPosition(symbol, t.Tracking())
}

// Has reports whether symbol has a tracker today
func (r *Registry) Has(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.trackers[symbol]
	return ok
}

// Instrument returns the configuration for symbol
func (r *Registry) Instrument(symbol string) (Instrument, bool) {
	in, ok := r.bySymbol[symbol]
	return in, ok
}

// Symbols returns configured symbols in configured order
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.instruments))
	for _, in := range r.instruments {
		out = append(out, in.Symbol)
	}
	return out
}

// Snapshot returns a copy of one tracker's state
func (r *Registry) Snapshot(symbol string) (types.TrackerSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[symbol]
	if !ok {
		return types.TrackerSnapshot{}, false
	}
	return t.Snapshot(), true
}

// Snapshots returns every tracker's state in configured order
func (r *Registry) Snapshots() []types.TrackerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TrackerSnapshot, 0, len(r.trackers))
	for _, in := range r.instruments {
		if t, ok := r.trackers[in.Symbol]; ok {
			out = append(out, t.Snapshot())
		}
	}
	return out
}

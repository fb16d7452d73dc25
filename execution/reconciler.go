package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/bot"
	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION - Recovery of stale positions
// ═══════════════════════════════════════════════════════════════════════════════
//
// A snapshot from an earlier trading day that still says "position open" means
// the process died (or the day rolled) before a close went through. Today's
// tracker will never close it, so on startup and at the daily roll we either:
//   - close it at the broker and persist the cleared snapshot (closeStale), or
//   - warn the operator and leave it alone
//
// ═══════════════════════════════════════════════════════════════════════════════

// SnapshotStore is the persistence the reconciler needs
type SnapshotStore interface {
	LoadAll(ctx context.Context) (map[string]types.TrackerSnapshot, error)
	Upsert(ctx context.Context, snap types.TrackerSnapshot) error
}

// Reconciler handles startup position recovery
type Reconciler struct {
	executor   *Executor
	store      SnapshotStore
	notifier   bot.Notifier
	closeStale bool
}

// NewReconciler creates a position reconciler
func NewReconciler(executor *Executor, store SnapshotStore, notifier bot.Notifier, closeStale bool) *Reconciler {
	if notifier == nil {
		notifier = bot.Nop{}
	}
	return &Reconciler{
		executor:   executor,
		store:      store,
		notifier:   notifier,
		closeStale: closeStale,
	}
}

// Reconcile inspects persisted snapshots older than today and returns how many
// stale open positions it found.
func (r *Reconciler) Reconcile(ctx context.Context, today string, volumeFor func(symbol string) decimal.Decimal) (int, error) {
	if r.store == nil {
		log.Info().Msg("📦 No database - skipping position recovery")
		return 0, nil
	}

	snaps, err := r.store.LoadAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to load persisted state")
		return 0, err
	}

	stale := 0
	for symbol, snap := range snaps {
		if !snap.PositionOpen || snap.Date() >= today {
			continue
		}
		stale++

		r.HandleStale(ctx, snap, volumeFor(symbol))
	}

	if stale == 0 {
		log.Info().Msg("📦 No stale positions to recover")
	}
	return stale, nil
}

// HandleStale applies the stale position policy to one snapshot: close it at
// the broker when closeStale is set, otherwise alert. Reports whether it closed.
func (r *Reconciler) HandleStale(ctx context.Context, snap types.TrackerSnapshot, volume decimal.Decimal) bool {
	log.Warn().
		Str("symbol", snap.Symbol).
		Str("date", snap.Date()).
		Str("direction", string(snap.Direction)).
		Msg("⚠️ Found open position from a previous trading day")

	if !r.closeStale || r.executor == nil {
		r.notifier.Send(bot.FormatStalePosition(snap))
		return false
	}

	effect := types.Effect{
		Kind:      types.EffectClosePosition,
		Symbol:    snap.Symbol,
		Date:      snap.Date(),
		Direction: snap.Direction,
		Side:      types.SideFor(snap.Direction),
		Reason:    types.EventReversal,
		Event: types.ThresholdEvent{
			Symbol:    snap.Symbol,
			Price:     snap.LastThresholdPrice.Decimal,
			Direction: snap.Direction,
			Kind:      types.EventReversal,
			Time:      time.Now().UTC(),
		},
	}
	if _, err := r.executor.Execute(ctx, effect, volume); err != nil {
		return false
	}

	snap.Direction = types.DirectionNone
	snap.LastThresholdPrice = decimal.NullDecimal{}
	snap.PositionOpen = false
	snap.UpdatedAt = time.Now().UTC()
	if r.store != nil {
		if err := r.store.Upsert(ctx, snap); err != nil {
			log.Error().Err(err).Str("symbol", snap.Symbol).Msg("Failed to persist reconciled state")
		}
	}
	r.notifier.Send(fmt.Sprintf("🧹 Closed stale %s position from %s", snap.Symbol, snap.Date()))
	return true
}

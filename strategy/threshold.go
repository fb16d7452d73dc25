package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/pips"
	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// THRESHOLD TRACKER - Per-instrument daily state machine
// ═══════════════════════════════════════════════════════════════════════════════
//
//   Idle ──|pips from reference| ≥ first──▶ Tracking(dir)      OpenPosition
//   Tracking ──same dir ≥ close──────────▶ Idle                ClosePosition(continuation)
//   Tracking ──opposite dir ≥ opposite───▶ Idle                ClosePosition(reversal)
//
// Evaluate never mutates. The engine executes the effect and only then Commits,
// so a failed order leaves the tracker where it was.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Thresholds are the per-instrument trigger distances, in pips
type Thresholds struct {
	First      decimal.Decimal
	Close      decimal.Decimal
	Opposite   decimal.Decimal // zero disables reversal closes
	MaxEntries int             // opens per day, zero = unlimited
}

// Decision is a pending transition produced by Evaluate
type Decision struct {
	Effect types.Effect
	price  decimal.Decimal
}

// Tracker holds one instrument's state for one trading day.
// Not safe for concurrent use; the registry serializes access.
type Tracker struct {
	symbol string
	table  *pips.Table
	th     Thresholds
	state  types.TrackerSnapshot
}

// NewTracker creates an idle tracker anchored at ref
func NewTracker(table *pips.Table, th Thresholds, ref types.ReferencePoint) *Tracker {
	return &Tracker{
		symbol: ref.Symbol,
		table:  table,
		th:     th,
		state: types.TrackerSnapshot{
			Symbol:    ref.Symbol,
			Reference: ref,
			Direction: types.DirectionNone,
			UpdatedAt: ref.Time,
		},
	}
}

// FromSnapshot rebuilds a tracker from persisted state
func FromSnapshot(table *pips.Table, th Thresholds, snap types.TrackerSnapshot) *Tracker {
	t := &Tracker{
		symbol: snap.Symbol,
		table:  table,
		th:     th,
		state:  snap,
	}
	t.state.History = append([]types.ThresholdEvent(nil), snap.History...)
	// Direction, position and last threshold must agree
	if !snap.LastThresholdPrice.Valid || snap.Direction == types.DirectionNone {
		t.clear()
	} else {
		t.state.PositionOpen = true
	}
	return t
}

func (t *Tracker) Symbol() string { return t.symbol }

// Tracking reports whether a position is open
func (t *Tracker) Tracking() bool { return t.state.PositionOpen }

func (t *Tracker) Direction() types.Direction { return t.state.Direction }

func (t *Tracker) Reference() types.ReferencePoint { return t.state.Reference }

// Snapshot returns a copy of the current state
func (t *Tracker) Snapshot() types.TrackerSnapshot {
	s := t.state
	s.History = append([]types.ThresholdEvent(nil), t.state.History...)
	return s
}

// PipsFromReference is the signed distance of price from the day's reference
func (t *Tracker) PipsFromReference(price decimal.Decimal) decimal.Decimal {
	return t.table.Distance(t.symbol, price, t.state.Reference.Price)
}

// Evaluate decides what price would do to the tracker without changing it.
// Returns nil when the tick is a no-op.
func (t *Tracker) Evaluate(price decimal.Decimal, now time.Time) *Decision {
	if !t.state.Reference.Price.IsPositive() || !price.IsPositive() {
		return nil
	}
	if t.state.PositionOpen {
		return t.evaluateTracking(price, now)
	}
	return t.evaluateIdle(price, now)
}

func (t *Tracker) evaluateIdle(price decimal.Decimal, now time.Time) *Decision {
	if t.th.MaxEntries > 0 && t.state.Entries >= t.th.MaxEntries {
		return nil
	}

	distance := t.PipsFromReference(price)
	dir := pips.Classify(distance)
	if dir == types.DirectionNeutral || distance.Abs().LessThan(t.th.First) {
		return nil
	}

	ev := t.event(price, distance, dir, types.EventOpen, now)
	return &Decision{
		price: price,
		Effect: types.Effect{
			Kind:      types.EffectOpenPosition,
			Symbol:    t.symbol,
			Date:      t.state.Reference.Date,
			Direction: dir,
			Side:      types.SideFor(dir),
			Event:     ev,
		},
	}
}

func (t *Tracker) evaluateTracking(price decimal.Decimal, now time.Time) *Decision {
	additional := t.table.Distance(t.symbol, price, t.state.LastThresholdPrice.Decimal)
	moved := pips.Classify(additional)

	var reason types.EventKind
	switch {
	case moved == t.state.Direction && additional.Abs().GreaterThanOrEqual(t.th.Close):
		reason = types.EventContinuation
	case moved == t.state.Direction.Opposite() && t.th.Opposite.IsPositive() &&
		additional.Abs().GreaterThanOrEqual(t.th.Opposite):
		reason = types.EventReversal
	default:
		return nil
	}

	ev := t.event(price, additional, moved, reason, now)
	return &Decision{
		price: price,
		Effect: types.Effect{
			Kind:      types.EffectClosePosition,
			Symbol:    t.symbol,
			Date:      t.state.Reference.Date,
			Direction: t.state.Direction,
			Side:      types.SideFor(t.state.Direction),
			Reason:    reason,
			Event:     ev,
		},
	}
}

// Commit applies a decision returned by Evaluate
func (t *Tracker) Commit(d *Decision) {
	if d == nil || d.Effect.Symbol != t.symbol {
		return
	}

	switch d.Effect.Kind {
	case types.EffectOpenPosition:
		if t.state.PositionOpen {
			return
		}
		t.state.Direction = d.Effect.Direction
		t.state.LastThresholdPrice = decimal.NewNullDecimal(d.price)
		t.state.PositionOpen = true
		t.state.Entries++
	case types.EffectClosePosition:
		if !t.state.PositionOpen {
			return
		}
		t.clear()
	default:
		return
	}

	t.state.History = append(t.state.History, d.Effect.Event)
	t.state.UpdatedAt = d.Effect.Event.Time
}

// OnTick evaluates and commits in one step
func (t *Tracker) OnTick(price decimal.Decimal, now time.Time) []types.Effect {
	d := t.Evaluate(price, now)
	if d == nil {
		return nil
	}
	t.Commit(d)
	return []types.Effect{d.Effect}
}

func (t *Tracker) clear() {
	t.state.Direction = types.DirectionNone
	t.state.LastThresholdPrice = decimal.NullDecimal{}
	t.state.PositionOpen = false
}

// event stamps a threshold event, keeping history ordered by time
func (t *Tracker) event(price, distance decimal.Decimal, dir types.Direction, kind types.EventKind, now time.Time) types.ThresholdEvent {
	if n := len(t.state.History); n > 0 && now.Before(t.state.History[n-1].Time) {
		now = t.state.History[n-1].Time
	}
	return types.ThresholdEvent{
		Symbol:    t.symbol,
		Price:     price,
		Pips:      distance,
		Direction: dir,
		Kind:      kind,
		Time:      now,
	}
}

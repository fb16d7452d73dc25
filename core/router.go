package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/bot"
	"github.com/web3guy0/pipbot/metrics"
	"github.com/web3guy0/pipbot/strategy"
	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ROUTER - Dispatches tracker decisions to the executor
// ═══════════════════════════════════════════════════════════════════════════════
//
//   Decision → Executor → success: Commit → Persist → Notify
//                       → failure: dropped, tracker unchanged
//
// ═══════════════════════════════════════════════════════════════════════════════

// Executor carries out an effect at the broker
type Executor interface {
	Execute(ctx context.Context, effect types.Effect, volume decimal.Decimal) (*types.OrderResult, error)
}

type Router struct {
	executor Executor
	registry *Registry
	notifier bot.Notifier
}

// NewRouter creates a new effect router
func NewRouter(executor Executor, registry *Registry, notifier bot.Notifier) *Router {
	if notifier == nil {
		notifier = bot.Nop{}
	}
	return &Router{
		executor: executor,
		registry: registry,
		notifier: notifier,
	}
}

// Route executes d and commits it only if the broker accepted it
func (r *Router) Route(ctx context.Context, d *strategy.Decision) error {
	if d == nil {
		return nil
	}
	effect := d.Effect

	in, ok := r.registry.Instrument(effect.Symbol)
	if !ok {
		return fmt.Errorf("unknown instrument %s", effect.Symbol)
	}

	res, err := r.executor.Execute(ctx, effect, in.Volume)
	if err != nil {
		return err
	}

	r.registry.Commit(effect.Symbol, d)
	r.registry.PersistSymbol(ctx, effect.Symbol)
	metrics.ThresholdEvents.WithLabelValues(effect.Symbol, string(effect.Event.Kind)).Inc()

	switch effect.Kind {
	case types.EffectOpenPosition:
		fill := effect.Event.Price
		if res != nil && !res.Price.IsZero() {
			fill = res.Price
		}
		log.Info().
			Str("symbol", effect.Symbol).
			Str("direction", string(effect.Direction)).
			Str("side", string(effect.Side)).
			Str("price", fill.String()).
			Str("pips", effect.Event.Pips.StringFixed(1)).
			Msg("🎯 Position opened")
		r.notifier.Send(bot.FormatOpen(effect, in.Volume, fill))

	case types.EffectClosePosition:
		log.Info().
			Str("symbol", effect.Symbol).
			Str("reason", string(effect.Reason)).
			Str("price", effect.Event.Price.String()).
			Str("pips", effect.Event.Pips.StringFixed(1)).
			Msg("📊 Position closed")
		r.notifier.Send(bot.FormatClose(effect))
	}
	return nil
}

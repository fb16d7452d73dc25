package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/bot"
	"github.com/web3guy0/pipbot/exec"
	"github.com/web3guy0/pipbot/metrics"
	"github.com/web3guy0/pipbot/risk"
	"github.com/web3guy0/pipbot/storage"
	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION LAYER - Bounded-retry order placement
// ═══════════════════════════════════════════════════════════════════════════════
//
// Order Flow:
//   Tracker.Evaluate → Executor.Execute → Broker
//                            ↓
//                 success: caller commits the transition
//                 failure: transition dropped, alert, trade log, breaker
//
// A cancelled context is never retried.
//
// ═══════════════════════════════════════════════════════════════════════════════

var ErrOrderFailed = errors.New("order failed")

// ExecutorConfig holds executor settings
type ExecutorConfig struct {
	MaxRetries  int           // retries after the first attempt
	RetryDelay  time.Duration // linear backoff step
	CallTimeout time.Duration // per attempt
	PaperMode   bool
}

// DefaultExecutorConfig returns sensible defaults
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:  3,
		RetryDelay:  time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// TradeLogger records order attempts
type TradeLogger interface {
	LogTrade(ctx context.Context, t *storage.TradeLog) error
}

// Executor places and closes positions for tracker effects
type Executor struct {
	config   ExecutorConfig
	broker   exec.Broker
	trades   TradeLogger
	breaker  *risk.CircuitBreaker
	notifier bot.Notifier
}

// NewExecutor creates a new execution manager. trades and breaker may be nil.
func NewExecutor(broker exec.Broker, config ExecutorConfig, trades TradeLogger, breaker *risk.CircuitBreaker, notifier bot.Notifier) *Executor {
	if notifier == nil {
		notifier = bot.Nop{}
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Executor{
		config:   config,
		broker:   broker,
		trades:   trades,
		breaker:  breaker,
		notifier: notifier,
	}
}

func (e *Executor) mode() string {
	if e.config.PaperMode {
		return "paper"
	}
	return "live"
}

// Execute carries out effect. A nil result with nil error means a close found
// the broker already flat.
func (e *Executor) Execute(ctx context.Context, effect types.Effect, volume decimal.Decimal) (*types.OrderResult, error) {
	action := actionFor(effect)

	var lastErr error
	attempts := e.config.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := e.attempt(ctx, effect, volume)
		if err == nil {
			e.recordSuccess(ctx, effect, action, volume, res)
			return res, nil
		}
		if effect.Kind == types.EffectClosePosition && errors.Is(err, exec.ErrNoOpenPosition) {
			log.Warn().Str("symbol", effect.Symbol).Msg("⚠️ No open position at broker, treating close as done")
			e.recordSuccess(ctx, effect, action, volume, nil)
			return nil, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}

		log.Warn().
			Err(err).
			Str("symbol", effect.Symbol).
			Str("action", action).
			Int("attempt", attempt).
			Int("of", attempts).
			Msg("🔁 Order attempt failed")

		if attempt < attempts && !e.sleep(ctx, time.Duration(attempt)*e.config.RetryDelay) {
			lastErr = ctx.Err()
			break
		}
	}

	err := fmt.Errorf("%w: %s %s: %v", ErrOrderFailed, action, effect.Symbol, lastErr)
	e.recordFailure(ctx, effect, action, volume, err)
	return nil, err
}

func (e *Executor) attempt(ctx context.Context, effect types.Effect, volume decimal.Decimal) (*types.OrderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	switch effect.Kind {
	case types.EffectOpenPosition:
		return e.broker.PlaceMarketOrder(callCtx, effect.Symbol, effect.Side, volume)
	case types.EffectClosePosition:
		return nil, e.broker.ClosePosition(callCtx, effect.Symbol)
	}
	return nil, fmt.Errorf("unknown effect %q", effect.Kind)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Executor) recordSuccess(ctx context.Context, effect types.Effect, action string, volume decimal.Decimal, res *types.OrderResult) {
	metrics.Orders.WithLabelValues(e.mode(), action, "placed").Inc()
	if e.breaker != nil {
		e.breaker.RecordSuccess()
	}

	row := tradeRow(effect, action, volume)
	row.Status = "placed"
	if res != nil {
		row.OrderID = res.OrderID
		if !res.Price.IsZero() {
			row.Price = res.Price
		}
	}
	e.logTrade(ctx, row)
}

func (e *Executor) recordFailure(ctx context.Context, effect types.Effect, action string, volume decimal.Decimal, err error) {
	metrics.Orders.WithLabelValues(e.mode(), action, "failed").Inc()
	if e.breaker != nil {
		e.breaker.RecordFailure(effect.Symbol)
	}

	log.Error().
		Err(err).
		Str("symbol", effect.Symbol).
		Str("action", action).
		Msg("❌ Order failed, transition discarded")

	row := tradeRow(effect, action, volume)
	row.Status = "failed"
	row.Error = err.Error()
	e.logTrade(ctx, row)

	e.notifier.Send(bot.FormatOrderFailed(effect, err))
}

func (e *Executor) logTrade(ctx context.Context, row *storage.TradeLog) {
	if e.trades == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.CallTimeout)
	defer cancel()
	if err := e.trades.LogTrade(ctx, row); err != nil {
		log.Error().Err(err).Str("symbol", row.Symbol).Msg("Failed to write trade log")
	}
}

func actionFor(effect types.Effect) string {
	if effect.Kind == types.EffectClosePosition {
		return "CLOSE"
	}
	return "OPEN"
}

func tradeRow(effect types.Effect, action string, volume decimal.Decimal) *storage.TradeLog {
	return &storage.TradeLog{
		Symbol: effect.Symbol,
		Date:   effect.Date,
		Action: action,
		Side:   string(effect.Side),
		Reason: string(effect.Reason),
		Price:  effect.Event.Price,
		Volume: volume,
	}
}

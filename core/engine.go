package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/metrics"
	"github.com/web3guy0/pipbot/risk"
	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Polling loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every poll interval:
//   1. daily reset when the local hour reaches the reference hour
//   2. per instrument: Quote → Tracker.Evaluate → Router → Commit
//
// One goroutine owns all tracker mutation. Every broker call is bounded by
// CallTimeout; a timeout skips that instrument for the cycle.
//
// ═══════════════════════════════════════════════════════════════════════════════

const dateLayout = "2006-01-02"

// QuoteSource supplies live prices
type QuoteSource interface {
	LatestQuote(ctx context.Context, symbol string) (types.Quote, error)
}

// TradeReader reads the trade log for display
type TradeReader interface {
	GetRecentTrades(ctx context.Context, limit int) ([]types.TradeRecord, error)
}

// EngineConfig holds loop settings
type EngineConfig struct {
	PollInterval time.Duration
	CallTimeout  time.Duration
	PriceSide    string // ask | bid | mid
	PaperMode    bool
}

type Engine struct {
	mu sync.RWMutex

	// Components
	cfg      EngineConfig
	quotes   QuoteSource
	registry *Registry
	router   *Router
	breaker  *risk.CircuitBreaker
	trades   TradeReader

	// State
	paused    bool
	running   bool
	lastReset string
	cancel    context.CancelFunc
	done      chan struct{}

	now func() time.Time
}

// NewEngine creates a new polling engine. breaker and trades may be nil.
func NewEngine(cfg EngineConfig, quotes QuoteSource, registry *Registry, router *Router, breaker *risk.CircuitBreaker, trades TradeReader) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.PriceSide == "" {
		cfg.PriceSide = "ask"
	}
	return &Engine{
		cfg:      cfg,
		quotes:   quotes,
		registry: registry,
		router:   router,
		breaker:  breaker,
		trades:   trades,
		now:      time.Now,
	}
}

// Bootstrap restores today's persisted trackers and resolves the rest
func (e *Engine) Bootstrap(ctx context.Context) {
	now := e.now()

	restored, err := e.registry.Restore(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to load persisted state, starting fresh")
	} else {
		log.Info().Int("restored", restored).Msg("📦 State loaded")
	}

	e.registry.ResolveMissing(ctx, now)
	e.registry.Persist(ctx)

	// A reset later today would wipe what was just restored
	local := now.In(e.registry.resolver.Location())
	if local.Hour() >= e.registry.resolver.ReferenceHour() {
		e.mu.Lock()
		e.lastReset = local.Format(dateLayout)
		e.mu.Unlock()
	}
}

// Start begins the polling loop
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(ctx)

	log.Info().
		Dur("interval", e.cfg.PollInterval).
		Str("price_side", e.cfg.PriceSide).
		Int("symbols", len(e.registry.Symbols())).
		Msg("⚡ Engine started")
}

// Stop cancels the loop and waits for the current cycle to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("Engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

// cycle runs one polling pass over every instrument
func (e *Engine) cycle(ctx context.Context) {
	now := e.now()
	e.maybeReset(ctx, now)

	for _, symbol := range e.registry.Symbols() {
		if ctx.Err() != nil {
			return
		}
		e.processSymbol(ctx, symbol, now)
	}
}

func (e *Engine) maybeReset(ctx context.Context, now time.Time) {
	local := now.In(e.registry.resolver.Location())
	today := local.Format(dateLayout)

	e.mu.RLock()
	due := local.Hour() == e.registry.resolver.ReferenceHour() && e.lastReset != today
	e.mu.RUnlock()
	if !due {
		return
	}

	log.Info().Str("date", today).Msg("🌅 Daily reset")
	e.registry.ResetDaily(ctx, now)
	e.registry.Persist(ctx)

	e.mu.Lock()
	e.lastReset = today
	e.mu.Unlock()
}

func (e *Engine) processSymbol(ctx context.Context, symbol string, now time.Time) {
	if !e.registry.Has(symbol) {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	quote, err := e.quotes.LatestQuote(qctx, symbol)
	cancel()
	if err != nil {
		metrics.PriceErrors.WithLabelValues(symbol).Inc()
		log.Debug().Err(err).Str("symbol", symbol).Msg("No price this cycle")
		return
	}

	price := e.pick(quote)
	if !price.IsPositive() {
		metrics.PriceErrors.WithLabelValues(symbol).Inc()
		return
	}
	metrics.Ticks.WithLabelValues(symbol).Inc()

	d := e.registry.Evaluate(symbol, price, now)
	if d == nil {
		return
	}

	if d.Effect.Kind == types.EffectOpenPosition {
		if e.IsPaused() {
			log.Debug().Str("symbol", symbol).Msg("Entries paused, open skipped")
			return
		}
		if e.breaker != nil && e.breaker.Check() {
			log.Debug().Str("symbol", symbol).Msg("Circuit breaker tripped, open skipped")
			return
		}
	}

	if err := e.router.Route(ctx, d); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Transition dropped")
	}
}

// pick returns the side of the quote the tracker evaluates
func (e *Engine) pick(q types.Quote) decimal.Decimal {
	switch e.cfg.PriceSide {
	case "bid":
		return q.Bid
	case "mid":
		return q.Mid()
	}
	return q.Ask
}

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT INTERFACE
// ═══════════════════════════════════════════════════════════════════════════════

// Pause suspends new entries. Closes keep running.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	metrics.Paused.Set(1)
	log.Warn().Msg("⏸️ Entries paused")
}

// Resume re-enables new entries
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	metrics.Paused.Set(0)
	log.Info().Msg("▶️ Entries resumed")
}

func (e *Engine) IsPaused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// Mode returns "paper" or "live"
func (e *Engine) Mode() string {
	if e.cfg.PaperMode {
		return "paper"
	}
	return "live"
}

// Snapshots returns every tracker's state for display
func (e *Engine) Snapshots() []types.TrackerSnapshot {
	return e.registry.Snapshots()
}

// GetRecentTrades returns last N trades from the trade log
func (e *Engine) GetRecentTrades(limit int) ([]types.TradeRecord, error) {
	if e.trades == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()
	return e.trades.GetRecentTrades(ctx, limit)
}

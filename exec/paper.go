package exec

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/types"
)

// PaperBroker serves real market data from an upstream broker and simulates
// fills at the latest quote. Orders never reach the terminal.
type PaperBroker struct {
	upstream Broker

	mu        sync.Mutex
	positions map[string]*types.OrderResult
}

// NewPaperBroker wraps upstream for dry runs
func NewPaperBroker(upstream Broker) *PaperBroker {
	return &PaperBroker{
		upstream:  upstream,
		positions: make(map[string]*types.OrderResult),
	}
}

func (p *PaperBroker) Name() string { return "paper" }

func (p *PaperBroker) LatestQuote(ctx context.Context, symbol string) (types.Quote, error) {
	return p.upstream.LatestQuote(ctx, symbol)
}

func (p *PaperBroker) HistoricalBar(ctx context.Context, symbol string, at time.Time, granularity Granularity) (types.Bar, error) {
	return p.upstream.HistoricalBar(ctx, symbol, at, granularity)
}

// PlaceMarketOrder fills at ask for buys and bid for sells
func (p *PaperBroker) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, volume decimal.Decimal) (*types.OrderResult, error) {
	q, err := p.upstream.LatestQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price := q.Ask
	if side == types.SideSell {
		price = q.Bid
	}

	id := uuid.New().String()
	res := &types.OrderResult{
		OrderID:  id,
		ClientID: id,
		Symbol:   symbol,
		Side:     side,
		Volume:   volume,
		Price:    price,
		Time:     time.Now().UTC(),
	}

	p.mu.Lock()
	p.positions[symbol] = res
	p.mu.Unlock()

	log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("volume", volume.String()).
		Str("price", price.String()).
		Msg("📝 [PAPER] Order filled")

	return res, nil
}

func (p *PaperBroker) ClosePosition(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.positions[symbol]; !ok {
		return ErrNoOpenPosition
	}
	delete(p.positions, symbol)
	log.Info().Str("symbol", symbol).Msg("📝 [PAPER] Position closed")
	return nil
}

// Open returns the simulated position for symbol, if any
func (p *PaperBroker) Open(symbol string) (*types.OrderResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	return pos, ok
}

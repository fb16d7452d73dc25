package exec

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER - Minimal trading surface the engine needs
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two implementations:
//   Client       - HTTP/WebSocket client for the MT5 sidecar bridge
//   PaperBroker  - real market data, simulated orders (DRY_RUN)
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrUnavailable    = errors.New("price unavailable")
	ErrNoData         = errors.New("no bar data")
	ErrNoOpenPosition = errors.New("no open position")
)

// Granularity of history bars
type Granularity string

const (
	M1 Granularity = "M1"
	M5 Granularity = "M5"
	H1 Granularity = "H1"
)

// Broker is the trading collaborator consumed by the engine
type Broker interface {
	Name() string
	LatestQuote(ctx context.Context, symbol string) (types.Quote, error)
	HistoricalBar(ctx context.Context, symbol string, at time.Time, granularity Granularity) (types.Bar, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, volume decimal.Decimal) (*types.OrderResult, error)
	ClosePosition(ctx context.Context, symbol string) error
}

package feeds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/pipbot/exec"
	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REFERENCE PRICE - Daily baseline ("start price") per instrument
// ═══════════════════════════════════════════════════════════════════════════════
//
// Weekend (and Monday, per policy): prior Friday's session close, price type "close"
// Otherwise:                        today's reference hour open, price type "open"
//
// History is searched backwards one minute at a time while bars are missing.
// Any other history error ends the search.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultMaxSteps = 120
	DefaultStep     = time.Minute

	PriceTypeOpen  = "open"
	PriceTypeClose = "close"

	dateLayout = "2006-01-02"
)

var ErrNoDataAvailable = errors.New("no history data available")

// MondayPolicy controls whether Monday uses the Friday close
type MondayPolicy string

const (
	MondayAllDay              MondayPolicy = "all_day"
	MondayBeforeReferenceHour MondayPolicy = "before_reference_hour"
)

// History is the bar source the resolver searches
type History interface {
	HistoricalBar(ctx context.Context, symbol string, at time.Time, granularity exec.Granularity) (types.Bar, error)
}

// ResolverConfig holds the day-boundary rules
type ResolverConfig struct {
	Location           *time.Location
	ReferenceHour      int
	FridayCloseHourUTC int
	Monday             MondayPolicy
	MaxSteps           int
	Step               time.Duration
}

// Target is where the resolver will look for a reference price
type Target struct {
	At        time.Time
	PriceType string
	Date      string
}

// Resolver finds the reference price for a trading day
type Resolver struct {
	history History
	cfg     ResolverConfig
}

// NewResolver creates a new resolver
func NewResolver(history History, cfg ResolverConfig) *Resolver {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Step <= 0 {
		cfg.Step = DefaultStep
	}
	if cfg.Monday == "" {
		cfg.Monday = MondayAllDay
	}
	return &Resolver{history: history, cfg: cfg}
}

// Location returns the reference timezone
func (r *Resolver) Location() *time.Location {
	return r.cfg.Location
}

// ReferenceHour returns the local hour the daily reference is taken at
func (r *Resolver) ReferenceHour() int {
	return r.cfg.ReferenceHour
}

// Target computes the target instant for now without touching history
func (r *Resolver) Target(now time.Time) Target {
	local := now.In(r.cfg.Location)

	var back int
	switch local.Weekday() {
	case time.Saturday:
		back = 1
	case time.Sunday:
		back = 2
	case time.Monday:
		if r.cfg.Monday == MondayAllDay || local.Hour() < r.cfg.ReferenceHour {
			back = 3
		}
	}

	if back > 0 {
		friday := local.AddDate(0, 0, -back)
		return Target{
			At:        time.Date(friday.Year(), friday.Month(), friday.Day(), r.cfg.FridayCloseHourUTC, 0, 0, 0, time.UTC),
			PriceType: PriceTypeClose,
			Date:      friday.Format(dateLayout),
		}
	}

	return Target{
		At:        time.Date(local.Year(), local.Month(), local.Day(), r.cfg.ReferenceHour, 0, 0, 0, r.cfg.Location),
		PriceType: PriceTypeOpen,
		Date:      local.Format(dateLayout),
	}
}

// Resolve returns the reference point for symbol on the trading day containing now
func (r *Resolver) Resolve(ctx context.Context, symbol string, now time.Time) (types.ReferencePoint, error) {
	target := r.Target(now)
	at := target.At

	for i := 0; i < r.cfg.MaxSteps; i++ {
		if err := ctx.Err(); err != nil {
			return types.ReferencePoint{}, err
		}

		bar, err := r.history.HistoricalBar(ctx, symbol, at, exec.M1)
		if err == nil {
			price := bar.Open
			if target.PriceType == PriceTypeClose {
				price = bar.Close
			}
			return types.ReferencePoint{
				Symbol:    symbol,
				Price:     price,
				Time:      bar.Time,
				Date:      target.Date,
				PriceType: target.PriceType,
			}, nil
		}

		if ctx.Err() != nil {
			return types.ReferencePoint{}, ctx.Err()
		}
		if !errors.Is(err, exec.ErrNoData) {
			log.Debug().Err(err).Str("symbol", symbol).Time("at", at).Msg("History query failed")
			return types.ReferencePoint{}, fmt.Errorf("history %s at %s: %w", symbol, at.Format(time.RFC3339), err)
		}
		at = at.Add(-r.cfg.Step)
	}

	return types.ReferencePoint{}, fmt.Errorf("%w: %s near %s after %d attempts",
		ErrNoDataAvailable, symbol, target.At.Format(time.RFC3339), r.cfg.MaxSteps)
}

// WithCallTimeout bounds every history query by d
func WithCallTimeout(h History, d time.Duration) History {
	if d <= 0 {
		return h
	}
	return timeoutHistory{history: h, timeout: d}
}

type timeoutHistory struct {
	history History
	timeout time.Duration
}

func (t timeoutHistory) HistoricalBar(ctx context.Context, symbol string, at time.Time, granularity exec.Granularity) (types.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.history.HistoricalBar(ctx, symbol, at, granularity)
}

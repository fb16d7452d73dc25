package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Direction is the side a price has moved relative to a reference
type Direction string

const (
	DirectionNone    Direction = ""
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// Opposite returns the reverse direction (none/neutral map to themselves)
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionUp:
		return DirectionDown
	case DirectionDown:
		return DirectionUp
	}
	return d
}

// Side is an order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideFor maps a movement direction to the order side that follows it
func SideFor(d Direction) Side {
	if d == DirectionDown {
		return SideSell
	}
	return SideBuy
}

// ReferencePoint is the day's baseline price for one instrument
type ReferencePoint struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Time      time.Time       `json:"time"`       // actual bar time
	Date      string          `json:"date"`       // trading date, 2006-01-02
	PriceType string          `json:"price_type"` // "open" or "close"
}

// EventKind labels why a threshold event was recorded
type EventKind string

const (
	EventOpen         EventKind = "open"
	EventContinuation EventKind = "continuation"
	EventReversal     EventKind = "reversal"
)

// ThresholdEvent records one threshold crossing
type ThresholdEvent struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Pips      decimal.Decimal `json:"pips"` // signed, from the previous reference
	Direction Direction       `json:"direction"`
	Kind      EventKind       `json:"kind"`
	Time      time.Time       `json:"time"`
}

// EffectKind is the side effect a tracker transition asks for
type EffectKind string

const (
	EffectOpenPosition  EffectKind = "open_position"
	EffectClosePosition EffectKind = "close_position"
)

// Effect is emitted by a tracker and executed by the engine
type Effect struct {
	Kind      EffectKind
	Symbol    string
	Date      string // trading date of the tracker that emitted it
	Direction Direction
	Side      Side
	Reason    EventKind // continuation or reversal on close
	Event     ThresholdEvent
}

// TrackerSnapshot is the persisted form of one instrument's tracker for one day
type TrackerSnapshot struct {
	Symbol             string
	Reference          ReferencePoint
	LastThresholdPrice decimal.NullDecimal
	Direction          Direction
	PositionOpen       bool
	Entries            int
	History            []ThresholdEvent
	UpdatedAt          time.Time
}

// Date returns the trading date the snapshot belongs to
func (s TrackerSnapshot) Date() string {
	return s.Reference.Date
}

// Quote is the latest bid/ask for an instrument
type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Time   time.Time
}

// Mid returns the midpoint of bid and ask
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Bar is a single OHLC history bar
type Bar struct {
	Symbol string
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Time   time.Time
}

// OrderResult is the broker's answer to a market order
type OrderResult struct {
	OrderID  string
	ClientID string
	Symbol   string
	Side     Side
	Volume   decimal.Decimal
	Price    decimal.Decimal
	Time     time.Time
}

// TradeRecord for display (Telegram bot)
type TradeRecord struct {
	ID        string
	Symbol    string
	Action    string
	Side      string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Status    string
	Error     string
	Timestamp time.Time
}

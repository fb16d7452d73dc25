package pips

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PIP MATH - Price delta → signed pip count
// ═══════════════════════════════════════════════════════════════════════════════
//
// Scale is resolved per symbol:
//   1. per-symbol override (instrument file "pip_size")
//   2. first matching class rule
//   3. default scale
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ScaleJPY     = decimal.NewFromFloat(0.01)
	ScaleMetal   = decimal.NewFromFloat(0.1)
	ScaleBitcoin = decimal.NewFromInt(1)
	ScaleDefault = decimal.NewFromFloat(0.0001)
)

// Rule maps an instrument class to its pip scale
type Rule struct {
	Name  string
	Match func(symbol string) bool
	Scale decimal.Decimal
}

// Table holds the scale rules used for every pip computation
type Table struct {
	Rules     []Rule
	Default   decimal.Decimal
	Overrides map[string]decimal.Decimal
}

// DefaultTable returns the standard scale table.
// metalScale is configurable because brokers disagree on gold/silver pip size.
func DefaultTable(metalScale decimal.Decimal) *Table {
	if !metalScale.IsPositive() {
		metalScale = ScaleMetal
	}
	return &Table{
		Rules: []Rule{
			{Name: "jpy", Match: func(s string) bool { return strings.Contains(s, "JPY") }, Scale: ScaleJPY},
			{Name: "metal", Match: oneOf("XAUUSD", "XAGUSD"), Scale: metalScale},
			{Name: "bitcoin", Match: oneOf("BTCUSD"), Scale: ScaleBitcoin},
		},
		Default:   ScaleDefault,
		Overrides: make(map[string]decimal.Decimal),
	}
}

// SetOverride pins a symbol to an explicit pip size
func (t *Table) SetOverride(symbol string, scale decimal.Decimal) {
	if t.Overrides == nil {
		t.Overrides = make(map[string]decimal.Decimal)
	}
	t.Overrides[normalize(symbol)] = scale
}

// Scale returns the pip size for a symbol
func (t *Table) Scale(symbol string) decimal.Decimal {
	s := normalize(symbol)
	if scale, ok := t.Overrides[s]; ok {
		return scale
	}
	for _, r := range t.Rules {
		if r.Match(s) {
			return r.Scale
		}
	}
	return t.Default
}

// Distance converts (a - b) into pips for symbol. Positive means a is above b.
func (t *Table) Distance(symbol string, a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Div(t.Scale(symbol))
}

// Classify labels a pip value by sign. Zero is neutral.
func Classify(pips decimal.Decimal) types.Direction {
	switch pips.Sign() {
	case 1:
		return types.DirectionUp
	case -1:
		return types.DirectionDown
	}
	return types.DirectionNeutral
}

func oneOf(symbols ...string) func(string) bool {
	return func(s string) bool {
		for _, sym := range symbols {
			if s == sym {
				return true
			}
		}
		return false
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

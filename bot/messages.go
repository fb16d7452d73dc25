package bot

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MESSAGES - Markdown notification bodies
// ═══════════════════════════════════════════════════════════════════════════════

// FormatStartup announces a successful terminal connection
func FormatStartup(mode, broker string, symbols []string) string {
	return fmt.Sprintf(`🚀 *PIPBOT STARTED*
━━━━━━━━━━━━━━━━━━━━

🔌 Broker: *%s*
📊 Mode: *%s*
📈 Symbols: *%s*

Use /help for commands`, broker, mode, strings.Join(symbols, ", "))
}

// FormatReferenceSummary lists the day's start prices
func FormatReferenceSummary(refs []types.ReferencePoint, failed []string) string {
	var sb strings.Builder
	sb.WriteString("📍 *START PRICES*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, r := range refs {
		fmt.Fprintf(&sb, "%s: *%s* (%s @ %s UTC)\n",
			r.Symbol, r.Price.String(), r.PriceType, r.Time.UTC().Format("Jan 2 15:04"))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, "\n⚠️ No data: %s", strings.Join(failed, ", "))
	}
	return sb.String()
}

// FormatOpen describes a position opened on the first threshold
func FormatOpen(e types.Effect, volume decimal.Decimal, fill decimal.Decimal) string {
	emoji := "🟢"
	if e.Direction == types.DirectionDown {
		emoji = "🔴"
	}
	return fmt.Sprintf(`%s *OPEN %s*

📊 %s — %s %s
💵 Price: *%s*
📏 Pips from start: *%s*`,
		emoji, e.Side,
		e.Symbol, strings.ToUpper(string(e.Direction)), volume.String(),
		fill.String(),
		e.Event.Pips.StringFixed(1),
	)
}

// FormatClose describes a threshold close
func FormatClose(e types.Effect) string {
	emoji := "📊"
	if e.Reason == types.EventReversal {
		emoji = "↩️"
	}
	return fmt.Sprintf(`%s *CLOSE* (%s)

📊 %s — was %s
💵 Price: *%s*
📏 Pips from last threshold: *%s*`,
		emoji, e.Reason,
		e.Symbol, strings.ToUpper(string(e.Direction)),
		e.Event.Price.String(),
		e.Event.Pips.StringFixed(1),
	)
}

// FormatOrderFailed reports an order that failed after all retries
func FormatOrderFailed(e types.Effect, err error) string {
	action := "OPEN"
	if e.Kind == types.EffectClosePosition {
		action = "CLOSE"
	}
	return fmt.Sprintf("⚠️ *ORDER FAILED*\n\n%s %s %s\n`%s`", action, e.Symbol, e.Side, err.Error())
}

// FormatStalePosition warns about a position whose trading day has ended
func FormatStalePosition(snap types.TrackerSnapshot) string {
	return fmt.Sprintf("⚠️ *STALE POSITION*\n\n%s %s from %s is still open at the broker",
		snap.Symbol, snap.Direction, snap.Date())
}

// FormatError is a generic error alert
func FormatError(context string, err error) string {
	return fmt.Sprintf("⚠️ *ERROR* — %s\n\n`%s`", context, err.Error())
}

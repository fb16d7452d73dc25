package bot

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Trade notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   📍 Daily start price summary
//   💰 Open/close notifications
//   🎛️ Bot control commands (/status, /positions, /trades, /pause, /resume)
//
// ═══════════════════════════════════════════════════════════════════════════════

// TelegramBot manages the Telegram interface
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	status StatusProvider

	// Control callbacks
	onPause  func()
	onResume func()
}

// StatusProvider exposes engine state to commands
type StatusProvider interface {
	Mode() string
	IsPaused() bool
	Snapshots() []types.TrackerSnapshot
	GetRecentTrades(limit int) ([]types.TradeRecord, error)
}

// NewTelegramBot creates a new Telegram bot
func NewTelegramBot(token string, chatID int64) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:    api,
		chatID: chatID,
		stopCh: make(chan struct{}),
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")

	return bot, nil
}

// SetStatusProvider wires the engine in for commands
func (b *TelegramBot) SetStatusProvider(p StatusProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = p
}

// SetControlCallbacks sets pause/resume handlers
func (b *TelegramBot) SetControlCallbacks(onPause, onResume func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPause = onPause
	b.onResume = onResume
}

// Start begins listening for commands
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	b.api.StopReceivingUpdates()
	log.Info().Msg("Telegram bot stopped")
}

// Send implements Notifier
func (b *TelegramBot) Send(text string) {
	b.sendMarkdown(text)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	cmd := strings.ToLower(msg.Command())

	switch cmd {
	case "start", "help":
		b.sendMarkdown(helpText)
	case "status":
		b.sendMarkdown(b.statusText())
	case "positions":
		b.sendMarkdown(b.positionsText())
	case "trades":
		b.sendMarkdown(b.tradesText())
	case "pause":
		b.cmdPause()
	case "resume":
		b.cmdResume()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

const helpText = `🤖 *PIPBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Start prices and tracker state
💼 /positions — Open positions
📜 /trades — Last 10 order attempts
⏸️ /pause — Pause new entries
▶️ /resume — Resume new entries
🏓 /ping — Test connection`

func (b *TelegramBot) provider() StatusProvider {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *TelegramBot) statusText() string {
	p := b.provider()
	if p == nil {
		return "❌ Status not available"
	}
	return renderStatus(p.Mode(), p.IsPaused(), p.Snapshots())
}

func (b *TelegramBot) positionsText() string {
	p := b.provider()
	if p == nil {
		return "❌ Positions not available"
	}
	return renderPositions(p.Snapshots())
}

func (b *TelegramBot) tradesText() string {
	p := b.provider()
	if p == nil {
		return "❌ Trades not available"
	}
	trades, err := p.GetRecentTrades(10)
	if err != nil {
		return "❌ Failed to fetch trades"
	}
	return renderTrades(trades)
}

func renderStatus(mode string, paused bool, snaps []types.TrackerSnapshot) string {
	status := "🟢 RUNNING"
	if paused {
		status = "⏸️ PAUSED (closes still active)"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *BOT STATUS*\n━━━━━━━━━━━━━━━━━━━━\n\n%s\n📊 Mode: *%s*\n\n", status, mode)
	if len(snaps) == 0 {
		sb.WriteString("📭 No trackers for today")
		return sb.String()
	}
	for _, s := range snaps {
		state := "idle"
		if s.PositionOpen {
			state = "tracking " + string(s.Direction)
		}
		fmt.Fprintf(&sb, "%s: start *%s* (%s) — %s, entries %d\n",
			s.Symbol, s.Reference.Price.String(), s.Date(), state, s.Entries)
	}
	return sb.String()
}

func renderPositions(snaps []types.TrackerSnapshot) string {
	var sb strings.Builder
	for _, s := range snaps {
		if !s.PositionOpen {
			continue
		}
		sideEmoji := "🟢"
		if s.Direction == types.DirectionDown {
			sideEmoji = "🔴"
		}
		fmt.Fprintf(&sb, "%s *%s* — %s\n💵 Last threshold: %s\n\n",
			sideEmoji, s.Symbol, strings.ToUpper(string(s.Direction)), s.LastThresholdPrice.Decimal.String())
	}
	if sb.Len() == 0 {
		return "📭 No open positions"
	}
	return "💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n" + sb.String()
}

func renderTrades(trades []types.TradeRecord) string {
	if len(trades) == 0 {
		return "📭 No trade history yet"
	}

	var sb strings.Builder
	sb.WriteString("📜 *LAST TRADES*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, t := range trades {
		actionEmoji := "📌"
		switch t.Action {
		case "OPEN":
			actionEmoji = "✅"
		case "CLOSE":
			actionEmoji = "📊"
		}
		if t.Status == "failed" {
			actionEmoji = "❌"
		}
		fmt.Fprintf(&sb, "%s %s %s %s @ %s\n   _%s_\n\n",
			actionEmoji, t.Action, t.Symbol, t.Side, t.Price.String(),
			t.Timestamp.Format("Jan 2 15:04"))
	}
	return sb.String()
}

func (b *TelegramBot) cmdPause() {
	b.mu.RLock()
	cb := b.onPause
	b.mu.RUnlock()

	if cb != nil {
		cb()
	}

	b.send("⏸️ New entries paused")
	log.Info().Msg("Trading paused via Telegram")
}

func (b *TelegramBot) cmdResume() {
	b.mu.RLock()
	cb := b.onResume
	b.mu.RUnlock()

	if cb != nil {
		cb()
	}

	b.send("▶️ Trading resumed")
	log.Info().Msg("Trading resumed via Telegram")
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

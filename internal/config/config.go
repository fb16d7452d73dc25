package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the bot
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// MT5 bridge
	BridgeURL       string
	BridgeToken     string
	BridgeTimeout   time.Duration
	BridgeRateLimit float64 // requests per second, 0 = unlimited
	BridgeRateBurst int
	Deviation       int
	UseTickStream   bool
	StreamMaxAge    time.Duration

	// Daily reference
	Timezone           string
	Location           *time.Location
	ReferenceHour      int
	FridayCloseHourUTC int
	MondayPolicy       string // all_day | before_reference_hour

	// Polling loop
	PollInterval time.Duration
	CallTimeout  time.Duration
	PriceSide    string // ask | bid | mid

	// Orders
	OrderMaxRetries     int
	OrderRetryDelay     time.Duration
	MaxEntriesPerDay    int
	MetalPipSize        decimal.Decimal
	BreakerMaxFailures  int
	BreakerCooldown     time.Duration
	CloseStalePositions bool

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Discord
	DiscordWebhookURL string
	NotifyQueueSize   int

	// Database
	DatabasePath string

	// Metrics
	MetricsAddr string

	// Instruments
	InstrumentsFile string
	Instruments     []Instrument
}

// Instrument is one tradable symbol and its thresholds, in pips
type Instrument struct {
	Symbol             string
	FirstThresholdPips decimal.Decimal
	CloseTradePips     decimal.Decimal
	OppositeClosePips  decimal.Decimal // zero = reversal closes disabled
	Volume             decimal.Decimal
	PipSize            decimal.Decimal // zero = use class rules
}

var (
	defaultVolume    = decimal.NewFromFloat(0.01)
	defaultBTCVolume = decimal.NewFromFloat(0.001)
)

// Load reads env and the instrument file, then validates
func Load() (*Config, error) {
	chatID, _ := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)

	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		BridgeURL:       getEnv("MT5_BRIDGE_URL", "http://127.0.0.1:8787"),
		BridgeToken:     getEnv("MT5_BRIDGE_TOKEN", ""),
		BridgeTimeout:   getEnvDuration("MT5_BRIDGE_TIMEOUT", 15*time.Second),
		BridgeRateLimit: getEnvFloat("MT5_BRIDGE_RATE_LIMIT", 20),
		BridgeRateBurst: getEnvInt("MT5_BRIDGE_RATE_BURST", 5),
		Deviation:       getEnvInt("ORDER_DEVIATION", 20),
		UseTickStream:   getEnvBool("MT5_TICK_STREAM", false),
		StreamMaxAge:    getEnvDuration("MT5_TICK_MAX_AGE", 10*time.Second),

		Timezone:           getEnv("TIMEZONE", ""),
		ReferenceHour:      getEnvInt("REFERENCE_HOUR", 1),
		FridayCloseHourUTC: getEnvInt("FRIDAY_CLOSE_HOUR_UTC", 21),
		MondayPolicy:       getEnv("MONDAY_USES_FRIDAY_CLOSE", "all_day"),

		PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),
		CallTimeout:  getEnvDuration("CALL_TIMEOUT", 10*time.Second),
		PriceSide:    strings.ToLower(getEnv("PRICE_SIDE", "ask")),

		OrderMaxRetries:     getEnvInt("ORDER_MAX_RETRIES", 3),
		OrderRetryDelay:     getEnvDuration("ORDER_RETRY_DELAY", time.Second),
		MaxEntriesPerDay:    getEnvInt("MAX_ENTRIES_PER_DAY", 0),
		MetalPipSize:        getEnvDecimal("METAL_PIP_SIZE", decimal.NewFromFloat(0.1)),
		BreakerMaxFailures:  getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerCooldown:     getEnvDuration("BREAKER_COOLDOWN", 30*time.Minute),
		CloseStalePositions: getEnvBool("CLOSE_STALE_POSITIONS", false),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: chatID,

		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		NotifyQueueSize:   getEnvInt("NOTIFY_QUEUE_SIZE", 100),

		DatabasePath: getEnv("DATABASE_URL", "data/pipbot.db"),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		InstrumentsFile: getEnv("INSTRUMENTS_FILE", "details.json"),
	}

	file, err := LoadInstruments(cfg.InstrumentsFile)
	if err != nil {
		return nil, err
	}
	cfg.Instruments = file.Instruments

	if cfg.Timezone == "" {
		cfg.Timezone = file.Timezone
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Kolkata"
	}
	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns the first configuration problem found
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("no instruments configured in %s", c.InstrumentsFile)
	}

	seen := make(map[string]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if in.Symbol == "" {
			return fmt.Errorf("instrument with empty symbol")
		}
		if seen[in.Symbol] {
			return fmt.Errorf("%s: duplicate symbol", in.Symbol)
		}
		seen[in.Symbol] = true

		if !in.FirstThresholdPips.IsPositive() {
			return fmt.Errorf("%s: pip_difference must be > 0", in.Symbol)
		}
		if !in.CloseTradePips.IsPositive() {
			return fmt.Errorf("%s: close_trade_at must be > 0", in.Symbol)
		}
		if in.OppositeClosePips.IsNegative() {
			return fmt.Errorf("%s: close_trade_at_opposite_direction must be >= 0", in.Symbol)
		}
		if !in.Volume.IsPositive() {
			return fmt.Errorf("%s: volume must be > 0", in.Symbol)
		}
		if in.PipSize.IsNegative() {
			return fmt.Errorf("%s: pip_size must be >= 0", in.Symbol)
		}
	}

	if c.PollInterval < time.Second || c.PollInterval > time.Minute {
		return fmt.Errorf("POLL_INTERVAL must be between 1s and 60s, got %s", c.PollInterval)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("CALL_TIMEOUT must be > 0")
	}
	if c.ReferenceHour < 0 || c.ReferenceHour > 23 {
		return fmt.Errorf("REFERENCE_HOUR must be 0-23, got %d", c.ReferenceHour)
	}
	if c.FridayCloseHourUTC < 0 || c.FridayCloseHourUTC > 23 {
		return fmt.Errorf("FRIDAY_CLOSE_HOUR_UTC must be 0-23, got %d", c.FridayCloseHourUTC)
	}
	switch c.MondayPolicy {
	case "all_day", "before_reference_hour":
	default:
		return fmt.Errorf("MONDAY_USES_FRIDAY_CLOSE must be all_day or before_reference_hour, got %q", c.MondayPolicy)
	}
	switch c.PriceSide {
	case "ask", "bid", "mid":
	default:
		return fmt.Errorf("PRICE_SIDE must be ask, bid or mid, got %q", c.PriceSide)
	}
	if !c.MetalPipSize.IsPositive() {
		return fmt.Errorf("METAL_PIP_SIZE must be > 0")
	}
	if c.OrderMaxRetries < 0 {
		return fmt.Errorf("ORDER_MAX_RETRIES must be >= 0")
	}
	if c.MaxEntriesPerDay < 0 {
		return fmt.Errorf("MAX_ENTRIES_PER_DAY must be >= 0")
	}
	return nil
}

// Symbols returns the configured symbols in file order
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, in := range c.Instruments {
		out = append(out, in.Symbol)
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════
// INSTRUMENT FILE
// ═══════════════════════════════════════════════════════════════════════════════
//
// {
//   "symbols": [
//     {"symbol": "EURUSD", "pip_difference": 15, "close_trade_at": 5,
//      "close_trade_at_opposite_direction": 10, "volume": 0.01}
//   ],
//   "timezone": "Asia/Kolkata"
// }
//
// ═══════════════════════════════════════════════════════════════════════════════

// InstrumentFile is the parsed instrument file
type InstrumentFile struct {
	Instruments []Instrument
	Timezone    string
}

type rawInstrument struct {
	Symbol   string `mapstructure:"symbol"`
	First    string `mapstructure:"pip_difference"`
	Close    string `mapstructure:"close_trade_at"`
	Opposite string `mapstructure:"close_trade_at_opposite_direction"`
	Volume   string `mapstructure:"volume"`
	PipSize  string `mapstructure:"pip_size"`
}

type rawFile struct {
	Symbols  []rawInstrument `mapstructure:"symbols"`
	Timezone string          `mapstructure:"timezone"`
}

// LoadInstruments reads the JSON instrument file at path
func LoadInstruments(path string) (*InstrumentFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read instrument file %s: %w", path, err)
	}

	var raw rawFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("parse instrument file %s: %w", path, err)
	}

	out := &InstrumentFile{Timezone: strings.TrimSpace(raw.Timezone)}
	for i, r := range raw.Symbols {
		in, err := r.instrument()
		if err != nil {
			return nil, fmt.Errorf("%s: symbols[%d]: %w", path, i, err)
		}
		out.Instruments = append(out.Instruments, in)
	}
	return out, nil
}

func (r rawInstrument) instrument() (Instrument, error) {
	in := Instrument{Symbol: strings.ToUpper(strings.TrimSpace(r.Symbol))}

	var err error
	if in.FirstThresholdPips, err = parseDecimal("pip_difference", r.First, decimal.Zero); err != nil {
		return in, err
	}
	if in.CloseTradePips, err = parseDecimal("close_trade_at", r.Close, decimal.Zero); err != nil {
		return in, err
	}
	if in.OppositeClosePips, err = parseDecimal("close_trade_at_opposite_direction", r.Opposite, decimal.Zero); err != nil {
		return in, err
	}

	vol := defaultVolume
	if in.Symbol == "BTCUSD" {
		vol = defaultBTCVolume
	}
	if in.Volume, err = parseDecimal("volume", r.Volume, vol); err != nil {
		return in, err
	}
	if in.PipSize, err = parseDecimal("pip_size", r.PipSize, decimal.Zero); err != nil {
		return in, err
	}
	return in, nil
}

func parseDecimal(field, value string, def decimal.Decimal) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENV HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

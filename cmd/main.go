package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/pipbot/bot"
	"github.com/web3guy0/pipbot/core"
	"github.com/web3guy0/pipbot/exec"
	"github.com/web3guy0/pipbot/execution"
	"github.com/web3guy0/pipbot/feeds"
	"github.com/web3guy0/pipbot/internal/config"
	"github.com/web3guy0/pipbot/metrics"
	"github.com/web3guy0/pipbot/pips"
	"github.com/web3guy0/pipbot/risk"
	"github.com/web3guy0/pipbot/storage"
	"github.com/web3guy0/pipbot/strategy"
)

const version = "1.0.0"

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := "LIVE TRADING"
	if cfg.DryRun {
		mode = "PAPER TRADING"
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msgf("              PIPBOT v%s - DAILY PIP THRESHOLDS", version)
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().
		Str("mode", mode).
		Strs("symbols", cfg.Symbols()).
		Str("timezone", cfg.Timezone).
		Int("reference_hour", cfg.ReferenceHour).
		Dur("poll", cfg.PollInterval).
		Msg("⚙️ Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Storage (tracker snapshots + trade log)
	var (
		store     core.Store
		snapStore execution.SnapshotStore
		tradeLog  execution.TradeLogger
		tradeRead core.TradeReader
	)
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Database connection failed, continuing without persistence")
		db = nil
	} else {
		store, snapStore, tradeLog, tradeRead = db, db, db, db
		log.Info().Msg("✅ Storage layer initialized")
	}

	// 2. Notifications (Telegram + Discord → async queue)
	var sinks bot.Multi
	var telegram *bot.TelegramBot
	if cfg.TelegramToken != "" {
		telegram, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram disabled")
			telegram = nil
		} else {
			sinks = append(sinks, telegram)
		}
	}
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, bot.NewDiscordWebhook(cfg.DiscordWebhookURL))
	}
	notifier := bot.NewAsync(sinks, cfg.NotifyQueueSize)
	notifier.Start()

	// 3. Broker (MT5 bridge, optional tick stream, paper wrapper)
	client := exec.NewClient(exec.ClientConfig{
		BaseURL:   cfg.BridgeURL,
		Token:     cfg.BridgeToken,
		Timeout:   cfg.BridgeTimeout,
		RateLimit: cfg.BridgeRateLimit,
		RateBurst: cfg.BridgeRateBurst,
		Deviation: cfg.Deviation,
	})
	var stream *exec.TickStream
	if cfg.UseTickStream {
		stream = exec.NewTickStream(cfg.BridgeURL, cfg.BridgeToken, cfg.Symbols(), cfg.StreamMaxAge)
		client.AttachStream(stream)
		stream.Start()
	}

	var broker exec.Broker = client
	if cfg.DryRun {
		broker = exec.NewPaperBroker(client)
		log.Info().Msg("📝 Paper trading - orders are simulated")
	}
	log.Info().Str("broker", broker.Name()).Msg("✅ Execution layer initialized")

	// 4. Risk + execution
	breaker := risk.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerCooldown)
	executor := execution.NewExecutor(broker, execution.ExecutorConfig{
		MaxRetries:  cfg.OrderMaxRetries,
		RetryDelay:  cfg.OrderRetryDelay,
		CallTimeout: cfg.CallTimeout,
		PaperMode:   cfg.DryRun,
	}, tradeLog, breaker, notifier)

	// 5. Pip math + reference resolver
	table := pips.DefaultTable(cfg.MetalPipSize)
	instruments := make([]core.Instrument, 0, len(cfg.Instruments))
	volumes := make(map[string]decimal.Decimal, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		if in.PipSize.IsPositive() {
			table.SetOverride(in.Symbol, in.PipSize)
		}
		instruments = append(instruments, core.Instrument{
			Symbol: in.Symbol,
			Thresholds: strategy.Thresholds{
				First:      in.FirstThresholdPips,
				Close:      in.CloseTradePips,
				Opposite:   in.OppositeClosePips,
				MaxEntries: cfg.MaxEntriesPerDay,
			},
			Volume: in.Volume,
		})
		volumes[in.Symbol] = in.Volume
	}

	resolver := feeds.NewResolver(feeds.WithCallTimeout(broker, cfg.CallTimeout), feeds.ResolverConfig{
		Location:           cfg.Location,
		ReferenceHour:      cfg.ReferenceHour,
		FridayCloseHourUTC: cfg.FridayCloseHourUTC,
		Monday:             feeds.MondayPolicy(cfg.MondayPolicy),
	})

	// 6. Core engine
	registry := core.NewRegistry(instruments, table, resolver, store, notifier, cfg.CallTimeout)
	router := core.NewRouter(executor, registry, notifier)
	engine := core.NewEngine(core.EngineConfig{
		PollInterval: cfg.PollInterval,
		CallTimeout:  cfg.CallTimeout,
		PriceSide:    cfg.PriceSide,
		PaperMode:    cfg.DryRun,
	}, broker, registry, router, breaker, tradeRead)
	log.Info().Msg("✅ Core engine initialized")

	if telegram != nil {
		telegram.SetStatusProvider(engine)
		telegram.SetControlCallbacks(engine.Pause, engine.Resume)
		telegram.Start()
	}

	// 7. Metrics
	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr)
		metricsSrv.Start()
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	checkCtx, checkCancel := context.WithTimeout(ctx, cfg.CallTimeout)
	if _, err := broker.LatestQuote(checkCtx, cfg.Instruments[0].Symbol); err != nil {
		log.Warn().Err(err).Msg("⚠️ Terminal not answering yet, will keep polling")
		notifier.Send(bot.FormatError("terminal check", err))
	} else {
		log.Info().Msg("🔌 Terminal connected")
	}
	checkCancel()
	notifier.Send(bot.FormatStartup(mode, broker.Name(), cfg.Symbols()))

	today := resolver.Target(time.Now()).Date
	reconciler := execution.NewReconciler(executor, snapStore, notifier, cfg.CloseStalePositions)
	registry.SetStaleHandler(reconciler)
	if _, err := reconciler.Reconcile(ctx, today, func(symbol string) decimal.Decimal { return volumes[symbol] }); err != nil {
		log.Warn().Err(err).Msg("Position recovery skipped")
	}

	engine.Bootstrap(ctx)
	engine.Start(ctx)

	log.Info().Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	cancel()
	engine.Stop()

	if telegram != nil {
		telegram.Stop()
	}
	if stream != nil {
		stream.Stop()
	}
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown")
		}
		shutdownCancel()
	}

	notifier.Stop()
	if dropped := notifier.Dropped(); dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("Notifications dropped while the queue was full")
	}

	if db != nil {
		db.Close()
	}

	log.Info().Msg("👋 Goodbye!")
}

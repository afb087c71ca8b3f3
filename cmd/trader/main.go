package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fx_trader/internal/alert"
	"fx_trader/internal/bot"
	"fx_trader/internal/config"
	"fx_trader/internal/core"
	"fx_trader/internal/execution"
	"fx_trader/internal/fix"
	"fx_trader/internal/indicators"
	"fx_trader/internal/infrastructure/metrics"
	"fx_trader/internal/marketdata"
	"fx_trader/internal/risk"
	"fx_trader/internal/store"
	"fx_trader/internal/strategy"
	"fx_trader/pkg/logging"
	"fx_trader/pkg/retry"
	"fx_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

var (
	configFile  = flag.String("config", "configs/trader.yaml", "Path to configuration file")
	dryRunFlag  = flag.Bool("dry-run", false, "Force dry-run mode regardless of configuration")
	confirmFlag = flag.Bool("confirm", false, "Pre-confirm live trading (skips the first-order hold)")
)

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	// Telemetry first so the zap OTel bridge has a provider to attach to.
	tel, err := telemetry.Setup("fx_trader")
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dryRunFlag {
		cfg.App.DryRun = true
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting fx_trader",
		"symbols", cfg.App.Symbols,
		"timeframe", cfg.App.Timeframe,
		"dry_run", cfg.App.DryRun)

	// A symbol without an instrument mapping is a configuration error.
	if err := execution.ValidateSymbols(cfg.App.Symbols); err != nil {
		logger.Fatal("Symbol validation failed", "error", err)
	}

	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logger.Fatal("Failed to open store", "error", err)
	}
	defer db.Close()

	account := risk.NewAccountState(decimal.NewFromFloat(cfg.Risk.AccountBalance), time.Now())

	notifier := alert.NewNotifier(logger)
	if cfg.Telegram.Enabled {
		notifier.AddChannel(alert.NewTelegramChannel(string(cfg.Telegram.BotToken), cfg.Telegram.ChatID))
	}

	executor, err := buildExecutor(cfg, account, logger)
	if err != nil {
		logger.Fatal("Failed to build executor", "error", err)
	}
	defer executor.Close()

	candles := marketdata.NewClient(marketdata.ClientConfig{
		BaseURL:           cfg.MarketData.BaseURL,
		APIKey:            string(cfg.MarketData.APIKey),
		Timeout:           time.Duration(cfg.MarketData.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.MarketData.RequestsPerSecond,
		MaxRetries:        cfg.MarketData.MaxRetries,
	}, logger)

	trader := bot.New(bot.Config{
		Symbols:         cfg.App.Symbols,
		Timeframe:       cfg.App.Timeframe,
		ScanInterval:    time.Duration(cfg.App.ScanIntervalSeconds) * time.Second,
		HistoryBars:     cfg.Strategy.HistoryBars,
		AnalysisWorkers: cfg.App.AnalysisWorkers,
		IntentBuffer:    cfg.App.AnalysisBuffer,
	}, bot.Deps{
		Candles: candles,
		Calc: indicators.NewCalculator(indicators.Params{
			ShortMAPeriod:  cfg.Strategy.ShortMAPeriod,
			LongMAPeriod:   cfg.Strategy.LongMAPeriod,
			RSIPeriod:      cfg.Strategy.RSIPeriod,
			MACDFastPeriod: cfg.Strategy.MACDFastPeriod,
			MACDSlowPeriod: cfg.Strategy.MACDSlowPeriod,
			MACDSignal:     cfg.Strategy.MACDSignal,
			ATRPeriod:      cfg.Strategy.ATRPeriod,
			SwingLookback:  cfg.Strategy.SwingLookback,
		}),
		Engine: strategy.NewEngine(strategy.Config{
			MinConfluence: cfg.Strategy.MinConfluence,
			ProximityPct:  decimal.NewFromFloat(cfg.Strategy.ProximityPct),
			MinATRPercent: decimal.NewFromFloat(cfg.Strategy.MinATRPercent),
			MaxATRPercent: decimal.NewFromFloat(cfg.Strategy.MaxATRPercent),
			ShortMAPeriod: cfg.Strategy.ShortMAPeriod,
			LongMAPeriod:  cfg.Strategy.LongMAPeriod,
		}, logger),
		Sizer: risk.NewSizer(risk.SizerConfig{
			Policy:            cfg.Risk.SizingPolicy,
			RiskPercent:       decimal.NewFromFloat(cfg.Risk.RiskPercent),
			FixedLots:         decimal.NewFromFloat(cfg.Risk.FixedLots),
			SymbolLots:        risk.SymbolLotSizes(),
			MinLots:           decimal.NewFromFloat(cfg.Risk.MinLots),
			MaxLots:           decimal.NewFromFloat(cfg.Risk.MaxLots),
			LotStep:           decimal.NewFromFloat(cfg.Risk.LotStep),
			StopATRMultiple:   decimal.NewFromFloat(cfg.Risk.StopATRMultiple),
			TargetATRMultiple: decimal.NewFromFloat(cfg.Risk.TargetATRMultiple),
			MinRiskReward:     decimal.NewFromFloat(cfg.Risk.MinRiskReward),
			DailyLossLimit:    decimal.NewFromFloat(cfg.Risk.DailyLossLimit),
			WeeklyLossLimit:   decimal.NewFromFloat(cfg.Risk.WeeklyLossLimit),
			MaxOpenPositions:  cfg.Risk.MaxOpenPositions,
		}, logger),
		Account:  account,
		Executor: executor,
		Notifier: notifier,
		Persist:  db,
	}, logger)

	if err := trader.RestoreState(context.Background()); err != nil {
		logger.Warn("Could not restore persisted state, starting fresh", "error", err)
	}

	var metricsSrv *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, trader.Healthy, logger)
		metricsSrv.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier.Event(ctx, "Trader started", fmt.Sprintf("Scanning %d symbols every %ds", len(cfg.App.Symbols), cfg.App.ScanIntervalSeconds))

	if err := trader.Run(ctx); err != nil {
		logger.Error("Trading loop exited with error", "error", err)
	}

	logger.Info("Shutting down")
	notifier.Event(context.Background(), "Trader stopped", "Shutting down cleanly")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Stop(shutdownCtx)
	}
}

// buildExecutor picks the submitter for the configured mode. Dry-run never
// touches the network.
func buildExecutor(cfg *config.Config, account *risk.AccountState, logger core.ILogger) (core.OrderSubmitter, error) {
	if cfg.App.DryRun {
		return execution.NewSimulatedExecutor(logger), nil
	}

	wireLog, err := fix.NewWireLog(cfg.Session.WireLogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open wire log: %w", err)
	}

	session := fix.NewSession(fix.SessionConfig{
		Address:           fmt.Sprintf("%s:%d", cfg.Session.Host, cfg.Session.Port),
		SenderCompID:      cfg.Session.SenderCompID,
		TargetCompID:      cfg.Session.TargetCompID,
		SenderSubID:       cfg.Session.SenderSubID,
		Account:           cfg.Session.Account,
		Username:          cfg.Session.Username,
		Password:          string(cfg.Session.Password),
		HeartbeatInterval: time.Duration(cfg.Session.HeartbeatSeconds) * time.Second,
	}, logger, wireLog)

	executor := execution.NewLiveExecutor(execution.LiveConfig{
		FillTimeout:          time.Duration(cfg.Session.FillTimeoutSeconds) * time.Second,
		SlippageTolerancePct: decimal.NewFromFloat(cfg.Session.SlippageTolerancePct),
		MaxDailyOrders:       cfg.Risk.MaxDailyOrders,
		MaxOpenPositions:     cfg.Risk.MaxOpenPositions,
		RequireConfirmation:  cfg.App.RequireConfirmation,
		ReconnectPolicy:      retry.SessionPolicy,
	}, session, account, logger)

	if *confirmFlag {
		executor.Confirm()
	}
	return executor, nil
}

// Package bot runs the scan-analyze-execute pipeline on a fixed interval.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fx_trader/internal/core"
	"fx_trader/internal/indicators"
	"fx_trader/internal/risk"
	"fx_trader/internal/store"
	"fx_trader/pkg/concurrency"
	"fx_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Persister saves risk state and execution history. A nil Persister
// disables persistence.
type Persister interface {
	SaveAccountState(ctx context.Context, record store.AccountRecord) error
	RecordExecution(ctx context.Context, intent core.OrderIntent, outcome core.ExecutionOutcome) error
}

// Config holds scan-loop settings.
type Config struct {
	Symbols         []string
	Timeframe       string
	ScanInterval    time.Duration
	HistoryBars     int
	AnalysisWorkers int
	IntentBuffer    int
}

// Bot owns the trading loop. Analysis fans out across a worker pool, one
// task per symbol; execution stays on a single worker so orders reach the
// broker one at a time, in configured symbol order. Account state is
// mutated only on the execution side.
type Bot struct {
	cfg      Config
	candles  core.CandleSource
	calc     *indicators.Calculator
	engine   core.SignalEngine
	sizer    *risk.Sizer
	account  *risk.AccountState
	executor core.OrderSubmitter
	notifier core.Notifier
	persist  Persister
	pool     *concurrency.WorkerPool
	logger   core.ILogger

	running atomic.Bool

	mu         sync.Mutex
	lastSignal map[string]core.Direction
	summary    daySummary
}

// daySummary accumulates per-day execution counts for the midnight report.
type daySummary struct {
	day      string
	orders   int
	filled   int
	rejected int
	timedOut int
}

// Deps carries the pipeline stages the bot orchestrates.
type Deps struct {
	Candles  core.CandleSource
	Calc     *indicators.Calculator
	Engine   core.SignalEngine
	Sizer    *risk.Sizer
	Account  *risk.AccountState
	Executor core.OrderSubmitter
	Notifier core.Notifier
	Persist  Persister
}

// New creates the bot and its analysis pool.
func New(cfg Config, deps Deps, logger core.ILogger) *Bot {
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 60 * time.Second
	}
	if cfg.IntentBuffer == 0 {
		cfg.IntentBuffer = len(cfg.Symbols)
	}
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "analysis",
		MaxWorkers: cfg.AnalysisWorkers,
	}, logger)
	return &Bot{
		cfg:        cfg,
		candles:    deps.Candles,
		calc:       deps.Calc,
		engine:     deps.Engine,
		sizer:      deps.Sizer,
		account:    deps.Account,
		executor:   deps.Executor,
		notifier:   deps.Notifier,
		persist:    deps.Persist,
		pool:       pool,
		logger:     logger.WithField("component", "bot"),
		lastSignal: make(map[string]core.Direction),
	}
}

// Healthy reports whether the loop is running. Wired to the health probe.
func (b *Bot) Healthy() bool { return b.running.Load() }

// submission pairs a sized intent with the decision that produced it.
type submission struct {
	decision core.ConfluenceDecision
	intent   core.OrderIntent
}

// Run blocks until the context is canceled, then drains in-flight work.
func (b *Bot) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)

	intents := make(chan submission, b.cfg.IntentBuffer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(intents)
		return b.scanLoop(ctx, intents)
	})
	g.Go(func() error {
		b.executionLoop(ctx, intents)
		return nil
	})

	err := g.Wait()
	b.pool.StopAndWait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// scanLoop runs one cycle immediately, then on every tick.
func (b *Bot) scanLoop(ctx context.Context, intents chan<- submission) error {
	ticker := time.NewTicker(b.cfg.ScanInterval)
	defer ticker.Stop()

	b.runCycle(ctx, intents)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.runCycle(ctx, intents)
		}
	}
}

// analysisResult is the outcome of one symbol's analysis.
type analysisResult struct {
	snap     core.IndicatorSnapshot
	decision core.ConfluenceDecision
	err      error
}

// runCycle analyzes every symbol in parallel, then sizes and enqueues
// intents in configured symbol order so execution stays deterministic.
func (b *Bot) runCycle(ctx context.Context, intents chan<- submission) {
	start := time.Now()
	b.emitDailySummary(ctx, start)
	results := make([]analysisResult, len(b.cfg.Symbols))

	var wg sync.WaitGroup
	for i, symbol := range b.cfg.Symbols {
		wg.Add(1)
		if err := b.pool.Submit(func() {
			defer wg.Done()
			results[i] = b.analyze(ctx, symbol)
		}); err != nil {
			wg.Done()
			results[i] = analysisResult{err: err}
		}
	}
	wg.Wait()

	for i, symbol := range b.cfg.Symbols {
		res := results[i]
		if res.err != nil {
			// Data problems skip the symbol for this cycle only.
			b.logger.Warn("Skipping symbol", "symbol", symbol, "error", res.err)
			continue
		}
		if res.decision.Direction == core.Hold {
			b.logger.Debug("No signal",
				"symbol", symbol,
				"votes", res.decision.Votes,
				"volatility", res.decision.Volatility.String())
			b.clearLastSignal(symbol)
			continue
		}
		if b.duplicateSignal(symbol, res.decision.Direction) {
			// The same direction repeating every cycle is one trade idea,
			// not many. Only a HOLD in between re-arms the symbol.
			b.logger.Debug("Duplicate signal suppressed", "symbol", symbol, "direction", string(res.decision.Direction))
			continue
		}
		telemetry.GetGlobalMetrics().RecordSignal(ctx, symbol, string(res.decision.Direction))

		intent, err := b.sizer.Size(res.decision, res.snap, b.account.Snapshot(time.Now()))
		if err != nil {
			if core.IsSizingRejection(err) {
				b.logger.Info("Signal rejected by risk engine", "symbol", symbol, "reason", err.Error())
				telemetry.GetGlobalMetrics().RecordSizingRejection(ctx, symbol, err.Error())
				b.notifier.NoTrade(ctx, symbol, err.Error())
				continue
			}
			b.logger.Error("Sizing failed", "symbol", symbol, "error", err)
			continue
		}

		b.notifier.TradeSignal(ctx, res.decision, intent)
		select {
		case intents <- submission{decision: res.decision, intent: intent}:
		case <-ctx.Done():
			return
		}
	}

	telemetry.GetGlobalMetrics().RecordCycleDuration(ctx, float64(time.Since(start).Milliseconds()))
}

// analyze fetches history and evaluates the signal engine for one symbol.
func (b *Bot) analyze(ctx context.Context, symbol string) analysisResult {
	candles, err := b.candles.GetCandles(ctx, symbol, b.cfg.Timeframe, b.cfg.HistoryBars)
	if err != nil {
		return analysisResult{err: err}
	}
	snap, err := b.calc.Snapshot(symbol, candles)
	if err != nil {
		return analysisResult{err: err}
	}
	return analysisResult{snap: snap, decision: b.engine.Evaluate(snap)}
}

// executionLoop is the single worker that talks to the broker. It drains
// the queue even after cancellation so accepted intents reach a terminal
// outcome.
func (b *Bot) executionLoop(ctx context.Context, intents <-chan submission) {
	for sub := range intents {
		outcome, err := b.executor.Submit(ctx, sub.intent)
		if err != nil {
			b.logger.Error("Submission failed", "symbol", sub.intent.Symbol, "error", err)
			b.notifier.Event(ctx, "Execution error", err.Error())
			continue
		}
		b.logger.Info("Execution outcome",
			"symbol", sub.intent.Symbol,
			"kind", outcome.Kind.String(),
			"order_id", outcome.OrderID)
		b.notifier.ExecutionResult(ctx, sub.intent, outcome)
		b.afterExecution(ctx, sub.intent, outcome)
	}
}

// duplicateSignal records the direction and reports whether it repeats the
// previous cycle's signal for the symbol.
func (b *Bot) duplicateSignal(symbol string, direction core.Direction) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastSignal[symbol] == direction {
		return true
	}
	b.lastSignal[symbol] = direction
	return false
}

func (b *Bot) clearLastSignal(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lastSignal, symbol)
}

// emitDailySummary sends the previous day's totals on the first cycle of a
// new day, then resets the counters.
func (b *Bot) emitDailySummary(ctx context.Context, now time.Time) {
	day := now.Format("2006-01-02")
	b.mu.Lock()
	if b.summary.day == day {
		b.mu.Unlock()
		return
	}
	prev := b.summary
	b.summary = daySummary{day: day}
	b.mu.Unlock()

	if prev.day == "" || prev.orders == 0 {
		return
	}
	b.notifier.Event(ctx, "Daily summary "+prev.day,
		fmt.Sprintf("Orders: %d, filled: %d, rejected: %d, timed out: %d",
			prev.orders, prev.filled, prev.rejected, prev.timedOut))
}

// afterExecution persists history and state and refreshes gauges.
func (b *Bot) afterExecution(ctx context.Context, intent core.OrderIntent, outcome core.ExecutionOutcome) {
	now := time.Now()

	b.mu.Lock()
	b.summary.orders++
	switch outcome.Kind {
	case core.OutcomeFilled, core.OutcomeSimulated:
		b.summary.filled++
	case core.OutcomeRejected:
		b.summary.rejected++
	case core.OutcomeTimedOut:
		b.summary.timedOut++
	}
	b.mu.Unlock()
	state := b.account.Snapshot(now)
	telemetry.GetGlobalMetrics().SetOpenPositions(int64(state.OpenPositions))
	telemetry.GetGlobalMetrics().SetDailyOrders(int64(state.OrdersToday))

	if b.persist == nil {
		return
	}
	if err := b.persist.RecordExecution(ctx, intent, outcome); err != nil {
		b.logger.Error("Failed to record execution", "error", err)
	}
	year, week := now.ISOWeek()
	record := store.AccountRecord{
		Day:           now.Format("2006-01-02"),
		Week:          weekLabel(year, week),
		Balance:       state.Balance,
		DailyLoss:     state.DailyLoss,
		WeeklyLoss:    state.WeeklyLoss,
		OrdersToday:   state.OrdersToday,
		OpenPositions: state.OpenPositions,
	}
	if err := b.persist.SaveAccountState(ctx, record); err != nil {
		b.logger.Error("Failed to save account state", "error", err)
	}
}

// RestoreState reloads persisted counters. Stale rows (older day or week)
// contribute nothing; mid-period restarts keep their loss and order totals.
func (b *Bot) RestoreState(ctx context.Context) error {
	if b.persist == nil {
		return nil
	}
	loader, ok := b.persist.(interface {
		LoadAccountState(ctx context.Context) (*store.AccountRecord, error)
	})
	if !ok {
		return nil
	}
	record, err := loader.LoadAccountState(ctx)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	now := time.Now()
	dailyLoss := record.DailyLoss
	ordersToday := record.OrdersToday
	if record.Day != now.Format("2006-01-02") {
		dailyLoss = decimal.Zero
		ordersToday = 0
	}
	weeklyLoss := record.WeeklyLoss
	year, week := now.ISOWeek()
	if record.Week != weekLabel(year, week) {
		weeklyLoss = decimal.Zero
	}
	b.account.Restore(dailyLoss, weeklyLoss, ordersToday, record.OpenPositions)
	b.logger.Info("Restored account state",
		"day", record.Day,
		"orders_today", ordersToday,
		"open_positions", record.OpenPositions)
	return nil
}

func weekLabel(year, week int) string {
	return fmt.Sprintf("%04d-W%02d", year, week)
}

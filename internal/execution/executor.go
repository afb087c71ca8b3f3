package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fx_trader/internal/core"
	"fx_trader/internal/fix"
	"fx_trader/internal/risk"
	"fx_trader/pkg/retry"
	"fx_trader/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// unitsPerLot converts lot sizes to the unit quantities the broker expects.
var unitsPerLot = decimal.NewFromInt(100000)

// LiveConfig holds executor limits and timing.
type LiveConfig struct {
	FillTimeout          time.Duration
	SlippageTolerancePct decimal.Decimal
	MaxDailyOrders       int
	MaxOpenPositions     int
	RequireConfirmation  bool
	ReconnectPolicy      retry.RetryPolicy
}

// openPosition tracks a filled order for emergency close-all.
type openPosition struct {
	intent    core.OrderIntent
	fillPrice decimal.Decimal
}

// LiveExecutor submits orders over the broker session. It owns the session
// lifecycle: the first submission (and any submission after a drop)
// triggers a re-logon governed by the injected reconnect policy.
// Submissions are expected to arrive serialized; the bot funnels all
// intents through a single worker.
type LiveExecutor struct {
	cfg     LiveConfig
	session *fix.Session
	account *risk.AccountState
	logger  core.ILogger

	confirmed atomic.Bool
	emergency atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu        sync.Mutex
	positions map[string]openPosition
}

// NewLiveExecutor creates a live order submitter over the given session.
func NewLiveExecutor(cfg LiveConfig, session *fix.Session, account *risk.AccountState, logger core.ILogger) *LiveExecutor {
	if cfg.FillTimeout == 0 {
		cfg.FillTimeout = 10 * time.Second
	}
	if cfg.ReconnectPolicy.MaxAttempts == 0 {
		cfg.ReconnectPolicy = retry.SessionPolicy
	}
	return &LiveExecutor{
		cfg:       cfg,
		session:   session,
		account:   account,
		logger:    logger.WithField("component", "live_executor"),
		done:      make(chan struct{}),
		positions: make(map[string]openPosition),
	}
}

// fixSide maps a trade direction to the wire side code.
func fixSide(d core.Direction) string {
	if d == core.Sell {
		return fix.SideSell
	}
	return fix.SideBuy
}

// Confirm releases the first-trade hold when the require-confirmation
// policy is active.
func (e *LiveExecutor) Confirm() { e.confirmed.Store(true) }

// EmergencyStop short-circuits all future submissions and closes every
// open position known to the session.
func (e *LiveExecutor) EmergencyStop(ctx context.Context) {
	e.emergency.Store(true)
	e.closeAllPositions(ctx)
}

// Submit carries an intent to a terminal outcome. Safety-gate refusals and
// broker rejections are outcomes, not errors; an error means connectivity
// failed before the order could be judged.
func (e *LiveExecutor) Submit(ctx context.Context, intent core.OrderIntent) (core.ExecutionOutcome, error) {
	now := time.Now()

	if e.emergency.Load() {
		return rejected("emergency stop active", now), nil
	}

	// Safety gates, independent of the sizing engine's own checks.
	state := e.account.Snapshot(now)
	if state.OrdersToday >= e.cfg.MaxDailyOrders {
		e.logger.Warn("Daily order ceiling reached", "orders_today", state.OrdersToday, "limit", e.cfg.MaxDailyOrders)
		return rejected(fmt.Sprintf("daily order limit reached: %d/%d", state.OrdersToday, e.cfg.MaxDailyOrders), now), nil
	}
	if state.OpenPositions >= e.cfg.MaxOpenPositions {
		e.logger.Warn("Open position ceiling reached", "open", state.OpenPositions, "limit", e.cfg.MaxOpenPositions)
		return rejected(fmt.Sprintf("max open positions reached: %d/%d", state.OpenPositions, e.cfg.MaxOpenPositions), now), nil
	}
	if e.cfg.RequireConfirmation && !e.confirmed.Load() {
		e.logger.Warn("Held pending confirmation", "symbol", intent.Symbol)
		return rejected("awaiting manual confirmation for first live order", now), nil
	}

	instrumentID, err := InstrumentID(intent.Symbol)
	if err != nil {
		return core.ExecutionOutcome{}, err
	}

	if err := e.ensureSession(ctx); err != nil {
		return core.ExecutionOutcome{}, err
	}

	clOrdID := uuid.NewString()
	side := fixSide(intent.Direction)
	qty := intent.Size.Mul(unitsPerLot).Round(0).String()

	reports := e.session.RegisterOrder(clOrdID)
	if err := e.session.SendMarketOrder(clOrdID, instrumentID, side, qty); err != nil {
		e.session.DeregisterOrder(clOrdID)
		return core.ExecutionOutcome{}, fmt.Errorf("order submission failed: %w", err)
	}
	e.account.OrderSubmitted(now)
	telemetry.GetGlobalMetrics().RecordSubmission(ctx, intent.Symbol, string(intent.Direction))
	e.logger.Info("Order submitted",
		"cl_ord_id", clOrdID,
		"symbol", intent.Symbol,
		"direction", string(intent.Direction),
		"qty", qty)

	report, err := e.session.AwaitReport(ctx, clOrdID, reports, e.cfg.FillTimeout)
	if err != nil {
		e.account.OrderFailed()
		if errors.Is(err, fix.ErrAwaitTimeout) {
			telemetry.GetGlobalMetrics().RecordOutcome(ctx, intent.Symbol, core.OutcomeTimedOut.String())
			return core.ExecutionOutcome{Kind: core.OutcomeTimedOut, OrderID: clOrdID, SubmittedAt: now}, nil
		}
		return core.ExecutionOutcome{}, err
	}

	telemetry.GetGlobalMetrics().RecordFillLatency(ctx, intent.Symbol, float64(time.Since(now).Milliseconds()))

	switch report.OrdStatus {
	case fix.OrdStatusFilled:
		outcome := core.ExecutionOutcome{
			Kind:        core.OutcomeFilled,
			OrderID:     clOrdID,
			FillPrice:   report.Price,
			SubmittedAt: now,
		}
		if e.slippageExceeded(intent.EntryPrice, report.Price) {
			outcome.SlippageExceeded = true
			e.logger.Warn("Fill slippage above tolerance",
				"cl_ord_id", clOrdID,
				"reference", intent.EntryPrice.String(),
				"fill", report.Price.String())
		}
		e.trackPosition(clOrdID, intent, report.Price)
		e.sendProtectiveOrders(clOrdID, instrumentID, intent, qty, report.Price)
		telemetry.GetGlobalMetrics().RecordOutcome(ctx, intent.Symbol, core.OutcomeFilled.String())
		return outcome, nil

	default:
		e.account.OrderFailed()
		reason := report.Text
		if reason == "" {
			reason = fmt.Sprintf("order status %s", report.OrdStatus)
		}
		telemetry.GetGlobalMetrics().RecordOutcome(ctx, intent.Symbol, core.OutcomeRejected.String())
		return core.ExecutionOutcome{
			Kind:        core.OutcomeRejected,
			OrderID:     clOrdID,
			Reason:      reason,
			SubmittedAt: now,
		}, nil
	}
}

// Close stops the exit-order watchers and logs the session out.
func (e *LiveExecutor) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	e.wg.Wait()
	return e.session.Close()
}

// ensureSession re-logs on when the session has dropped. Reconnecting
// restores the session only; a lost order is never resent.
func (e *LiveExecutor) ensureSession(ctx context.Context) error {
	if e.session.Status() == fix.StatusLoggedOn {
		return nil
	}
	err := retry.Do(ctx, e.cfg.ReconnectPolicy, func(error) bool { return true }, func() error {
		telemetry.GetGlobalMetrics().RecordReconnect(ctx)
		return e.session.Connect(ctx)
	})
	if err != nil {
		return fmt.Errorf("session logon failed: %w", err)
	}
	return nil
}

// slippageExceeded reports whether the fill diverged from the reference
// price by more than the configured tolerance.
func (e *LiveExecutor) slippageExceeded(reference, fill decimal.Decimal) bool {
	if !e.cfg.SlippageTolerancePct.IsPositive() || reference.IsZero() || fill.IsZero() {
		return false
	}
	divergence := fill.Sub(reference).Abs().Div(reference).Mul(decimal.NewFromInt(100))
	return divergence.GreaterThan(e.cfg.SlippageTolerancePct)
}

func (e *LiveExecutor) trackPosition(clOrdID string, intent core.OrderIntent, fillPrice decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[clOrdID] = openPosition{intent: intent, fillPrice: fillPrice}
}

// PositionClosed records a realized result and releases the slot.
func (e *LiveExecutor) PositionClosed(clOrdID string, pnl decimal.Decimal) {
	e.mu.Lock()
	pos, ok := e.positions[clOrdID]
	delete(e.positions, clOrdID)
	e.mu.Unlock()
	e.account.PositionClosed(pnl, time.Now())
	if ok {
		telemetry.GetGlobalMetrics().RecordRealizedPnL(context.Background(), pos.intent.Symbol, pnl.InexactFloat64())
	}
}

// sendProtectiveOrders places the stop-loss and take-profit exits after the
// main order fills and starts a watcher that settles the position when one
// of them fills. Send failures are logged, not escalated: the position is
// live either way and the operator is notified through the usual sinks.
func (e *LiveExecutor) sendProtectiveOrders(parentID, instrumentID string, intent core.OrderIntent, qty string, fillPrice decimal.Decimal) {
	exitSide := fixSide(intent.Direction.Opposite())

	slID := fmt.Sprintf("SL-%s", parentID)
	slReports := e.session.RegisterOrder(slID)
	if err := e.session.SendStopOrder(slID, instrumentID, exitSide, qty, intent.StopLoss.StringFixed(5)); err != nil {
		e.session.DeregisterOrder(slID)
		slReports = nil
		e.logger.Error("Stop-loss order failed", "parent", parentID, "error", err)
	} else {
		e.logger.Info("Stop-loss order sent", "parent", parentID, "price", intent.StopLoss.StringFixed(5))
	}

	tpID := fmt.Sprintf("TP-%s", parentID)
	tpReports := e.session.RegisterOrder(tpID)
	if err := e.session.SendLimitOrder(tpID, instrumentID, exitSide, qty, intent.TakeProfit.StringFixed(5)); err != nil {
		e.session.DeregisterOrder(tpID)
		tpReports = nil
		e.logger.Error("Take-profit order failed", "parent", parentID, "error", err)
	} else {
		e.logger.Info("Take-profit order sent", "parent", parentID, "price", intent.TakeProfit.StringFixed(5))
	}

	if slReports == nil && tpReports == nil {
		return
	}
	e.wg.Add(1)
	go e.watchExitOrders(parentID, intent, fillPrice, slID, tpID, slReports, tpReports)
}

// watchExitOrders waits for one protective order to fill and settles the
// position's realized result. An exit that rejects or cancels stops being
// watched; if both die without filling, the position stays open and
// unguarded until an emergency close or manual intervention.
func (e *LiveExecutor) watchExitOrders(parentID string, intent core.OrderIntent, fillPrice decimal.Decimal, slID, tpID string, slReports, tpReports <-chan fix.ExecReport) {
	defer e.wg.Done()
	for slReports != nil || tpReports != nil {
		var report fix.ExecReport
		var exitID string
		select {
		case report = <-slReports:
			exitID = slID
		case report = <-tpReports:
			exitID = tpID
		case <-e.done:
			e.session.DeregisterOrder(slID)
			e.session.DeregisterOrder(tpID)
			return
		}
		if !report.Terminal() {
			continue
		}
		if report.OrdStatus == fix.OrdStatusFilled {
			e.session.DeregisterOrder(slID)
			e.session.DeregisterOrder(tpID)
			pnl := exitPnL(intent.Direction, fillPrice, report.Price, intent.Size)
			e.PositionClosed(parentID, pnl)
			e.logger.Info("Position closed by exit order",
				"parent", parentID,
				"exit", exitID,
				"pnl", pnl.StringFixed(2))
			return
		}
		e.session.DeregisterOrder(exitID)
		e.logger.Warn("Protective order did not fill",
			"order", exitID,
			"status", report.OrdStatus,
			"text", report.Text)
		if exitID == slID {
			slReports = nil
		} else {
			tpReports = nil
		}
	}
	e.logger.Warn("Position unguarded, both exit orders dead", "parent", parentID)
}

// exitPnL converts an exit fill into account-currency profit or loss.
func exitPnL(direction core.Direction, entry, exit, lots decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if direction == core.Sell {
		diff = diff.Neg()
	}
	return diff.Mul(lots.Mul(unitsPerLot))
}

// closeAllPositions issues an opposite-side market order for every open
// position known to the session.
func (e *LiveExecutor) closeAllPositions(ctx context.Context) {
	e.mu.Lock()
	positions := make(map[string]openPosition, len(e.positions))
	for id, p := range e.positions {
		positions[id] = p
	}
	e.positions = make(map[string]openPosition)
	e.mu.Unlock()

	if len(positions) == 0 {
		return
	}
	e.logger.Warn("Emergency close-all", "positions", len(positions))
	if err := e.ensureSession(ctx); err != nil {
		e.logger.Error("Close-all aborted, session unavailable", "error", err)
		return
	}

	for id, p := range positions {
		instrumentID, err := InstrumentID(p.intent.Symbol)
		if err != nil {
			continue
		}
		closeSide := fixSide(p.intent.Direction.Opposite())
		qty := p.intent.Size.Mul(unitsPerLot).Round(0).String()
		closeID := fmt.Sprintf("CLOSE-%s", id)
		if err := e.session.SendMarketOrder(closeID, instrumentID, closeSide, qty); err != nil {
			e.logger.Error("Close order failed", "position", id, "error", err)
		}
	}
}

func rejected(reason string, at time.Time) core.ExecutionOutcome {
	return core.ExecutionOutcome{
		Kind:        core.OutcomeRejected,
		Reason:      reason,
		SubmittedAt: at,
	}
}

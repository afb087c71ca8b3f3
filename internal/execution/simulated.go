package execution

import (
	"context"
	"fmt"
	"time"

	"fx_trader/internal/core"

	"github.com/google/uuid"
)

// SimulatedExecutor is the dry-run order submitter. It performs no network
// I/O and returns an outcome with the same shape as a live fill, so
// notification and bookkeeping code is identical in both modes.
type SimulatedExecutor struct {
	logger core.ILogger
}

// NewSimulatedExecutor creates a dry-run submitter.
func NewSimulatedExecutor(logger core.ILogger) *SimulatedExecutor {
	return &SimulatedExecutor{
		logger: logger.WithField("component", "simulated_executor"),
	}
}

// Submit logs the intent as if filled and returns a Simulated outcome with
// a unique synthetic order id.
func (e *SimulatedExecutor) Submit(ctx context.Context, intent core.OrderIntent) (core.ExecutionOutcome, error) {
	orderID := fmt.Sprintf("SIM-%s", uuid.NewString())
	e.logger.Info("Dry-run order",
		"order_id", orderID,
		"symbol", intent.Symbol,
		"direction", string(intent.Direction),
		"size", intent.Size.String(),
		"entry", intent.EntryPrice.String(),
		"stop_loss", intent.StopLoss.String(),
		"take_profit", intent.TakeProfit.String(),
	)
	return core.ExecutionOutcome{
		Kind:        core.OutcomeSimulated,
		OrderID:     orderID,
		FillPrice:   intent.EntryPrice,
		SubmittedAt: time.Now(),
	}, nil
}

// Close is a no-op in dry-run mode.
func (e *SimulatedExecutor) Close() error { return nil }

package core

import (
	"context"
)

// CandleSource supplies OHLC history for a (symbol, timeframe) pair.
// A data-unavailable error means "skip this symbol this cycle", never a
// pipeline-fatal condition.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, bars int) ([]Candle, error)
}

// SignalEngine turns an indicator snapshot into a directional decision.
type SignalEngine interface {
	Evaluate(snap IndicatorSnapshot) ConfluenceDecision
}

// OrderSubmitter carries an order intent to a terminal outcome. Live and
// dry-run implementations are interchangeable behind this interface.
type OrderSubmitter interface {
	Submit(ctx context.Context, intent OrderIntent) (ExecutionOutcome, error)
	Close() error
}

// Notifier receives human-facing events. Implementations must never block
// or fail order processing; delivery errors are logged and swallowed.
type Notifier interface {
	TradeSignal(ctx context.Context, decision ConfluenceDecision, intent OrderIntent)
	ExecutionResult(ctx context.Context, intent OrderIntent, outcome ExecutionOutcome)
	NoTrade(ctx context.Context, symbol, reason string)
	Event(ctx context.Context, title, message string)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

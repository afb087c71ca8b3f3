// Package core defines the shared types and interfaces for the trading pipeline
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the trade direction decided by the signal engine.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Opposite returns the closing side for a position opened in this direction.
func (d Direction) Opposite() Direction {
	switch d {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return Hold
	}
}

// Candle represents a single OHLC bar.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
}

// MACrossover values produced by the indicator layer.
const (
	CrossoverBullish = 1
	CrossoverNone    = 0
	CrossoverBearish = -1
)

// MACDReading holds the MACD line, signal line and histogram values.
type MACDReading struct {
	MACD      decimal.Decimal
	Signal    decimal.Decimal
	Histogram decimal.Decimal
}

// FibonacciLevels holds retracement levels for the most recent swing,
// keyed by ratio label (e.g. "0.618").
type FibonacciLevels struct {
	TrendUp      bool
	High         decimal.Decimal
	Low          decimal.Decimal
	Retracements map[string]decimal.Decimal
}

// IndicatorSnapshot is the immutable per-symbol, per-cycle set of indicator
// readings consumed by the signal engine. It is owned by the cycle that
// produced it and discarded after evaluation.
type IndicatorSnapshot struct {
	Symbol      string
	Price       decimal.Decimal
	ATR         decimal.Decimal
	ATRPercent  decimal.Decimal // ATR as percent of price
	ShortMA     decimal.Decimal
	LongMA      decimal.Decimal
	MACrossover int
	RSI         decimal.Decimal
	MACD        MACDReading
	Supports    []decimal.Decimal
	Resistances []decimal.Decimal
	Fibonacci   FibonacciLevels
}

// RSIState classifies the RSI reading.
type RSIState int

const (
	RSINeutral RSIState = iota
	RSIOversold
	RSIOverbought
)

// RSIState derives the overbought/oversold classification from the raw value.
func (s *IndicatorSnapshot) RSIState() RSIState {
	switch {
	case s.RSI.LessThan(decimal.NewFromInt(30)):
		return RSIOversold
	case s.RSI.GreaterThan(decimal.NewFromInt(70)):
		return RSIOverbought
	default:
		return RSINeutral
	}
}

// MACDState classifies the MACD reading.
type MACDState int

const (
	MACDNone MACDState = iota
	MACDBullish
	MACDBearish
)

// MACDState derives the cross classification from the raw lines.
func (s *IndicatorSnapshot) MACDState() MACDState {
	switch {
	case s.MACD.MACD.GreaterThan(s.MACD.Signal) && s.MACD.Histogram.IsPositive():
		return MACDBullish
	case s.MACD.MACD.LessThan(s.MACD.Signal) && s.MACD.Histogram.IsNegative():
		return MACDBearish
	default:
		return MACDNone
	}
}

// VolatilityVerdict is the admissibility of current volatility for trading.
type VolatilityVerdict int

const (
	VolatilityAcceptable VolatilityVerdict = iota
	VolatilityTooLow
	VolatilityTooHigh
)

func (v VolatilityVerdict) String() string {
	switch v {
	case VolatilityTooLow:
		return "TOO_LOW"
	case VolatilityTooHigh:
		return "TOO_HIGH"
	default:
		return "ACCEPTABLE"
	}
}

// Reason is a single indicator vote that contributed to a decision.
// Ordering and wording are part of the observable contract: reasons are
// surfaced verbatim in notifications and logs.
type Reason struct {
	Category    string
	Description string
}

// ConfluenceDecision is the output of the signal engine for one snapshot.
type ConfluenceDecision struct {
	Symbol     string
	Direction  Direction
	Reasons    []Reason
	Votes      int
	Volatility VolatilityVerdict
}

// OrderIntent is a fully specified, not-yet-submitted order.
type OrderIntent struct {
	Symbol       string
	Direction    Direction
	EntryPrice   decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	Size         decimal.Decimal // lots
	RiskAmount   decimal.Decimal // account currency
	RewardAmount decimal.Decimal
	RiskReward   decimal.Decimal
	ATR          decimal.Decimal
}

// OutcomeKind enumerates terminal execution results.
type OutcomeKind int

const (
	OutcomeFilled OutcomeKind = iota
	OutcomeRejected
	OutcomeTimedOut
	OutcomeSimulated
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFilled:
		return "FILLED"
	case OutcomeRejected:
		return "REJECTED"
	case OutcomeTimedOut:
		return "TIMED_OUT"
	case OutcomeSimulated:
		return "SIMULATED"
	default:
		return "UNKNOWN"
	}
}

// ExecutionOutcome is the terminal result of submitting an OrderIntent.
// Simulated outcomes have the same shape as live ones so notification and
// bookkeeping code is identical in both modes.
type ExecutionOutcome struct {
	Kind             OutcomeKind
	OrderID          string
	FillPrice        decimal.Decimal // set only for Filled
	SlippageExceeded bool            // fill accepted but divergence above tolerance
	Reason           string          // set for Rejected
	SubmittedAt      time.Time
}

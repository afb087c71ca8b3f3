// Package strategy implements the confluence signal engine.
package strategy

import (
	"fmt"

	"fx_trader/internal/core"

	"github.com/shopspring/decimal"
)

// Config holds the confluence thresholds. The MA periods are only used in
// reason wording; the readings themselves arrive in the snapshot.
type Config struct {
	MinConfluence int
	ProximityPct  decimal.Decimal // band around S/R and Fib levels, percent of price
	MinATRPercent decimal.Decimal
	MaxATRPercent decimal.Decimal
	ShortMAPeriod int
	LongMAPeriod  int
}

// Engine tallies directional votes from independent indicator readings.
// Evaluate is pure with respect to its input: no I/O, no retained state.
type Engine struct {
	cfg    Config
	logger core.ILogger
}

// NewEngine creates a signal engine.
func NewEngine(cfg Config, logger core.ILogger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.WithField("component", "signal_engine"),
	}
}

type vote struct {
	direction core.Direction
	reason    core.Reason
}

// Evaluate turns an indicator snapshot into a directional decision.
//
// Each indicator contributes at most one vote. The winning direction must
// reach the minimum confluence count AND strictly beat the opposing tally;
// a tie resolves to HOLD. The volatility gate dominates: an ATR percent
// outside the configured band forces HOLD no matter how the votes fall.
func (e *Engine) Evaluate(snap core.IndicatorSnapshot) core.ConfluenceDecision {
	verdict := e.volatilityVerdict(snap)
	if verdict != core.VolatilityAcceptable {
		e.logger.Debug("Volatility gate closed",
			"symbol", snap.Symbol,
			"atr_percent", snap.ATRPercent.StringFixed(2),
			"verdict", verdict.String())
		return core.ConfluenceDecision{
			Symbol:     snap.Symbol,
			Direction:  core.Hold,
			Volatility: verdict,
		}
	}

	// Evaluation order is fixed: reasons surface verbatim in notifications
	// and logs, so their ordering is part of the observable contract.
	votes := []vote{}
	for _, voter := range []func(core.IndicatorSnapshot) (vote, bool){
		e.maCrossoverVote,
		e.supportResistanceVote,
		e.fibonacciVote,
		e.rsiVote,
		e.macdVote,
		e.trendVote,
	} {
		if v, ok := voter(snap); ok {
			votes = append(votes, v)
		}
	}

	var buyReasons, sellReasons []core.Reason
	for _, v := range votes {
		switch v.direction {
		case core.Buy:
			buyReasons = append(buyReasons, v.reason)
		case core.Sell:
			sellReasons = append(sellReasons, v.reason)
		}
	}

	buy, sell := len(buyReasons), len(sellReasons)
	switch {
	case buy >= e.cfg.MinConfluence && buy > sell:
		return core.ConfluenceDecision{
			Symbol:     snap.Symbol,
			Direction:  core.Buy,
			Reasons:    buyReasons,
			Votes:      buy,
			Volatility: verdict,
		}
	case sell >= e.cfg.MinConfluence && sell > buy:
		return core.ConfluenceDecision{
			Symbol:     snap.Symbol,
			Direction:  core.Sell,
			Reasons:    sellReasons,
			Votes:      sell,
			Volatility: verdict,
		}
	default:
		e.logger.Debug("Insufficient confluence",
			"symbol", snap.Symbol,
			"buy_votes", buy,
			"sell_votes", sell,
			"required", e.cfg.MinConfluence)
		return core.ConfluenceDecision{
			Symbol:     snap.Symbol,
			Direction:  core.Hold,
			Volatility: verdict,
		}
	}
}

func (e *Engine) volatilityVerdict(snap core.IndicatorSnapshot) core.VolatilityVerdict {
	switch {
	case snap.ATRPercent.LessThan(e.cfg.MinATRPercent):
		return core.VolatilityTooLow
	case snap.ATRPercent.GreaterThan(e.cfg.MaxATRPercent):
		return core.VolatilityTooHigh
	default:
		return core.VolatilityAcceptable
	}
}

func (e *Engine) maCrossoverVote(snap core.IndicatorSnapshot) (vote, bool) {
	switch snap.MACrossover {
	case core.CrossoverBullish:
		return vote{core.Buy, core.Reason{
			Category:    "ma_crossover",
			Description: fmt.Sprintf("Bullish MA crossover: %s > %s", snap.ShortMA.StringFixed(5), snap.LongMA.StringFixed(5)),
		}}, true
	case core.CrossoverBearish:
		return vote{core.Sell, core.Reason{
			Category:    "ma_crossover",
			Description: fmt.Sprintf("Bearish MA crossover: %s < %s", snap.ShortMA.StringFixed(5), snap.LongMA.StringFixed(5)),
		}}, true
	}
	return vote{}, false
}

func (e *Engine) supportResistanceVote(snap core.IndicatorSnapshot) (vote, bool) {
	for _, support := range snap.Supports {
		if e.nearLevel(snap.Price, support) {
			return vote{core.Buy, core.Reason{
				Category:    "support_resistance",
				Description: fmt.Sprintf("Price near support level: %s", support.StringFixed(5)),
			}}, true
		}
	}
	for _, resistance := range snap.Resistances {
		if e.nearLevel(snap.Price, resistance) {
			return vote{core.Sell, core.Reason{
				Category:    "support_resistance",
				Description: fmt.Sprintf("Price near resistance level: %s", resistance.StringFixed(5)),
			}}, true
		}
	}
	return vote{}, false
}

func (e *Engine) fibonacciVote(snap core.IndicatorSnapshot) (vote, bool) {
	// Iterate well-known labels in a fixed order so identical snapshots
	// always surface the same level.
	for _, label := range []string{"0.236", "0.382", "0.500", "0.618", "0.786"} {
		level, ok := snap.Fibonacci.Retracements[label]
		if !ok || !e.nearLevel(snap.Price, level) {
			continue
		}
		if snap.Fibonacci.TrendUp {
			return vote{core.Buy, core.Reason{
				Category:    "fibonacci",
				Description: fmt.Sprintf("Price at Fib %s in uptrend: %s", label, level.StringFixed(5)),
			}}, true
		}
		return vote{core.Sell, core.Reason{
			Category:    "fibonacci",
			Description: fmt.Sprintf("Price at Fib %s in downtrend: %s", label, level.StringFixed(5)),
		}}, true
	}
	return vote{}, false
}

func (e *Engine) rsiVote(snap core.IndicatorSnapshot) (vote, bool) {
	switch snap.RSIState() {
	case core.RSIOversold:
		return vote{core.Buy, core.Reason{
			Category:    "rsi",
			Description: fmt.Sprintf("RSI oversold: %s", snap.RSI.StringFixed(2)),
		}}, true
	case core.RSIOverbought:
		return vote{core.Sell, core.Reason{
			Category:    "rsi",
			Description: fmt.Sprintf("RSI overbought: %s", snap.RSI.StringFixed(2)),
		}}, true
	}
	return vote{}, false
}

func (e *Engine) macdVote(snap core.IndicatorSnapshot) (vote, bool) {
	switch snap.MACDState() {
	case core.MACDBullish:
		return vote{core.Buy, core.Reason{
			Category:    "macd",
			Description: fmt.Sprintf("MACD bullish: %s > %s", snap.MACD.MACD.StringFixed(5), snap.MACD.Signal.StringFixed(5)),
		}}, true
	case core.MACDBearish:
		return vote{core.Sell, core.Reason{
			Category:    "macd",
			Description: fmt.Sprintf("MACD bearish: %s < %s", snap.MACD.MACD.StringFixed(5), snap.MACD.Signal.StringFixed(5)),
		}}, true
	}
	return vote{}, false
}

func (e *Engine) trendVote(snap core.IndicatorSnapshot) (vote, bool) {
	switch {
	case snap.Price.GreaterThan(snap.ShortMA) && snap.ShortMA.GreaterThan(snap.LongMA):
		return vote{core.Buy, core.Reason{
			Category:    "trend",
			Description: fmt.Sprintf("Strong uptrend: Price %s > MA%d > MA%d", snap.Price.StringFixed(5), e.cfg.ShortMAPeriod, e.cfg.LongMAPeriod),
		}}, true
	case snap.Price.LessThan(snap.ShortMA) && snap.ShortMA.LessThan(snap.LongMA):
		return vote{core.Sell, core.Reason{
			Category:    "trend",
			Description: fmt.Sprintf("Strong downtrend: Price %s < MA%d < MA%d", snap.Price.StringFixed(5), e.cfg.ShortMAPeriod, e.cfg.LongMAPeriod),
		}}, true
	}
	return vote{}, false
}

// nearLevel reports whether price is within the proximity band of level.
func (e *Engine) nearLevel(price, level decimal.Decimal) bool {
	if price.IsZero() {
		return false
	}
	diffPct := price.Sub(level).Abs().Div(price).Mul(decimal.NewFromInt(100))
	return diffPct.LessThan(e.cfg.ProximityPct)
}

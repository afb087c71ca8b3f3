package risk

import (
	"strings"

	"fx_trader/internal/core"

	"github.com/shopspring/decimal"
)

var (
	hundred       = decimal.NewFromInt(100)
	pipValueUSD   = decimal.NewFromInt(10) // per standard lot when USD is the quote currency
	supportBuffer = decimal.NewFromFloat(0.5)
	targetBuffer  = decimal.NewFromFloat(0.3)
)

// SizerConfig holds sizing policy parameters.
type SizerConfig struct {
	Policy            string // fixed or dynamic
	RiskPercent       decimal.Decimal
	FixedLots         decimal.Decimal
	SymbolLots        map[string]decimal.Decimal // broker-capped overrides under the fixed policy
	MinLots           decimal.Decimal
	MaxLots           decimal.Decimal
	LotStep           decimal.Decimal
	StopATRMultiple   decimal.Decimal
	TargetATRMultiple decimal.Decimal
	MinRiskReward     decimal.Decimal
	DailyLossLimit    decimal.Decimal
	WeeklyLossLimit   decimal.Decimal
	MaxOpenPositions  int
}

// SymbolLotSizes returns the broker-imposed per-symbol lot caps applied
// under the fixed sizing policy. Symbols not listed use FixedLots.
func SymbolLotSizes() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"BTCUSD": decimal.NewFromFloat(0.00001),
		"ETHUSD": decimal.NewFromFloat(0.00001),
		"LTCUSD": decimal.NewFromFloat(0.0001),
	}
}

// Sizer converts an accepted decision into a capital-bounded order intent,
// or rejects it. Every rejection short-circuits before an intent is built;
// no partial intents are ever emitted.
type Sizer struct {
	cfg    SizerConfig
	logger core.ILogger
}

// NewSizer creates a sizing engine.
func NewSizer(cfg SizerConfig, logger core.ILogger) *Sizer {
	return &Sizer{
		cfg:    cfg,
		logger: logger.WithField("component", "sizer"),
	}
}

// Size computes a full order intent for the decision, gated on account state.
func (s *Sizer) Size(decision core.ConfluenceDecision, snap core.IndicatorSnapshot, state Snapshot) (core.OrderIntent, error) {
	if decision.Direction == core.Hold {
		return core.OrderIntent{}, core.NewSizingRejection(core.ErrHoldDecision, "symbol %s", decision.Symbol)
	}
	if decision.Volatility != core.VolatilityAcceptable {
		return core.OrderIntent{}, core.NewSizingRejection(core.ErrVolatilityBand,
			"verdict %s at %s%%", decision.Volatility, snap.ATRPercent.StringFixed(2))
	}
	if state.DailyLoss.GreaterThanOrEqual(s.cfg.DailyLossLimit) {
		return core.OrderIntent{}, core.NewSizingRejection(core.ErrDailyLossLimit,
			"$%s / $%s", state.DailyLoss.StringFixed(2), s.cfg.DailyLossLimit.StringFixed(2))
	}
	if state.WeeklyLoss.GreaterThanOrEqual(s.cfg.WeeklyLossLimit) {
		return core.OrderIntent{}, core.NewSizingRejection(core.ErrWeeklyLossLimit,
			"$%s / $%s", state.WeeklyLoss.StringFixed(2), s.cfg.WeeklyLossLimit.StringFixed(2))
	}
	if state.OpenPositions >= s.cfg.MaxOpenPositions {
		return core.OrderIntent{}, core.NewSizingRejection(core.ErrMaxOpenPositions,
			"%d open", state.OpenPositions)
	}

	entry := snap.Price
	stopLoss, takeProfit := s.stopAndTarget(decision.Direction, entry, snap.ATR, snap.Supports, snap.Resistances)

	stopDistance := entry.Sub(stopLoss).Abs()
	if stopDistance.IsZero() {
		return core.OrderIntent{}, core.NewSizingRejection(core.ErrZeroSize, "zero stop distance")
	}

	pipValue := pipValuePerLot(decision.Symbol, entry)

	size, err := s.lotSize(decision.Symbol, state.Balance, stopDistance, pipValue)
	if err != nil {
		return core.OrderIntent{}, err
	}

	riskAmount := stopDistance.Mul(pipValue).Mul(size)
	targetDistance := takeProfit.Sub(entry).Abs()
	rewardAmount := targetDistance.Mul(pipValue).Mul(size)

	return core.OrderIntent{
		Symbol:       decision.Symbol,
		Direction:    decision.Direction,
		EntryPrice:   entry,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		Size:         size,
		RiskAmount:   riskAmount,
		RewardAmount: rewardAmount,
		RiskReward:   targetDistance.Div(stopDistance),
		ATR:          snap.ATR,
	}, nil
}

// lotSize applies the configured sizing policy.
func (s *Sizer) lotSize(symbol string, balance, stopDistance, pipValue decimal.Decimal) (decimal.Decimal, error) {
	if s.cfg.Policy == "fixed" {
		if lots, ok := s.cfg.SymbolLots[symbol]; ok {
			return lots, nil
		}
		return s.cfg.FixedLots, nil
	}

	riskAmount := balance.Mul(s.cfg.RiskPercent).Div(hundred)
	lots := riskAmount.Div(stopDistance.Mul(pipValue))

	if lots.GreaterThan(s.cfg.MaxLots) {
		lots = s.cfg.MaxLots
	}
	// Round down to the broker's size increment.
	if s.cfg.LotStep.IsPositive() {
		lots = lots.Div(s.cfg.LotStep).Floor().Mul(s.cfg.LotStep)
	}
	if lots.LessThan(s.cfg.MinLots) || lots.IsZero() {
		return decimal.Zero, core.NewSizingRejection(core.ErrZeroSize,
			"computed %s lots below minimum %s", lots.String(), s.cfg.MinLots.String())
	}
	return lots, nil
}

// stopAndTarget derives stop-loss and take-profit from ATR multiples, then
// snaps each toward the nearest structural level when one tightens the
// level without flipping which side of entry it falls on. The minimum
// risk:reward ratio is enforced last by extending the target.
func (s *Sizer) stopAndTarget(direction core.Direction, entry, atr decimal.Decimal, supports, resistances []decimal.Decimal) (stopLoss, takeProfit decimal.Decimal) {
	stopOffset := atr.Mul(s.cfg.StopATRMultiple)
	targetOffset := atr.Mul(s.cfg.TargetATRMultiple)

	if direction == core.Buy {
		stopLoss = entry.Sub(stopOffset)
		if support, ok := nearestBelow(supports, entry); ok {
			snapped := support.Sub(atr.Mul(supportBuffer))
			if snapped.GreaterThan(stopLoss) && snapped.LessThan(entry) {
				stopLoss = snapped
			}
		}

		takeProfit = entry.Add(targetOffset)
		if resistance, ok := nearestAbove(resistances, entry); ok {
			snapped := resistance.Sub(atr.Mul(targetBuffer))
			if snapped.LessThan(takeProfit) && snapped.GreaterThan(entry) {
				takeProfit = snapped
			}
		}
	} else {
		stopLoss = entry.Add(stopOffset)
		if resistance, ok := nearestAbove(resistances, entry); ok {
			snapped := resistance.Add(atr.Mul(supportBuffer))
			if snapped.LessThan(stopLoss) && snapped.GreaterThan(entry) {
				stopLoss = snapped
			}
		}

		takeProfit = entry.Sub(targetOffset)
		if support, ok := nearestBelow(supports, entry); ok {
			snapped := support.Add(atr.Mul(targetBuffer))
			if snapped.GreaterThan(takeProfit) && snapped.LessThan(entry) {
				takeProfit = snapped
			}
		}
	}

	// Extend the target if snapping compressed the ratio below the minimum.
	stopDistance := entry.Sub(stopLoss).Abs()
	targetDistance := takeProfit.Sub(entry).Abs()
	minTarget := stopDistance.Mul(s.cfg.MinRiskReward)
	if targetDistance.LessThan(minTarget) {
		if direction == core.Buy {
			takeProfit = entry.Add(minTarget)
		} else {
			takeProfit = entry.Sub(minTarget)
		}
	}
	return stopLoss, takeProfit
}

func nearestBelow(levels []decimal.Decimal, price decimal.Decimal) (decimal.Decimal, bool) {
	best := decimal.Zero
	found := false
	for _, l := range levels {
		if l.LessThan(price) && (!found || l.GreaterThan(best)) {
			best = l
			found = true
		}
	}
	return best, found
}

func nearestAbove(levels []decimal.Decimal, price decimal.Decimal) (decimal.Decimal, bool) {
	best := decimal.Zero
	found := false
	for _, l := range levels {
		if l.GreaterThan(price) && (!found || l.LessThan(best)) {
			best = l
			found = true
		}
	}
	return best, found
}

// pipValuePerLot approximates the per-lot value of one price unit in the
// account currency (USD). Quote-USD pairs are worth $10 per pip per lot;
// base-USD pairs scale inversely with price; crosses fall back to $10.
func pipValuePerLot(symbol string, price decimal.Decimal) decimal.Decimal {
	switch {
	case strings.HasSuffix(symbol, "USD"):
		return pipValueUSD
	case strings.HasPrefix(symbol, "USD") && price.IsPositive():
		return pipValueUSD.Div(price)
	default:
		return pipValueUSD
	}
}

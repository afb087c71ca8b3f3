// Package indicators computes technical indicator readings from OHLC history.
// All arithmetic uses decimals so snapshot values are exact and reproducible
// across runs on the same candle history.
package indicators

import (
	"fmt"
	"sort"

	"fx_trader/internal/core"

	"github.com/shopspring/decimal"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// Fibonacci retracement ratios, keyed by the label used in snapshots.
var fibRatios = map[string]decimal.Decimal{
	"0.236": decimal.NewFromFloat(0.236),
	"0.382": decimal.NewFromFloat(0.382),
	"0.500": decimal.NewFromFloat(0.5),
	"0.618": decimal.NewFromFloat(0.618),
	"0.786": decimal.NewFromFloat(0.786),
}

// Params configures indicator periods.
type Params struct {
	ShortMAPeriod  int
	LongMAPeriod   int
	RSIPeriod      int
	MACDFastPeriod int
	MACDSlowPeriod int
	MACDSignal     int
	ATRPeriod      int
	SwingLookback  int
}

// Calculator computes an IndicatorSnapshot from candle history.
type Calculator struct {
	params Params
}

// NewCalculator creates a calculator with the given periods.
func NewCalculator(params Params) *Calculator {
	return &Calculator{params: params}
}

// minBars is the smallest history that yields every reading.
func (c *Calculator) minBars() int {
	need := c.params.LongMAPeriod + 1
	if n := c.params.MACDSlowPeriod + c.params.MACDSignal; n > need {
		need = n
	}
	if n := c.params.ATRPeriod + 1; n > need {
		need = n
	}
	if n := c.params.RSIPeriod + 1; n > need {
		need = n
	}
	return need
}

// Snapshot computes all indicator readings for the given history. Candles
// must be ordered oldest first.
func (c *Calculator) Snapshot(symbol string, candles []core.Candle) (core.IndicatorSnapshot, error) {
	if len(candles) < c.minBars() {
		return core.IndicatorSnapshot{}, fmt.Errorf("insufficient history for %s: have %d bars, need %d", symbol, len(candles), c.minBars())
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, cd := range candles {
		closes[i] = cd.Close
	}
	price := closes[len(closes)-1]

	atr := ATR(candles, c.params.ATRPeriod)
	atrPercent := decimal.Zero
	if price.IsPositive() {
		atrPercent = atr.Div(price).Mul(hundred)
	}

	shortMA := SMA(closes, c.params.ShortMAPeriod)
	longMA := SMA(closes, c.params.LongMAPeriod)

	supports, resistances := SwingLevels(candles, c.params.SwingLookback, price)

	return core.IndicatorSnapshot{
		Symbol:      symbol,
		Price:       price,
		ATR:         atr,
		ATRPercent:  atrPercent,
		ShortMA:     shortMA,
		LongMA:      longMA,
		MACrossover: Crossover(closes, c.params.ShortMAPeriod, c.params.LongMAPeriod),
		RSI:         RSI(closes, c.params.RSIPeriod),
		MACD:        MACD(closes, c.params.MACDFastPeriod, c.params.MACDSlowPeriod, c.params.MACDSignal),
		Supports:    supports,
		Resistances: resistances,
		Fibonacci:   Fibonacci(candles),
	}, nil
}

// SMA returns the simple moving average of the last period values.
func SMA(values []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(values) < period {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values[len(values)-period:] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// Crossover detects a short/long MA cross on the most recent bar.
func Crossover(closes []decimal.Decimal, shortPeriod, longPeriod int) int {
	if len(closes) < longPeriod+1 {
		return core.CrossoverNone
	}
	prev := closes[:len(closes)-1]

	shortNow := SMA(closes, shortPeriod)
	longNow := SMA(closes, longPeriod)
	shortPrev := SMA(prev, shortPeriod)
	longPrev := SMA(prev, longPeriod)

	switch {
	case shortPrev.LessThanOrEqual(longPrev) && shortNow.GreaterThan(longNow):
		return core.CrossoverBullish
	case shortPrev.GreaterThanOrEqual(longPrev) && shortNow.LessThan(longNow):
		return core.CrossoverBearish
	default:
		return core.CrossoverNone
	}
}

// EMA returns the exponential moving average series for the given period.
// The series is seeded with the SMA of the first period values, so its
// length is len(values)-period+1.
func EMA(values []decimal.Decimal, period int) []decimal.Decimal {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := two.Div(decimal.NewFromInt(int64(period) + 1))
	out := make([]decimal.Decimal, 0, len(values)-period+1)
	out = append(out, SMA(values[:period], period))
	for _, v := range values[period:] {
		prev := out[len(out)-1]
		out = append(out, v.Sub(prev).Mul(k).Add(prev))
	}
	return out
}

// RSI returns the Wilder-smoothed relative strength index of the last bar.
func RSI(closes []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(closes) < period+1 {
		return decimal.NewFromInt(50)
	}

	avgGain := decimal.Zero
	avgLoss := decimal.Zero
	for i := 1; i <= period; i++ {
		delta := closes[i].Sub(closes[i-1])
		if delta.IsPositive() {
			avgGain = avgGain.Add(delta)
		} else {
			avgLoss = avgLoss.Add(delta.Neg())
		}
	}
	n := decimal.NewFromInt(int64(period))
	avgGain = avgGain.Div(n)
	avgLoss = avgLoss.Div(n)

	nMinus1 := decimal.NewFromInt(int64(period - 1))
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i].Sub(closes[i-1])
		gain := decimal.Zero
		loss := decimal.Zero
		if delta.IsPositive() {
			gain = delta
		} else {
			loss = delta.Neg()
		}
		avgGain = avgGain.Mul(nMinus1).Add(gain).Div(n)
		avgLoss = avgLoss.Mul(nMinus1).Add(loss).Div(n)
	}

	if avgLoss.IsZero() {
		return hundred
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// MACD returns the MACD line, signal line and histogram of the last bar.
func MACD(closes []decimal.Decimal, fast, slow, signal int) core.MACDReading {
	if len(closes) < slow+signal {
		return core.MACDReading{}
	}
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	// Align the two series on the slow EMA's start.
	offset := len(fastEMA) - len(slowEMA)
	macdLine := make([]decimal.Decimal, len(slowEMA))
	for i := range slowEMA {
		macdLine[i] = fastEMA[i+offset].Sub(slowEMA[i])
	}

	signalLine := EMA(macdLine, signal)
	if len(signalLine) == 0 {
		return core.MACDReading{}
	}

	macd := macdLine[len(macdLine)-1]
	sig := signalLine[len(signalLine)-1]
	return core.MACDReading{
		MACD:      macd,
		Signal:    sig,
		Histogram: macd.Sub(sig),
	}
}

// ATR returns the Wilder-smoothed average true range of the last bar.
func ATR(candles []core.Candle, period int) decimal.Decimal {
	if period <= 0 || len(candles) < period+1 {
		return decimal.Zero
	}

	trs := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs = append(trs, trueRange(candles[i], candles[i-1].Close))
	}

	n := decimal.NewFromInt(int64(period))
	atr := decimal.Zero
	for _, tr := range trs[:period] {
		atr = atr.Add(tr)
	}
	atr = atr.Div(n)

	nMinus1 := decimal.NewFromInt(int64(period - 1))
	for _, tr := range trs[period:] {
		atr = atr.Mul(nMinus1).Add(tr).Div(n)
	}
	return atr
}

func trueRange(c core.Candle, prevClose decimal.Decimal) decimal.Decimal {
	tr := c.High.Sub(c.Low)
	if hc := c.High.Sub(prevClose).Abs(); hc.GreaterThan(tr) {
		tr = hc
	}
	if lc := c.Low.Sub(prevClose).Abs(); lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// SwingLevels finds swing-point support and resistance levels. A swing high
// is a bar whose high exceeds the highs of lookback bars on each side; swing
// lows mirror that. Supports are swing lows below the current price sorted
// nearest first, resistances swing highs above it.
func SwingLevels(candles []core.Candle, lookback int, price decimal.Decimal) (supports, resistances []decimal.Decimal) {
	if lookback <= 0 || len(candles) < 2*lookback+1 {
		return nil, nil
	}

	for i := lookback; i < len(candles)-lookback; i++ {
		isHigh := true
		isLow := true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if candles[j].High.GreaterThanOrEqual(candles[i].High) {
				isHigh = false
			}
			if candles[j].Low.LessThanOrEqual(candles[i].Low) {
				isLow = false
			}
		}
		if isHigh && candles[i].High.GreaterThan(price) {
			resistances = append(resistances, candles[i].High)
		}
		if isLow && candles[i].Low.LessThan(price) {
			supports = append(supports, candles[i].Low)
		}
	}

	// Nearest level first.
	sort.Slice(supports, func(a, b int) bool {
		return supports[a].GreaterThan(supports[b])
	})
	sort.Slice(resistances, func(a, b int) bool {
		return resistances[a].LessThan(resistances[b])
	})
	return supports, resistances
}

// Fibonacci computes retracement levels for the most recent swing spanning
// the full history window. The trend is up when the lowest low precedes the
// highest high.
func Fibonacci(candles []core.Candle) core.FibonacciLevels {
	if len(candles) == 0 {
		return core.FibonacciLevels{}
	}

	hiIdx, loIdx := 0, 0
	for i, c := range candles {
		if c.High.GreaterThan(candles[hiIdx].High) {
			hiIdx = i
		}
		if c.Low.LessThan(candles[loIdx].Low) {
			loIdx = i
		}
	}

	high := candles[hiIdx].High
	low := candles[loIdx].Low
	trendUp := loIdx < hiIdx
	span := high.Sub(low)

	levels := make(map[string]decimal.Decimal, len(fibRatios))
	for label, ratio := range fibRatios {
		if trendUp {
			levels[label] = high.Sub(span.Mul(ratio))
		} else {
			levels[label] = low.Add(span.Mul(ratio))
		}
	}

	return core.FibonacciLevels{
		TrendUp:      trendUp,
		High:         high,
		Low:          low,
		Retracements: levels,
	}
}

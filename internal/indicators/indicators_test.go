package indicators

import (
	"testing"
	"time"

	"fx_trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candle(high, low, close float64) core.Candle {
	return core.Candle{
		OpenTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:     decimal.NewFromFloat(close),
		High:     decimal.NewFromFloat(high),
		Low:      decimal.NewFromFloat(low),
		Close:    decimal.NewFromFloat(close),
	}
}

func decimals(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestSMA(t *testing.T) {
	got := SMA(decimals(1, 2, 3, 4, 5), 5)
	assert.True(t, got.Equal(decimal.NewFromInt(3)), "got %s", got)

	// Uses only the trailing window
	got = SMA(decimals(100, 2, 4), 2)
	assert.True(t, got.Equal(decimal.NewFromInt(3)), "got %s", got)

	// Insufficient history
	assert.True(t, SMA(decimals(1, 2), 5).IsZero())
}

func TestCrossover(t *testing.T) {
	assert.Equal(t, core.CrossoverBullish, Crossover(decimals(10, 10, 10, 20), 2, 3))
	assert.Equal(t, core.CrossoverBearish, Crossover(decimals(10, 10, 10, 1), 2, 3))
	assert.Equal(t, core.CrossoverNone, Crossover(decimals(10, 10, 10, 10), 2, 3))
	assert.Equal(t, core.CrossoverNone, Crossover(decimals(10, 10), 2, 3))
}

func TestRSI_Extremes(t *testing.T) {
	// Monotonic gains saturate at 100
	up := decimals(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15)
	assert.True(t, RSI(up, 14).Equal(decimal.NewFromInt(100)))

	// Monotonic losses saturate at 0
	down := decimals(15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	assert.True(t, RSI(down, 14).IsZero())

	// Too little history yields neutral
	assert.True(t, RSI(decimals(1, 2), 14).Equal(decimal.NewFromInt(50)))
}

func TestRSI_Bounded(t *testing.T) {
	closes := decimals(10, 11, 10.5, 11.2, 10.8, 11.5, 11.1, 11.8, 11.4, 12, 11.6, 12.2, 11.9, 12.5, 12.1, 12.7)
	rsi := RSI(closes, 14)
	assert.True(t, rsi.GreaterThan(decimal.NewFromInt(50)), "mostly-rising series should be above 50, got %s", rsi)
	assert.True(t, rsi.LessThan(decimal.NewFromInt(100)))
}

func TestATR_ConstantRange(t *testing.T) {
	candles := make([]core.Candle, 20)
	for i := range candles {
		candles[i] = candle(12, 10, 11)
	}
	atr := ATR(candles, 14)
	assert.True(t, atr.Equal(decimal.NewFromInt(2)), "got %s", atr)
}

func TestATR_GapDominatesRange(t *testing.T) {
	candles := []core.Candle{
		candle(12, 10, 11),
		candle(20, 19, 19.5), // gap up: TR = high - prevClose = 9
	}
	tr := trueRange(candles[1], candles[0].Close)
	assert.True(t, tr.Equal(decimal.NewFromInt(9)), "got %s", tr)
}

func TestMACD_RisingTrend(t *testing.T) {
	closes := make([]decimal.Decimal, 40)
	for i := range closes {
		closes[i] = decimal.NewFromInt(int64(100 + i))
	}
	reading := MACD(closes, 12, 26, 9)
	assert.True(t, reading.MACD.IsPositive(), "MACD line should be positive in a steady uptrend, got %s", reading.MACD)
}

func TestMACD_InsufficientHistory(t *testing.T) {
	reading := MACD(decimals(1, 2, 3), 12, 26, 9)
	assert.True(t, reading.MACD.IsZero())
	assert.True(t, reading.Signal.IsZero())
}

func TestSwingLevels(t *testing.T) {
	candles := []core.Candle{
		candle(10, 9, 9.5),
		candle(15, 14, 14.5), // swing high
		candle(10, 9, 9.5),
		candle(8, 5, 6), // swing low
		candle(10, 9, 9.5),
	}
	supports, resistances := SwingLevels(candles, 1, decimal.NewFromFloat(9.5))

	require.Len(t, supports, 1)
	require.Len(t, resistances, 1)
	assert.True(t, supports[0].Equal(decimal.NewFromInt(5)))
	assert.True(t, resistances[0].Equal(decimal.NewFromInt(15)))
}

func TestSwingLevels_NearestFirst(t *testing.T) {
	candles := []core.Candle{
		candle(10, 9, 9.5),
		candle(8, 3, 4), // swing low at 3
		candle(10, 9, 9.5),
		candle(8, 6, 7), // swing low at 6
		candle(10, 9, 9.5),
	}
	supports, _ := SwingLevels(candles, 1, decimal.NewFromFloat(9.5))

	require.Len(t, supports, 2)
	assert.True(t, supports[0].Equal(decimal.NewFromInt(6)), "nearest support first")
	assert.True(t, supports[1].Equal(decimal.NewFromInt(3)))
}

func TestFibonacci_Uptrend(t *testing.T) {
	candles := []core.Candle{
		candle(110, 100, 105), // lowest low first
		candle(150, 140, 145),
		candle(200, 190, 195), // highest high last
	}
	fib := Fibonacci(candles)

	assert.True(t, fib.TrendUp)
	assert.True(t, fib.High.Equal(decimal.NewFromInt(200)))
	assert.True(t, fib.Low.Equal(decimal.NewFromInt(100)))
	assert.True(t, fib.Retracements["0.500"].Equal(decimal.NewFromInt(150)), "got %s", fib.Retracements["0.500"])
}

func TestFibonacci_Downtrend(t *testing.T) {
	candles := []core.Candle{
		candle(200, 190, 195),
		candle(150, 140, 145),
		candle(110, 100, 105),
	}
	fib := Fibonacci(candles)

	assert.False(t, fib.TrendUp)
	assert.True(t, fib.Retracements["0.500"].Equal(decimal.NewFromInt(150)))
}

func TestSnapshot(t *testing.T) {
	calc := NewCalculator(Params{
		ShortMAPeriod:  20,
		LongMAPeriod:   50,
		RSIPeriod:      14,
		MACDFastPeriod: 12,
		MACDSlowPeriod: 26,
		MACDSignal:     9,
		ATRPeriod:      14,
		SwingLookback:  5,
	})

	candles := make([]core.Candle, 100)
	for i := range candles {
		base := 100.0 + float64(i%10)
		candles[i] = candle(base+1, base-1, base)
	}

	snap, err := calc.Snapshot("EURUSD", candles)
	require.NoError(t, err)

	assert.Equal(t, "EURUSD", snap.Symbol)
	assert.True(t, snap.Price.Equal(candles[99].Close))
	assert.True(t, snap.ATR.IsPositive())
	assert.True(t, snap.ATRPercent.IsPositive())
	assert.True(t, snap.ShortMA.IsPositive())
	assert.True(t, snap.LongMA.IsPositive())
	assert.NotNil(t, snap.Fibonacci.Retracements)
}

func TestSnapshot_InsufficientHistory(t *testing.T) {
	calc := NewCalculator(Params{
		ShortMAPeriod:  20,
		LongMAPeriod:   50,
		RSIPeriod:      14,
		MACDFastPeriod: 12,
		MACDSlowPeriod: 26,
		MACDSignal:     9,
		ATRPeriod:      14,
		SwingLookback:  5,
	})

	_, err := calc.Snapshot("EURUSD", make([]core.Candle, 10))
	assert.Error(t, err)
}

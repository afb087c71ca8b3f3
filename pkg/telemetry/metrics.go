package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSignalsTotal         = "fx_trader_signals_total"
	MetricOrdersSubmittedTotal = "fx_trader_orders_submitted_total"
	MetricOrdersFilledTotal    = "fx_trader_orders_filled_total"
	MetricOrdersRejectedTotal  = "fx_trader_orders_rejected_total"
	MetricOrdersTimedOutTotal  = "fx_trader_orders_timed_out_total"
	MetricSizingRejectedTotal  = "fx_trader_sizing_rejected_total"
	MetricSessionReconnects    = "fx_trader_session_reconnects_total"
	MetricPnLRealizedTotal     = "fx_trader_pnl_realized_total"
	MetricOpenPositions        = "fx_trader_open_positions"
	MetricDailyOrders          = "fx_trader_daily_orders"
	MetricFillLatency          = "fx_trader_fill_latency_ms"
	MetricScanCycleDuration    = "fx_trader_scan_cycle_duration_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	SignalsTotal         metric.Int64Counter
	OrdersSubmittedTotal metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersRejectedTotal  metric.Int64Counter
	OrdersTimedOutTotal  metric.Int64Counter
	SizingRejectedTotal  metric.Int64Counter
	SessionReconnects    metric.Int64Counter
	PnLRealizedTotal     metric.Float64UpDownCounter
	OpenPositions        metric.Int64ObservableGauge
	DailyOrders          metric.Int64ObservableGauge
	FillLatency          metric.Float64Histogram
	ScanCycleDuration    metric.Float64Histogram

	// State for observable gauges
	mu            sync.RWMutex
	openPositions int64
	dailyOrders   int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.SignalsTotal, err = meter.Int64Counter(MetricSignalsTotal, metric.WithDescription("Total directional signals produced"))
	if err != nil {
		return err
	}

	m.OrdersSubmittedTotal, err = meter.Int64Counter(MetricOrdersSubmittedTotal, metric.WithDescription("Total orders submitted to the broker"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders filled"))
	if err != nil {
		return err
	}

	m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal, metric.WithDescription("Total orders rejected by the broker"))
	if err != nil {
		return err
	}

	m.OrdersTimedOutTotal, err = meter.Int64Counter(MetricOrdersTimedOutTotal, metric.WithDescription("Total orders abandoned waiting for a fill report"))
	if err != nil {
		return err
	}

	m.SizingRejectedTotal, err = meter.Int64Counter(MetricSizingRejectedTotal, metric.WithDescription("Total signals rejected by the risk engine"))
	if err != nil {
		return err
	}

	m.SessionReconnects, err = meter.Int64Counter(MetricSessionReconnects, metric.WithDescription("Total broker session reconnect attempts"))
	if err != nil {
		return err
	}

	m.PnLRealizedTotal, err = meter.Float64UpDownCounter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized profit/loss"))
	if err != nil {
		return err
	}

	m.FillLatency, err = meter.Float64Histogram(MetricFillLatency, metric.WithDescription("Time from order submission to execution report"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.ScanCycleDuration, err = meter.Float64Histogram(MetricScanCycleDuration, metric.WithDescription("Duration of a full symbol scan cycle"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.OpenPositions, err = meter.Int64ObservableGauge(MetricOpenPositions, metric.WithDescription("Number of currently open positions"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openPositions)
			return nil
		}))
	if err != nil {
		return err
	}

	m.DailyOrders, err = meter.Int64ObservableGauge(MetricDailyOrders, metric.WithDescription("Orders submitted since the last daily reset"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.dailyOrders)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetOpenPositions(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = count
}

func (m *MetricsHolder) SetDailyOrders(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyOrders = count
}

// RecordSignal counts a directional decision for a symbol.
func (m *MetricsHolder) RecordSignal(ctx context.Context, symbol, direction string) {
	if m.SignalsTotal == nil {
		return
	}
	m.SignalsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("direction", direction),
	))
}

// RecordSizingRejection counts a signal the risk engine refused to size.
func (m *MetricsHolder) RecordSizingRejection(ctx context.Context, symbol, kind string) {
	if m.SizingRejectedTotal == nil {
		return
	}
	m.SizingRejectedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("kind", kind),
	))
}

// RecordCycleDuration records how long a full symbol scan took.
func (m *MetricsHolder) RecordCycleDuration(ctx context.Context, ms float64) {
	if m.ScanCycleDuration == nil {
		return
	}
	m.ScanCycleDuration.Record(ctx, ms)
}

// RecordSubmission counts an order handed to the broker.
func (m *MetricsHolder) RecordSubmission(ctx context.Context, symbol, direction string) {
	if m.OrdersSubmittedTotal == nil {
		return
	}
	m.OrdersSubmittedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("direction", direction),
	))
}

// RecordFillLatency records the submit-to-report latency in milliseconds.
func (m *MetricsHolder) RecordFillLatency(ctx context.Context, symbol string, ms float64) {
	if m.FillLatency == nil {
		return
	}
	m.FillLatency.Record(ctx, ms, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// RecordRealizedPnL accumulates a closed position's profit or loss.
func (m *MetricsHolder) RecordRealizedPnL(ctx context.Context, symbol string, pnl float64) {
	if m.PnLRealizedTotal == nil {
		return
	}
	m.PnLRealizedTotal.Add(ctx, pnl, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// RecordReconnect counts a broker session reconnect attempt.
func (m *MetricsHolder) RecordReconnect(ctx context.Context) {
	if m.SessionReconnects == nil {
		return
	}
	m.SessionReconnects.Add(ctx, 1)
}

// RecordOutcome counts a terminal execution result for a symbol.
func (m *MetricsHolder) RecordOutcome(ctx context.Context, symbol, kind string) {
	attrs := metric.WithAttributes(attribute.String("symbol", symbol))
	switch kind {
	case "FILLED":
		if m.OrdersFilledTotal != nil {
			m.OrdersFilledTotal.Add(ctx, 1, attrs)
		}
	case "REJECTED":
		if m.OrdersRejectedTotal != nil {
			m.OrdersRejectedTotal.Add(ctx, 1, attrs)
		}
	case "TIMED_OUT":
		if m.OrdersTimedOutTotal != nil {
			m.OrdersTimedOutTotal.Add(ctx, 1, attrs)
		}
	}
}

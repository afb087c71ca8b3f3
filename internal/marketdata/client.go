// Package marketdata fetches OHLC history from the candle API.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"fx_trader/internal/core"
	"fx_trader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ClientConfig holds candle source settings.
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
}

// candleJSON is the wire shape of one bar. Prices arrive as strings so
// they survive the trip into decimals without float rounding.
type candleJSON struct {
	OpenTime int64  `json:"time"` // unix seconds
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
}

// Client fetches candles over HTTP. Requests pass through a rate limiter
// and a retry/circuit-breaker pipeline; every failure surfaces as
// core.ErrDataUnavailable so the caller skips the symbol for the cycle.
type Client struct {
	cfg      ClientConfig
	client   *http.Client
	limiter  *rate.Limiter
	pipeline failsafe.Executor[*http.Response]
	logger   core.ILogger
	tracer   trace.Tracer
}

// NewClient creates a candle client with default resilience policies.
func NewClient(cfg ClientConfig, logger core.ILogger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			// Retry on network errors or 5xx server errors
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(cfg.MaxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &Client{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		pipeline: failsafe.With[*http.Response](retryPolicy, breaker),
		logger:   logger.WithField("component", "marketdata"),
		tracer:   telemetry.GetTracer("marketdata"),
	}
}

// GetCandles returns the most recent bars for the symbol and timeframe,
// oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, bars int) ([]core.Candle, error) {
	ctx, span := c.tracer.Start(ctx, "GetCandles", trace.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("timeframe", timeframe),
		attribute.Int("bars", bars),
	))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", core.ErrDataUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/candles", c.cfg.BaseURL), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDataUnavailable, err)
	}
	q := req.URL.Query()
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)
	q.Set("bars", fmt.Sprintf("%d", bars))
	req.URL.RawQuery = q.Encode()
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return c.client.Do(req)
	})
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("Candle request failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("%w: %v", core.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", core.ErrDataUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Candle request rejected", "symbol", symbol, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d: %s", core.ErrDataUnavailable, resp.StatusCode, body)
	}

	var raw []candleJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", core.ErrDataUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty history for %s", core.ErrDataUnavailable, symbol)
	}

	candles := make([]core.Candle, 0, len(raw))
	for i, r := range raw {
		candle, err := r.toCandle()
		if err != nil {
			return nil, fmt.Errorf("%w: bar %d: %v", core.ErrDataUnavailable, i, err)
		}
		candles = append(candles, candle)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	return candles, nil
}

func (r candleJSON) toCandle() (core.Candle, error) {
	open, err := decimal.NewFromString(r.Open)
	if err != nil {
		return core.Candle{}, fmt.Errorf("open %q: %v", r.Open, err)
	}
	high, err := decimal.NewFromString(r.High)
	if err != nil {
		return core.Candle{}, fmt.Errorf("high %q: %v", r.High, err)
	}
	low, err := decimal.NewFromString(r.Low)
	if err != nil {
		return core.Candle{}, fmt.Errorf("low %q: %v", r.Low, err)
	}
	closePx, err := decimal.NewFromString(r.Close)
	if err != nil {
		return core.Candle{}, fmt.Errorf("close %q: %v", r.Close, err)
	}
	return core.Candle{
		OpenTime: time.Unix(r.OpenTime, 0).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePx,
	}, nil
}

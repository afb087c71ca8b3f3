// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App        AppConfig        `yaml:"app"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Risk       RiskConfig       `yaml:"risk"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Session    SessionConfig    `yaml:"session"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Store      StoreConfig      `yaml:"store"`
	System     SystemConfig     `yaml:"system"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Symbols             []string `yaml:"symbols"`
	Timeframe           string   `yaml:"timeframe"`
	ScanIntervalSeconds int      `yaml:"scan_interval_seconds"`
	DryRun              bool     `yaml:"dry_run"`
	RequireConfirmation bool     `yaml:"require_confirmation"`
	AnalysisWorkers     int      `yaml:"analysis_workers"`
	AnalysisBuffer      int      `yaml:"analysis_buffer"`
}

// StrategyConfig contains signal engine parameters
type StrategyConfig struct {
	MinConfluence   int     `yaml:"min_confluence"`
	ShortMAPeriod   int     `yaml:"short_ma_period"`
	LongMAPeriod    int     `yaml:"long_ma_period"`
	RSIPeriod       int     `yaml:"rsi_period"`
	MACDFastPeriod  int     `yaml:"macd_fast_period"`
	MACDSlowPeriod  int     `yaml:"macd_slow_period"`
	MACDSignal      int     `yaml:"macd_signal_period"`
	ATRPeriod       int     `yaml:"atr_period"`
	SwingLookback   int     `yaml:"swing_lookback"`
	ProximityPct    float64 `yaml:"proximity_pct"`
	MinATRPercent   float64 `yaml:"min_atr_percent"`
	MaxATRPercent   float64 `yaml:"max_atr_percent"`
	HistoryBars     int     `yaml:"history_bars"`
}

// RiskConfig contains position sizing and account guard parameters
type RiskConfig struct {
	AccountBalance    float64 `yaml:"account_balance"`
	RiskPercent       float64 `yaml:"risk_percent"`
	SizingPolicy      string  `yaml:"sizing_policy"` // fixed or dynamic
	FixedLots         float64 `yaml:"fixed_lots"`
	MaxLots           float64 `yaml:"max_lots"`
	MinLots           float64 `yaml:"min_lots"`
	LotStep           float64 `yaml:"lot_step"`
	StopATRMultiple   float64 `yaml:"stop_atr_multiple"`
	TargetATRMultiple float64 `yaml:"target_atr_multiple"`
	MinRiskReward     float64 `yaml:"min_risk_reward"`
	DailyLossLimit    float64 `yaml:"daily_loss_limit"`
	WeeklyLossLimit   float64 `yaml:"weekly_loss_limit"`
	MaxOpenPositions  int     `yaml:"max_open_positions"`
	MaxDailyOrders    int     `yaml:"max_daily_orders"`
}

// MarketDataConfig contains candle source settings
type MarketDataConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            Secret  `yaml:"api_key"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
}

// SessionConfig contains broker session settings
type SessionConfig struct {
	Host                 string  `yaml:"host"`
	Port                 int     `yaml:"port"`
	SenderCompID         string  `yaml:"sender_comp_id"`
	TargetCompID         string  `yaml:"target_comp_id"`
	SenderSubID          string  `yaml:"sender_sub_id"`
	Account              string  `yaml:"account"`
	Username             string  `yaml:"username"`
	Password             Secret  `yaml:"password"`
	HeartbeatSeconds     int     `yaml:"heartbeat_seconds"`
	FillTimeoutSeconds   int     `yaml:"fill_timeout_seconds"`
	SlippageTolerancePct float64 `yaml:"slippage_tolerance_pct"`
	WireLogDir           string  `yaml:"wire_log_dir"`
}

// TelegramConfig contains notification settings
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken Secret `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// StoreConfig contains persistence settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStrategyConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateRiskConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateMarketDataConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSessionConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if len(c.App.Symbols) == 0 {
		return ValidationError{
			Field:   "app.symbols",
			Message: "at least one symbol must be configured",
		}
	}
	if c.App.Timeframe == "" {
		return ValidationError{
			Field:   "app.timeframe",
			Message: "timeframe is required",
		}
	}
	if c.App.ScanIntervalSeconds <= 0 {
		return ValidationError{
			Field:   "app.scan_interval_seconds",
			Value:   c.App.ScanIntervalSeconds,
			Message: "scan interval must be positive",
		}
	}
	return nil
}

func (c *Config) validateStrategyConfig() error {
	if c.Strategy.MinConfluence < 1 {
		return ValidationError{
			Field:   "strategy.min_confluence",
			Value:   c.Strategy.MinConfluence,
			Message: "minimum confluence must be at least 1",
		}
	}
	if c.Strategy.ShortMAPeriod >= c.Strategy.LongMAPeriod {
		return ValidationError{
			Field:   "strategy.short_ma_period",
			Value:   c.Strategy.ShortMAPeriod,
			Message: "short MA period must be less than long MA period",
		}
	}
	if c.Strategy.MinATRPercent >= c.Strategy.MaxATRPercent {
		return ValidationError{
			Field:   "strategy.min_atr_percent",
			Value:   c.Strategy.MinATRPercent,
			Message: "volatility band lower bound must be below upper bound",
		}
	}
	if c.Strategy.HistoryBars < c.Strategy.LongMAPeriod {
		return ValidationError{
			Field:   "strategy.history_bars",
			Value:   c.Strategy.HistoryBars,
			Message: "history must cover at least the long MA period",
		}
	}
	return nil
}

func (c *Config) validateRiskConfig() error {
	if c.Risk.SizingPolicy != "fixed" && c.Risk.SizingPolicy != "dynamic" {
		return ValidationError{
			Field:   "risk.sizing_policy",
			Value:   c.Risk.SizingPolicy,
			Message: "must be one of: fixed, dynamic",
		}
	}
	if c.Risk.RiskPercent <= 0 || c.Risk.RiskPercent > 10 {
		return ValidationError{
			Field:   "risk.risk_percent",
			Value:   c.Risk.RiskPercent,
			Message: "risk percent must be in (0, 10]",
		}
	}
	if c.Risk.MinRiskReward < 1 {
		return ValidationError{
			Field:   "risk.min_risk_reward",
			Value:   c.Risk.MinRiskReward,
			Message: "minimum risk:reward must be at least 1",
		}
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return ValidationError{
			Field:   "risk.max_open_positions",
			Value:   c.Risk.MaxOpenPositions,
			Message: "max open positions must be positive",
		}
	}
	if c.Risk.MaxDailyOrders <= 0 {
		return ValidationError{
			Field:   "risk.max_daily_orders",
			Value:   c.Risk.MaxDailyOrders,
			Message: "max daily orders must be positive",
		}
	}
	return nil
}

func (c *Config) validateMarketDataConfig() error {
	if c.MarketData.BaseURL == "" {
		return ValidationError{
			Field:   "market_data.base_url",
			Message: "base URL is required",
		}
	}
	if c.MarketData.RequestsPerSecond <= 0 {
		return ValidationError{
			Field:   "market_data.requests_per_second",
			Value:   c.MarketData.RequestsPerSecond,
			Message: "rate limit must be positive",
		}
	}
	return nil
}

func (c *Config) validateSessionConfig() error {
	if c.App.DryRun {
		return nil // No broker session needed in dry-run mode
	}
	if c.Session.Host == "" {
		return ValidationError{
			Field:   "session.host",
			Message: "broker host is required unless dry_run is enabled",
		}
	}
	if c.Session.SenderCompID == "" || c.Session.TargetCompID == "" {
		return ValidationError{
			Field:   "session.sender_comp_id",
			Message: "both sender and target comp IDs are required",
		}
	}
	if c.Session.HeartbeatSeconds <= 0 {
		return ValidationError{
			Field:   "session.heartbeat_seconds",
			Value:   c.Session.HeartbeatSeconds,
			Message: "heartbeat interval must be positive",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration with conservative defaults.
// LoadConfig unmarshals on top of it so omitted fields keep these values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Symbols:             []string{"EURUSD"},
			Timeframe:           "H1",
			ScanIntervalSeconds: 300,
			DryRun:              true,
			RequireConfirmation: true,
			AnalysisWorkers:     4,
			AnalysisBuffer:      32,
		},
		Strategy: StrategyConfig{
			MinConfluence:  3,
			ShortMAPeriod:  20,
			LongMAPeriod:   50,
			RSIPeriod:      14,
			MACDFastPeriod: 12,
			MACDSlowPeriod: 26,
			MACDSignal:     9,
			ATRPeriod:      14,
			SwingLookback:  5,
			ProximityPct:   0.5,
			MinATRPercent:  0.2,
			MaxATRPercent:  3.0,
			HistoryBars:    200,
		},
		Risk: RiskConfig{
			AccountBalance:    10000,
			RiskPercent:       1.0,
			SizingPolicy:      "dynamic",
			FixedLots:         0.01,
			MaxLots:           1.0,
			MinLots:           0.01,
			LotStep:           0.01,
			StopATRMultiple:   1.5,
			TargetATRMultiple: 3.0,
			MinRiskReward:     2.0,
			DailyLossLimit:    300,
			WeeklyLossLimit:   1000,
			MaxOpenPositions:  5,
			MaxDailyOrders:    20,
		},
		MarketData: MarketDataConfig{
			BaseURL:           "https://marketdata.example.com",
			TimeoutSeconds:    10,
			RequestsPerSecond: 2,
			MaxRetries:        3,
		},
		Session: SessionConfig{
			Port:                 5201,
			HeartbeatSeconds:     30,
			FillTimeoutSeconds:   10,
			SlippageTolerancePct: 0.1,
			WireLogDir:           "logs/fix",
		},
		Store: StoreConfig{
			Path: "fx_trader.db",
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}

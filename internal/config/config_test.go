package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTempConfig(t, `
app:
  symbols: ["EURUSD", "GBPUSD"]
  timeframe: "H1"
  scan_interval_seconds: 60
  dry_run: true
strategy:
  min_confluence: 3
risk:
  sizing_policy: dynamic
  risk_percent: 1.0
market_data:
  base_url: "https://data.test"
  requests_per_second: 2
system:
  log_level: "DEBUG"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, cfg.App.Symbols)
	assert.Equal(t, 60, cfg.App.ScanIntervalSeconds)
	assert.Equal(t, "DEBUG", cfg.System.LogLevel)
	// Omitted fields keep defaults
	assert.Equal(t, 14, cfg.Strategy.RSIPeriod)
	assert.Equal(t, 5, cfg.Risk.MaxOpenPositions)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BROKER_PASSWORD", "hunter2")
	path := writeTempConfig(t, `
app:
  symbols: ["EURUSD"]
  timeframe: "H1"
  scan_interval_seconds: 60
  dry_run: true
market_data:
  base_url: "https://data.test"
  requests_per_second: 1
session:
  password: "${TEST_BROKER_PASSWORD}"
system:
  log_level: "INFO"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Secret("hunter2"), cfg.Session.Password)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/trader.yaml")
	assert.Error(t, err)
}

func TestValidate_NoSymbols(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Symbols = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.symbols")
}

func TestValidate_BadSizingPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Risk.SizingPolicy = "martingale"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk.sizing_policy")
}

func TestValidate_VolatilityBandInverted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy.MinATRPercent = 3.0
	cfg.Strategy.MaxATRPercent = 0.2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy.min_atr_percent")
}

func TestValidate_LiveModeRequiresSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.DryRun = false
	cfg.Session.Host = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.host")
}

func TestValidate_DryRunSkipsSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.DryRun = true
	cfg.Session.Host = ""

	assert.NoError(t, cfg.Validate())
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.System.LogLevel = "VERBOSE"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system.log_level")
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.Password = "supersecret"
	cfg.Telegram.BotToken = "123456:token"

	out := cfg.String()
	assert.NotContains(t, out, "supersecret")
	assert.NotContains(t, out, "123456:token")
	assert.Contains(t, out, "[REDACTED]")
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validBody = `{
  "trading": {"symbols": ["BTCUSDT"], "initial_capital": 100000},
  "strategy": {
    "compression_threshold": 0.6,
    "expansion_threshold": 1.4,
    "extreme_threshold": 2.0,
    "adx_threshold": 20,
    "stop_atr_multiple": 2.0,
    "target_atr_multiple": 4.0,
    "trailing_activation_atr": 1.5,
    "trailing_atr_multiple": 1.5
  },
  "risk": {
    "risk_per_trade": 0.02,
    "max_position_pct": 0.25,
    "max_positions": 3,
    "max_portfolio_heat": 0.06,
    "max_drawdown": 0.20
  }
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBody))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "1h", cfg.TradingConfig.Timeframe)
	assert.Equal(t, 14, cfg.StrategyConfig.ATRPeriod)
	assert.Equal(t, 20, cfg.StrategyConfig.Lookback)
	assert.Equal(t, 2, cfg.StrategyConfig.MinBarsBetweenTrades)
	assert.Equal(t, "sqlite", cfg.StoreConfig.Backend)
	assert.InDelta(t, 0.30, cfg.FeeConfig.TaxRate, 1e-9)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	_, err := Load(writeConfig(t, "{not json"))
	assert.Error(t, err)
}

func TestValidateReportsAllMissingParams(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"trading": {"symbols": ["BTCUSDT"]}}`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading.initial_capital")
	assert.Contains(t, err.Error(), "strategy.compression_threshold")
	assert.Contains(t, err.Error(), "risk.max_drawdown")
}

func TestValidateRejectsBadOrdering(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBody))
	require.NoError(t, err)

	cfg.StrategyConfig.ExpansionThreshold = 2.5
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regime thresholds")
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBody))
	require.NoError(t, err)

	cfg.StoreConfig.Backend = "dynamo"
	assert.Error(t, cfg.Validate())
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBody))
	require.NoError(t, err)

	cfg.StoreConfig.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg.StoreConfig.PostgresURL = "postgres://localhost/trader"
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("POSTGRES_URL", "postgres://localhost/trader")

	cfg, err := Load(writeConfig(t, validBody))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.StoreConfig.Backend)
	assert.Equal(t, "postgres://localhost/trader", cfg.StoreConfig.PostgresURL)
}

func TestHashChangesWithParameters(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBody))
	require.NoError(t, err)

	before := cfg.Hash()
	cfg.RiskConfig.RiskPerTrade = 0.03
	assert.NotEqual(t, before, cfg.Hash())
	assert.Len(t, before, 16)
}

func TestGenerateSampleIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	require.NoError(t, GenerateSample(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

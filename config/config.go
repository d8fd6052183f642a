package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	TradingConfig  TradingConfig  `json:"trading"`
	StrategyConfig StrategyConfig `json:"strategy"`
	RiskConfig     RiskConfig     `json:"risk"`
	FeeConfig      FeeConfig      `json:"fees"`
	StoreConfig    StoreConfig    `json:"store"`
	FeedConfig     FeedConfig     `json:"feed"`
	ServerConfig   ServerConfig   `json:"server"`
	RedisConfig    RedisConfig    `json:"redis"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// TradingConfig describes the instruments traded and the cycle cadence.
type TradingConfig struct {
	Symbols          []string `json:"symbols"`
	Timeframe        string   `json:"timeframe"`
	InitialCapital   float64  `json:"initial_capital"`
	CycleIntervalSec int      `json:"cycle_interval_sec"`
	PaperMode        bool     `json:"paper_mode"`
}

// StrategyConfig holds the volatility-regime strategy parameters.
// Threshold and multiple fields are required and never defaulted.
type StrategyConfig struct {
	Name                 string  `json:"name"`
	ATRPeriod            int     `json:"atr_period"`
	Lookback             int     `json:"lookback"`
	CompressionThreshold float64 `json:"compression_threshold"`
	ExpansionThreshold   float64 `json:"expansion_threshold"`
	ExtremeThreshold     float64 `json:"extreme_threshold"`
	EMAFastPeriod        int     `json:"ema_fast_period"`
	EMASlowPeriod        int     `json:"ema_slow_period"`
	ADXPeriod            int     `json:"adx_period"`
	ADXThreshold         float64 `json:"adx_threshold"`
	BreakoutATRMultiple  float64 `json:"breakout_atr_multiple"`
	StopATRMultiple      float64 `json:"stop_atr_multiple"`
	TargetATRMultiple    float64 `json:"target_atr_multiple"`
	TrailingActivation   float64 `json:"trailing_activation_atr"`
	TrailingATRMultiple  float64 `json:"trailing_atr_multiple"`
	MinBarsBetweenTrades int     `json:"min_bars_between_trades"`
}

type RiskConfig struct {
	RiskPerTrade          float64 `json:"risk_per_trade"`
	MinRiskPerTrade       float64 `json:"min_risk_per_trade"`
	MaxRiskPerTrade       float64 `json:"max_risk_per_trade"`
	MaxPositionPct        float64 `json:"max_position_pct"`
	MaxPositions          int     `json:"max_positions"`
	MaxPortfolioHeat      float64 `json:"max_portfolio_heat"`
	DrawdownWarning       float64 `json:"drawdown_warning"`
	DrawdownCritical      float64 `json:"drawdown_critical"`
	MaxDrawdown           float64 `json:"max_drawdown"`
	WarningMultiplier     float64 `json:"drawdown_warning_multiplier"`
	CriticalMultiplier    float64 `json:"drawdown_critical_multiplier"`
	ConsecutiveLossLimit  int     `json:"consecutive_loss_limit"`
	LossThrottleThreshold int     `json:"loss_throttle_threshold"`
	LossReduction         float64 `json:"loss_reduction"`
	WinStreakReset        int     `json:"win_streak_reset"`
	DailyLossLimit        float64 `json:"daily_loss_limit"`
	DailyTradeLimit       int     `json:"daily_trade_limit"`
}

type FeeConfig struct {
	TakerFee        float64 `json:"taker_fee"`
	AssumedSlippage float64 `json:"assumed_slippage"`
	TaxRate         float64 `json:"tax_rate"`
}

// StoreConfig selects the durable backend. Backend is "sqlite" or "postgres";
// PostgresURL is only read for the postgres backend.
type StoreConfig struct {
	Backend     string `json:"backend"`
	StateDir    string `json:"state_dir"`
	PostgresURL string `json:"postgres_url"`
	AutoBackup  bool   `json:"auto_backup"`
}

type FeedConfig struct {
	WebsocketURL string `json:"websocket_url"`
	CSVDir       string `json:"csv_dir"`
	MaxCandles   int    `json:"max_candles"`
}

type ServerConfig struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
	MetricsEnabled bool   `json:"metrics_enabled"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    string `json:"file"`
}

// Load reads the JSON config file, then applies environment overrides.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.TradingConfig.PaperMode = getEnvOrDefault("PAPER_MODE", boolStr(cfg.TradingConfig.PaperMode)) == "true"
	cfg.TradingConfig.CycleIntervalSec = getEnvIntOrDefault("CYCLE_INTERVAL_SEC", cfg.TradingConfig.CycleIntervalSec)

	cfg.StoreConfig.Backend = getEnvOrDefault("STORE_BACKEND", cfg.StoreConfig.Backend)
	cfg.StoreConfig.StateDir = getEnvOrDefault("STATE_DIR", cfg.StoreConfig.StateDir)
	cfg.StoreConfig.PostgresURL = getEnvOrDefault("POSTGRES_URL", cfg.StoreConfig.PostgresURL)

	cfg.FeedConfig.WebsocketURL = getEnvOrDefault("FEED_WS_URL", cfg.FeedConfig.WebsocketURL)

	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.File = getEnvOrDefault("LOG_FILE", cfg.LoggingConfig.File)
}

// applyDefaults fills optional fields only. Required strategy and risk
// parameters are left untouched so Validate can reject their absence.
func applyDefaults(cfg *Config) {
	if cfg.TradingConfig.Timeframe == "" {
		cfg.TradingConfig.Timeframe = "1h"
	}
	if cfg.TradingConfig.CycleIntervalSec == 0 {
		cfg.TradingConfig.CycleIntervalSec = 60
	}
	if cfg.StrategyConfig.Name == "" {
		cfg.StrategyConfig.Name = "volatility_regime"
	}
	if cfg.StrategyConfig.ATRPeriod == 0 {
		cfg.StrategyConfig.ATRPeriod = 14
	}
	if cfg.StrategyConfig.Lookback == 0 {
		cfg.StrategyConfig.Lookback = 20
	}
	if cfg.StrategyConfig.EMAFastPeriod == 0 {
		cfg.StrategyConfig.EMAFastPeriod = 9
	}
	if cfg.StrategyConfig.EMASlowPeriod == 0 {
		cfg.StrategyConfig.EMASlowPeriod = 21
	}
	if cfg.StrategyConfig.ADXPeriod == 0 {
		cfg.StrategyConfig.ADXPeriod = 14
	}
	if cfg.StrategyConfig.BreakoutATRMultiple == 0 {
		cfg.StrategyConfig.BreakoutATRMultiple = 0.5
	}
	if cfg.StrategyConfig.MinBarsBetweenTrades == 0 {
		cfg.StrategyConfig.MinBarsBetweenTrades = 2
	}
	if cfg.RiskConfig.MinRiskPerTrade == 0 {
		cfg.RiskConfig.MinRiskPerTrade = 0.005
	}
	if cfg.RiskConfig.MaxRiskPerTrade == 0 {
		cfg.RiskConfig.MaxRiskPerTrade = 0.04
	}
	if cfg.RiskConfig.DrawdownWarning == 0 {
		cfg.RiskConfig.DrawdownWarning = 0.10
	}
	if cfg.RiskConfig.DrawdownCritical == 0 {
		cfg.RiskConfig.DrawdownCritical = 0.15
	}
	if cfg.RiskConfig.WarningMultiplier == 0 {
		cfg.RiskConfig.WarningMultiplier = 0.5
	}
	if cfg.RiskConfig.CriticalMultiplier == 0 {
		cfg.RiskConfig.CriticalMultiplier = 0.25
	}
	if cfg.RiskConfig.ConsecutiveLossLimit == 0 {
		cfg.RiskConfig.ConsecutiveLossLimit = 5
	}
	if cfg.RiskConfig.LossThrottleThreshold == 0 {
		cfg.RiskConfig.LossThrottleThreshold = 3
	}
	if cfg.RiskConfig.LossReduction == 0 {
		cfg.RiskConfig.LossReduction = 0.25
	}
	if cfg.RiskConfig.WinStreakReset == 0 {
		cfg.RiskConfig.WinStreakReset = 2
	}
	if cfg.FeeConfig.TaxRate == 0 {
		cfg.FeeConfig.TaxRate = 0.30
	}
	if cfg.StoreConfig.Backend == "" {
		cfg.StoreConfig.Backend = "sqlite"
	}
	if cfg.StoreConfig.StateDir == "" {
		cfg.StoreConfig.StateDir = "state"
	}
	if cfg.FeedConfig.MaxCandles == 0 {
		cfg.FeedConfig.MaxCandles = 500
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
}

// requiredParam pairs a parameter name with a presence check.
type requiredParam struct {
	name string
	ok   func(*Config) bool
}

var requiredParams = []requiredParam{
	{"trading.symbols", func(c *Config) bool { return len(c.TradingConfig.Symbols) > 0 }},
	{"trading.initial_capital", func(c *Config) bool { return c.TradingConfig.InitialCapital > 0 }},
	{"strategy.compression_threshold", func(c *Config) bool { return c.StrategyConfig.CompressionThreshold > 0 }},
	{"strategy.expansion_threshold", func(c *Config) bool { return c.StrategyConfig.ExpansionThreshold > 0 }},
	{"strategy.extreme_threshold", func(c *Config) bool { return c.StrategyConfig.ExtremeThreshold > 0 }},
	{"strategy.adx_threshold", func(c *Config) bool { return c.StrategyConfig.ADXThreshold > 0 }},
	{"strategy.stop_atr_multiple", func(c *Config) bool { return c.StrategyConfig.StopATRMultiple > 0 }},
	{"strategy.target_atr_multiple", func(c *Config) bool { return c.StrategyConfig.TargetATRMultiple > 0 }},
	{"strategy.trailing_activation_atr", func(c *Config) bool { return c.StrategyConfig.TrailingActivation > 0 }},
	{"strategy.trailing_atr_multiple", func(c *Config) bool { return c.StrategyConfig.TrailingATRMultiple > 0 }},
	{"risk.risk_per_trade", func(c *Config) bool { return c.RiskConfig.RiskPerTrade > 0 }},
	{"risk.max_position_pct", func(c *Config) bool { return c.RiskConfig.MaxPositionPct > 0 }},
	{"risk.max_positions", func(c *Config) bool { return c.RiskConfig.MaxPositions > 0 }},
	{"risk.max_portfolio_heat", func(c *Config) bool { return c.RiskConfig.MaxPortfolioHeat > 0 }},
	{"risk.max_drawdown", func(c *Config) bool { return c.RiskConfig.MaxDrawdown > 0 }},
}

// Validate reports every missing required parameter and every out-of-range
// value in one pass. A non-nil error must abort startup.
func (c *Config) Validate() error {
	var missing []string
	for _, p := range requiredParams {
		if !p.ok(c) {
			missing = append(missing, p.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config parameters: %s", strings.Join(missing, ", "))
	}

	var bad []string
	s := c.StrategyConfig
	if !(s.CompressionThreshold < s.ExpansionThreshold && s.ExpansionThreshold < s.ExtremeThreshold) {
		bad = append(bad, "regime thresholds must satisfy compression < expansion < extreme")
	}
	if s.EMAFastPeriod >= s.EMASlowPeriod {
		bad = append(bad, "ema_fast_period must be below ema_slow_period")
	}
	r := c.RiskConfig
	if r.RiskPerTrade < r.MinRiskPerTrade || r.RiskPerTrade > r.MaxRiskPerTrade {
		bad = append(bad, fmt.Sprintf("risk_per_trade %.4f outside [%.4f, %.4f]", r.RiskPerTrade, r.MinRiskPerTrade, r.MaxRiskPerTrade))
	}
	if r.MaxPositionPct <= 0 || r.MaxPositionPct > 1 {
		bad = append(bad, "max_position_pct must be in (0, 1]")
	}
	if r.MaxPortfolioHeat <= 0 || r.MaxPortfolioHeat > 1 {
		bad = append(bad, "max_portfolio_heat must be in (0, 1]")
	}
	if !(r.DrawdownWarning < r.DrawdownCritical && r.DrawdownCritical < r.MaxDrawdown) {
		bad = append(bad, "drawdown thresholds must satisfy warning < critical < max")
	}
	if c.StoreConfig.Backend != "sqlite" && c.StoreConfig.Backend != "postgres" {
		bad = append(bad, fmt.Sprintf("unknown store backend %q", c.StoreConfig.Backend))
	}
	if c.StoreConfig.Backend == "postgres" && c.StoreConfig.PostgresURL == "" {
		bad = append(bad, "postgres backend requires store.postgres_url")
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(bad, "; "))
	}
	return nil
}

// Hash returns a fingerprint of the marshalled config. Stored on every
// checkpoint so recovery can detect a parameter change between sessions.
func (c *Config) Hash() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

// GenerateSample writes a complete example config to the given path.
func GenerateSample(path string) error {
	sample := Config{
		TradingConfig: TradingConfig{
			Symbols:          []string{"BTCUSDT", "ETHUSDT"},
			Timeframe:        "1h",
			InitialCapital:   100000,
			CycleIntervalSec: 60,
			PaperMode:        true,
		},
		StrategyConfig: StrategyConfig{
			Name:                 "volatility_regime",
			ATRPeriod:            14,
			Lookback:             20,
			CompressionThreshold: 0.6,
			ExpansionThreshold:   1.4,
			ExtremeThreshold:     2.0,
			EMAFastPeriod:        9,
			EMASlowPeriod:        21,
			ADXPeriod:            14,
			ADXThreshold:         20,
			BreakoutATRMultiple:  0.5,
			StopATRMultiple:      2.0,
			TargetATRMultiple:    4.0,
			TrailingActivation:   1.5,
			TrailingATRMultiple:  1.5,
			MinBarsBetweenTrades: 2,
		},
		RiskConfig: RiskConfig{
			RiskPerTrade:          0.02,
			MinRiskPerTrade:       0.005,
			MaxRiskPerTrade:       0.04,
			MaxPositionPct:        0.30,
			MaxPositions:          3,
			MaxPortfolioHeat:      0.06,
			DrawdownWarning:       0.10,
			DrawdownCritical:      0.15,
			MaxDrawdown:           0.20,
			WarningMultiplier:     0.5,
			CriticalMultiplier:    0.25,
			ConsecutiveLossLimit:  5,
			LossThrottleThreshold: 3,
			LossReduction:         0.25,
			WinStreakReset:        2,
			DailyLossLimit:        0.05,
			DailyTradeLimit:       10,
		},
		FeeConfig: FeeConfig{
			TakerFee:        0.001,
			AssumedSlippage: 0.0005,
			TaxRate:         0.30,
		},
		StoreConfig: StoreConfig{
			Backend:    "sqlite",
			StateDir:   "state",
			AutoBackup: true,
		},
		ServerConfig: ServerConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: "*",
			MetricsEnabled: true,
		},
		LoggingConfig: LoggingConfig{Level: "info", Console: true},
	}
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volatility-trading-bot/config"
	"volatility-trading-bot/internal/logging"
	"volatility-trading-bot/internal/market"
)

func strategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
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
	}
}

// trendingCandles produces a steadily rising series with constant range.
func trendingCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := range out {
		out[i] = market.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     price,
			High:     price + 1.5,
			Low:      price - 0.5,
			Close:    price + 1,
			Volume:   1000,
		}
		price += 1
	}
	return out
}

func TestEvaluateRequiresMinBars(t *testing.T) {
	v := NewVolatilityRegime(strategyConfig())
	_, err := v.Evaluate("BTCUSDT", trendingCandles(v.MinBars()-1))
	assert.Error(t, err)
}

func TestEvaluateProducesMeasurements(t *testing.T) {
	v := NewVolatilityRegime(strategyConfig())
	candles := trendingCandles(v.MinBars() + 10)

	in, err := v.Evaluate("BTCUSDT", candles)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", in.Symbol)
	assert.Equal(t, candles[len(candles)-1].Close, in.Close)
	assert.Equal(t, candles[len(candles)-2].Close, in.PrevClose)
	assert.Greater(t, in.ATR, 0.0)
	assert.GreaterOrEqual(t, in.RecentHigh, in.PrevRecentHigh)
	// Steady uptrend: fast EMA leads slow, ADX is strong.
	assert.Greater(t, in.EMAFast, in.EMASlow)
	assert.Greater(t, in.ADX, 20.0)
}

func TestMinBarsCoversAllWindows(t *testing.T) {
	cfg := strategyConfig()
	v := NewVolatilityRegime(cfg)
	// ATR warmup plus regime lookback dominates with these parameters.
	assert.Equal(t, cfg.ATRPeriod+cfg.Lookback+1, v.MinBars())
}

func TestRegistryCreateAndErrors(t *testing.T) {
	r := DefaultRegistry()

	s, err := r.Create("volatility_regime", strategyConfig())
	require.NoError(t, err)
	assert.Equal(t, "volatility_regime", s.Name())

	_, err = r.Create("momentum", strategyConfig())
	assert.Error(t, err)

	err = r.Register("volatility_regime", func(cfg config.StrategyConfig) (SignalSource, error) {
		return NewVolatilityRegime(cfg), nil
	})
	assert.Error(t, err)
}

func TestLiveDecoratorDelegates(t *testing.T) {
	base := NewVolatilityRegime(strategyConfig())
	d := NewLiveDecorator(base, logging.Nop())

	assert.Equal(t, base.Name(), d.Name())
	assert.Equal(t, base.MinBars(), d.MinBars())

	candles := trendingCandles(base.MinBars() + 5)
	want, err := base.Evaluate("BTCUSDT", candles)
	require.NoError(t, err)
	got, err := d.Evaluate("BTCUSDT", candles)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

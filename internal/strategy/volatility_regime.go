package strategy

import (
	"fmt"

	"volatility-trading-bot/config"
	"volatility-trading-bot/internal/indicators"
	"volatility-trading-bot/internal/market"
	"volatility-trading-bot/internal/regime"
	"volatility-trading-bot/internal/signal"
)

// VolatilityRegime is the breakout strategy gated by volatility regime:
// ATR-relative regime classification, EMA trend filter, ADX strength filter,
// and a fresh breakout over the recent high adjusted by an ATR multiple.
type VolatilityRegime struct {
	cfg        config.StrategyConfig
	classifier *regime.Classifier
}

func NewVolatilityRegime(cfg config.StrategyConfig) *VolatilityRegime {
	return &VolatilityRegime{
		cfg: cfg,
		classifier: regime.NewClassifier(regime.Thresholds{
			Compression: cfg.CompressionThreshold,
			Expansion:   cfg.ExpansionThreshold,
			Extreme:     cfg.ExtremeThreshold,
		}, cfg.Lookback),
	}
}

func (v *VolatilityRegime) Name() string { return v.cfg.Name }

func (v *VolatilityRegime) MinBars() int {
	min := v.cfg.ATRPeriod + v.cfg.Lookback + 1
	if adx := 2*v.cfg.ADXPeriod + 1; adx > min {
		min = adx
	}
	if v.cfg.EMASlowPeriod+1 > min {
		min = v.cfg.EMASlowPeriod + 1
	}
	return min
}

func (v *VolatilityRegime) Evaluate(symbol string, candles []market.Candle) (signal.Inputs, error) {
	if len(candles) < v.MinBars() {
		return signal.Inputs{}, fmt.Errorf("need %d candles for %s, have %d", v.MinBars(), symbol, len(candles))
	}

	atrSeries := indicators.ATRSeries(candles, v.cfg.ATRPeriod)
	tag, score := v.classifier.Classify(atrSeries)

	prev := candles[:len(candles)-1]
	in := signal.Inputs{
		Symbol:         symbol,
		Close:          candles[len(candles)-1].Close,
		PrevClose:      candles[len(candles)-2].Close,
		ATR:            atrSeries[len(atrSeries)-1],
		Regime:         tag,
		RegimeScore:    score,
		EMAFast:        indicators.EMA(candles, v.cfg.EMAFastPeriod),
		EMASlow:        indicators.EMA(candles, v.cfg.EMASlowPeriod),
		ADX:            indicators.ADX(candles, v.cfg.ADXPeriod),
		RecentHigh:     indicators.HighestHigh(candles, v.cfg.Lookback),
		PrevRecentHigh: indicators.HighestHigh(prev, v.cfg.Lookback),
	}
	return in, nil
}

package strategy

import (
	"github.com/rs/zerolog"

	"volatility-trading-bot/internal/market"
	"volatility-trading-bot/internal/signal"
)

// LiveDecorator wraps a SignalSource with execution-time logging so the
// base strategy stays free of side effects. Composition replaces the
// subclassing a live layer would otherwise need.
type LiveDecorator struct {
	inner  SignalSource
	logger zerolog.Logger
}

func NewLiveDecorator(inner SignalSource, logger zerolog.Logger) *LiveDecorator {
	return &LiveDecorator{
		inner:  inner,
		logger: logger.With().Str("component", "Strategy").Str("strategy", inner.Name()).Logger(),
	}
}

func (d *LiveDecorator) Name() string { return d.inner.Name() }

func (d *LiveDecorator) MinBars() int { return d.inner.MinBars() }

func (d *LiveDecorator) Evaluate(symbol string, candles []market.Candle) (signal.Inputs, error) {
	in, err := d.inner.Evaluate(symbol, candles)
	if err != nil {
		d.logger.Debug().Err(err).Str("symbol", symbol).Msg("Evaluation skipped")
		return in, err
	}
	d.logger.Debug().
		Str("symbol", symbol).
		Str("regime", string(in.Regime)).
		Float64("atr", in.ATR).
		Float64("adx", in.ADX).
		Float64("close", in.Close).
		Msg("Cycle measurements")
	return in, nil
}

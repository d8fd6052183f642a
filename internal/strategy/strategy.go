// Package strategy turns raw candle history into the per-cycle measurements
// the signal engine consumes. Strategy variants implement SignalSource;
// the composition root picks one through the Registry and may wrap it in
// LiveDecorator for execution-time logging.
package strategy

import (
	"volatility-trading-bot/internal/market"
	"volatility-trading-bot/internal/signal"
)

// SignalSource computes signal-engine inputs for one symbol from candle
// history. Implementations are pure with respect to portfolio state.
type SignalSource interface {
	Name() string
	// MinBars is the history length required before Evaluate produces
	// meaningful output; symbols with less are skipped for the cycle.
	MinBars() int
	// Evaluate computes the cycle's measurements. BarIndex is left for the
	// caller to fill from its own cycle counter.
	Evaluate(symbol string, candles []market.Candle) (signal.Inputs, error)
}

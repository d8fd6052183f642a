// Package market supplies OHLCV candle history to the trading cycle.
// Providers return candles ordered oldest to newest; callers that need a
// minimum history length skip the symbol for the cycle when fewer are
// available.
package market

import (
	"context"
	"time"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Provider supplies candle history per symbol. Implementations are the only
// part of the cycle allowed to block on I/O.
type Provider interface {
	// Candles returns up to limit most recent candles for the symbol,
	// ordered oldest to newest.
	Candles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}

// Closes extracts the close series from a candle slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

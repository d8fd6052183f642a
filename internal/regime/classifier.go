// Package regime classifies current volatility against its recent average.
package regime

// Regime tags the prevailing volatility environment.
type Regime string

const (
	Compression Regime = "compression"
	Normal      Regime = "normal"
	Expansion   Regime = "expansion"
	Extreme     Regime = "extreme"
)

// Sizing scores per regime. Compression carries the highest conviction for
// breakout entries; Extreme is defensive.
const (
	scoreCompression = 1.5
	scoreNormal      = 1.0
	scoreExpansion   = 0.8
	scoreExtreme     = 0.5
)

// Thresholds on the ratio of current ATR to its trailing mean.
type Thresholds struct {
	Compression float64
	Expansion   float64
	Extreme     float64
}

// Classifier is a pure function over an ATR window; it keeps no state.
type Classifier struct {
	thresholds Thresholds
	lookback   int
}

func NewClassifier(thresholds Thresholds, lookback int) *Classifier {
	return &Classifier{thresholds: thresholds, lookback: lookback}
}

// Classify maps the trailing ATR series to a regime and sizing score.
// The last element is the current ATR; the mean is taken over the lookback
// window ending at the current bar. Before the window fills, or when the
// mean is zero, it returns Normal with score 1 so warmup never blocks the
// cycle.
func (c *Classifier) Classify(atrSeries []float64) (Regime, float64) {
	if len(atrSeries) < c.lookback || c.lookback == 0 {
		return Normal, scoreNormal
	}

	window := atrSeries[len(atrSeries)-c.lookback:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(c.lookback)
	if mean <= 0 {
		return Normal, scoreNormal
	}

	ratio := atrSeries[len(atrSeries)-1] / mean
	switch {
	case ratio < c.thresholds.Compression:
		return Compression, scoreCompression
	case ratio > c.thresholds.Extreme:
		return Extreme, scoreExtreme
	case ratio > c.thresholds.Expansion:
		return Expansion, scoreExpansion
	default:
		return Normal, scoreNormal
	}
}

// Score returns the sizing score for a regime tag.
func Score(r Regime) float64 {
	switch r {
	case Compression:
		return scoreCompression
	case Expansion:
		return scoreExpansion
	case Extreme:
		return scoreExtreme
	default:
		return scoreNormal
	}
}

// Tradeable reports whether new entries are permitted in this regime.
// Expansion and Extreme volatility block fresh breakout entries.
func Tradeable(r Regime) bool {
	return r == Compression || r == Normal
}

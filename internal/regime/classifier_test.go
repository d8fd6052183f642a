package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func flatSeries(val float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = val
	}
	return out
}

func TestClassifyRegimes(t *testing.T) {
	c := NewClassifier(Thresholds{Compression: 0.6, Expansion: 1.4, Extreme: 2.0}, 20)

	tests := []struct {
		name      string
		series    []float64
		wantTag   Regime
		wantScore float64
	}{
		{
			name:      "compression when current atr well below mean",
			series:    append(flatSeries(2.0, 19), 0.5),
			wantTag:   Compression,
			wantScore: 1.5,
		},
		{
			name:      "normal when ratio near one",
			series:    flatSeries(2.0, 20),
			wantTag:   Normal,
			wantScore: 1.0,
		},
		{
			name:      "expansion when current atr elevated",
			series:    append(flatSeries(1.0, 19), 1.6),
			wantTag:   Expansion,
			wantScore: 0.8,
		},
		{
			name:      "extreme when current atr far above mean",
			series:    append(flatSeries(1.0, 19), 4.0),
			wantTag:   Extreme,
			wantScore: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, score := c.Classify(tt.series)
			assert.Equal(t, tt.wantTag, tag)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestClassifyBeforeWarmup(t *testing.T) {
	c := NewClassifier(Thresholds{Compression: 0.6, Expansion: 1.4, Extreme: 2.0}, 20)

	tag, score := c.Classify(flatSeries(1.0, 5))
	assert.Equal(t, Normal, tag)
	assert.Equal(t, 1.0, score)

	tag, score = c.Classify(nil)
	assert.Equal(t, Normal, tag)
	assert.Equal(t, 1.0, score)
}

func TestClassifyZeroMean(t *testing.T) {
	c := NewClassifier(Thresholds{Compression: 0.6, Expansion: 1.4, Extreme: 2.0}, 20)

	tag, score := c.Classify(flatSeries(0, 20))
	assert.Equal(t, Normal, tag)
	assert.Equal(t, 1.0, score)
}

func TestTradeable(t *testing.T) {
	assert.True(t, Tradeable(Compression))
	assert.True(t, Tradeable(Normal))
	assert.False(t, Tradeable(Expansion))
	assert.False(t, Tradeable(Extreme))
}

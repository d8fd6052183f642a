package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volatility-trading-bot/internal/market"
)

func flatCandles(n int, price, rng float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Open:  price,
			High:  price + rng/2,
			Low:   price - rng/2,
			Close: price,
		}
	}
	return out
}

func TestEMAConstantSeries(t *testing.T) {
	candles := flatCandles(30, 100, 1)
	assert.InDelta(t, 100, EMA(candles, 9), 1e-9)
}

func TestEMAFollowsTrend(t *testing.T) {
	candles := make([]market.Candle, 50)
	for i := range candles {
		c := 100 + float64(i)
		candles[i] = market.Candle{Open: c, High: c + 1, Low: c - 1, Close: c}
	}

	fast := EMA(candles, 5)
	slow := EMA(candles, 20)
	assert.Greater(t, fast, slow)
	assert.Less(t, fast, candles[len(candles)-1].Close)
}

func TestEMAInsufficientHistory(t *testing.T) {
	assert.Zero(t, EMA(flatCandles(5, 100, 1), 9))
	assert.Zero(t, EMA(nil, 9))
}

func TestATRConstantRange(t *testing.T) {
	// Identical bars with a fixed high-low spread settle the ATR at that
	// spread exactly.
	candles := flatCandles(40, 100, 3)
	assert.InDelta(t, 3, ATR(candles, 14), 1e-9)
}

func TestATRSeriesLength(t *testing.T) {
	candles := flatCandles(40, 100, 3)
	series := ATRSeries(candles, 14)
	require.Len(t, series, len(candles)-1-14+1)

	assert.Nil(t, ATRSeries(flatCandles(14, 100, 3), 14))
}

func TestATRGapExpandsRange(t *testing.T) {
	candles := flatCandles(30, 100, 2)
	// Gap the final bar well above the prior close.
	candles[29] = market.Candle{Open: 110, High: 111, Low: 109, Close: 110}

	gapped := ATR(candles, 14)
	assert.Greater(t, gapped, 2.0)
}

func TestADXStrongTrendReadsHigh(t *testing.T) {
	candles := make([]market.Candle, 60)
	for i := range candles {
		c := 100 + 2*float64(i)
		candles[i] = market.Candle{Open: c, High: c + 1, Low: c - 1, Close: c}
	}

	adx := ADX(candles, 14)
	assert.Greater(t, adx, 25.0)
}

func TestADXFlatMarketReadsLow(t *testing.T) {
	candles := make([]market.Candle, 60)
	for i := range candles {
		c := 100.0
		if i%2 == 0 {
			c = 100.5
		}
		candles[i] = market.Candle{Open: c, High: c + 1, Low: c - 1, Close: c}
	}

	adx := ADX(candles, 14)
	assert.Less(t, adx, 25.0)
}

func TestADXInsufficientHistory(t *testing.T) {
	assert.Zero(t, ADX(flatCandles(20, 100, 1), 14))
}

func TestHighestHighExcludesCurrentBar(t *testing.T) {
	candles := flatCandles(10, 100, 2)
	candles[9].High = 200

	// The spike on the final bar must not count toward the breakout level.
	assert.InDelta(t, 101, HighestHigh(candles, 5), 1e-9)

	candles[7].High = 150
	assert.InDelta(t, 150, HighestHigh(candles, 5), 1e-9)
}

func TestMean(t *testing.T) {
	assert.InDelta(t, 2, Mean([]float64{1, 2, 3}), 1e-9)
	assert.Zero(t, Mean(nil))
}

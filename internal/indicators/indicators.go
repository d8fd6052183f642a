// Package indicators holds the pure numeric kernels consumed by the signal
// engine. All functions take candles ordered oldest to newest and return 0
// (or an empty series) when the window is not yet filled.
package indicators

import (
	"math"

	"volatility-trading-bot/internal/market"
)

// EMA returns the exponential moving average of closes over the period,
// seeded with an SMA of the first period values.
func EMA(candles []market.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += candles[i].Close
	}
	ema := sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close-ema)*multiplier + ema
	}
	return ema
}

// TrueRange of bar i against the prior close.
func trueRange(cur, prev market.Candle) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR returns the current average true range using Wilder smoothing.
func ATR(candles []market.Candle, period int) float64 {
	series := ATRSeries(candles, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// ATRSeries returns one ATR value per candle from index period onward.
// The first value is an SMA of true ranges; subsequent values use Wilder
// smoothing: atr = (prev*(period-1) + tr) / period.
func ATRSeries(candles []market.Candle, period int) []float64 {
	if period <= 0 || len(candles) <= period {
		return nil
	}

	trs := make([]float64, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs[i-1] = trueRange(candles[i], candles[i-1])
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += trs[i]
	}
	atr := sum / float64(period)

	out := make([]float64, 0, len(trs)-period+1)
	out = append(out, atr)
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
		out = append(out, atr)
	}
	return out
}

// ADX returns the average directional index over the period, Wilder smoothed.
// Needs at least 2*period+1 candles; returns 0 before that.
func ADX(candles []market.Candle, period int) float64 {
	if period <= 0 || len(candles) < 2*period+1 {
		return 0
	}

	n := len(candles) - 1
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	trs := make([]float64, n)
	for i := 1; i < len(candles); i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
		trs[i-1] = trueRange(candles[i], candles[i-1])
	}

	smooth := func(vals []float64) []float64 {
		out := make([]float64, 0, len(vals)-period+1)
		sum := 0.0
		for i := 0; i < period; i++ {
			sum += vals[i]
		}
		out = append(out, sum)
		for i := period; i < len(vals); i++ {
			sum = sum - sum/float64(period) + vals[i]
			out = append(out, sum)
		}
		return out
	}

	sTR := smooth(trs)
	sPlus := smooth(plusDM)
	sMinus := smooth(minusDM)

	dxs := make([]float64, 0, len(sTR))
	for i := range sTR {
		if sTR[i] == 0 {
			dxs = append(dxs, 0)
			continue
		}
		pdi := 100 * sPlus[i] / sTR[i]
		mdi := 100 * sMinus[i] / sTR[i]
		if pdi+mdi == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, 100*math.Abs(pdi-mdi)/(pdi+mdi))
	}
	if len(dxs) < period {
		return 0
	}

	adx := 0.0
	for i := 0; i < period; i++ {
		adx += dxs[i]
	}
	adx /= float64(period)
	for i := period; i < len(dxs); i++ {
		adx = (adx*float64(period-1) + dxs[i]) / float64(period)
	}
	return adx
}

// HighestHigh over the last n candles, excluding the final bar so a breakout
// compares the current close against the prior extreme.
func HighestHigh(candles []market.Candle, n int) float64 {
	if len(candles) < 2 {
		return 0
	}
	end := len(candles) - 1
	start := end - n
	if start < 0 {
		start = 0
	}
	high := candles[start].High
	for _, c := range candles[start:end] {
		if c.High > high {
			high = c.High
		}
	}
	return high
}

// Mean of a float series; 0 for an empty slice.
func Mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

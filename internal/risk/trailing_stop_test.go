package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volatility-trading-bot/internal/logging"
)

func TestTrailingStopActivationAndRatchet(t *testing.T) {
	ts := NewTrailingStopController(1.5, 1.5, logging.Nop())
	ts.Track("BTCUSDT", 100, 95)

	// Below activation: 2 ATR profit needed is 3; price 102 gives 1 ATR.
	assert.Nil(t, ts.Update("BTCUSDT", 102, 2))
	stop, ok := ts.StopPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 95.0, stop)
	assert.False(t, ts.Armed("BTCUSDT"))

	// Price 103: profit 3 = 1.5 ATR, arms; candidate 103 - 3 = 100.
	update := ts.Update("BTCUSDT", 103, 2)
	require.NotNil(t, update)
	assert.Equal(t, 95.0, update.OldStop)
	assert.Equal(t, 100.0, update.NewStop)
	assert.True(t, ts.Armed("BTCUSDT"))

	// Retrace to 101: candidate 98 would loosen the stop, so no update.
	assert.Nil(t, ts.Update("BTCUSDT", 101, 2))
	stop, _ = ts.StopPrice("BTCUSDT")
	assert.Equal(t, 100.0, stop)
}

func TestTrailingStopMonotonicUnderOscillation(t *testing.T) {
	ts := NewTrailingStopController(1.0, 1.0, logging.Nop())
	ts.Track("ETHUSDT", 100, 90)

	prices := []float64{105, 101, 108, 99, 112, 104, 112, 120, 110}
	prev := 90.0
	for _, p := range prices {
		ts.Update("ETHUSDT", p, 2)
		stop, ok := ts.StopPrice("ETHUSDT")
		require.True(t, ok)
		assert.GreaterOrEqual(t, stop, prev, "stop loosened at price %v", p)
		prev = stop
	}
}

func TestTrailingStopUntrack(t *testing.T) {
	ts := NewTrailingStopController(1.0, 1.0, logging.Nop())
	ts.Track("BTCUSDT", 100, 95)
	ts.Untrack("BTCUSDT")

	assert.Nil(t, ts.Update("BTCUSDT", 200, 2))
	_, ok := ts.StopPrice("BTCUSDT")
	assert.False(t, ok)
}

func TestTrailingStopIgnoresZeroATR(t *testing.T) {
	ts := NewTrailingStopController(1.0, 1.0, logging.Nop())
	ts.Track("BTCUSDT", 100, 95)
	assert.Nil(t, ts.Update("BTCUSDT", 150, 0))
	assert.False(t, ts.Armed("BTCUSDT"))
}

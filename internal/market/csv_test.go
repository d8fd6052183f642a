package market

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCandleFile(t *testing.T, dir, symbol string, bars int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume\n")
	for i := 0; i < bars; i++ {
		price := 100 + float64(i)
		fmt.Fprintf(&b, "%d,%.1f,%.1f,%.1f,%.1f,10\n",
			1700000000+int64(i)*3600, price, price+1, price-1, price+0.5)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0o644))
}

func TestReplayAdvancesOneBarPerCall(t *testing.T) {
	dir := t.TempDir()
	writeCandleFile(t, dir, "BTCUSDT", 10)
	p := NewCSVProvider(dir, 5)
	ctx := context.Background()

	first, err := p.Candles(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Len(t, first, 5)

	second, err := p.Candles(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Len(t, second, 6)
	assert.InDelta(t, first[4].Close, second[4].Close, 1e-9)
}

func TestReplayHonorsLimit(t *testing.T) {
	dir := t.TempDir()
	writeCandleFile(t, dir, "BTCUSDT", 10)
	p := NewCSVProvider(dir, 8)

	candles, err := p.Candles(context.Background(), "BTCUSDT", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	// The newest bars of the visible window, oldest first.
	assert.InDelta(t, 107.5, candles[2].Close, 1e-9)
}

func TestReplayExhausts(t *testing.T) {
	dir := t.TempDir()
	writeCandleFile(t, dir, "BTCUSDT", 6)
	p := NewCSVProvider(dir, 5)
	ctx := context.Background()

	assert.False(t, p.Exhausted("BTCUSDT"))
	for i := 0; i < 3; i++ {
		_, err := p.Candles(ctx, "BTCUSDT", 0)
		require.NoError(t, err)
	}
	assert.True(t, p.Exhausted("BTCUSDT"))

	// Further calls keep returning the full history.
	candles, err := p.Candles(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Len(t, candles, 6)
}

func TestMissingSymbolFile(t *testing.T) {
	p := NewCSVProvider(t.TempDir(), 5)
	_, err := p.Candles(context.Background(), "NOPE", 0)
	assert.Error(t, err)
}

func TestRejectsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	body := "timestamp,open,high,low,close,volume\nnot-a-time,1,2,3,4,5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BAD.csv"), []byte(body), 0o644))

	p := NewCSVProvider(dir, 5)
	_, err := p.Candles(context.Background(), "BAD", 0)
	assert.Error(t, err)
}

func TestParsesRFC3339Timestamps(t *testing.T) {
	dir := t.TempDir()
	body := "timestamp,open,high,low,close,volume\n2024-01-01T00:00:00Z,1,2,0.5,1.5,10\n2024-01-01T01:00:00Z,1.5,2.5,1,2,10\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ISO.csv"), []byte(body), 0o644))

	p := NewCSVProvider(dir, 2)
	candles, err := p.Candles(context.Background(), "ISO", 0)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 2024, candles[0].OpenTime.Year())
}

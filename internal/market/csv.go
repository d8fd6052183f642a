package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// CSVProvider replays candle history from per-symbol CSV files, advancing one
// bar per call so paper sessions step through history the way a live feed
// would deliver it. File layout: <dir>/<symbol>.csv with header
// timestamp,open,high,low,close,volume.
type CSVProvider struct {
	mu      sync.Mutex
	dir     string
	candles map[string][]Candle
	cursor  map[string]int
	warmup  int
}

// NewCSVProvider loads nothing up front; files are read lazily on first use.
// warmup is how many bars are visible before the first advance.
func NewCSVProvider(dir string, warmup int) *CSVProvider {
	return &CSVProvider{
		dir:     dir,
		candles: make(map[string][]Candle),
		cursor:  make(map[string]int),
		warmup:  warmup,
	}
}

func (p *CSVProvider) Candles(_ context.Context, symbol string, limit int) ([]Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	all, ok := p.candles[symbol]
	if !ok {
		loaded, err := loadCSV(filepath.Join(p.dir, symbol+".csv"))
		if err != nil {
			return nil, err
		}
		p.candles[symbol] = loaded
		p.cursor[symbol] = p.warmup
		all = loaded
	}

	end := p.cursor[symbol]
	if end > len(all) {
		end = len(all)
	}
	if end < len(all) {
		p.cursor[symbol] = end + 1
	}

	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	out := make([]Candle, end-start)
	copy(out, all[start:end])
	return out, nil
}

// Exhausted reports whether the replay has delivered every bar for the symbol.
func (p *CSVProvider) Exhausted(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	all, ok := p.candles[symbol]
	if !ok {
		return false
	}
	return p.cursor[symbol] >= len(all)
}

func loadCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read candle file %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("candle file %s has no data rows", path)
	}

	candles := make([]Candle, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle file %s row %d: expected 6 columns, got %d", path, i+2, len(row))
		}
		c, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("candle file %s row %d: %w", path, i+2, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseRow(row []string) (Candle, error) {
	var c Candle

	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		t, terr := time.Parse(time.RFC3339, row[0])
		if terr != nil {
			return c, fmt.Errorf("bad timestamp %q", row[0])
		}
		c.OpenTime = t
	} else {
		c.OpenTime = time.Unix(ts, 0).UTC()
	}

	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, dst := range fields {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return c, fmt.Errorf("bad numeric field %q", row[i+1])
		}
		*dst = v
	}
	return c, nil
}

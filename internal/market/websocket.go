package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamFeed maintains rolling candle history from an exchange kline
// websocket stream. Only closed candles enter the buffer so indicator
// windows never see a half-formed bar.
type StreamFeed struct {
	mu       sync.RWMutex
	baseURL  string
	interval string
	symbols  []string
	maxBars  int
	buffers  map[string][]Candle

	conn       *websocket.Conn
	stopChan   chan struct{}
	reconnects int
	logger     zerolog.Logger
}

// klineEvent mirrors the combined-stream kline payload.
type klineEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Kline     struct {
			StartTime int64   `json:"t"`
			Open      float64 `json:"o,string"`
			High      float64 `json:"h,string"`
			Low       float64 `json:"l,string"`
			Close     float64 `json:"c,string"`
			Volume    float64 `json:"v,string"`
			Closed    bool    `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func NewStreamFeed(baseURL, interval string, symbols []string, maxBars int, logger zerolog.Logger) *StreamFeed {
	return &StreamFeed{
		baseURL:  baseURL,
		interval: interval,
		symbols:  symbols,
		maxBars:  maxBars,
		buffers:  make(map[string][]Candle),
		stopChan: make(chan struct{}),
		logger:   logger.With().Str("component", "StreamFeed").Logger(),
	}
}

// Start connects and begins consuming in a background goroutine,
// reconnecting with backoff until Stop is called.
func (f *StreamFeed) Start() error {
	if err := f.connect(); err != nil {
		return err
	}
	go f.readLoop()
	return nil
}

func (f *StreamFeed) connect() error {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(s), f.interval))
	}
	url := fmt.Sprintf("%s/stream?streams=%s", f.baseURL, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial candle stream: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	f.logger.Info().Str("url", url).Msg("Candle stream connected")
	return nil
}

func (f *StreamFeed) readLoop() {
	backoff := time.Second
	for {
		select {
		case <-f.stopChan:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopChan:
				return
			default:
			}
			f.reconnects++
			f.logger.Warn().Err(err).Int("reconnects", f.reconnects).Msg("Candle stream read failed, reconnecting")
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			if cerr := f.connect(); cerr != nil {
				f.logger.Error().Err(cerr).Msg("Candle stream reconnect failed")
			} else {
				backoff = time.Second
			}
			continue
		}

		var ev klineEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			f.logger.Debug().Err(err).Msg("Skipping unparseable stream message")
			continue
		}
		if ev.Data.EventType != "kline" || !ev.Data.Kline.Closed {
			continue
		}
		f.append(ev)
	}
}

func (f *StreamFeed) append(ev klineEvent) {
	k := ev.Data.Kline
	candle := Candle{
		OpenTime: time.UnixMilli(k.StartTime).UTC(),
		Open:     k.Open,
		High:     k.High,
		Low:      k.Low,
		Close:    k.Close,
		Volume:   k.Volume,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	buf := f.buffers[ev.Data.Symbol]
	if n := len(buf); n > 0 && buf[n-1].OpenTime.Equal(candle.OpenTime) {
		buf[n-1] = candle
	} else {
		buf = append(buf, candle)
	}
	if len(buf) > f.maxBars {
		buf = buf[len(buf)-f.maxBars:]
	}
	f.buffers[ev.Data.Symbol] = buf
}

// Candles returns a copy of the buffered history for the symbol.
func (f *StreamFeed) Candles(_ context.Context, symbol string, limit int) ([]Candle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	buf := f.buffers[symbol]
	start := 0
	if limit > 0 && len(buf)-limit > 0 {
		start = len(buf) - limit
	}
	out := make([]Candle, len(buf)-start)
	copy(out, buf[start:])
	return out, nil
}

// Seed preloads history for a symbol, typically from a REST backfill, so
// signal evaluation does not wait for the stream to accumulate a window.
func (f *StreamFeed) Seed(symbol string, candles []Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]Candle, len(candles))
	copy(buf, candles)
	f.buffers[symbol] = buf
}

// Stop closes the stream and halts the read loop.
func (f *StreamFeed) Stop() {
	close(f.stopChan)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

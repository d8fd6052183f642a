package risk

import (
	"sync"

	"github.com/rs/zerolog"
)

// TrailingStopController ratchets protective stops for open long positions.
// A stop arms once unrealized profit measured in ATR units crosses the
// activation threshold; after that the stored stop only ever moves up.
type TrailingStopController struct {
	mu sync.RWMutex

	activationATR float64
	trailATR      float64

	positions map[string]*trailingState
	logger    zerolog.Logger
}

type trailingState struct {
	entryPrice float64
	stopPrice  float64
	armed      bool
}

// StopUpdate describes one ratchet step.
type StopUpdate struct {
	Symbol    string
	OldStop   float64
	NewStop   float64
	JustArmed bool
}

func NewTrailingStopController(activationATR, trailATR float64, logger zerolog.Logger) *TrailingStopController {
	return &TrailingStopController{
		activationATR: activationATR,
		trailATR:      trailATR,
		positions:     make(map[string]*trailingState),
		logger:        logger.With().Str("component", "TrailingStop").Logger(),
	}
}

// Track begins monitoring a new position with its initial protective stop.
func (t *TrailingStopController) Track(symbol string, entryPrice, initialStop float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[symbol] = &trailingState{entryPrice: entryPrice, stopPrice: initialStop}
}

// Untrack clears per-symbol state once the position closes.
func (t *TrailingStopController) Untrack(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, symbol)
}

// Update evaluates the trailing rule for one cycle and returns a StopUpdate
// when the stored stop ratcheted, nil otherwise. Runs before exit evaluation
// so a stop hit in the same cycle uses the freshly ratcheted level.
func (t *TrailingStopController) Update(symbol string, price, atr float64) *StopUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.positions[symbol]
	if !ok || atr <= 0 {
		return nil
	}

	justArmed := false
	if !state.armed {
		profitATR := (price - state.entryPrice) / atr
		if profitATR < t.activationATR {
			return nil
		}
		state.armed = true
		justArmed = true
	}

	candidate := price - t.trailATR*atr
	if candidate <= state.stopPrice {
		if justArmed {
			// Armed without a tighter level yet; ratchet waits for a better candidate.
			return &StopUpdate{Symbol: symbol, OldStop: state.stopPrice, NewStop: state.stopPrice, JustArmed: true}
		}
		return nil
	}

	update := &StopUpdate{Symbol: symbol, OldStop: state.stopPrice, NewStop: candidate, JustArmed: justArmed}
	state.stopPrice = candidate
	t.logger.Debug().
		Str("symbol", symbol).
		Float64("old_stop", update.OldStop).
		Float64("new_stop", update.NewStop).
		Msg("Trailing stop ratcheted")
	return update
}

// StopPrice returns the current stop for a tracked symbol.
func (t *TrailingStopController) StopPrice(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.positions[symbol]
	if !ok {
		return 0, false
	}
	return state.stopPrice, true
}

// Armed reports whether the trailing mechanism has activated for a symbol.
func (t *TrailingStopController) Armed(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.positions[symbol]
	return ok && state.armed
}

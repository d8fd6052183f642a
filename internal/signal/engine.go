// Package signal holds the per-instrument state machine that turns market
// inputs into entry and exit decisions. States: Flat, Entering, Open,
// Closing. The engine never touches the market or the store; it only
// decides, and the orchestrator acts.
package signal

import (
	"sync"

	"github.com/rs/zerolog"

	"volatility-trading-bot/config"
	"volatility-trading-bot/internal/regime"
	"volatility-trading-bot/internal/risk"
)

// State of one instrument's position lifecycle.
type State string

const (
	Flat     State = "flat"
	Entering State = "entering"
	Open     State = "open"
	Closing  State = "closing"
)

// ExitReason values, in priority order.
const (
	ExitStop     = "stop"
	ExitTarget   = "target"
	ExitRegime   = "regime"
	ExitTrend    = "trend"
	ExitShutdown = "shutdown"
)

// Inputs are the per-symbol measurements for one cycle. RecentHigh is the
// extreme over the lookback window excluding the current bar; PrevRecentHigh
// is the same level as of the prior bar, used for fresh-cross detection.
type Inputs struct {
	Symbol         string
	Close          float64
	PrevClose      float64
	ATR            float64
	Regime         regime.Regime
	RegimeScore    float64
	EMAFast        float64
	EMASlow        float64
	ADX            float64
	RecentHigh     float64
	PrevRecentHigh float64
	BarIndex       int
}

// EntrySignal is an entry decision awaiting sizing and execution.
type EntrySignal struct {
	Symbol      string
	Price       float64
	Regime      regime.Regime
	RegimeScore float64
	ATR         float64
}

// ExitSignal carries the single recorded exit reason.
type ExitSignal struct {
	Symbol string
	Price  float64
	Reason string
}

// Levels are the protective prices fixed at entry.
type Levels struct {
	Stop   float64
	Target float64
}

// Gate exposes the portfolio-level admission check the engine consults
// before proposing an entry.
type Gate interface {
	CanTrade() (risk.Decision, string)
}

type symbolState struct {
	state        State
	entryPrice   float64
	pendingClose bool
	lastExitBar  int
	hasTraded    bool
}

// Engine is the per-instrument FSM. One Engine serves all symbols.
type Engine struct {
	mu     sync.Mutex
	cfg    config.StrategyConfig
	gate   Gate
	states map[string]*symbolState
	logger zerolog.Logger
}

func NewEngine(cfg config.StrategyConfig, gate Gate, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		gate:   gate,
		states: make(map[string]*symbolState),
		logger: logger.With().Str("component", "SignalEngine").Logger(),
	}
}

func (e *Engine) symbol(symbol string) *symbolState {
	s, ok := e.states[symbol]
	if !ok {
		s = &symbolState{state: Flat}
		e.states[symbol] = s
	}
	return s
}

// State returns the current FSM state for a symbol.
func (e *Engine) State(symbol string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.symbol(symbol).state
}

// EvaluateEntry checks every entry condition for a flat symbol and returns
// an EntrySignal when all pass, or nil with the first failed gate's reason.
func (e *Engine) EvaluateEntry(in Inputs) (*EntrySignal, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.symbol(in.Symbol)
	if s.state != Flat {
		return nil, "position already pending or open"
	}
	if s.hasTraded && in.BarIndex-s.lastExitBar < e.cfg.MinBarsBetweenTrades {
		return nil, "cooling off after recent trade"
	}
	if decision, reason := e.gate.CanTrade(); decision == risk.Block {
		return nil, reason
	}
	if !regime.Tradeable(in.Regime) {
		return nil, "regime blocks entries: " + string(in.Regime)
	}
	if in.EMAFast <= in.EMASlow {
		return nil, "trend filter not confirmed"
	}
	if in.ADX <= e.cfg.ADXThreshold {
		return nil, "trend strength below threshold"
	}
	if in.ATR <= 0 || in.RecentHigh <= 0 {
		return nil, "insufficient volatility data"
	}

	// Breakout must be a fresh cross: the prior bar at or below its level,
	// the current bar above. A level already broken does not re-trigger.
	level := in.RecentHigh - e.cfg.BreakoutATRMultiple*in.ATR
	prevLevel := level
	if in.PrevRecentHigh > 0 {
		prevLevel = in.PrevRecentHigh - e.cfg.BreakoutATRMultiple*in.ATR
	}
	if in.Close <= level {
		return nil, "no breakout"
	}
	if in.PrevClose > prevLevel {
		return nil, "breakout already triggered on prior bar"
	}

	return &EntrySignal{
		Symbol:      in.Symbol,
		Price:       in.Close,
		Regime:      in.Regime,
		RegimeScore: in.RegimeScore,
		ATR:         in.ATR,
	}, ""
}

// MarkEntering moves Flat -> Entering once an order has been submitted.
func (e *Engine) MarkEntering(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.symbol(symbol)
	if s.state == Flat {
		s.state = Entering
	}
}

// ConfirmEntry moves Entering -> Open on a confirmed fill and computes the
// protective levels once, from the fill price. They are never recomputed
// after this point except by the trailing ratchet.
func (e *Engine) ConfirmEntry(symbol string, fillPrice, atr float64) Levels {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.symbol(symbol)
	s.state = Open
	s.entryPrice = fillPrice
	s.pendingClose = false

	return Levels{
		Stop:   fillPrice - e.cfg.StopATRMultiple*atr,
		Target: fillPrice + e.cfg.TargetATRMultiple*atr,
	}
}

// FailEntry returns Entering -> Flat after a rejected order; state is
// exactly as before the request.
func (e *Engine) FailEntry(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.symbol(symbol)
	if s.state == Entering {
		s.state = Flat
	}
}

// EvaluateExit checks the exit conditions for an open position against the
// bar close, in priority order: stop, target, regime, trend. The trend exit
// only fires at or above breakeven; a losing position is left to its stop.
// A pending close suppresses duplicate exits until confirmed or failed.
func (e *Engine) EvaluateExit(in Inputs, stopPrice, targetPrice float64) *ExitSignal {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.symbol(in.Symbol)
	if s.state != Open || s.pendingClose {
		return nil
	}

	var reason string
	switch {
	case in.Close <= stopPrice:
		reason = ExitStop
	case in.Close >= targetPrice:
		reason = ExitTarget
	case in.Regime == regime.Extreme:
		reason = ExitRegime
	case in.Close < in.EMASlow && in.Close >= s.entryPrice:
		reason = ExitTrend
	default:
		return nil
	}

	s.pendingClose = true
	s.state = Closing
	e.logger.Debug().
		Str("symbol", in.Symbol).
		Str("reason", reason).
		Float64("close", in.Close).
		Msg("Exit signal")
	return &ExitSignal{Symbol: in.Symbol, Price: in.Close, Reason: reason}
}

// RequestClose forces Closing for an open position, used by the shutdown
// path. Returns false when the symbol is not open or already closing.
func (e *Engine) RequestClose(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.symbol(symbol)
	if s.state != Open || s.pendingClose {
		return false
	}
	s.pendingClose = true
	s.state = Closing
	return true
}

// ConfirmExit moves Closing -> Flat on a confirmed exit fill and clears all
// per-symbol tracking. The caller emits the TradeRecord.
func (e *Engine) ConfirmExit(symbol string, barIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.symbol(symbol)
	s.state = Flat
	s.entryPrice = 0
	s.pendingClose = false
	s.lastExitBar = barIndex
	s.hasTraded = true
}

// FailExit returns Closing -> Open after a rejected close order.
func (e *Engine) FailExit(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.symbol(symbol)
	if s.state == Closing {
		s.state = Open
		s.pendingClose = false
	}
}

// RestoreOpen seeds the FSM for a position recovered from the store.
func (e *Engine) RestoreOpen(symbol string, entryPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.symbol(symbol)
	s.state = Open
	s.entryPrice = entryPrice
	s.pendingClose = false
}

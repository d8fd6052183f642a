// Package risk implements portfolio-wide admission control and position
// sizing. The Manager is consulted before every entry and updated after
// every exit; it owns drawdown, heat, streak, and daily-limit accounting.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"volatility-trading-bot/config"
)

// Decision is the admission-control outcome for a proposed trade.
// Block dominates Reduce dominates Allow.
type Decision int

const (
	Allow Decision = iota
	Reduce
	Block
)

func (d Decision) String() string {
	switch d {
	case Block:
		return "block"
	case Reduce:
		return "reduce"
	default:
		return "allow"
	}
}

// sizeMultiplierFloor keeps de-risking from sizing trades to zero.
const sizeMultiplierFloor = 0.25

// Regime score contribution to sizing is clamped to this band.
const (
	regimeScoreMin = 0.5
	regimeScoreMax = 1.5
)

// positionRisk tracks the capital at risk for one open position.
type positionRisk struct {
	symbol     string
	riskAmount float64
}

type dailyStats struct {
	date   string
	trades int
	pnl    float64
}

// Manager enforces every portfolio-level constraint. All methods are safe
// for concurrent use, though the cycle loop calls them single-threaded.
type Manager struct {
	mu     sync.RWMutex
	config config.RiskConfig

	equity     float64
	peakEquity float64

	consecutiveLosses int
	consecutiveWins   int

	positions map[string]positionRisk
	daily     dailyStats

	logger zerolog.Logger
}

func NewManager(cfg config.RiskConfig, initialCapital float64, logger zerolog.Logger) *Manager {
	return &Manager{
		config:     cfg,
		equity:     initialCapital,
		peakEquity: initialCapital,
		positions:  make(map[string]positionRisk),
		daily:      dailyStats{date: today()},
		logger:     logger.With().Str("component", "RiskManager").Logger(),
	}
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// UpdateEquity records the latest portfolio value and advances the peak.
func (m *Manager) UpdateEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
}

// Restore rehydrates manager state from a recovered checkpoint. Peak equity
// is set to at least the restored equity so drawdown never goes negative.
func (m *Manager) Restore(equity, peakEquity float64, consecutiveLosses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
	m.peakEquity = math.Max(peakEquity, equity)
	m.consecutiveLosses = consecutiveLosses
}

// CurrentDrawdown returns (peak - equity) / peak.
func (m *Manager) CurrentDrawdown() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drawdownLocked()
}

func (m *Manager) drawdownLocked() float64 {
	if m.peakEquity <= 0 {
		return 0
	}
	dd := (m.peakEquity - m.equity) / m.peakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// PortfolioHeat returns the fraction of equity currently at risk across all
// open positions.
func (m *Manager) PortfolioHeat() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heatLocked()
}

func (m *Manager) heatLocked() float64 {
	if m.equity <= 0 {
		return 0
	}
	total := 0.0
	for _, p := range m.positions {
		total += p.riskAmount
	}
	return total / m.equity
}

// CanTrade runs the admission checks in priority order and returns the
// decision with a human-readable reason. Block outcomes are normal policy,
// not errors.
func (m *Manager) CanTrade() (Decision, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverDailyLocked()

	dd := m.drawdownLocked()
	if dd >= m.config.MaxDrawdown {
		return Block, fmt.Sprintf("drawdown %.1f%% at halt threshold %.1f%%", dd*100, m.config.MaxDrawdown*100)
	}
	if m.consecutiveLosses >= m.config.ConsecutiveLossLimit {
		return Block, fmt.Sprintf("consecutive losses %d at limit %d", m.consecutiveLosses, m.config.ConsecutiveLossLimit)
	}
	if m.config.DailyTradeLimit > 0 && m.daily.trades >= m.config.DailyTradeLimit {
		return Block, fmt.Sprintf("daily trade count %d at limit %d", m.daily.trades, m.config.DailyTradeLimit)
	}
	if m.config.DailyLossLimit > 0 && m.daily.pnl <= -m.config.DailyLossLimit*m.equity {
		return Block, fmt.Sprintf("daily loss %.2f at ceiling %.1f%% of equity", m.daily.pnl, m.config.DailyLossLimit*100)
	}
	if len(m.positions) >= m.config.MaxPositions {
		return Block, fmt.Sprintf("open positions %d at max %d", len(m.positions), m.config.MaxPositions)
	}
	if m.heatLocked() >= m.config.MaxPortfolioHeat {
		return Block, fmt.Sprintf("portfolio heat %.2f%% at max %.2f%%", m.heatLocked()*100, m.config.MaxPortfolioHeat*100)
	}
	if dd >= m.config.DrawdownWarning {
		return Reduce, fmt.Sprintf("drawdown %.1f%% above warning %.1f%%", dd*100, m.config.DrawdownWarning*100)
	}
	if m.consecutiveLosses >= m.config.LossThrottleThreshold {
		return Reduce, fmt.Sprintf("loss streak %d above throttle threshold %d", m.consecutiveLosses, m.config.LossThrottleThreshold)
	}
	return Allow, ""
}

// SizeMultiplier combines drawdown de-risking with loss-streak throttling.
func (m *Manager) SizeMultiplier() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeMultiplierLocked()
}

func (m *Manager) sizeMultiplierLocked() float64 {
	mult := 1.0
	dd := m.drawdownLocked()
	if dd > m.config.DrawdownCritical {
		mult = m.config.CriticalMultiplier
	} else if dd >= m.config.DrawdownWarning {
		mult = m.config.WarningMultiplier
	}
	if m.consecutiveLosses >= m.config.LossThrottleThreshold {
		mult *= 1 - m.config.LossReduction
	}
	if mult < sizeMultiplierFloor {
		mult = sizeMultiplierFloor
	}
	return mult
}

// CalculatePositionSize returns the position value (quote currency) to
// allocate for a new trade, or 0 when the trade is blocked or the inputs
// are degenerate. The value is capped by the single-position limit and by
// the remaining portfolio heat budget.
func (m *Manager) CalculatePositionSize(price, stopDistance, regimeScore float64) float64 {
	if price <= 0 || stopDistance <= 0 {
		return 0
	}
	if decision, reason := m.CanTrade(); decision == Block {
		m.logger.Debug().Str("reason", reason).Msg("Sizing blocked by admission control")
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	riskPct := clamp(m.config.RiskPerTrade, m.config.MinRiskPerTrade, m.config.MaxRiskPerTrade)
	score := clamp(regimeScore, regimeScoreMin, regimeScoreMax)

	riskAmount := m.equity * riskPct * score * m.sizeMultiplierLocked()
	shares := riskAmount / stopDistance
	value := shares * price

	if maxValue := m.equity * m.config.MaxPositionPct; value > maxValue {
		value = maxValue
		shares = value / price
	}

	// Cap by the remaining heat budget so this position cannot push total
	// heat past its ceiling.
	heatUsed := 0.0
	for _, p := range m.positions {
		heatUsed += p.riskAmount
	}
	heatBudget := m.config.MaxPortfolioHeat*m.equity - heatUsed
	if heatBudget <= 0 {
		return 0
	}
	if newRisk := shares * stopDistance; newRisk > heatBudget {
		shares = heatBudget / stopDistance
		value = shares * price
	}

	return value
}

// AddPosition registers an open position's capital at risk for heat
// accounting. Risk amount is stop distance times quantity.
func (m *Manager) AddPosition(symbol string, riskAmount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[symbol] = positionRisk{symbol: symbol, riskAmount: riskAmount}
}

// RemovePosition drops a closed position from heat accounting.
func (m *Manager) RemovePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
}

// OpenPositions returns the number of positions registered for heat.
func (m *Manager) OpenPositions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// RecordTradeResult updates streak counters and daily statistics after a
// closed trade. A win only clears the loss streak once the configured win
// streak is reached.
func (m *Manager) RecordTradeResult(netPnL float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverDailyLocked()

	m.daily.trades++
	m.daily.pnl += netPnL

	if netPnL > 0 {
		m.consecutiveWins++
		if m.consecutiveWins >= m.config.WinStreakReset {
			m.consecutiveLosses = 0
		}
	} else {
		m.consecutiveLosses++
		m.consecutiveWins = 0
	}
}

func (m *Manager) rolloverDailyLocked() {
	if d := today(); d != m.daily.date {
		m.logger.Info().
			Str("date", m.daily.date).
			Int("trades", m.daily.trades).
			Float64("pnl", m.daily.pnl).
			Msg("Daily stats rolled over")
		m.daily = dailyStats{date: d}
	}
}

// ConsecutiveLosses returns the current loss streak.
func (m *Manager) ConsecutiveLosses() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveLosses
}

// Equity returns the last recorded portfolio value.
func (m *Manager) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

// PeakEquity returns the historical equity high-water mark.
func (m *Manager) PeakEquity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peakEquity
}

// Metrics returns a snapshot for the status API.
func (m *Manager) Metrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"equity":             m.equity,
		"peak_equity":        m.peakEquity,
		"drawdown":           m.drawdownLocked(),
		"portfolio_heat":     m.heatLocked(),
		"open_positions":     len(m.positions),
		"consecutive_losses": m.consecutiveLosses,
		"consecutive_wins":   m.consecutiveWins,
		"size_multiplier":    m.sizeMultiplierLocked(),
		"daily_trades":       m.daily.trades,
		"daily_pnl":          m.daily.pnl,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volatility-trading-bot/config"
	"volatility-trading-bot/internal/logging"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		RiskPerTrade:          0.02,
		MinRiskPerTrade:       0.005,
		MaxRiskPerTrade:       0.04,
		MaxPositionPct:        0.30,
		MaxPositions:          3,
		MaxPortfolioHeat:      0.06,
		DrawdownWarning:       0.10,
		DrawdownCritical:      0.15,
		MaxDrawdown:           0.20,
		WarningMultiplier:     0.5,
		CriticalMultiplier:    0.25,
		ConsecutiveLossLimit:  5,
		LossThrottleThreshold: 3,
		LossReduction:         0.25,
		WinStreakReset:        2,
		DailyLossLimit:        0.05,
		DailyTradeLimit:       10,
	}
}

func newTestManager() *Manager {
	return NewManager(testRiskConfig(), 100000, logging.Nop())
}

func TestPositionSizeCappedByMaxPositionPct(t *testing.T) {
	m := newTestManager()

	// risk_amount = 100000 * 0.02 = 2000; shares = 2000/2000 = 1;
	// value = 50000 = 50% of equity, capped to 30%.
	value := m.CalculatePositionSize(50000, 2000, 1.0)
	assert.InDelta(t, 30000, value, 1e-9)
}

func TestPositionSizeZeroOnBadInputs(t *testing.T) {
	m := newTestManager()
	assert.Zero(t, m.CalculatePositionSize(0, 2000, 1.0))
	assert.Zero(t, m.CalculatePositionSize(50000, 0, 1.0))
	assert.Zero(t, m.CalculatePositionSize(50000, -5, 1.0))
}

func TestPositionSizeZeroWhenBlocked(t *testing.T) {
	m := newTestManager()
	m.UpdateEquity(79000) // 21% drawdown from peak 100000

	decision, _ := m.CanTrade()
	require.Equal(t, Block, decision)
	assert.Zero(t, m.CalculatePositionSize(50000, 2000, 1.0))
}

func TestPositionSizeRespectsHeatBudget(t *testing.T) {
	m := newTestManager()

	// Consume most of the 6% heat budget (6000) with existing positions.
	m.AddPosition("BTCUSDT", 3000)
	m.AddPosition("ETHUSDT", 2500)

	// Uncapped request would add 2000 risk; only 500 remains.
	value := m.CalculatePositionSize(100, 5, 1.0)
	shares := value / 100
	assert.InDelta(t, 500, shares*5, 1e-9)

	m.AddPosition("SOLUSDT", shares*5)
	assert.LessOrEqual(t, m.PortfolioHeat(), 0.06+1e-12)
}

func TestCanTradePriorityOrdering(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Manager)
		want  Decision
	}{
		{
			name:  "halt drawdown blocks",
			setup: func(m *Manager) { m.UpdateEquity(80000) },
			want:  Block,
		},
		{
			name: "loss limit blocks",
			setup: func(m *Manager) {
				for i := 0; i < 5; i++ {
					m.RecordTradeResult(-100)
				}
			},
			want: Block,
		},
		{
			name: "daily trade limit blocks",
			setup: func(m *Manager) {
				for i := 0; i < 10; i++ {
					m.RecordTradeResult(100)
				}
			},
			want: Block,
		},
		{
			name: "max positions blocks",
			setup: func(m *Manager) {
				m.AddPosition("A", 100)
				m.AddPosition("B", 100)
				m.AddPosition("C", 100)
			},
			want: Block,
		},
		{
			name:  "heat at max blocks",
			setup: func(m *Manager) { m.AddPosition("A", 6000) },
			want:  Block,
		},
		{
			name:  "warning drawdown reduces",
			setup: func(m *Manager) { m.UpdateEquity(89000) },
			want:  Reduce,
		},
		{
			name: "loss throttle reduces",
			setup: func(m *Manager) {
				for i := 0; i < 3; i++ {
					m.RecordTradeResult(-100)
				}
			},
			want: Reduce,
		},
		{
			name:  "clean state allows",
			setup: func(m *Manager) {},
			want:  Allow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager()
			tt.setup(m)
			got, reason := m.CanTrade()
			assert.Equal(t, tt.want, got, reason)
		})
	}
}

func TestBlockDominatesReduce(t *testing.T) {
	m := newTestManager()
	// Both a halt-level drawdown and a throttle-level loss streak are
	// active; Block must win.
	m.UpdateEquity(79000)
	for i := 0; i < 3; i++ {
		m.RecordTradeResult(-100)
	}
	got, _ := m.CanTrade()
	assert.Equal(t, Block, got)
}

func TestSizeMultiplierTiers(t *testing.T) {
	m := newTestManager()
	assert.Equal(t, 1.0, m.SizeMultiplier())

	// Loss streak at throttle threshold: 1 - 0.25.
	for i := 0; i < 3; i++ {
		m.RecordTradeResult(-100)
	}
	assert.InDelta(t, 0.75, m.SizeMultiplier(), 1e-9)

	// 15% drawdown sits at critical, which applies the warning tier.
	m.UpdateEquity(85000)
	assert.InDelta(t, 0.375, m.SizeMultiplier(), 1e-9)

	// Past critical the floor kicks in: 0.25 * 0.75 would be 0.1875.
	m.UpdateEquity(84000)
	assert.InDelta(t, 0.25, m.SizeMultiplier(), 1e-9)
}

func TestWinStreakResetsLossCounter(t *testing.T) {
	m := newTestManager()
	m.RecordTradeResult(-100)
	m.RecordTradeResult(-100)
	assert.Equal(t, 2, m.ConsecutiveLosses())

	// One win is not enough with win_streak_reset = 2.
	m.RecordTradeResult(50)
	assert.Equal(t, 2, m.ConsecutiveLosses())

	m.RecordTradeResult(50)
	assert.Equal(t, 0, m.ConsecutiveLosses())

	// A loss clears the win streak again.
	m.RecordTradeResult(-100)
	assert.Equal(t, 1, m.ConsecutiveLosses())
}

func TestRegimeScoreClampAndScaling(t *testing.T) {
	m := newTestManager()

	// Score 1.5 scales the risk amount: 2000 * 1.5 = 3000 risk, shares 1.5,
	// value 150 at price 100 with stop 2000... use small numbers instead.
	base := m.CalculatePositionSize(100, 10, 1.0)
	aggressive := m.CalculatePositionSize(100, 10, 1.5)
	assert.InDelta(t, base*1.5, aggressive, 1e-9)

	// Out-of-band scores clamp to [0.5, 1.5].
	clamped := m.CalculatePositionSize(100, 10, 99)
	assert.InDelta(t, aggressive, clamped, 1e-9)
}

func TestRestoreRehydratesDrawdownState(t *testing.T) {
	m := newTestManager()
	m.Restore(90000, 110000, 4)

	assert.InDelta(t, (110000.0-90000.0)/110000.0, m.CurrentDrawdown(), 1e-9)
	assert.Equal(t, 4, m.ConsecutiveLosses())

	// One more loss reaches the block limit.
	m.RecordTradeResult(-100)
	got, _ := m.CanTrade()
	assert.Equal(t, Block, got)
}

func TestRemovePositionFreesHeat(t *testing.T) {
	m := newTestManager()
	m.AddPosition("BTCUSDT", 6000)
	got, _ := m.CanTrade()
	require.Equal(t, Block, got)

	m.RemovePosition("BTCUSDT")
	got, _ = m.CanTrade()
	assert.Equal(t, Allow, got)
	assert.Zero(t, m.PortfolioHeat())
}

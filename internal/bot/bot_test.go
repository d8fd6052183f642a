package bot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volatility-trading-bot/config"
	"volatility-trading-bot/internal/execution"
	"volatility-trading-bot/internal/market"
	"volatility-trading-bot/internal/metrics"
	"volatility-trading-bot/internal/regime"
	"volatility-trading-bot/internal/risk"
	"volatility-trading-bot/internal/signal"
	"volatility-trading-bot/internal/store"
)

type stubProvider struct{}

func (stubProvider) Candles(_ context.Context, _ string, _ int) ([]market.Candle, error) {
	return []market.Candle{{OpenTime: time.Now(), Close: 100}}, nil
}

// stubSource replays scripted inputs, one per Evaluate call.
type stubSource struct {
	script []signal.Inputs
	calls  int
}

func (s *stubSource) Name() string { return "scripted" }
func (s *stubSource) MinBars() int { return 1 }
func (s *stubSource) Evaluate(symbol string, _ []market.Candle) (signal.Inputs, error) {
	in := s.script[s.calls%len(s.script)]
	s.calls++
	in.Symbol = symbol
	return in, nil
}

type failingVenue struct{}

func (failingVenue) PlaceOrder(_ context.Context, _ execution.OrderRequest) (*execution.Fill, error) {
	return nil, errors.New("venue unavailable")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TradingConfig: config.TradingConfig{
			Symbols:          []string{"BTCUSDT"},
			InitialCapital:   100000,
			CycleIntervalSec: 60,
			PaperMode:        true,
		},
		StrategyConfig: config.StrategyConfig{
			Name:                 "volatility_regime",
			ATRPeriod:            14,
			Lookback:             20,
			CompressionThreshold: 0.6,
			ExpansionThreshold:   1.4,
			ExtremeThreshold:     2.0,
			EMAFastPeriod:        9,
			EMASlowPeriod:        21,
			ADXPeriod:            14,
			ADXThreshold:         20,
			BreakoutATRMultiple:  0.5,
			StopATRMultiple:      2.0,
			TargetATRMultiple:    4.0,
			TrailingActivation:   1.5,
			TrailingATRMultiple:  1.5,
			MinBarsBetweenTrades: 2,
		},
		RiskConfig: config.RiskConfig{
			RiskPerTrade:          0.02,
			MinRiskPerTrade:       0.005,
			MaxRiskPerTrade:       0.04,
			MaxPositionPct:        0.25,
			MaxPositions:          3,
			MaxPortfolioHeat:      0.06,
			DrawdownWarning:       0.10,
			DrawdownCritical:      0.15,
			MaxDrawdown:           0.20,
			ConsecutiveLossLimit:  5,
			LossThrottleThreshold: 3,
			LossReduction:         0.25,
			WinStreakReset:        2,
			DailyLossLimit:        0.05,
			DailyTradeLimit:       10,
		},
		FeeConfig:  config.FeeConfig{TaxRate: 0.30},
		FeedConfig: config.FeedConfig{MaxCandles: 100},
	}
}

// entryInputs pass every gate: tradeable regime, aligned EMAs, strong ADX,
// and a fresh breakout cross of the 104 level.
func entryInputs() signal.Inputs {
	return signal.Inputs{
		Close:          104.5,
		PrevClose:      104,
		ATR:            2,
		Regime:         regime.Normal,
		RegimeScore:    1.0,
		EMAFast:        103,
		EMASlow:        101,
		ADX:            25,
		RecentHigh:     105,
		PrevRecentHigh: 105,
	}
}

func newTestBot(t *testing.T, cfg *config.Config, src *stubSource, venue execution.Venue) (*Bot, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	riskMgr := risk.NewManager(cfg.RiskConfig, cfg.TradingConfig.InitialCapital, zerolog.Nop())
	engine := signal.NewEngine(cfg.StrategyConfig, riskMgr, zerolog.Nop())
	trailing := risk.NewTrailingStopController(
		cfg.StrategyConfig.TrailingActivation, cfg.StrategyConfig.TrailingATRMultiple, zerolog.Nop())

	b := New(cfg, stubProvider{}, src, engine, riskMgr, trailing, venue, st, nil, metrics.New(), zerolog.Nop())
	return b, st
}

func TestCycleOpensAndClosesPosition(t *testing.T) {
	cfg := testConfig(t)
	exit := entryInputs()
	exit.Close = 113
	exit.PrevClose = 112
	src := &stubSource{script: []signal.Inputs{entryInputs(), exit}}
	venue := execution.NewPaperVenue(0, 0, zerolog.Nop())
	b, st := newTestBot(t, cfg, src, venue)
	ctx := context.Background()

	b.RunCycle(ctx)

	positions := b.Positions()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.InDelta(t, 104.5, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 100.5, pos.StopPrice, 1e-9)
	assert.InDelta(t, 112.5, pos.TargetPrice, 1e-9)

	saved, err := st.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, store.StatusOpen, saved.Status)

	b.RunCycle(ctx)

	assert.Empty(t, b.Positions())
	trades, err := st.LoadTrades(ctx, "", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, signal.ExitTarget, trades[0].ExitReason)
	assert.Greater(t, trades[0].NetPnL, 0.0)
	assert.Greater(t, trades[0].Tax, 0.0)

	cp, err := st.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(2), cp.CycleCount)
	assert.Greater(t, cp.PortfolioValue, cfg.TradingConfig.InitialCapital)
}

func TestTrailingRatchetPersistsNewStop(t *testing.T) {
	cfg := testConfig(t)
	// Second bar runs up enough to arm the trailing stop without reaching
	// the 112.5 target.
	runUp := entryInputs()
	runUp.Close = 110
	runUp.PrevClose = 109
	src := &stubSource{script: []signal.Inputs{entryInputs(), runUp}}
	venue := execution.NewPaperVenue(0, 0, zerolog.Nop())
	b, st := newTestBot(t, cfg, src, venue)
	ctx := context.Background()

	b.RunCycle(ctx)
	require.Len(t, b.Positions(), 1)

	b.RunCycle(ctx)

	positions := b.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 107, positions[0].StopPrice, 1e-9)

	saved, err := st.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 107, saved.StopPrice, 1e-9)
	assert.Equal(t, store.StatusOpen, saved.Status)
}

func TestVenueFailureLeavesStateFlat(t *testing.T) {
	cfg := testConfig(t)
	src := &stubSource{script: []signal.Inputs{entryInputs()}}
	b, st := newTestBot(t, cfg, src, failingVenue{})
	ctx := context.Background()

	b.RunCycle(ctx)

	assert.Empty(t, b.Positions())
	_, err := st.GetPosition(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecoverRestoresOpenPosition(t *testing.T) {
	cfg := testConfig(t)
	src := &stubSource{script: []signal.Inputs{entryInputs()}}
	venue := execution.NewPaperVenue(0, 0, zerolog.Nop())
	b, st := newTestBot(t, cfg, src, venue)
	ctx := context.Background()

	b.RunCycle(ctx)
	require.Len(t, b.Positions(), 1)

	riskMgr := risk.NewManager(cfg.RiskConfig, cfg.TradingConfig.InitialCapital, zerolog.Nop())
	engine := signal.NewEngine(cfg.StrategyConfig, riskMgr, zerolog.Nop())
	trailing := risk.NewTrailingStopController(
		cfg.StrategyConfig.TrailingActivation, cfg.StrategyConfig.TrailingATRMultiple, zerolog.Nop())
	restored := New(cfg, stubProvider{}, src, engine, riskMgr, trailing, venue, st, nil, metrics.New(), zerolog.Nop())

	require.NoError(t, restored.Recover(ctx))

	positions := restored.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, signal.Open, engine.State("BTCUSDT"))
	assert.Equal(t, 1, riskMgr.OpenPositions())

	status := restored.Status()
	assert.Equal(t, int64(1), status["cycle_count"])
}

func TestKillSwitchSkipsCycles(t *testing.T) {
	cfg := testConfig(t)
	src := &stubSource{script: []signal.Inputs{entryInputs()}}
	venue := execution.NewPaperVenue(0, 0, zerolog.Nop())
	b, _ := newTestBot(t, cfg, src, venue)

	b.Kill()
	b.RunCycle(context.Background())

	assert.True(t, b.Killed())
	assert.Empty(t, b.Positions())
	assert.Equal(t, int64(0), b.Status()["cycle_count"])
}

func TestShutdownClosesAllPositions(t *testing.T) {
	cfg := testConfig(t)
	src := &stubSource{script: []signal.Inputs{entryInputs()}}
	venue := execution.NewPaperVenue(0, 0, zerolog.Nop())
	b, st := newTestBot(t, cfg, src, venue)
	ctx := context.Background()

	b.RunCycle(ctx)
	require.Len(t, b.Positions(), 1)

	b.Shutdown(ctx)

	assert.Empty(t, b.Positions())
	trades, err := st.LoadTrades(ctx, "", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, signal.ExitShutdown, trades[0].ExitReason)
}

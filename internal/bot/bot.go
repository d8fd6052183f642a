// Package bot runs the trading cycle: fetch candles, evaluate the strategy,
// manage open positions, and persist state. The cycle is single-threaded per
// bot instance; concurrency lives in the feed and the HTTP server.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"volatility-trading-bot/config"
	"volatility-trading-bot/internal/execution"
	"volatility-trading-bot/internal/market"
	"volatility-trading-bot/internal/metrics"
	"volatility-trading-bot/internal/risk"
	"volatility-trading-bot/internal/signal"
	"volatility-trading-bot/internal/store"
	"volatility-trading-bot/internal/strategy"
)

// Bot orchestrates one strategy over a set of symbols.
type Bot struct {
	cfg      *config.Config
	provider market.Provider
	source   strategy.SignalSource
	engine   *signal.Engine
	riskMgr  *risk.Manager
	trailing *risk.TrailingStopController
	venue    execution.Venue
	store    store.Store
	mirror   *store.RedisMirror
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu         sync.RWMutex
	cycleCount int64
	cash       float64
	killed     bool
	positions  map[string]*store.Position
	barIndex   map[string]int
	lastClose  map[string]float64
	lastRegime map[string]string
	startedAt  time.Time
}

// New wires the bot from already-constructed components. The metrics set is
// required; the redis mirror may be nil.
func New(
	cfg *config.Config,
	provider market.Provider,
	source strategy.SignalSource,
	engine *signal.Engine,
	riskMgr *risk.Manager,
	trailing *risk.TrailingStopController,
	venue execution.Venue,
	st store.Store,
	mirror *store.RedisMirror,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Bot {
	return &Bot{
		cfg:        cfg,
		provider:   provider,
		source:     source,
		engine:     engine,
		riskMgr:    riskMgr,
		trailing:   trailing,
		venue:      venue,
		store:      st,
		mirror:     mirror,
		metrics:    m,
		logger:     logger.With().Str("component", "Bot").Logger(),
		cash:       cfg.TradingConfig.InitialCapital,
		positions:  make(map[string]*store.Position),
		barIndex:   make(map[string]int),
		lastClose:  make(map[string]float64),
		lastRegime: make(map[string]string),
		startedAt:  time.Now().UTC(),
	}
}

// Recover rebuilds in-memory state from the store. Safe to call on a fresh
// store; it simply finds nothing.
func (b *Bot) Recover(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp, err := b.store.LoadCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp != nil {
		if cp.ConfigHash != "" && cp.ConfigHash != b.cfg.Hash() {
			b.logger.Warn().
				Str("saved", cp.ConfigHash).
				Str("current", b.cfg.Hash()).
				Msg("Config changed since last checkpoint")
		}
		if cp.PaperMode != b.cfg.TradingConfig.PaperMode {
			b.logger.Warn().
				Bool("saved_paper", cp.PaperMode).
				Bool("current_paper", b.cfg.TradingConfig.PaperMode).
				Msg("Paper/live mode differs from last checkpoint")
		}
		b.cycleCount = cp.CycleCount
		b.cash = cp.Cash
		b.riskMgr.Restore(cp.PortfolioValue, cp.PeakEquity, cp.ConsecutiveLosses)
		b.logger.Info().
			Int64("cycle", cp.CycleCount).
			Float64("portfolio_value", cp.PortfolioValue).
			Time("saved_at", cp.Timestamp).
			Msg("Restored checkpoint")
	}

	open, err := b.store.LoadPositions(ctx, store.StatusOpen)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	for _, p := range open {
		b.positions[p.Symbol] = p
		b.engine.RestoreOpen(p.Symbol, p.EntryPrice)
		b.trailing.Track(p.Symbol, p.EntryPrice, p.StopPrice)
		b.riskMgr.AddPosition(p.Symbol, p.RiskAmount())
		b.logger.Info().
			Str("symbol", p.Symbol).
			Float64("entry", p.EntryPrice).
			Float64("stop", p.StopPrice).
			Msg("Resumed open position")
	}
	return nil
}

// Run executes cycles on the configured interval until the context ends.
func (b *Bot) Run(ctx context.Context) error {
	interval := time.Duration(b.cfg.TradingConfig.CycleIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.logger.Info().
		Dur("interval", interval).
		Strs("symbols", b.cfg.TradingConfig.Symbols).
		Bool("paper", b.cfg.TradingConfig.PaperMode).
		Msg("Trading loop started")

	b.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.RunCycle(ctx)
		}
	}
}

// RunCycle processes every symbol once and writes a checkpoint. The kill
// switch is honored only at this boundary; mid-cycle work always finishes.
func (b *Bot) RunCycle(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.killed {
		b.logger.Warn().Msg("Kill switch engaged, skipping cycle")
		return
	}

	start := time.Now()
	b.cycleCount++

	for _, symbol := range b.cfg.TradingConfig.Symbols {
		if err := ctx.Err(); err != nil {
			return
		}
		b.processSymbol(ctx, symbol)
	}

	equity := b.portfolioValueLocked()
	b.riskMgr.UpdateEquity(equity)
	b.updateMetricsLocked(equity)

	if err := b.saveCheckpointLocked(ctx, equity); err != nil {
		b.logger.Error().Err(err).Msg("Checkpoint save failed")
	}

	b.metrics.CyclesTotal.Inc()
	b.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	b.logger.Debug().
		Int64("cycle", b.cycleCount).
		Float64("equity", equity).
		Int("open_positions", len(b.positions)).
		Msg("Cycle complete")
}

func (b *Bot) processSymbol(ctx context.Context, symbol string) {
	candles, err := b.provider.Candles(ctx, symbol, b.cfg.FeedConfig.MaxCandles)
	if err != nil {
		b.logger.Warn().Err(err).Str("symbol", symbol).Msg("Candle fetch failed")
		return
	}
	if len(candles) < b.source.MinBars() {
		b.logger.Debug().
			Str("symbol", symbol).
			Int("have", len(candles)).
			Int("need", b.source.MinBars()).
			Msg("Insufficient history")
		return
	}

	in, err := b.source.Evaluate(symbol, candles)
	if err != nil {
		b.logger.Warn().Err(err).Str("symbol", symbol).Msg("Strategy evaluation failed")
		return
	}
	b.barIndex[symbol]++
	in.BarIndex = b.barIndex[symbol]
	b.lastClose[symbol] = in.Close
	b.lastRegime[symbol] = string(in.Regime)

	if pos, held := b.positions[symbol]; held {
		b.manageOpen(ctx, pos, in)
		return
	}

	sig, reason := b.engine.EvaluateEntry(in)
	if sig == nil {
		if reason != "" {
			b.logger.Debug().Str("symbol", symbol).Str("reason", reason).Msg("Entry rejected")
		}
		return
	}
	b.openPosition(ctx, sig)
}

func (b *Bot) manageOpen(ctx context.Context, pos *store.Position, in signal.Inputs) {
	if upd := b.trailing.Update(pos.Symbol, in.Close, in.ATR); upd != nil {
		pos.StopPrice = upd.NewStop
		if err := b.store.SavePosition(ctx, pos); err != nil {
			b.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("Stop ratchet persist failed")
		}
		if b.mirror != nil {
			b.mirror.PublishPosition(ctx, pos)
		}
		b.logger.Info().
			Str("symbol", pos.Symbol).
			Float64("stop", upd.NewStop).
			Bool("armed", upd.JustArmed).
			Msg("Trailing stop raised")
	}

	exit := b.engine.EvaluateExit(in, pos.StopPrice, pos.TargetPrice)
	if exit == nil {
		return
	}
	b.closePosition(ctx, pos, exit, in)
}

func (b *Bot) openPosition(ctx context.Context, sig *signal.EntrySignal) {
	stopDistance := b.cfg.StrategyConfig.StopATRMultiple * sig.ATR
	value := b.riskMgr.CalculatePositionSize(sig.Price, stopDistance, sig.RegimeScore)
	if value <= 0 {
		b.logger.Debug().Str("symbol", sig.Symbol).Msg("Sized to zero, entry dropped")
		return
	}
	quantity := value / sig.Price

	b.engine.MarkEntering(sig.Symbol)
	fill, err := b.venue.PlaceOrder(ctx, execution.OrderRequest{
		Symbol:    sig.Symbol,
		Side:      execution.SideBuy,
		Quantity:  quantity,
		MarkPrice: sig.Price,
	})
	if err != nil {
		b.engine.FailEntry(sig.Symbol)
		b.metrics.OrderFailures.Inc()
		b.logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Entry order failed")
		return
	}

	levels := b.engine.ConfirmEntry(sig.Symbol, fill.Price, sig.ATR)
	pos := &store.Position{
		Symbol:      sig.Symbol,
		Side:        "long",
		Quantity:    fill.Quantity,
		EntryPrice:  fill.Price,
		EntryTime:   fill.Time,
		StopPrice:   levels.Stop,
		TargetPrice: levels.Target,
		Status:      store.StatusOpen,
		OrderID:     fill.OrderID,
		Metadata: map[string]string{
			"entry_regime": string(sig.Regime),
			"entry_atr":    strconv.FormatFloat(sig.ATR, 'f', -1, 64),
			"entry_fee":    strconv.FormatFloat(fill.Fee, 'f', -1, 64),
			"initial_stop": strconv.FormatFloat(levels.Stop, 'f', -1, 64),
		},
	}
	if err := b.store.SavePosition(ctx, pos); err != nil {
		b.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("Position persist failed")
	}

	b.cash -= fill.Price*fill.Quantity + fill.Fee
	b.positions[sig.Symbol] = pos
	b.trailing.Track(sig.Symbol, fill.Price, levels.Stop)
	b.riskMgr.AddPosition(sig.Symbol, pos.RiskAmount())
	if b.mirror != nil {
		b.mirror.PublishPosition(ctx, pos)
	}

	b.logger.Info().
		Str("symbol", sig.Symbol).
		Float64("price", fill.Price).
		Float64("quantity", fill.Quantity).
		Float64("stop", levels.Stop).
		Float64("target", levels.Target).
		Str("regime", string(sig.Regime)).
		Msg("Position opened")
}

func (b *Bot) closePosition(ctx context.Context, pos *store.Position, exit *signal.ExitSignal, in signal.Inputs) {
	fill, err := b.venue.PlaceOrder(ctx, execution.OrderRequest{
		Symbol:    pos.Symbol,
		Side:      execution.SideSell,
		Quantity:  pos.Quantity,
		MarkPrice: exit.Price,
	})
	if err != nil {
		b.engine.FailExit(pos.Symbol)
		b.metrics.OrderFailures.Inc()
		b.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Exit order failed")
		return
	}

	grossPnL := (fill.Price - pos.EntryPrice) * pos.Quantity
	fees := metaFloat(pos.Metadata, "entry_fee") + fill.Fee
	var tax float64
	if profit := grossPnL - fees; profit > 0 {
		tax = profit * b.cfg.FeeConfig.TaxRate
	}
	netPnL := grossPnL - fees - tax

	costBasis := pos.EntryPrice * pos.Quantity
	var pnlPct float64
	if costBasis > 0 {
		pnlPct = netPnL / costBasis * 100
	}

	initialStop := metaFloat(pos.Metadata, "initial_stop")
	var rewardRisk float64
	if d := pos.EntryPrice - initialStop; d > 0 {
		rewardRisk = (fill.Price - pos.EntryPrice) / d
	}

	record := &store.TradeRecord{
		TradeID:     uuid.New().String(),
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fill.Price,
		EntryTime:   pos.EntryTime,
		ExitTime:    fill.Time,
		GrossPnL:    grossPnL,
		Fees:        fees,
		Tax:         tax,
		NetPnL:      netPnL,
		PnLPct:      pnlPct,
		ExitReason:  exit.Reason,
		EntryRegime: pos.Metadata["entry_regime"],
		ExitRegime:  string(in.Regime),
		EntryATR:    metaFloat(pos.Metadata, "entry_atr"),
		StopPrice:   pos.StopPrice,
		TargetPrice: pos.TargetPrice,
		RewardRisk:  rewardRisk,
	}
	if err := b.store.RecordTrade(ctx, record); err != nil {
		b.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("Trade audit write failed")
	}

	now := fill.Time
	pos.Status = store.StatusClosed
	pos.PnL = netPnL
	pos.ExitPrice = fill.Price
	pos.ExitTime = &now
	if err := b.store.SavePosition(ctx, pos); err != nil {
		b.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("Position close persist failed")
	}

	b.cash += fill.Price*pos.Quantity - fill.Fee - tax
	delete(b.positions, pos.Symbol)
	b.riskMgr.RecordTradeResult(netPnL)
	b.riskMgr.RemovePosition(pos.Symbol)
	b.trailing.Untrack(pos.Symbol)
	b.engine.ConfirmExit(pos.Symbol, in.BarIndex)
	if b.mirror != nil {
		b.mirror.RemovePosition(ctx, pos.Symbol)
	}
	b.metrics.RecordTrade(netPnL)

	b.logger.Info().
		Str("symbol", pos.Symbol).
		Str("reason", exit.Reason).
		Float64("exit_price", fill.Price).
		Float64("net_pnl", netPnL).
		Float64("pnl_pct", pnlPct).
		Msg("Position closed")
}

// Shutdown closes every open position at the last seen price and writes a
// final checkpoint.
func (b *Bot) Shutdown(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for symbol, pos := range b.positions {
		if !b.engine.RequestClose(symbol) {
			continue
		}
		price := b.lastClose[symbol]
		if price <= 0 {
			price = pos.EntryPrice
		}
		in := signal.Inputs{
			Symbol:   symbol,
			Close:    price,
			BarIndex: b.barIndex[symbol],
		}
		b.closePosition(ctx, pos, &signal.ExitSignal{
			Symbol: symbol,
			Price:  price,
			Reason: signal.ExitShutdown,
		}, in)
	}

	equity := b.portfolioValueLocked()
	b.riskMgr.UpdateEquity(equity)
	if err := b.saveCheckpointLocked(ctx, equity); err != nil {
		b.logger.Error().Err(err).Msg("Final checkpoint failed")
	}
	b.logger.Info().Float64("equity", equity).Msg("Shutdown complete")
}

// Kill stops new cycles from running. Open positions are left untouched.
func (b *Bot) Kill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.killed = true
	b.logger.Warn().Msg("Kill switch engaged")
}

// Killed reports whether the kill switch has been engaged.
func (b *Bot) Killed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.killed
}

// Positions returns a copy of the open positions.
func (b *Bot) Positions() []*store.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*store.Position, 0, len(b.positions))
	for _, p := range b.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Status summarizes the bot for the HTTP API.
func (b *Bot) Status() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]interface{}{
		"cycle_count":    b.cycleCount,
		"cash":           b.cash,
		"equity":         b.portfolioValueLocked(),
		"open_positions": len(b.positions),
		"killed":         b.killed,
		"paper_mode":     b.cfg.TradingConfig.PaperMode,
		"strategy":       b.source.Name(),
		"uptime_sec":     int(time.Since(b.startedAt).Seconds()),
	}
}

// RiskMetrics exposes the risk manager's view for the HTTP API.
func (b *Bot) RiskMetrics() map[string]interface{} {
	return b.riskMgr.Metrics()
}

// Trades returns recent closed trades from the audit log.
func (b *Bot) Trades(ctx context.Context, symbol string, limit int) ([]*store.TradeRecord, error) {
	return b.store.LoadTrades(ctx, symbol, time.Time{}, limit)
}

func (b *Bot) portfolioValueLocked() float64 {
	total := b.cash
	for symbol, pos := range b.positions {
		price := b.lastClose[symbol]
		if price <= 0 {
			price = pos.EntryPrice
		}
		total += price * pos.Quantity
	}
	return total
}

func (b *Bot) saveCheckpointLocked(ctx context.Context, equity float64) error {
	symbols := make([]string, 0, len(b.positions))
	for symbol := range b.positions {
		symbols = append(symbols, symbol)
	}
	return b.store.SaveCheckpoint(ctx, &store.Checkpoint{
		Timestamp:         time.Now().UTC(),
		CycleCount:        b.cycleCount,
		PortfolioValue:    equity,
		Cash:              b.cash,
		PositionsValue:    equity - b.cash,
		OpenPositions:     len(b.positions),
		Symbols:           symbols,
		DrawdownPct:       b.riskMgr.CurrentDrawdown() * 100,
		PeakEquity:        b.riskMgr.PeakEquity(),
		ConsecutiveLosses: b.riskMgr.ConsecutiveLosses(),
		PaperMode:         b.cfg.TradingConfig.PaperMode,
		ConfigHash:        b.cfg.Hash(),
	})
}

func (b *Bot) updateMetricsLocked(equity float64) {
	b.metrics.Equity.Set(equity)
	b.metrics.PeakEquity.Set(b.riskMgr.PeakEquity())
	b.metrics.Drawdown.Set(b.riskMgr.CurrentDrawdown())
	b.metrics.PortfolioHeat.Set(b.riskMgr.PortfolioHeat())
	b.metrics.OpenPositions.Set(float64(len(b.positions)))
}

func metaFloat(meta map[string]string, key string) float64 {
	v, err := strconv.ParseFloat(meta[key], 64)
	if err != nil {
		return 0
	}
	return v
}

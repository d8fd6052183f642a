// Package store provides durable, crash-safe persistence for positions,
// checkpoints, and the trade audit log. SQLite is the primary backend;
// Postgres is available behind the same interface for shared deployments.
// The store is the source of truth consulted on every startup.
package store

import (
	"context"
	"errors"
	"time"
)

// SchemaVersion marks the persisted layout. Recovery refuses to run against
// a store written by an incompatible version.
const SchemaVersion = 1

// Position status values.
const (
	StatusPending = "pending"
	StatusOpen    = "open"
	StatusClosing = "closing"
	StatusClosed  = "closed"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrSchemaMismatch is returned when the persisted schema version differs
// from SchemaVersion.
var ErrSchemaMismatch = errors.New("store: incompatible schema version")

// Position is one open or closed trade. Quantity and entry price are
// immutable after creation; the stop price moves only through trailing
// ratchet updates.
type Position struct {
	Symbol      string            `json:"symbol"`
	Side        string            `json:"side"`
	Quantity    float64           `json:"quantity"`
	EntryPrice  float64           `json:"entry_price"`
	EntryTime   time.Time         `json:"entry_time"`
	StopPrice   float64           `json:"stop_price"`
	TargetPrice float64           `json:"target_price"`
	Status      string            `json:"status"`
	OrderID     string            `json:"order_id,omitempty"`
	PnL         float64           `json:"pnl"`
	ExitPrice   float64           `json:"exit_price"`
	ExitTime    *time.Time        `json:"exit_time,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RiskAmount is the capital at risk for the position: stop distance times
// quantity.
func (p *Position) RiskAmount() float64 {
	d := p.EntryPrice - p.StopPrice
	if d < 0 {
		d = -d
	}
	return d * p.Quantity
}

// Checkpoint is an append-only snapshot of portfolio-level state taken once
// per cycle. Only the most recent row is authoritative for recovery.
type Checkpoint struct {
	Timestamp         time.Time `json:"timestamp"`
	CycleCount        int64     `json:"cycle_count"`
	PortfolioValue    float64   `json:"portfolio_value"`
	Cash              float64   `json:"cash"`
	PositionsValue    float64   `json:"positions_value"`
	OpenPositions     int       `json:"open_positions"`
	Symbols           []string  `json:"symbols"`
	DrawdownPct       float64   `json:"drawdown_pct"`
	PeakEquity        float64   `json:"peak_equity"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	PaperMode         bool      `json:"paper_mode"`
	ConfigHash        string    `json:"config_hash"`
}

// TradeRecord is the immutable audit entry for one fully-closed trade.
type TradeRecord struct {
	TradeID     string    `json:"trade_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	GrossPnL    float64   `json:"gross_pnl"`
	Fees        float64   `json:"fees"`
	Tax         float64   `json:"tax"`
	NetPnL      float64   `json:"net_pnl"`
	PnLPct      float64   `json:"pnl_pct"`
	ExitReason  string    `json:"exit_reason"`
	EntryRegime string    `json:"entry_regime"`
	ExitRegime  string    `json:"exit_regime"`
	EntryATR    float64   `json:"entry_atr"`
	StopPrice   float64   `json:"stop_price"`
	TargetPrice float64   `json:"target_price"`
	RewardRisk  float64   `json:"reward_risk"`
}

// Store is the durable persistence contract. Implementations serialize all
// mutating calls through a single writer.
type Store interface {
	// SavePosition upserts the position keyed by symbol.
	SavePosition(ctx context.Context, p *Position) error
	// GetPosition returns the position for a symbol or ErrNotFound.
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	// LoadPositions returns positions filtered by status; empty status
	// returns all.
	LoadPositions(ctx context.Context, status string) ([]*Position, error)

	// SaveCheckpoint appends a checkpoint row.
	SaveCheckpoint(ctx context.Context, c *Checkpoint) error
	// LoadCheckpoint returns the most recent checkpoint, or nil when the
	// store is fresh.
	LoadCheckpoint(ctx context.Context) (*Checkpoint, error)

	// RecordTrade appends an immutable audit row.
	RecordTrade(ctx context.Context, t *TradeRecord) error
	// LoadTrades returns recent trades, newest first, optionally filtered
	// by symbol and a lower time bound.
	LoadTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]*TradeRecord, error)

	Close() error
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore implements Store on PostgreSQL for deployments where state
// must be shared or inspected off-host. Semantics match SQLiteStore: one
// open row per symbol, append-only checkpoints and trades, serialized writes.
type PostgresStore struct {
	mu     sync.Mutex
	pool   *pgxpool.Pool
	backup *BackupWriter
	logger zerolog.Logger
}

func NewPostgresStore(ctx context.Context, url string, backup *BackupWriter, logger zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres parse config: %w", err)
	}
	cfg.MaxConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		backup: backup,
		logger: logger.With().Str("component", "PostgresStore").Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info().Msg("State store opened")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			symbol       TEXT PRIMARY KEY,
			side         TEXT NOT NULL,
			quantity     DOUBLE PRECISION NOT NULL,
			entry_price  DOUBLE PRECISION NOT NULL,
			entry_time   TIMESTAMPTZ,
			stop_price   DOUBLE PRECISION NOT NULL,
			target_price DOUBLE PRECISION NOT NULL,
			status       TEXT NOT NULL,
			order_id     TEXT,
			pnl          DOUBLE PRECISION NOT NULL DEFAULT 0,
			exit_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
			exit_time    TIMESTAMPTZ,
			metadata     JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id                 BIGSERIAL PRIMARY KEY,
			timestamp          TIMESTAMPTZ NOT NULL,
			cycle_count        BIGINT NOT NULL,
			portfolio_value    DOUBLE PRECISION NOT NULL,
			cash               DOUBLE PRECISION NOT NULL,
			positions_value    DOUBLE PRECISION NOT NULL,
			open_positions     INTEGER NOT NULL,
			symbols            TEXT,
			drawdown_pct       DOUBLE PRECISION NOT NULL,
			peak_equity        DOUBLE PRECISION NOT NULL DEFAULT 0,
			consecutive_losses INTEGER NOT NULL,
			paper_mode         BOOLEAN NOT NULL,
			config_hash        TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id           BIGSERIAL PRIMARY KEY,
			trade_id     TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			side         TEXT NOT NULL,
			quantity     DOUBLE PRECISION NOT NULL,
			entry_price  DOUBLE PRECISION NOT NULL,
			exit_price   DOUBLE PRECISION NOT NULL,
			entry_time   TIMESTAMPTZ NOT NULL,
			exit_time    TIMESTAMPTZ NOT NULL,
			gross_pnl    DOUBLE PRECISION NOT NULL,
			fees         DOUBLE PRECISION NOT NULL,
			tax          DOUBLE PRECISION NOT NULL,
			net_pnl      DOUBLE PRECISION NOT NULL,
			pnl_pct      DOUBLE PRECISION NOT NULL,
			exit_reason  TEXT NOT NULL,
			entry_regime TEXT,
			exit_regime  TEXT,
			entry_atr    DOUBLE PRECISION,
			stop_price   DOUBLE PRECISION,
			target_price DOUBLE PRECISION,
			reward_risk  DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time)`,
	}
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}

	var raw string
	err := s.pool.QueryRow(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = s.pool.Exec(ctx, `INSERT INTO meta (key, value) VALUES ('schema_version', $1)`, strconv.Itoa(SchemaVersion))
		if err != nil {
			return fmt.Errorf("postgres write schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres read schema version: %w", err)
	}
	if v, cerr := strconv.Atoi(raw); cerr != nil || v != SchemaVersion {
		return fmt.Errorf("%w: store has %q, code expects %d", ErrSchemaMismatch, raw, SchemaVersion)
	}
	return nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal position metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO positions
		(symbol, side, quantity, entry_price, entry_time, stop_price, target_price,
		 status, order_id, pnl, exit_price, exit_time, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (symbol) DO UPDATE SET
			side = EXCLUDED.side, quantity = EXCLUDED.quantity,
			entry_price = EXCLUDED.entry_price, entry_time = EXCLUDED.entry_time,
			stop_price = EXCLUDED.stop_price, target_price = EXCLUDED.target_price,
			status = EXCLUDED.status, order_id = EXCLUDED.order_id,
			pnl = EXCLUDED.pnl, exit_price = EXCLUDED.exit_price,
			exit_time = EXCLUDED.exit_time, metadata = EXCLUDED.metadata`,
		p.Symbol, p.Side, p.Quantity, p.EntryPrice, nullTime(p.EntryTime),
		p.StopPrice, p.TargetPrice, p.Status, p.OrderID, p.PnL, p.ExitPrice,
		p.ExitTime, metadata)
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.Symbol, err)
	}
	s.maybeBackupLocked(ctx)
	return nil
}

const pgSelectPositions = `
	SELECT symbol, side, quantity, entry_price, entry_time, stop_price,
	       target_price, status, COALESCE(order_id, ''), pnl, exit_price,
	       exit_time, COALESCE(metadata::TEXT, '')
	FROM positions`

func (s *PostgresStore) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	row := s.pool.QueryRow(ctx, pgSelectPositions+` WHERE symbol = $1`, symbol)
	p, err := scanPgPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	return p, nil
}

func (s *PostgresStore) LoadPositions(ctx context.Context, status string) ([]*Position, error) {
	query := pgSelectPositions
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPgPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPgPosition(row pgx.Row) (*Position, error) {
	var p Position
	var entryTime, exitTime *time.Time
	var metadata string
	err := row.Scan(&p.Symbol, &p.Side, &p.Quantity, &p.EntryPrice, &entryTime,
		&p.StopPrice, &p.TargetPrice, &p.Status, &p.OrderID, &p.PnL,
		&p.ExitPrice, &exitTime, &metadata)
	if err != nil {
		return nil, err
	}
	if entryTime != nil {
		p.EntryTime = *entryTime
	}
	p.ExitTime = exitTime
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal position metadata: %w", err)
		}
	}
	return &p, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints
		(timestamp, cycle_count, portfolio_value, cash, positions_value,
		 open_positions, symbols, drawdown_pct, peak_equity, consecutive_losses,
		 paper_mode, config_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.Timestamp, c.CycleCount, c.PortfolioValue, c.Cash, c.PositionsValue,
		c.OpenPositions, strings.Join(c.Symbols, ","), c.DrawdownPct,
		c.PeakEquity, c.ConsecutiveLosses, c.PaperMode, c.ConfigHash)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.maybeBackupLocked(ctx)
	return nil
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT timestamp, cycle_count, portfolio_value, cash, positions_value,
		       open_positions, COALESCE(symbols, ''), drawdown_pct, peak_equity,
		       consecutive_losses, paper_mode, COALESCE(config_hash, '')
		FROM checkpoints ORDER BY id DESC LIMIT 1`)

	var c Checkpoint
	var symbols string
	err := row.Scan(&c.Timestamp, &c.CycleCount, &c.PortfolioValue, &c.Cash,
		&c.PositionsValue, &c.OpenPositions, &symbols, &c.DrawdownPct,
		&c.PeakEquity, &c.ConsecutiveLosses, &c.PaperMode, &c.ConfigHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if symbols != "" {
		c.Symbols = strings.Split(symbols, ",")
	}
	return &c, nil
}

func (s *PostgresStore) RecordTrade(ctx context.Context, t *TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades
		(trade_id, symbol, side, quantity, entry_price, exit_price, entry_time,
		 exit_time, gross_pnl, fees, tax, net_pnl, pnl_pct, exit_reason,
		 entry_regime, exit_regime, entry_atr, stop_price, target_price, reward_risk)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20)`,
		t.TradeID, t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice,
		t.EntryTime, t.ExitTime, t.GrossPnL, t.Fees, t.Tax, t.NetPnL, t.PnLPct,
		t.ExitReason, t.EntryRegime, t.ExitRegime, t.EntryATR, t.StopPrice,
		t.TargetPrice, t.RewardRisk)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", t.Symbol, err)
	}
	s.maybeBackupLocked(ctx)
	return nil
}

func (s *PostgresStore) LoadTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]*TradeRecord, error) {
	query := `
		SELECT trade_id, symbol, side, quantity, entry_price, exit_price,
		       entry_time, exit_time, gross_pnl, fees, tax, net_pnl, pnl_pct,
		       exit_reason, COALESCE(entry_regime, ''), COALESCE(exit_regime, ''),
		       COALESCE(entry_atr, 0), COALESCE(stop_price, 0),
		       COALESCE(target_price, 0), COALESCE(reward_risk, 0)
		FROM trades WHERE TRUE`
	var args []interface{}
	if symbol != "" {
		args = append(args, symbol)
		query += fmt.Sprintf(` AND symbol = $%d`, len(args))
	}
	if !since.IsZero() {
		args = append(args, since)
		query += fmt.Sprintf(` AND exit_time >= $%d`, len(args))
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	defer rows.Close()

	var out []*TradeRecord
	for rows.Next() {
		var t TradeRecord
		err := rows.Scan(&t.TradeID, &t.Symbol, &t.Side, &t.Quantity,
			&t.EntryPrice, &t.ExitPrice, &t.EntryTime, &t.ExitTime, &t.GrossPnL,
			&t.Fees, &t.Tax, &t.NetPnL, &t.PnLPct, &t.ExitReason,
			&t.EntryRegime, &t.ExitRegime, &t.EntryATR, &t.StopPrice,
			&t.TargetPrice, &t.RewardRisk)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) maybeBackupLocked(ctx context.Context) {
	if s.backup == nil {
		return
	}
	read := func(ctx context.Context) ([]*Position, *Checkpoint, error) {
		positions, err := s.LoadPositions(ctx, StatusOpen)
		if err != nil {
			return nil, nil, err
		}
		checkpoint, err := s.LoadCheckpoint(ctx)
		if err != nil {
			return nil, nil, err
		}
		return positions, checkpoint, nil
	}
	if err := s.backup.Export(ctx, read); err != nil {
		s.logger.Warn().Err(err).Msg("Backup export failed")
	}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

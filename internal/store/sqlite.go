package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the primary backend: one file, one writer, WAL journaling.
// All mutating calls hold the mutex; the *sql.DB is additionally capped to a
// single connection so reads never race a write on the same page.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	backup *BackupWriter
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and verifies the
// schema version. backup may be nil to disable the secondary JSON export.
func NewSQLiteStore(path string, backup *BackupWriter, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		backup: backup,
		logger: logger.With().Str("component", "SQLiteStore").Logger(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info().Str("path", path).Msg("State store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS positions (
			symbol       TEXT PRIMARY KEY,
			side         TEXT NOT NULL,
			quantity     REAL NOT NULL,
			entry_price  REAL NOT NULL,
			entry_time   TEXT,
			stop_price   REAL NOT NULL,
			target_price REAL NOT NULL,
			status       TEXT NOT NULL,
			order_id     TEXT,
			pnl          REAL NOT NULL DEFAULT 0,
			exit_price   REAL NOT NULL DEFAULT 0,
			exit_time    TEXT,
			metadata     TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);

		CREATE TABLE IF NOT EXISTS checkpoints (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp          TEXT NOT NULL,
			cycle_count        INTEGER NOT NULL,
			portfolio_value    REAL NOT NULL,
			cash               REAL NOT NULL,
			positions_value    REAL NOT NULL,
			open_positions     INTEGER NOT NULL,
			symbols            TEXT,
			drawdown_pct       REAL NOT NULL,
			peak_equity        REAL NOT NULL DEFAULT 0,
			consecutive_losses INTEGER NOT NULL,
			paper_mode         INTEGER NOT NULL,
			config_hash        TEXT
		);

		CREATE TABLE IF NOT EXISTS trades (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id     TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			side         TEXT NOT NULL,
			quantity     REAL NOT NULL,
			entry_price  REAL NOT NULL,
			exit_price   REAL NOT NULL,
			entry_time   TEXT NOT NULL,
			exit_time    TEXT NOT NULL,
			gross_pnl    REAL NOT NULL,
			fees         REAL NOT NULL,
			tax          REAL NOT NULL,
			net_pnl      REAL NOT NULL,
			pnl_pct      REAL NOT NULL,
			exit_reason  TEXT NOT NULL,
			entry_regime TEXT,
			exit_regime  TEXT,
			entry_atr    REAL,
			stop_price   REAL,
			target_price REAL,
			reward_risk  REAL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
		CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);
	`)
	if err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return s.checkSchemaVersion()
}

func (s *SQLiteStore) checkSchemaVersion() error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, strconv.Itoa(SchemaVersion))
		if err != nil {
			return fmt.Errorf("sqlite write schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v != SchemaVersion {
		return fmt.Errorf("%w: store has %q, code expects %d", ErrSchemaMismatch, raw, SchemaVersion)
	}
	return nil
}

func (s *SQLiteStore) SavePosition(ctx context.Context, p *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal position metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions
		(symbol, side, quantity, entry_price, entry_time, stop_price, target_price,
		 status, order_id, pnl, exit_price, exit_time, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Symbol, p.Side, p.Quantity, p.EntryPrice, formatTime(p.EntryTime),
		p.StopPrice, p.TargetPrice, p.Status, p.OrderID, p.PnL, p.ExitPrice,
		formatTimePtr(p.ExitTime), string(metadata))
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.Symbol, err)
	}
	s.maybeBackupLocked(ctx)
	return nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	row := s.db.QueryRowContext(ctx, selectPositions+` WHERE symbol = ?`, symbol)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	return p, nil
}

func (s *SQLiteStore) LoadPositions(ctx context.Context, status string) ([]*Position, error) {
	query := selectPositions
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY symbol`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints
		(timestamp, cycle_count, portfolio_value, cash, positions_value,
		 open_positions, symbols, drawdown_pct, peak_equity, consecutive_losses,
		 paper_mode, config_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(c.Timestamp), c.CycleCount, c.PortfolioValue, c.Cash,
		c.PositionsValue, c.OpenPositions, strings.Join(c.Symbols, ","),
		c.DrawdownPct, c.PeakEquity, c.ConsecutiveLosses, boolInt(c.PaperMode),
		c.ConfigHash)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.maybeBackupLocked(ctx)
	return nil
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, cycle_count, portfolio_value, cash, positions_value,
		       open_positions, symbols, drawdown_pct, peak_equity,
		       consecutive_losses, paper_mode, config_hash
		FROM checkpoints ORDER BY id DESC LIMIT 1`)

	var c Checkpoint
	var ts, symbols string
	var paper int
	err := row.Scan(&ts, &c.CycleCount, &c.PortfolioValue, &c.Cash,
		&c.PositionsValue, &c.OpenPositions, &symbols, &c.DrawdownPct,
		&c.PeakEquity, &c.ConsecutiveLosses, &paper, &c.ConfigHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	c.Timestamp = parseTime(ts)
	if symbols != "" {
		c.Symbols = strings.Split(symbols, ",")
	}
	c.PaperMode = paper != 0
	return &c, nil
}

func (s *SQLiteStore) RecordTrade(ctx context.Context, t *TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
		(trade_id, symbol, side, quantity, entry_price, exit_price, entry_time,
		 exit_time, gross_pnl, fees, tax, net_pnl, pnl_pct, exit_reason,
		 entry_regime, exit_regime, entry_atr, stop_price, target_price, reward_risk)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice,
		formatTime(t.EntryTime), formatTime(t.ExitTime), t.GrossPnL, t.Fees,
		t.Tax, t.NetPnL, t.PnLPct, t.ExitReason, t.EntryRegime, t.ExitRegime,
		t.EntryATR, t.StopPrice, t.TargetPrice, t.RewardRisk)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", t.Symbol, err)
	}

	outcome := "LOSS"
	if t.NetPnL > 0 {
		outcome = "WIN"
	}
	s.logger.Info().
		Str("symbol", t.Symbol).
		Str("outcome", outcome).
		Float64("net_pnl", t.NetPnL).
		Float64("pnl_pct", t.PnLPct).
		Str("exit_reason", t.ExitReason).
		Msg("Trade recorded")

	s.maybeBackupLocked(ctx)
	return nil
}

func (s *SQLiteStore) LoadTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]*TradeRecord, error) {
	query := `
		SELECT trade_id, symbol, side, quantity, entry_price, exit_price,
		       entry_time, exit_time, gross_pnl, fees, tax, net_pnl, pnl_pct,
		       exit_reason, entry_regime, exit_regime, entry_atr, stop_price,
		       target_price, reward_risk
		FROM trades WHERE 1=1`
	var args []interface{}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	if !since.IsZero() {
		query += ` AND exit_time >= ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	defer rows.Close()

	var out []*TradeRecord
	for rows.Next() {
		var t TradeRecord
		var entryTime, exitTime string
		err := rows.Scan(&t.TradeID, &t.Symbol, &t.Side, &t.Quantity,
			&t.EntryPrice, &t.ExitPrice, &entryTime, &exitTime, &t.GrossPnL,
			&t.Fees, &t.Tax, &t.NetPnL, &t.PnLPct, &t.ExitReason,
			&t.EntryRegime, &t.ExitRegime, &t.EntryATR, &t.StopPrice,
			&t.TargetPrice, &t.RewardRisk)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.EntryTime = parseTime(entryTime)
		t.ExitTime = parseTime(exitTime)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// maybeBackupLocked exports the secondary JSON snapshot after a mutation.
// Failures are logged, never propagated; the backup must not block trading.
func (s *SQLiteStore) maybeBackupLocked(ctx context.Context) {
	if s.backup == nil {
		return
	}
	if err := s.backup.Export(ctx, s.snapshotLocked); err != nil {
		s.logger.Warn().Err(err).Msg("Backup export failed")
	}
}

// snapshotLocked reads current state without re-taking the store mutex.
func (s *SQLiteStore) snapshotLocked(ctx context.Context) ([]*Position, *Checkpoint, error) {
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectPositions = `
	SELECT symbol, side, quantity, entry_price, entry_time, stop_price,
	       target_price, status, order_id, pnl, exit_price, exit_time, metadata
	FROM positions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*Position, error) {
	var p Position
	var entryTime, exitTime, orderID, metadata sql.NullString
	err := row.Scan(&p.Symbol, &p.Side, &p.Quantity, &p.EntryPrice, &entryTime,
		&p.StopPrice, &p.TargetPrice, &p.Status, &orderID, &p.PnL, &p.ExitPrice,
		&exitTime, &metadata)
	if err != nil {
		return nil, err
	}
	if entryTime.Valid {
		p.EntryTime = parseTime(entryTime.String)
	}
	if exitTime.Valid && exitTime.String != "" {
		t := parseTime(exitTime.String)
		p.ExitTime = &t
	}
	p.OrderID = orderID.String
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal position metadata: %w", err)
		}
	}
	return &p, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"volatility-trading-bot/config"
)

// New builds the configured backend. The state directory is created if
// missing; the SQLite file and the JSON backup live inside it.
func New(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (Store, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", cfg.StateDir, err)
	}

	var backup *BackupWriter
	if cfg.AutoBackup {
		backup = NewBackupWriter(filepath.Join(cfg.StateDir, "trading_state.json"))
	}

	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(filepath.Join(cfg.StateDir, "trading_state.db"), backup, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURL, backup, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Snapshot is the portable export document: open positions, the latest
// checkpoint, and recent trades.
type Snapshot struct {
	ExportedAt    time.Time      `json:"exported_at"`
	SchemaVersion int            `json:"schema_version"`
	Positions     []*Position    `json:"positions"`
	Checkpoint    *Checkpoint    `json:"checkpoint"`
	Trades        []*TradeRecord `json:"trades"`
}

// snapshotTradeLimit bounds how many recent trades an export carries.
const snapshotTradeLimit = 200

// ExportSnapshot writes the portable document to path.
func ExportSnapshot(ctx context.Context, s Store, path string) error {
	positions, err := s.LoadPositions(ctx, StatusOpen)
	if err != nil {
		return fmt.Errorf("snapshot positions: %w", err)
	}
	checkpoint, err := s.LoadCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("snapshot checkpoint: %w", err)
	}
	trades, err := s.LoadTrades(ctx, "", time.Time{}, snapshotTradeLimit)
	if err != nil {
		return fmt.Errorf("snapshot trades: %w", err)
	}

	doc := Snapshot{
		ExportedAt:    time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Positions:     positions,
		Checkpoint:    checkpoint,
		Trades:        trades,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot marshal: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// ImportSnapshot restores positions only. Checkpoints and trades are never
// replayed from a snapshot so the audit history cannot be rewritten.
func ImportSnapshot(ctx context.Context, s Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var doc Snapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if doc.SchemaVersion != 0 && doc.SchemaVersion != SchemaVersion {
		return 0, fmt.Errorf("%w: snapshot has %d, code expects %d", ErrSchemaMismatch, doc.SchemaVersion, SchemaVersion)
	}

	restored := 0
	for _, p := range doc.Positions {
		if err := s.SavePosition(ctx, p); err != nil {
			return restored, fmt.Errorf("restore position %s: %w", p.Symbol, err)
		}
		restored++
	}
	return restored, nil
}

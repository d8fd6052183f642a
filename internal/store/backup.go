package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BackupWriter maintains a human-readable JSON mirror of the store for
// disaster recovery independent of the primary database. It is write-only
// during normal operation; nothing reads it back mid-run.
type BackupWriter struct {
	path string
}

// backupDocument is the on-disk shape of the JSON mirror.
type backupDocument struct {
	ExportedAt    time.Time   `json:"exported_at"`
	SchemaVersion int         `json:"schema_version"`
	Positions     []*Position `json:"positions"`
	Checkpoint    *Checkpoint `json:"checkpoint"`
}

func NewBackupWriter(path string) *BackupWriter {
	return &BackupWriter{path: path}
}

// Export pulls current state through the supplied reader and writes it
// atomically (temp file + fsync + rename).
func (b *BackupWriter) Export(ctx context.Context, read func(context.Context) ([]*Position, *Checkpoint, error)) error {
	positions, checkpoint, err := read(ctx)
	if err != nil {
		return fmt.Errorf("backup read state: %w", err)
	}

	doc := backupDocument{
		ExportedAt:    time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Positions:     positions,
		Checkpoint:    checkpoint,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("backup marshal: %w", err)
	}
	return writeFileAtomic(b.path, data, 0o644)
}

// writeFileAtomic writes data through a temp file and rename so a crash
// mid-write never leaves a truncated backup. The parent directory is synced
// best-effort to harden the rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".backup-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

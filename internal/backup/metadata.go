package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/epirec/pkg/types"
)

// MetadataFile is the sidecar describing the most recent backup or restore.
const MetadataFile = "last_backup.json"

func (e *Engine) metadataPath() string {
	return filepath.Join(e.dir, MetadataFile)
}

// GetLastBackup returns the recorded most recent backup, or nil when the
// sidecar is missing or unreadable or names a file that no longer exists.
func (e *Engine) GetLastBackup(ctx context.Context) *types.BackupMetadata {
	return e.lastBackup(ctx)
}

func (e *Engine) lastBackup(ctx context.Context) *types.BackupMetadata {
	m, err := readMetadata(e.metadataPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.log.Warn(ctx, "ignoring backup metadata", "path", e.metadataPath(), "error", err)
		}
		return nil
	}
	if _, err := os.Stat(m.Path); err != nil {
		e.log.Debug(ctx, "last backup no longer on disk", "path", m.Path)
		return nil
	}
	return m
}

func readMetadata(path string) (*types.BackupMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m types.BackupMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if m.Path == "" || m.CreatedAt.IsZero() {
		return nil, fmt.Errorf("incomplete metadata in %s", path)
	}
	return &m, nil
}

// writeMetadata replaces the sidecar atomically using the temp-file, fsync,
// rename pattern.
func writeMetadata(path string, m types.BackupMetadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".last_backup-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

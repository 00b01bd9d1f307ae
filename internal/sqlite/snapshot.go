package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	msqlite "modernc.org/sqlite"
)

// ErrNativeBackupUnsupported is returned by BackupTo when the driver
// connection does not expose the online backup API. It is the only
// condition under which a raw file copy may stand in for a snapshot.
var ErrNativeBackupUnsupported = errors.New("native online backup unsupported by driver connection")

type onlineBackuper interface {
	NewBackup(dstURI string) (*msqlite.Backup, error)
}

// Checkpoint folds the write-ahead log into the main database file.
func (p *Pool) Checkpoint(ctx context.Context) error {
	return p.Conn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
			return fmt.Errorf("checkpointing wal: %w", err)
		}
		return nil
	})
}

// BackupTo writes a consistent copy of the live database to dst using the
// engine's online backup, stepPages pages at a time (-1 copies everything in
// one step). Concurrent writers on other connections may continue. The
// context is checked between steps.
func (p *Pool) BackupTo(ctx context.Context, dst string, stepPages int) error {
	if stepPages == 0 {
		stepPages = -1
	}
	return p.Conn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		return conn.Raw(func(dc any) error {
			src, ok := dc.(onlineBackuper)
			if !ok {
				return ErrNativeBackupUnsupported
			}
			bk, err := src.NewBackup(dst)
			if err != nil {
				return fmt.Errorf("starting online backup: %w", err)
			}
			for {
				more, err := bk.Step(int32(stepPages))
				if err != nil {
					return errors.Join(fmt.Errorf("online backup step: %w", err), bk.Finish())
				}
				if !more {
					break
				}
				if err := ctx.Err(); err != nil {
					return errors.Join(err, bk.Finish())
				}
			}
			if err := bk.Finish(); err != nil {
				return fmt.Errorf("finishing online backup: %w", err)
			}
			return nil
		})
	})
}

// Package backup takes point-in-time snapshots of the live database while
// the pool stays open, restores them, and keeps an at-least-daily cadence.
//
// A backup file and its audit row are two independent effects. The file is
// always written first and recorded after, so a crash in between leaves an
// unrecorded backup rather than a recorded one that does not exist.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mesh-intelligence/epirec/internal/auth"
	"github.com/mesh-intelligence/epirec/internal/logging"
	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

// DailyInterval is the cadence enforced by EnsureDailyBackup.
const DailyInterval = 24 * time.Hour

// Method records how a snapshot was taken.
type Method string

// Snapshot methods. MethodFileCopy is only consistent when nothing writes to
// the database during the copy.
const (
	MethodNative   Method = "native"
	MethodFileCopy Method = "file_copy"
)

// Snapshot is the result of one successful copy of the live database.
type Snapshot struct {
	Path   string
	Method Method
}

// snapshotter is the part of the pool the engine copies through.
type snapshotter interface {
	Checkpoint(ctx context.Context) error
	BackupTo(ctx context.Context, dst string, stepPages int) error
}

// Engine creates and restores backups of the live database. Create, restore
// and the daily check are serialized by a process-local lock.
type Engine struct {
	mu    sync.Mutex
	pool  *sqlite.Pool
	snap  snapshotter
	guard *auth.Guard
	audit sqlite.AuditTable
	dir   string
	cfg   types.BackupConfig
	log   logging.Logger
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = logging.OrNop(l) }
}

// WithClock replaces the wall clock used for file names, metadata and the
// daily cadence.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an engine that keeps backups of pool's database in dir.
func New(pool *sqlite.Pool, dir string, cfg types.BackupConfig, opts ...Option) *Engine {
	e := &Engine{
		pool:  pool,
		snap:  pool,
		audit: sqlite.NewAuditTable(),
		dir:   dir,
		cfg:   cfg,
		log:   logging.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.guard = auth.NewGuard(e.log)
	if e.cfg.Timeout <= 0 {
		e.cfg.Timeout = types.DefaultBackupTimeout
	}
	if e.cfg.StepPages == 0 {
		e.cfg.StepPages = types.DefaultStepPages
	}
	return e
}

// Dir returns the backup directory.
func (e *Engine) Dir() string {
	return e.dir
}

type backupPayload struct {
	Path   string             `json:"path"`
	Reason types.BackupReason `json:"reason"`
}

type failurePayload struct {
	Error string `json:"error"`
}

// CreateBackup snapshots the live database into a new timestamped file and
// returns its path. A nil actorID is a trusted system caller and skips the
// permission check; any other actor must currently be an admin.
func (e *Engine) CreateBackup(ctx context.Context, actorID *int64, reason types.BackupReason) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.create(ctx, actorID, reason)
}

func (e *Engine) create(ctx context.Context, actorID *int64, reason types.BackupReason) (string, error) {
	if actorID != nil {
		if err := e.requireAdmin(ctx, *actorID, types.ActionBackupCreate); err != nil {
			return "", err
		}
	}
	if !reason.Valid() {
		return "", fmt.Errorf("%w: unknown backup reason %q", types.ErrInvalidInput, reason)
	}

	live := e.pool.Path()
	if _, err := os.Stat(live); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("live database %s: %w", live, types.ErrNotFound)
		}
		return "", fmt.Errorf("%w: %w", types.ErrBackupFailed, err)
	}

	now := e.now().UTC()
	snap, err := e.takeSnapshot(ctx, now)
	if err != nil {
		e.log.Error(ctx, "backup failed", "reason", reason, "error", err)
		e.auditFailure(ctx, actorID, types.ActionBackupCreateFailed, err)
		return "", fmt.Errorf("%w: %w", types.ErrBackupFailed, err)
	}

	meta := types.BackupMetadata{Path: snap.Path, CreatedAt: now, Reason: reason}
	if err := writeMetadata(e.metadataPath(), meta); err != nil {
		e.log.Error(ctx, "recording backup metadata", "path", snap.Path, "error", err)
		return "", fmt.Errorf("%w: %w", types.ErrBackupFailed, err)
	}

	err = e.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		_, err := e.audit.Append(ctx, tx, actorID, types.EntityBackup, filepath.Base(snap.Path), types.ActionBackupCreate, backupPayload{Path: snap.Path, Reason: reason})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("auditing backup %s: %w", snap.Path, err)
	}

	e.log.Info(ctx, "backup created", "path", snap.Path, "reason", reason, "method", snap.Method)
	return snap.Path, nil
}

// takeSnapshot copies the live database to a fresh file under the configured
// timeout. A partially written file is removed.
func (e *Engine) takeSnapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("creating backup directory: %w", err)
	}
	dst, err := e.nextName(backupPrefix, now)
	if err != nil {
		return Snapshot{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	snap, err := e.snapshot(ctx, dst)
	if err != nil {
		if rmErr := os.Remove(dst); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.log.Warn(ctx, "removing partial backup", "path", dst, "error", rmErr)
		}
		return Snapshot{}, err
	}
	return snap, nil
}

// snapshot prefers the engine's online backup. Only a driver without that
// API falls back to copying the main file.
func (e *Engine) snapshot(ctx context.Context, dst string) (Snapshot, error) {
	if err := e.snap.Checkpoint(ctx); err != nil {
		e.log.Warn(ctx, "wal checkpoint before backup", "error", err)
	}

	err := e.snap.BackupTo(ctx, dst, e.cfg.StepPages)
	if err == nil {
		return Snapshot{Path: dst, Method: MethodNative}, nil
	}
	if !errors.Is(err, sqlite.ErrNativeBackupUnsupported) {
		return Snapshot{}, err
	}

	e.log.Warn(ctx, "online backup unavailable, copying database file", "path", dst)
	if err := copyFile(ctx, e.pool.Path(), dst); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: dst, Method: MethodFileCopy}, nil
}

// RestoreBackup replaces the live database with backupPath. The pool is
// disposed for the duration of the file surgery and re-created afterwards;
// handles obtained before the restore must not be reused. The previous live
// file is kept as a pre_restore safety copy.
func (e *Engine) RestoreBackup(ctx context.Context, backupPath string, actorID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(ctx, actorID, types.ActionBackupRestore); err != nil {
		return err
	}
	if _, err := os.Stat(backupPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("backup %s: %w", backupPath, types.ErrNotFound)
		}
		return fmt.Errorf("%w: %w", types.ErrRestoreFailed, err)
	}

	now := e.now().UTC()
	live := e.pool.Path()
	var safety string
	err := e.pool.Swap(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		var err error
		if safety, err = e.safetyCopy(ctx, live, now); err != nil {
			return err
		}
		if err := removeSideFiles(live); err != nil {
			return err
		}
		if err := copyFile(ctx, backupPath, live); err != nil {
			return fmt.Errorf("overwriting live database: %w", err)
		}
		return nil
	})
	if err != nil {
		e.log.Error(ctx, "restore failed", "backup", backupPath, "safety_copy", safety, "error", err)
		id := actorID
		e.auditFailure(ctx, &id, types.ActionBackupRestoreFailed, err)
		return fmt.Errorf("%w: %w", types.ErrRestoreFailed, err)
	}

	meta := types.BackupMetadata{Path: backupPath, CreatedAt: now, Reason: types.BackupRestore}
	if err := writeMetadata(e.metadataPath(), meta); err != nil {
		e.log.Error(ctx, "recording restore metadata", "backup", backupPath, "error", err)
		return fmt.Errorf("recording restore of %s: %w", backupPath, err)
	}

	err = e.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		_, err := e.audit.Append(ctx, tx, &actorID, types.EntityBackup, filepath.Base(backupPath), types.ActionBackupRestore, backupPayload{Path: backupPath, Reason: types.BackupRestore})
		return err
	})
	if err != nil {
		return fmt.Errorf("auditing restore of %s: %w", backupPath, err)
	}

	e.log.Info(ctx, "backup restored", "backup", backupPath, "safety_copy", safety, "actor_id", actorID)
	return nil
}

// safetyCopy copies the live file aside before it is overwritten. It returns
// "" when there is no live file.
func (e *Engine) safetyCopy(ctx context.Context, live string, now time.Time) (string, error) {
	if _, err := os.Stat(live); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	dst, err := e.nextName(safetyPrefix, now)
	if err != nil {
		return "", err
	}
	if err := copyFile(ctx, live, dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("taking safety copy: %w", err)
	}
	// A log left behind by a failed checkpoint still holds committed pages.
	if fi, err := os.Stat(live + "-wal"); err == nil && fi.Size() > 0 {
		if err := copyFile(ctx, live+"-wal", dst+"-wal"); err != nil {
			os.Remove(dst)
			os.Remove(dst + "-wal")
			return "", fmt.Errorf("taking safety copy of wal: %w", err)
		}
	}
	return dst, nil
}

// removeSideFiles deletes the write-ahead log and shared-memory files of the
// live database so they are never replayed onto the restored file.
func removeSideFiles(live string) error {
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(live + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", live+suffix, err)
		}
	}
	return nil
}

// EnsureDailyBackup creates an automatic backup when none is recorded or the
// last one is at least a day old. It reports whether a backup was taken.
func (e *Engine) EnsureDailyBackup(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last := e.lastBackup(ctx); last != nil && e.now().Sub(last.CreatedAt) < DailyInterval {
		e.log.Debug(ctx, "daily backup not due", "last", last.CreatedAt)
		return false, nil
	}
	if _, err := e.create(ctx, nil, types.BackupAuto); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) requireAdmin(ctx context.Context, actorID int64, action string) error {
	return e.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		_, err := e.guard.RequireAdmin(ctx, tx, actorID, types.EntityBackup, types.PermManageBackups, action)
		return err
	})
}

// auditFailure records a failed backup or restore when failure auditing is
// on. It never masks the original failure.
func (e *Engine) auditFailure(ctx context.Context, actorID *int64, action string, cause error) {
	if !e.cfg.AuditFailures {
		return
	}
	err := e.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		_, err := e.audit.Append(ctx, tx, actorID, types.EntityBackup, "", action, failurePayload{Error: cause.Error()})
		return err
	})
	if err != nil {
		e.log.Warn(ctx, "auditing backup failure", "action", action, "error", err)
	}
}

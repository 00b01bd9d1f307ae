package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/epirec/internal/auth"
	"github.com/mesh-intelligence/epirec/internal/credential"
	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

var cheapHash = types.HashConfig{
	Argon2:     types.Argon2Config{MemoryKiB: 1024, Iterations: 1, Parallelism: 1},
	BcryptCost: 4,
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	pool       *sqlite.Pool
	admin      *auth.Admin
	engine     *Engine
	clock      *clock
	adminID    int64
	operatorID int64
}

func newFixture(t *testing.T, cfg types.BackupConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")

	_, err := sqlite.Migrate(ctx, path)
	require.NoError(t, err)
	pool, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	f := &fixture{
		pool:  pool,
		admin: auth.NewAdmin(pool, credential.New(cheapHash), nil),
		clock: &clock{t: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)},
	}
	f.engine = New(pool, filepath.Join(dir, "backups"), cfg, WithClock(f.clock.Now))

	f.adminID, err = f.admin.Bootstrap(ctx, "admin", "admin1234")
	require.NoError(t, err)
	f.operatorID, err = f.admin.CreateUser(ctx, "operator", "operator-pass", types.RoleOperator, f.adminID)
	require.NoError(t, err)
	return f
}

func defaultCfg() types.BackupConfig {
	return types.BackupConfig{Timeout: time.Minute, StepPages: 8}
}

func (f *fixture) events(t *testing.T, action string) []types.AuditEntry {
	t.Helper()
	var out []types.AuditEntry
	err := f.pool.WithTx(context.Background(), func(ctx context.Context, tx sqlite.DBTX) error {
		var err error
		out, err = sqlite.NewAuditTable().List(ctx, tx, types.AuditQuery{Action: action, Limit: 1000})
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) logins(t *testing.T) []string {
	t.Helper()
	users, err := f.admin.ListUsers(context.Background(), "")
	require.NoError(t, err)
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Login)
	}
	return out
}

func countUsersIn(t *testing.T, path string) int {
	t.Helper()
	p, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	defer p.Close()
	var n int
	err = p.WithTx(context.Background(), func(ctx context.Context, tx sqlite.DBTX) error {
		n, err = sqlite.NewUsersTable().Count(ctx, tx)
		return err
	})
	require.NoError(t, err)
	return n
}

func TestCreateBackup_SystemActor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())

	path, err := f.engine.CreateBackup(ctx, nil, types.BackupAuto)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.engine.Dir(), "app_20260314_092653.db"), path)
	assert.FileExists(t, path)
	assert.Equal(t, 2, countUsersIn(t, path))

	last := f.engine.GetLastBackup(ctx)
	require.NotNil(t, last)
	assert.Equal(t, path, last.Path)
	assert.Equal(t, types.BackupAuto, last.Reason)
	assert.True(t, last.CreatedAt.Equal(f.clock.Now()))

	created := f.events(t, types.ActionBackupCreate)
	require.Len(t, created, 1)
	assert.Nil(t, created[0].UserID)
	assert.Equal(t, types.EntityBackup, created[0].EntityType)
	assert.JSONEq(t, `{"path":"`+path+`","reason":"auto"}`, string(created[0].Payload))
	assert.Empty(t, f.events(t, types.ActionAccessDenied))
}

func TestCreateBackup_Admin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())

	path, err := f.engine.CreateBackup(ctx, &f.adminID, types.BackupManual)
	require.NoError(t, err)

	last := f.engine.GetLastBackup(ctx)
	require.NotNil(t, last)
	assert.Equal(t, path, last.Path)
	assert.Equal(t, types.BackupManual, last.Reason)

	created := f.events(t, types.ActionBackupCreate)
	require.Len(t, created, 1)
	require.NotNil(t, created[0].UserID)
	assert.Equal(t, f.adminID, *created[0].UserID)
}

func TestCreateBackup_DeniedForOperator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())

	_, err := f.engine.CreateBackup(ctx, &f.operatorID, types.BackupManual)
	require.ErrorIs(t, err, types.ErrPermissionDenied)

	denied := f.events(t, types.ActionAccessDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, types.EntityBackup, denied[0].EntityType)
	assert.Equal(t, f.operatorID, *denied[0].UserID)
	assert.JSONEq(t,
		`{"reason":"admin_required","permission":"manage_backups","action":"backup_create"}`,
		string(denied[0].Payload))

	backups, err := f.engine.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
	assert.Nil(t, f.engine.GetLastBackup(ctx))
	assert.Empty(t, f.events(t, types.ActionBackupCreate))
}

func TestCreateBackup_InvalidReason(t *testing.T) {
	f := newFixture(t, defaultCfg())
	_, err := f.engine.CreateBackup(context.Background(), nil, "weekly")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestCreateBackup_LiveFileMissing(t *testing.T) {
	f := newFixture(t, defaultCfg())
	require.NoError(t, os.Remove(f.pool.Path()))

	_, err := f.engine.CreateBackup(context.Background(), nil, types.BackupManual)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCreateBackup_NameCollision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())

	first, err := f.engine.CreateBackup(ctx, nil, types.BackupManual)
	require.NoError(t, err)
	second, err := f.engine.CreateBackup(ctx, nil, types.BackupManual)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.engine.Dir(), "app_20260314_092653_1.db"), second)

	backups, err := f.engine.ListBackups()
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, backups)
}

// fakeSnapshotter stands in for the pool's snapshot methods.
type fakeSnapshotter struct {
	checkpointErr error
	backupTo      func(ctx context.Context, dst string) error
}

func (f *fakeSnapshotter) Checkpoint(context.Context) error { return f.checkpointErr }

func (f *fakeSnapshotter) BackupTo(ctx context.Context, dst string, _ int) error {
	return f.backupTo(ctx, dst)
}

func TestCreateBackup_FileCopyFallbackOnlyWhenUnsupported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())
	f.engine.snap = &fakeSnapshotter{
		checkpointErr: errors.New("checkpoint busy"),
		backupTo: func(context.Context, string) error {
			return sqlite.ErrNativeBackupUnsupported
		},
	}
	require.NoError(t, f.pool.Checkpoint(ctx))

	path, err := f.engine.CreateBackup(ctx, nil, types.BackupManual)
	require.NoError(t, err, "checkpoint failure is not fatal")
	assert.Equal(t, 2, countUsersIn(t, path))
}

func TestCreateBackup_OtherErrorsDoNotFallBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.BackupConfig{Timeout: time.Minute, StepPages: -1, AuditFailures: true})
	errDisk := errors.New("disk full")
	var partial string
	f.engine.snap = &fakeSnapshotter{
		backupTo: func(_ context.Context, dst string) error {
			partial = dst
			require.NoError(t, os.WriteFile(dst, []byte("half"), 0o600))
			return errDisk
		},
	}

	_, err := f.engine.CreateBackup(ctx, nil, types.BackupManual)
	require.ErrorIs(t, err, types.ErrBackupFailed)
	require.ErrorIs(t, err, errDisk)
	assert.NoFileExists(t, partial)
	assert.Nil(t, f.engine.GetLastBackup(ctx))
	assert.Empty(t, f.events(t, types.ActionBackupCreate))

	failed := f.events(t, types.ActionBackupCreateFailed)
	require.Len(t, failed, 1)
	assert.JSONEq(t, `{"error":"disk full"}`, string(failed[0].Payload))
}

func TestCreateBackup_Timeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.BackupConfig{Timeout: 20 * time.Millisecond, StepPages: 1})
	f.engine.snap = &fakeSnapshotter{
		backupTo: func(ctx context.Context, dst string) error {
			require.NoError(t, os.WriteFile(dst, []byte("partial"), 0o600))
			<-ctx.Done()
			return ctx.Err()
		},
	}

	_, err := f.engine.CreateBackup(ctx, nil, types.BackupManual)
	require.ErrorIs(t, err, types.ErrBackupFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	backups, err := f.engine.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
	assert.Empty(t, f.events(t, types.ActionBackupCreateFailed), "failure auditing is off by default")
}

func TestRestoreBackup_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())

	backup, err := f.engine.CreateBackup(ctx, &f.adminID, types.BackupManual)
	require.NoError(t, err)

	_, err = f.admin.CreateUser(ctx, "late", "late-pass", types.RoleOperator, f.adminID)
	require.NoError(t, err)
	require.Equal(t, []string{"admin", "late", "operator"}, f.logins(t))

	f.clock.Advance(time.Hour)
	require.NoError(t, f.engine.RestoreBackup(ctx, backup, f.adminID))

	assert.Equal(t, []string{"admin", "operator"}, f.logins(t), "pool serves the restored file")

	safety := filepath.Join(f.engine.Dir(), "pre_restore_20260314_102653.db")
	require.FileExists(t, safety)
	assert.Equal(t, 3, countUsersIn(t, safety))

	last := f.engine.GetLastBackup(ctx)
	require.NotNil(t, last)
	assert.Equal(t, backup, last.Path)
	assert.Equal(t, types.BackupRestore, last.Reason)

	restored := f.events(t, types.ActionBackupRestore)
	require.Len(t, restored, 1)
	assert.Equal(t, f.adminID, *restored[0].UserID)
	assert.JSONEq(t, `{"path":"`+backup+`","reason":"restore"}`, string(restored[0].Payload))

	backups, err := f.engine.ListBackups()
	require.NoError(t, err)
	assert.Equal(t, []string{backup}, backups, "safety copies are not listed")
}

func TestRestoreBackup_DeniedLeavesLiveUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())

	backup, err := f.engine.CreateBackup(ctx, &f.adminID, types.BackupManual)
	require.NoError(t, err)
	_, err = f.admin.CreateUser(ctx, "late", "late-pass", types.RoleOperator, f.adminID)
	require.NoError(t, err)

	before, err := os.ReadFile(f.pool.Path())
	require.NoError(t, err)

	err = f.engine.RestoreBackup(ctx, backup, f.operatorID)
	require.ErrorIs(t, err, types.ErrPermissionDenied)

	after, err := os.ReadFile(f.pool.Path())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before, after), "live database file changed")
	assert.Contains(t, f.logins(t), "late")

	denied := f.events(t, types.ActionAccessDenied)
	require.Len(t, denied, 1)
	assert.JSONEq(t,
		`{"reason":"admin_required","permission":"manage_backups","action":"backup_restore"}`,
		string(denied[0].Payload))
	assert.Empty(t, f.events(t, types.ActionBackupRestore))

	matches, err := filepath.Glob(filepath.Join(f.engine.Dir(), "pre_restore_*.db"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRestoreBackup_NotFound(t *testing.T) {
	f := newFixture(t, defaultCfg())
	err := f.engine.RestoreBackup(context.Background(), filepath.Join(t.TempDir(), "missing.db"), f.adminID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEnsureDailyBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())

	did, err := f.engine.EnsureDailyBackup(ctx)
	require.NoError(t, err)
	assert.True(t, did)

	f.clock.Advance(23 * time.Hour)
	did, err = f.engine.EnsureDailyBackup(ctx)
	require.NoError(t, err)
	assert.False(t, did, "within the cadence window")

	f.clock.Advance(time.Hour)
	did, err = f.engine.EnsureDailyBackup(ctx)
	require.NoError(t, err)
	assert.True(t, did, "24h after the last backup")

	backups, err := f.engine.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)

	created := f.events(t, types.ActionBackupCreate)
	require.Len(t, created, 2)
	for _, ev := range created {
		assert.Nil(t, ev.UserID)
		assert.Contains(t, string(ev.Payload), `"reason":"auto"`)
	}
}

func TestEnsureDailyBackup_LastBackupDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())

	path, err := f.engine.CreateBackup(ctx, nil, types.BackupManual)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	did, err := f.engine.EnsureDailyBackup(ctx)
	require.NoError(t, err)
	assert.True(t, did)
}

func TestCreateBackup_InvalidReasonFromOperatorIsDenied(t *testing.T) {
	f := newFixture(t, defaultCfg())

	_, err := f.engine.CreateBackup(context.Background(), &f.operatorID, "weekly")
	require.ErrorIs(t, err, types.ErrPermissionDenied)
	assert.Len(t, f.events(t, types.ActionAccessDenied), 1)
}

func appendRow(pool *sqlite.Pool, payload any) error {
	return pool.WithTx(context.Background(), func(ctx context.Context, tx sqlite.DBTX) error {
		_, err := sqlite.NewAuditTable().Append(ctx, tx, nil, types.EntityUser, "", "load", payload)
		return err
	})
}

func integrityCheck(t *testing.T, path string) string {
	t.Helper()
	p, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	defer p.Close()
	var result string
	err = p.Conn(context.Background(), func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result)
	})
	require.NoError(t, err)
	return result
}

func TestCreateBackup_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg())

	padding := map[string]string{"pad": string(bytes.Repeat([]byte("x"), 512))}
	for range 500 {
		require.NoError(t, appendRow(f.pool, padding))
	}

	stop := make(chan struct{})
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		commits int
		errs    []error
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				err := appendRow(f.pool, padding)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else {
					commits++
				}
				mu.Unlock()
				if err != nil {
					return
				}
			}
		}()
	}

	path, backupErr := f.engine.CreateBackup(ctx, &f.adminID, types.BackupManual)
	close(stop)
	wg.Wait()

	require.NoError(t, backupErr)
	assert.Empty(t, errs)
	assert.Positive(t, commits)
	assert.Equal(t, "ok", integrityCheck(t, path))

	p, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer p.Close()
	var n int
	err = p.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log WHERE action = 'load'").Scan(&n)
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 500)
	assert.LessOrEqual(t, n, 500+commits)
}

func TestSafetyCopy_KeepsUncheckpointedWal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	live := filepath.Join(dir, "app.db")
	require.NoError(t, os.WriteFile(live, []byte("main pages"), 0o644))
	require.NoError(t, os.WriteFile(live+"-wal", []byte("committed frames"), 0o644))

	e := New(nil, filepath.Join(dir, "backups"), defaultCfg())
	dst, err := e.safetyCopy(ctx, live, time.Date(2026, 3, 14, 10, 26, 53, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backups", "pre_restore_20260314_102653.db"), dst)

	main, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "main pages", string(main))
	wal, err := os.ReadFile(dst + "-wal")
	require.NoError(t, err)
	assert.Equal(t, "committed frames", string(wal))
}

func TestSafetyCopy_SkipsEmptyWal(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "app.db")
	require.NoError(t, os.WriteFile(live, []byte("main pages"), 0o644))
	require.NoError(t, os.WriteFile(live+"-wal", nil, 0o644))

	e := New(nil, filepath.Join(dir, "backups"), defaultCfg())
	dst, err := e.safetyCopy(context.Background(), live, time.Date(2026, 3, 14, 10, 26, 53, 0, time.UTC))
	require.NoError(t, err)
	assert.NoFileExists(t, dst+"-wal")
}

// Package sqlite owns the live SQLite database file: the connection pool
// handle, units of work over it, the embedded schema, the users and audit
// tables, and online snapshots of the file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/epirec/internal/logging"
)

const driverName = "sqlite"

// ErrPoolDisposed is returned when a unit of work is requested while the
// pool's connections are disposed and not yet re-created.
var ErrPoolDisposed = errors.New("connection pool is disposed")

// Pool is the process-wide handle on the live database. It is created once at
// start, disposed at shutdown, and explicitly re-created across a restore.
// Callers never keep the underlying *sql.DB; every access goes through
// WithTx or Conn so a restore can swap the file underneath.
//
// Pool is safe for concurrent use by multiple goroutines.
type Pool struct {
	mu      sync.RWMutex
	path    string
	db      *sql.DB
	maxOpen int
	log     logging.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pool) { p.log = logging.OrNop(l) }
}

// WithMaxOpenConns caps the number of pooled connections.
func WithMaxOpenConns(n int) Option {
	return func(p *Pool) { p.maxOpen = n }
}

// Open opens a pool on the database file at path, creating the parent
// directory and the file if needed.
func Open(ctx context.Context, path string, opts ...Option) (*Pool, error) {
	p := &Pool{
		path:    path,
		maxOpen: 8,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openLocked(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the live database file path.
func (p *Pool) Path() string {
	return p.path
}

// dsn applies per-connection pragmas. Write transactions take the RESERVED
// lock up front so concurrent writers wait on busy_timeout instead of failing
// a read-to-write upgrade.
func dsn(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

func (p *Pool) openLocked(ctx context.Context) error {
	db, err := sql.Open(driverName, dsn(p.path))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(p.maxOpen)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging database: %w", err)
	}
	p.db = db
	return nil
}

// disposeLocked folds the write-ahead log into the main file and closes
// every pooled connection. Failures are logged and swallowed. The caller
// must hold p.mu for writing.
func (p *Pool) disposeLocked(ctx context.Context) {
	if p.db == nil {
		return
	}
	if _, err := p.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		p.log.Warn(ctx, "checkpointing before dispose", "path", p.path, "error", err)
	}
	if err := p.db.Close(); err != nil {
		p.log.Warn(ctx, "disposing connection pool", "path", p.path, "error", err)
	}
	p.db = nil
}

// DisposeAll closes every pooled connection. It waits for in-flight units of
// work to finish. Until Reopen, WithTx and Conn return ErrPoolDisposed.
func (p *Pool) DisposeAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposeLocked(ctx)
}

// Reopen re-creates the pool after DisposeAll. It is a no-op when the pool is
// already open.
func (p *Pool) Reopen(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return nil
	}
	return p.openLocked(ctx)
}

// Swap disposes every connection, runs fn while holding the pool exclusively,
// and then re-creates the pool, even if fn failed. fn is where the live file
// may be replaced.
func (p *Pool) Swap(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.disposeLocked(ctx)
	fnErr := fn(ctx)
	if err := p.openLocked(ctx); err != nil {
		return errors.Join(fnErr, fmt.Errorf("reopening pool: %w", err))
	}
	return fnErr
}

// Close releases the pool for good. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// Conn runs fn on a single dedicated connection.
func (p *Pool) Conn(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return ErrPoolDisposed
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()
	return fn(ctx, conn)
}

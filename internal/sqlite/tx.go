package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX is the subset of database/sql used by the tables. *sql.DB, *sql.Tx
// and *sql.Conn all satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// commitThenFail carries an error that must reach the caller after the unit
// of work has been committed.
type commitThenFail struct {
	err error
}

func (e *commitThenFail) Error() string { return e.err.Error() }
func (e *commitThenFail) Unwrap() error { return e.err }

// CommitAndFail wraps err so that WithTx commits the unit of work and then
// returns err. Guards use it to keep their access_denied audit row while
// still failing the call.
func CommitAndFail(err error) error {
	return &commitThenFail{err: err}
}

// WithTx runs fn inside one unit of work. It commits when fn returns nil or a
// CommitAndFail error, and rolls back on any other error or panic. Panics are
// rethrown.
//
//	err := pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func (p *Pool) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return ErrPoolDisposed
	}
	return withTx(ctx, p.db, fn)
}

func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	fnErr := fn(ctx, tx)
	var keep *commitThenFail
	if fnErr != nil && !errors.As(fnErr, &keep) {
		_ = tx.Rollback()
		return fnErr
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	if keep != nil {
		return keep.err
	}
	return nil
}

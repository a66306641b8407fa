// Package pgxutil holds transaction and advisory-lock helpers over the pgx stdlib bridge.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// SQLTxConfig groups parameters for WithSQLTx.
type SQLTxConfig struct {
	Opts *sql.TxOptions
	Fn   func(*sql.Tx) error
}

// LockKey is a two-part Postgres advisory lock key. Major names the subsystem, Minor the task.
type LockKey struct {
	Major int32
	Minor int32
}

// Advisory lock namespaces. Keys in one namespace never collide with another.
const (
	LockMajorReaper  int32 = 1000
	LockMajorQueue   int32 = 2000
	LockMajorMigrate int32 = 3000
)

// WithSQLTx runs fn within a database/sql transaction, committing when fn returns nil.
func WithSQLTx(ctx context.Context, db *sql.DB, cfg SQLTxConfig) (err error) {
	tx, err := db.BeginTx(ctx, cfg.Opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = cfg.Fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WithTryXactLock opens a transaction and runs fn only if the transaction-scoped advisory lock
// for key is free. The lock is released at commit or rollback. acquired reports whether fn ran.
func WithTryXactLock(ctx context.Context, db *sql.DB, key LockKey, fn func(*sql.Tx) error) (acquired bool, err error) {
	err = WithSQLTx(ctx, db, SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if lockErr := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				key.Major, key.Minor).Scan(&acquired); lockErr != nil {
				return fmt.Errorf("acquire advisory lock: %w", lockErr)
			}
			if !acquired {
				return nil
			}
			return fn(tx)
		},
	})
	return acquired, err
}

// WithSessionLock pins one pooled connection, blocks until the session advisory lock for key
// is held, and runs fn on that connection. The lock is released before the connection returns
// to the pool.
func WithSessionLock(ctx context.Context, db *sql.DB, key LockKey, fn func(*sql.Conn) error) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close conn: %w", cerr))
		}
	}()

	if _, err = conn.ExecContext(ctx, "SELECT pg_advisory_lock($1, $2)", key.Major, key.Minor); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	defer func() {
		// A canceled ctx must not leave the lock held on a pooled connection.
		if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1, $2)",
			key.Major, key.Minor); uerr != nil {
			err = errors.Join(err, fmt.Errorf("release advisory lock: %w", uerr))
		}
	}()

	return fn(conn)
}

// WithPgxConn acquires a *pgx.Conn via the stdlib bridge and executes fn with it.
func WithPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	return conn.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		return fn(std.Conn())
	})
}

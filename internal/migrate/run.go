// Package migrate applies the embedded schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/nbu-mindcare/triage-api/internal/data/pgxutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// API and worker processes may start together with RUN_MIGRATIONS_ON_START; the session
// lock makes the second one wait and then find nothing to apply.
var migrateLock = pgxutil.LockKey{Major: pgxutil.LockMajorMigrate, Minor: 1}

type migration struct {
	version string
	sql     string
}

// Run applies every embedded migration not yet recorded in schema_migrations, in filename order.
// It is safe to call repeatedly and from concurrent processes.
func Run(ctx context.Context, db *sql.DB) error {
	migrations, err := load(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	logger := slog.Default().With("component", "migrations")

	return pgxutil.WithSessionLock(ctx, db, migrateLock, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`); err != nil {
			return fmt.Errorf("create schema_migrations table: %w", err)
		}

		applied := 0
		for _, m := range migrations {
			done, err := apply(ctx, conn, m, logger)
			if err != nil {
				return err
			}
			if done {
				applied++
			}
		}
		logger.InfoContext(ctx, "migrations up to date", "applied", applied, "total", len(migrations))
		return nil
	})
}

func load(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		if strings.TrimSpace(string(body)) == "" {
			return nil, fmt.Errorf("migration %s is empty", e.Name())
		}
		out = append(out, migration{version: strings.TrimSuffix(e.Name(), ".sql"), sql: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// apply runs one migration and its bookkeeping row in a single transaction.
// It reports false when the version was already recorded.
func apply(ctx context.Context, conn *sql.Conn, m migration, logger *slog.Logger) (applied bool, err error) {
	var exists bool
	if err = conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", m.version, err)
	}
	if exists {
		return false, nil
	}

	logger.InfoContext(ctx, "applying migration", "version", m.version)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback migration %s: %w", m.version, rerr))
		}
	}()

	if _, err = tx.ExecContext(ctx, m.sql); err != nil {
		return false, fmt.Errorf("exec migration %s: %w", m.version, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
		return false, fmt.Errorf("record migration %s: %w", m.version, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", m.version, err)
	}
	return true, nil
}

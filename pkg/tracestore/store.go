// Package tracestore is the append-only SQLite record of runs, steps,
// trace events, context packages, gate decisions and provider calls.
package tracestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a single-writer SQLite database file holding the trace schema.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the SQLite database at path, applying
// busyTimeout as the SQLite busy_timeout pragma, and runs pending migrations.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", path, busyTimeout.Milliseconds())

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, apperr.NewInfrastructure(err, "open trace store")
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return apperr.Wrap(err, apperr.KindConfiguration, "set migration dialect")
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "run trace store migrations")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for repository files in this package.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

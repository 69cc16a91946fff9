/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package outcome

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const projectorName = "trust_v0"

// Store is the append-only SQLite record of outcome events and their
// projected memory_trust snapshots.
type Store struct {
	db  *sqlx.DB
	log logr.Logger
}

// Open connects to the outcome database single-writer, enables WAL mode,
// runs migrations, verifies memory-kernel compatibility and seeds the
// default ruleset and projection-state row.
func Open(ctx context.Context, path string, busyTimeout time.Duration, log logr.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", path, busyTimeout.Milliseconds())
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, apperr.NewInfrastructure(err, "open outcome store")
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, log: log}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	store.log.Info("outcome store ready", obslog.OutcomeFields("open").KeysAndValues()...)
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if err := ensureMemoryKernelCompatibility(ctx, s.db); err != nil {
		return err
	}

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return apperr.Wrap(err, apperr.KindConfiguration, "set migration dialect")
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "run outcome store migrations")
	}

	if err := s.UpsertRuleset(ctx, DefaultRuleset()); err != nil {
		return err
	}

	const q = `
		INSERT OR IGNORE INTO outcome_projection_state(projector_name, ruleset_version, last_event_seq, updated_at)
		VALUES (?, 1, 0, ?)`
	now := domain.FormatRFC3339(domain.NowUTC())
	if _, err := s.db.ExecContext(ctx, q, projectorName, now); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "initialize projection state")
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
func (s *Store) DB() *sqlx.DB { return s.db }

func isNoRows(err error) bool { return err == sql.ErrNoRows }

// sqlxQueryer is the subset of *sqlx.DB used by read helpers that don't
// need the full handle, so they stay testable against any sqlx executor.
type sqlxQueryer interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

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

	"github.com/jmoiron/sqlx"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
)

// ensureMemoryKernelCompatibility verifies, before migrating, that an
// upstream memory_records table exists with a (memory_id, version)
// uniqueness constraint. outcome_events' foreign key references that
// table, so a missing or incompatible table must fail loudly here
// rather than surface as an opaque foreign-key error on first append.
func ensureMemoryKernelCompatibility(ctx context.Context, db *sqlx.DB) error {
	exists, err := tableExists(ctx, db, "memory_records")
	if err != nil {
		return err
	}
	if !exists {
		return apperr.New(apperr.KindConfiguration, "memory-kernel compatibility check failed: expected table memory_records")
	}
	if err := ensureTableHasColumns(ctx, db, "memory_records", "memory_id", "version"); err != nil {
		return err
	}
	return ensureUniqueIndexOnColumns(ctx, db, "memory_records", "memory_id", "version")
}

func tableExists(ctx context.Context, db *sqlx.DB, tableName string) (bool, error) {
	var count int
	const q = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	if err := db.GetContext(ctx, &count, q, tableName); err != nil {
		return false, apperr.Wrap(err, apperr.KindInfrastructure, "query sqlite_master")
	}
	return count > 0, nil
}

func ensureTableHasColumns(ctx context.Context, db *sqlx.DB, tableName string, columns ...string) error {
	rows, err := db.QueryxContext(ctx, "PRAGMA table_info("+tableName+")")
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "inspect table_info")
	}
	defer rows.Close()

	available := map[string]bool{}
	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return apperr.Wrap(err, apperr.KindInfrastructure, "scan table_info row")
		}
		if name, ok := cols[1].(string); ok {
			available[name] = true
		}
	}

	for _, required := range columns {
		if !available[required] {
			return apperr.New(apperr.KindConfiguration, "memory-kernel compatibility check failed: missing column "+tableName+"."+required)
		}
	}
	return nil
}

func ensureUniqueIndexOnColumns(ctx context.Context, db *sqlx.DB, tableName string, columns ...string) error {
	rows, err := db.QueryxContext(ctx, "PRAGMA index_list("+tableName+")")
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "inspect index_list")
	}
	defer rows.Close()

	var indexNames []string
	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return apperr.Wrap(err, apperr.KindInfrastructure, "scan index_list row")
		}
		name, _ := cols[1].(string)
		unique, _ := cols[2].(int64)
		if unique == 1 {
			indexNames = append(indexNames, name)
		}
	}
	rows.Close()

	for _, indexName := range indexNames {
		indexedColumns, err := indexColumns(ctx, db, indexName)
		if err != nil {
			return err
		}
		if sameColumns(indexedColumns, columns) {
			return nil
		}
	}
	return apperr.New(apperr.KindConfiguration, "memory-kernel compatibility check failed: expected UNIQUE(memory_id, version) on "+tableName)
}

func indexColumns(ctx context.Context, db *sqlx.DB, indexName string) ([]string, error) {
	rows, err := db.QueryxContext(ctx, "PRAGMA index_info("+indexName+")")
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "inspect index_info")
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindInfrastructure, "scan index_info row")
		}
		if name, ok := cols[2].(string); ok {
			columns = append(columns, name)
		}
	}
	return columns, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SeedMinimalMemoryRecord creates a minimal memory_records table (if one
// does not already exist) and inserts one row, for use by callers that
// run the outcome store against a database not already owned by the
// upstream memory kernel — development, tests, and benchmarking.
func SeedMinimalMemoryRecord(ctx context.Context, db *sqlx.DB, memoryVersionID, memoryID string, version uint32) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS memory_records (
			memory_version_id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			UNIQUE(memory_id, version)
		)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "create minimal memory_records table")
	}
	const q = `INSERT OR IGNORE INTO memory_records(memory_version_id, memory_id, version) VALUES (?, ?, ?)`
	if _, err := db.ExecContext(ctx, q, memoryVersionID, memoryID, version); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "seed memory_records row")
	}
	return nil
}

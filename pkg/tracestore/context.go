package tracestore

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// AppendContextPackage persists one context package envelope against a
// step, along with its selected/excluded item breakdown, in one transaction.
func (s *Store) AppendContextPackage(ctx context.Context, runID domain.RunID, stepID domain.StepID, envelope domain.ContextPackageEnvelope) error {
	queryJSON, err := json.Marshal(envelope.ContextPackage.Query)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "marshal context package query")
	}
	determinismJSON, err := json.Marshal(envelope.ContextPackage.Determinism)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "marshal context package determinism")
	}
	answerJSON, err := json.Marshal(envelope.ContextPackage.Answer)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "marshal context package answer")
	}
	orderingJSON, err := json.Marshal(envelope.ContextPackage.OrderingTrace)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "marshal context package ordering trace")
	}
	packageJSON, err := json.Marshal(envelope.ContextPackage)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "marshal context package")
	}

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO step_context_packages
				(run_id, step_id, package_slot, context_package_id, generated_at, query_json,
				 determinism_json, answer_json, ordering_trace_json, package_json, package_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, stepID, envelope.PackageSlot, envelope.ContextPackage.ContextPackageID,
			domain.FormatRFC3339(envelope.ContextPackage.GeneratedAt), queryJSON, determinismJSON,
			answerJSON, orderingJSON, packageJSON, envelope.PackageHash,
		)
		if err != nil {
			return apperr.Wrap(err, apperr.KindInfrastructure, "insert step context package")
		}
		packageRowID, err := res.LastInsertId()
		if err != nil {
			return apperr.Wrap(err, apperr.KindInfrastructure, "read context package row id")
		}

		for _, item := range envelope.ContextPackage.SelectedItems {
			if err := insertContextItem(ctx, tx, "step_context_selected", packageRowID, item); err != nil {
				return err
			}
		}
		for _, item := range envelope.ContextPackage.ExcludedItems {
			if err := insertContextItem(ctx, tx, "step_context_excluded", packageRowID, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertContextItem(ctx context.Context, tx *sqlx.Tx, table string, packageRowID int64, item domain.ContextItem) error {
	reasonsJSON, err := json.Marshal(item.Why.Reasons)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "marshal context item reasons")
	}
	var ruleScoresJSON []byte
	if table == "step_context_selected" && len(item.Why.RuleScores) > 0 {
		ruleScoresJSON, err = json.Marshal(item.Why.RuleScores)
		if err != nil {
			return apperr.Wrap(err, apperr.KindValidation, "marshal context item rule scores")
		}
	}

	q := `
		INSERT INTO ` + table + `
			(step_context_package_id, rank, memory_version_id, memory_id, version,
			 record_type, truth_status, confidence, authority, why_reasons_json` +
		withRuleScoresColumn(table) + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?` + withRuleScoresPlaceholder(table) + `)`

	args := []interface{}{
		packageRowID, item.Rank, item.MemoryVersionID, item.MemoryID, item.Version,
		string(item.RecordType), string(item.TruthStatus), item.Confidence, string(item.Authority), reasonsJSON,
	}
	if table == "step_context_selected" {
		args = append(args, ruleScoresJSON)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "insert "+table+" row")
	}
	return nil
}

func withRuleScoresColumn(table string) string {
	if table == "step_context_selected" {
		return ", rule_scores_json"
	}
	return ""
}

func withRuleScoresPlaceholder(table string) string {
	if table == "step_context_selected" {
		return ", ?"
	}
	return ""
}

type contextPackageRow struct {
	ID               int64  `db:"id"`
	PackageSlot      int    `db:"package_slot"`
	ContextPackageID string `db:"context_package_id"`
	PackageJSON      []byte `db:"package_json"`
	PackageHash      string `db:"package_hash"`
}

// GetStepContextPackages loads every context package envelope attached to
// a step, reconstructed from the persisted full-package snapshot (the
// selected/excluded breakdown tables exist for query/audit access).
// package_slot, the package and package_hash round-trip; the envelope's
// Source is not stored and comes back empty.
func (s *Store) GetStepContextPackages(ctx context.Context, stepID domain.StepID) ([]domain.ContextPackageEnvelope, error) {
	var rows []contextPackageRow
	const q = `
		SELECT id, package_slot, context_package_id, package_json, package_hash
		FROM step_context_packages WHERE step_id = ? ORDER BY package_slot ASC`
	if err := s.db.SelectContext(ctx, &rows, q, stepID); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "get step context packages")
	}
	out := make([]domain.ContextPackageEnvelope, 0, len(rows))
	for _, r := range rows {
		var pkg domain.ContextPackage
		if err := json.Unmarshal(r.PackageJSON, &pkg); err != nil {
			return nil, apperr.Wrap(err, apperr.KindIntegrity, "unmarshal stored context package")
		}
		out = append(out, domain.ContextPackageEnvelope{
			PackageSlot:    r.PackageSlot,
			ContextPackage: pkg,
			PackageHash:    r.PackageHash,
		})
	}
	return out, nil
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "commit transaction")
	}
	return nil
}

package tracestore

import (
	"context"
	"database/sql"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

type runRow struct {
	RunID                   domain.RunID  `db:"run_id"`
	WorkflowName            string        `db:"workflow_name"`
	WorkflowVersion         string        `db:"workflow_version"`
	WorkflowHash            string        `db:"workflow_hash"`
	AsOf                    string        `db:"as_of"`
	AsOfWasDefault          bool          `db:"as_of_was_default"`
	StartedAt               string        `db:"started_at"`
	EndedAt                 *string       `db:"ended_at"`
	Status                  string        `db:"status"`
	ReplayOfRunID           *domain.RunID `db:"replay_of_run_id"`
	ExternalCorrelationID   *string       `db:"external_correlation_id"`
	EngineVersion           string        `db:"engine_version"`
	InvocationParamsJSON    []byte        `db:"invocation_params_json"`
	ManifestHash            *string       `db:"manifest_hash"`
	ManifestSignature       *string       `db:"manifest_signature"`
	ManifestSignatureStatus string        `db:"manifest_signature_status"`
}

func (r runRow) toDomain() domain.RunRecord {
	return domain.RunRecord{
		RunID:                   r.RunID,
		WorkflowName:            r.WorkflowName,
		WorkflowVersion:         r.WorkflowVersion,
		WorkflowHash:            r.WorkflowHash,
		AsOf:                    r.AsOf,
		AsOfWasDefault:          r.AsOfWasDefault,
		StartedAt:               r.StartedAt,
		EndedAt:                 r.EndedAt,
		Status:                  domain.RunStatus(r.Status),
		ReplayOfRunID:           r.ReplayOfRunID,
		ExternalCorrelationID:   r.ExternalCorrelationID,
		EngineVersion:           r.EngineVersion,
		InvocationParamsJSON:    r.InvocationParamsJSON,
		ManifestHash:            r.ManifestHash,
		ManifestSignature:       r.ManifestSignature,
		ManifestSignatureStatus: r.ManifestSignatureStatus,
	}
}

// InsertRun persists a new run row. The run's workflow_hash must already
// have a matching workflow_snapshots row (enforced by a foreign key).
func (s *Store) InsertRun(ctx context.Context, run domain.RunRecord) error {
	const q = `
		INSERT INTO runs
			(run_id, workflow_name, workflow_version, workflow_hash, as_of, as_of_was_default,
			 started_at, ended_at, status, replay_of_run_id, external_correlation_id,
			 engine_version, invocation_params_json, manifest_signature_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		run.RunID, run.WorkflowName, run.WorkflowVersion, run.WorkflowHash, run.AsOf, run.AsOfWasDefault,
		run.StartedAt, run.EndedAt, string(run.Status), nullableRunID(run.ReplayOfRunID), run.ExternalCorrelationID,
		run.EngineVersion, []byte(run.InvocationParamsJSON), run.ManifestSignatureStatus,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "insert run")
	}
	return nil
}

// UpdateRunFinished records a run's terminal status and end timestamp.
func (s *Store) UpdateRunFinished(ctx context.Context, runID domain.RunID, status domain.RunStatus, endedAt string) error {
	const q = `UPDATE runs SET status = ?, ended_at = ? WHERE run_id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), endedAt, runID)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "update run finished")
	}
	return mustAffectOne(res, "run", runID.String())
}

// UpdateRunManifest stamps a run's manifest hash and signature fields once
// the run manifest has been computed and (optionally) signed.
func (s *Store) UpdateRunManifest(ctx context.Context, runID domain.RunID, manifestHash string, signature *string, signatureStatus string) error {
	const q = `UPDATE runs SET manifest_hash = ?, manifest_signature = ?, manifest_signature_status = ? WHERE run_id = ?`
	res, err := s.db.ExecContext(ctx, q, manifestHash, signature, signatureStatus, runID)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "update run manifest")
	}
	return mustAffectOne(res, "run", runID.String())
}

// GetRun loads a single run by id.
func (s *Store) GetRun(ctx context.Context, runID domain.RunID) (domain.RunRecord, error) {
	var row runRow
	const q = `
		SELECT run_id, workflow_name, workflow_version, workflow_hash, as_of, as_of_was_default,
			started_at, ended_at, status, replay_of_run_id, external_correlation_id,
			engine_version, invocation_params_json, manifest_hash, manifest_signature, manifest_signature_status
		FROM runs WHERE run_id = ?`
	if err := s.db.GetContext(ctx, &row, q, runID); err != nil {
		if err == sql.ErrNoRows {
			return domain.RunRecord{}, apperr.New(apperr.KindIntegrity, "run not found").WithDetailsf("run_id=%s", runID)
		}
		return domain.RunRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "get run")
	}
	return row.toDomain(), nil
}

// ListRuns returns up to limit runs in started_at order, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	var rows []runRow
	const q = `
		SELECT run_id, workflow_name, workflow_version, workflow_hash, as_of, as_of_was_default,
			started_at, ended_at, status, replay_of_run_id, external_correlation_id,
			engine_version, invocation_params_json, manifest_hash, manifest_signature, manifest_signature_status
		FROM runs ORDER BY started_at DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "list runs")
	}
	out := make([]domain.RunRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// nullableRunID converts an optional run id into a query argument; see
// nullableStepID in events.go for why this matters on the write path.
func nullableRunID(id *domain.RunID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func mustAffectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "read rows affected")
	}
	if n == 0 {
		return apperr.New(apperr.KindIntegrity, kind+" not found").WithDetailsf("id=%s", id)
	}
	return nil
}

package tracestore

import (
	"context"
	"database/sql"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

type stepRow struct {
	StepID          domain.StepID  `db:"step_id"`
	RunID           domain.RunID   `db:"run_id"`
	StepIndex       int            `db:"step_index"`
	StepKey         string         `db:"step_key"`
	AgentName       string         `db:"agent_name"`
	Status          string         `db:"status"`
	StartedAt       *string        `db:"started_at"`
	EndedAt         *string        `db:"ended_at"`
	TaskPayloadJSON []byte         `db:"task_payload_json"`
	ConstraintsJSON []byte         `db:"constraints_json"`
	PermissionsJSON []byte         `db:"permissions_json"`
	InputHash       string         `db:"input_hash"`
	OutputHash      *string        `db:"output_hash"`
	ErrorJSON       []byte         `db:"error_json"`
}

func (r stepRow) toDomain() domain.StepRecord {
	return domain.StepRecord{
		StepID:          r.StepID,
		RunID:           r.RunID,
		StepIndex:       r.StepIndex,
		StepKey:         r.StepKey,
		AgentName:       r.AgentName,
		Status:          domain.StepStatus(r.Status),
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		TaskPayloadJSON: r.TaskPayloadJSON,
		ConstraintsJSON: r.ConstraintsJSON,
		PermissionsJSON: r.PermissionsJSON,
		InputHash:       r.InputHash,
		OutputHash:      r.OutputHash,
		ErrorJSON:       r.ErrorJSON,
	}
}

// InsertStep persists a new step row at its fixed DAG position.
func (s *Store) InsertStep(ctx context.Context, step domain.StepRecord) error {
	const q = `
		INSERT INTO steps
			(step_id, run_id, step_index, step_key, agent_name, status, started_at, ended_at,
			 task_payload_json, constraints_json, permissions_json, input_hash, output_hash, error_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		step.StepID, step.RunID, step.StepIndex, step.StepKey, step.AgentName, string(step.Status),
		step.StartedAt, step.EndedAt, []byte(step.TaskPayloadJSON), []byte(step.ConstraintsJSON),
		[]byte(step.PermissionsJSON), step.InputHash, step.OutputHash, []byte(step.ErrorJSON),
	)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "insert step")
	}
	return nil
}

// UpdateStepStarted marks a step running and stamps its start time.
func (s *Store) UpdateStepStarted(ctx context.Context, stepID domain.StepID, startedAt string) error {
	const q = `UPDATE steps SET status = ?, started_at = ? WHERE step_id = ?`
	res, err := s.db.ExecContext(ctx, q, string(domain.StepRunning), startedAt, stepID)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "update step started")
	}
	return mustAffectOne(res, "step", stepID.String())
}

// UpdateStepFinished records a step's terminal status, end time, output
// hash and (optionally) error envelope.
func (s *Store) UpdateStepFinished(ctx context.Context, stepID domain.StepID, status domain.StepStatus, endedAt string, outputHash *string, errorJSON []byte) error {
	const q = `UPDATE steps SET status = ?, ended_at = ?, output_hash = ?, error_json = ? WHERE step_id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), endedAt, outputHash, errorJSON, stepID)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "update step finished")
	}
	return mustAffectOne(res, "step", stepID.String())
}

// GetStepRecords returns every step belonging to a run, in DAG order.
func (s *Store) GetStepRecords(ctx context.Context, runID domain.RunID) ([]domain.StepRecord, error) {
	var rows []stepRow
	const q = `
		SELECT step_id, run_id, step_index, step_key, agent_name, status, started_at, ended_at,
			task_payload_json, constraints_json, permissions_json, input_hash, output_hash, error_json
		FROM steps WHERE run_id = ? ORDER BY step_index ASC`
	if err := s.db.SelectContext(ctx, &rows, q, runID); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "get step records")
	}
	out := make([]domain.StepRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// GetStep loads a single step by id.
func (s *Store) GetStep(ctx context.Context, stepID domain.StepID) (domain.StepRecord, error) {
	var row stepRow
	const q = `
		SELECT step_id, run_id, step_index, step_key, agent_name, status, started_at, ended_at,
			task_payload_json, constraints_json, permissions_json, input_hash, output_hash, error_json
		FROM steps WHERE step_id = ?`
	if err := s.db.GetContext(ctx, &row, q, stepID); err != nil {
		if err == sql.ErrNoRows {
			return domain.StepRecord{}, apperr.New(apperr.KindIntegrity, "step not found").WithDetailsf("step_id=%s", stepID)
		}
		return domain.StepRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "get step")
	}
	return row.toDomain(), nil
}

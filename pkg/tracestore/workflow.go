package tracestore

import (
	"context"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

type workflowSnapshotRow struct {
	WorkflowHash         string `db:"workflow_hash"`
	NormalizationVersion uint32 `db:"normalization_version"`
	SourceFormat         string `db:"source_format"`
	SourceYAMLHash       string `db:"source_yaml_hash"`
	NormalizedJSON       []byte `db:"normalized_json"`
	CreatedAt            string `db:"created_at"`
}

// UpsertWorkflowSnapshot inserts a normalized workflow body keyed by its
// hash, or no-ops if that hash is already on file (normalization is a
// pure function of the source, so a repeat hash means identical content).
func (s *Store) UpsertWorkflowSnapshot(ctx context.Context, snapshot domain.WorkflowSnapshotRecord) error {
	const q = `
		INSERT INTO workflow_snapshots
			(workflow_hash, normalization_version, source_format, source_yaml_hash, normalized_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_hash) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q,
		snapshot.WorkflowHash,
		snapshot.NormalizationVersion,
		snapshot.SourceFormat,
		snapshot.SourceYAMLHash,
		[]byte(snapshot.NormalizedJSON),
		domain.FormatRFC3339(domain.NowUTC()),
	)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "upsert workflow snapshot")
	}
	return nil
}

// GetWorkflowSnapshot loads a previously stored normalized workflow by hash.
func (s *Store) GetWorkflowSnapshot(ctx context.Context, workflowHash string) (domain.WorkflowSnapshotRecord, error) {
	var row workflowSnapshotRow
	const q = `
		SELECT workflow_hash, normalization_version, source_format, source_yaml_hash, normalized_json, created_at
		FROM workflow_snapshots WHERE workflow_hash = ?`
	if err := s.db.GetContext(ctx, &row, q, workflowHash); err != nil {
		if isNoRows(err) {
			return domain.WorkflowSnapshotRecord{}, apperr.New(apperr.KindIntegrity, "workflow snapshot not found").WithDetailsf("workflow_hash=%s", workflowHash)
		}
		return domain.WorkflowSnapshotRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "get workflow snapshot")
	}
	return domain.WorkflowSnapshotRecord{
		WorkflowHash:         row.WorkflowHash,
		NormalizationVersion: row.NormalizationVersion,
		SourceFormat:         row.SourceFormat,
		SourceYAMLHash:       row.SourceYAMLHash,
		NormalizedJSON:       row.NormalizedJSON,
	}, nil
}

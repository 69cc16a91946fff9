package tracestore

import (
	"context"
	"encoding/json"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// AppendProposedMemoryWrite persists one adapter-emitted memory write
// proposal along with the disposition the orchestrator assigned it
// (accepted, rejected by policy, rejected by permission, etc). The
// proposal's payload is hashed so later audits can confirm a write was
// never retroactively altered; the full proposal (including
// justification) is stored as JSON for replay and inspection.
func (s *Store) AppendProposedMemoryWrite(ctx context.Context, runID domain.RunID, stepID domain.StepID, proposal domain.ProposedMemoryWrite) error {
	proposalHash, err := domain.HashJSON(proposal.Payload)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "hash proposed memory write payload")
	}
	proposalJSON, err := json.Marshal(proposal)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "marshal proposed memory write")
	}
	const q = `
		INSERT INTO proposed_memory_writes
			(run_id, step_id, proposal_index, proposal_json, proposal_hash, disposition, disposition_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		runID, stepID, proposal.ProposalIndex, proposalJSON, proposalHash,
		proposal.Disposition, proposal.DispositionReason,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "append proposed memory write")
	}
	return nil
}

type proposedMemoryWriteRow struct {
	ProposalIndex int    `db:"proposal_index"`
	ProposalJSON  []byte `db:"proposal_json"`
}

// GetProposedMemoryWritesForStep returns every proposed memory write
// recorded for a step, in proposal order.
func (s *Store) GetProposedMemoryWritesForStep(ctx context.Context, stepID domain.StepID) ([]domain.ProposedMemoryWrite, error) {
	var rows []proposedMemoryWriteRow
	const q = `
		SELECT proposal_index, proposal_json
		FROM proposed_memory_writes WHERE step_id = ? ORDER BY proposal_index ASC`
	if err := s.db.SelectContext(ctx, &rows, q, stepID); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "get proposed memory writes for step")
	}
	out := make([]domain.ProposedMemoryWrite, 0, len(rows))
	for _, r := range rows {
		var write domain.ProposedMemoryWrite
		if err := json.Unmarshal(r.ProposalJSON, &write); err != nil {
			return nil, apperr.Wrap(err, apperr.KindIntegrity, "unmarshal stored proposed memory write")
		}
		out = append(out, write)
	}
	return out, nil
}

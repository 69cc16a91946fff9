package tracestore

import (
	"context"
	"encoding/json"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// AppendGateDecision persists one gate evaluation outcome. A trust/
// memory_ref decision missing its identity triple is rejected by this
// method's own HasCompleteMemoryRefIdentity check before any INSERT is
// attempted; the BEFORE INSERT trigger on this table enforces the same
// rule, so the invariant holds even against writers outside this package.
func (s *Store) AppendGateDecision(ctx context.Context, runID domain.RunID, stepID domain.StepID, decision domain.GateDecisionRecord) error {
	if !decision.HasCompleteMemoryRefIdentity() {
		return apperr.New(apperr.KindValidation, "trust gate decision on memory_ref missing identity triple").
			WithDetailsf("gate_name=%s", decision.GateName)
	}
	reasonCodesJSON, err := json.Marshal(decision.ReasonCodes)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "marshal gate decision reason codes")
	}

	const q = `
		INSERT INTO step_gate_decisions
			(run_id, step_id, gate_kind, gate_name, subject_type, memory_id, version, memory_version_id,
			 decision, reason_codes_json, notes, decided_by, decided_at, source_ruleset_version, evidence_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		runID, stepID, string(decision.GateKind), decision.GateName, decision.SubjectType,
		decision.MemoryID, decision.Version, decision.MemoryVersionID,
		string(decision.Decision), reasonCodesJSON, decision.Notes, decision.DecidedBy, decision.DecidedAt,
		decision.SourceRulesetVersion, []byte(decision.EvidenceJSON),
	)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "append gate decision")
	}
	return nil
}

type gateDecisionRow struct {
	GateKind             string  `db:"gate_kind"`
	GateName             string  `db:"gate_name"`
	SubjectType          string  `db:"subject_type"`
	MemoryID             *string `db:"memory_id"`
	Version              *uint32 `db:"version"`
	MemoryVersionID      *string `db:"memory_version_id"`
	Decision             string  `db:"decision"`
	ReasonCodesJSON      []byte  `db:"reason_codes_json"`
	Notes                *string `db:"notes"`
	DecidedBy            string  `db:"decided_by"`
	DecidedAt            string  `db:"decided_at"`
	SourceRulesetVersion *uint32 `db:"source_ruleset_version"`
	EvidenceJSON         []byte  `db:"evidence_json"`
}

// GetGateDecisionsForStep returns every gate decision recorded for a step.
func (s *Store) GetGateDecisionsForStep(ctx context.Context, stepID domain.StepID) ([]domain.GateDecisionRecord, error) {
	var rows []gateDecisionRow
	const q = `
		SELECT gate_kind, gate_name, subject_type, memory_id, version, memory_version_id,
			decision, reason_codes_json, notes, decided_by, decided_at, source_ruleset_version, evidence_json
		FROM step_gate_decisions WHERE step_id = ? ORDER BY id ASC`
	if err := s.db.SelectContext(ctx, &rows, q, stepID); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "get gate decisions for step")
	}
	out := make([]domain.GateDecisionRecord, 0, len(rows))
	for _, r := range rows {
		var reasonCodes []string
		if len(r.ReasonCodesJSON) > 0 {
			if err := json.Unmarshal(r.ReasonCodesJSON, &reasonCodes); err != nil {
				return nil, apperr.Wrap(err, apperr.KindIntegrity, "unmarshal gate decision reason codes")
			}
		}
		out = append(out, domain.GateDecisionRecord{
			GateKind:             domain.GateKind(r.GateKind),
			GateName:             r.GateName,
			SubjectType:          r.SubjectType,
			MemoryID:             r.MemoryID,
			Version:              r.Version,
			MemoryVersionID:      r.MemoryVersionID,
			Decision:             domain.GateDecisionOutcome(r.Decision),
			ReasonCodes:          reasonCodes,
			Notes:                r.Notes,
			DecidedBy:            r.DecidedBy,
			DecidedAt:            r.DecidedAt,
			SourceRulesetVersion: r.SourceRulesetVersion,
			EvidenceJSON:         r.EvidenceJSON,
		})
	}
	return out, nil
}

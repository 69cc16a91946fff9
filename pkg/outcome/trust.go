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

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

type memoryTrustRow struct {
	MemoryID               string  `db:"memory_id"`
	Version                uint32  `db:"version"`
	ConfidenceRaw          float32 `db:"confidence_raw"`
	ConfidenceEffective    float32 `db:"confidence_effective"`
	BaselineConfidence     float32 `db:"baseline_confidence"`
	TrustStatus            string  `db:"trust_status"`
	ContradictionCapActive bool    `db:"contradiction_cap_active"`
	CapValue               float32 `db:"cap_value"`
	ManualOverrideActive   bool    `db:"manual_override_active"`
	WinsLast5              uint8   `db:"wins_last5"`
	FailuresLast5          uint8   `db:"failures_last5"`
	LastEventSeq           int64   `db:"last_event_seq"`
	LastRulesetVersion     uint32  `db:"last_ruleset_version"`
	LastScoredAt           *string `db:"last_scored_at"`
	UpdatedAt              string  `db:"updated_at"`
}

func (r memoryTrustRow) toDomain() MemoryTrust {
	return MemoryTrust{
		MemoryID:               r.MemoryID,
		Version:                r.Version,
		ConfidenceRaw:          r.ConfidenceRaw,
		ConfidenceEffective:    r.ConfidenceEffective,
		BaselineConfidence:     r.BaselineConfidence,
		TrustStatus:            domain.TrustStatus(r.TrustStatus),
		ContradictionCapActive: r.ContradictionCapActive,
		CapValue:               r.CapValue,
		ManualOverrideActive:   r.ManualOverrideActive,
		WinsLast5:              r.WinsLast5,
		FailuresLast5:          r.FailuresLast5,
		LastEventSeq:           r.LastEventSeq,
		LastRulesetVersion:     r.LastRulesetVersion,
		LastScoredAt:           r.LastScoredAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

func (s *Store) upsertMemoryTrust(ctx context.Context, trust MemoryTrust, rulesetVersion uint32) error {
	const q = `
		INSERT INTO memory_trust(
			memory_id, version, confidence_raw, confidence_effective, baseline_confidence,
			trust_status, contradiction_cap_active, cap_value, manual_override_active,
			wins_last5, failures_last5, last_event_seq, last_ruleset_version, last_scored_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, version) DO UPDATE SET
			confidence_raw = excluded.confidence_raw,
			confidence_effective = excluded.confidence_effective,
			baseline_confidence = excluded.baseline_confidence,
			trust_status = excluded.trust_status,
			contradiction_cap_active = excluded.contradiction_cap_active,
			cap_value = excluded.cap_value,
			manual_override_active = excluded.manual_override_active,
			wins_last5 = excluded.wins_last5,
			failures_last5 = excluded.failures_last5,
			last_event_seq = excluded.last_event_seq,
			last_ruleset_version = excluded.last_ruleset_version,
			last_scored_at = excluded.last_scored_at,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q,
		trust.MemoryID, trust.Version, trust.ConfidenceRaw, trust.ConfidenceEffective, trust.BaselineConfidence,
		string(trust.TrustStatus), trust.ContradictionCapActive, trust.CapValue, trust.ManualOverrideActive,
		trust.WinsLast5, trust.FailuresLast5, trust.LastEventSeq, rulesetVersion, trust.LastScoredAt, trust.UpdatedAt,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "upsert memory trust snapshot")
	}
	return nil
}

func (s *Store) getMemoryTrustAndRuleset(ctx context.Context, key MemoryKey) (*MemoryTrust, OutcomeRuleset, error) {
	var row memoryTrustRow
	const q = `
		SELECT memory_id, version, confidence_raw, confidence_effective, baseline_confidence,
			trust_status, contradiction_cap_active, cap_value, manual_override_active,
			wins_last5, failures_last5, last_event_seq, last_ruleset_version, last_scored_at, updated_at
		FROM memory_trust WHERE memory_id = ? AND version = ?`
	err := s.db.GetContext(ctx, &row, q, key.MemoryID, key.Version)
	if err != nil {
		if isNoRows(err) {
			return nil, OutcomeRuleset{}, nil
		}
		return nil, OutcomeRuleset{}, apperr.Wrap(err, apperr.KindInfrastructure, "load memory trust snapshot")
	}

	rulesets, err := s.GetRulesets(ctx)
	if err != nil {
		return nil, OutcomeRuleset{}, err
	}
	ruleset, ok := rulesets[row.LastRulesetVersion]
	if !ok {
		return nil, OutcomeRuleset{}, apperr.New(apperr.KindConfiguration, "missing ruleset configuration").WithDetailsf("ruleset_version=%d", row.LastRulesetVersion)
	}

	trust := row.toDomain()
	return &trust, ruleset, nil
}

// GetMemoryTrust loads one memory's current trust snapshot, optionally
// advancing it by read-time decay as of the given timestamp. A nil
// result means the memory has no projected trust row yet.
func (s *Store) GetMemoryTrust(ctx context.Context, key MemoryKey, asOf *string) (*MemoryTrust, error) {
	trust, ruleset, err := s.getMemoryTrustAndRuleset(ctx, key)
	if err != nil || trust == nil {
		return trust, err
	}
	if asOf == nil {
		return trust, nil
	}
	decayed, err := ApplyAsOfDecay(*trust, ruleset, *asOf)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "apply as_of decay")
	}
	return &decayed, nil
}

// GatePreview evaluates the retrieval gate for a candidate list without
// mutating any state. A candidate with no trust snapshot yet is excluded
// with reason "excluded.no_trust_snapshot".
func (s *Store) GatePreview(ctx context.Context, mode domain.RetrievalMode, asOf string, contextID string, candidates []MemoryKey) ([]GateDecision, error) {
	decisions := make([]GateDecision, 0, len(candidates))
	for _, key := range candidates {
		trust, ruleset, err := s.getMemoryTrustAndRuleset(ctx, key)
		if err != nil {
			return nil, err
		}
		if trust == nil {
			decisions = append(decisions, GateDecision{
				MemoryID: key.MemoryID, Version: key.Version, Include: false,
				ReasonCodes: []string{"excluded.no_trust_snapshot"},
			})
			continue
		}
		decayed, err := ApplyAsOfDecay(*trust, ruleset, asOf)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindValidation, "apply as_of decay").WithDetailsf("key=%s", key)
		}
		decisions = append(decisions, GateMemory(decayed, mode, contextID, ruleset))
	}
	s.log.Info("evaluated gate preview",
		obslog.GateFields(string(mode), "gate_preview").Count(len(decisions)).KeysAndValues()...)
	return decisions, nil
}

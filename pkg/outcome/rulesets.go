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
	"encoding/json"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

type rulesetRow struct {
	RulesetVersion uint32 `db:"ruleset_version"`
	RulesetJSON    []byte `db:"ruleset_json"`
}

// UpsertRuleset registers (or replaces) one ruleset version. Rulesets
// already referenced by events are never mutated in practice, but the
// store itself does not forbid it: the append-only guarantee belongs to
// outcome_events, not to the ruleset catalog.
func (s *Store) UpsertRuleset(ctx context.Context, ruleset OutcomeRuleset) error {
	if err := ruleset.Validate(); err != nil {
		return apperr.Wrap(err, apperr.KindConfiguration, "invalid ruleset configuration")
	}
	payload, err := json.Marshal(ruleset)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "serialize ruleset")
	}
	const q = `
		INSERT INTO outcome_rulesets(ruleset_version, ruleset_json, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(ruleset_version) DO UPDATE SET
			ruleset_json = excluded.ruleset_json,
			created_at = excluded.created_at`
	now := domain.FormatRFC3339(domain.NowUTC())
	if _, err := s.db.ExecContext(ctx, q, ruleset.RulesetVersion, payload, now); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "upsert ruleset")
	}
	return nil
}

// GetRulesets returns every registered ruleset keyed by ruleset_version.
func (s *Store) GetRulesets(ctx context.Context) (map[uint32]OutcomeRuleset, error) {
	var rows []rulesetRow
	const q = `SELECT ruleset_version, ruleset_json FROM outcome_rulesets ORDER BY ruleset_version ASC`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "list rulesets")
	}
	out := make(map[uint32]OutcomeRuleset, len(rows))
	for _, row := range rows {
		var ruleset OutcomeRuleset
		if err := json.Unmarshal(row.RulesetJSON, &ruleset); err != nil {
			return nil, apperr.Wrap(err, apperr.KindIntegrity, "decode stored ruleset JSON").WithDetailsf("ruleset_version=%d", row.RulesetVersion)
		}
		if err := ruleset.Validate(); err != nil {
			return nil, apperr.Wrap(err, apperr.KindIntegrity, "stored ruleset failed validation").WithDetailsf("ruleset_version=%d", row.RulesetVersion)
		}
		out[row.RulesetVersion] = ruleset
	}
	return out, nil
}

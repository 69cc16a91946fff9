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

// ReplayReport summarizes one projection pass.
type ReplayReport struct {
	ProjectedKeys   int   `json:"projected_keys"`
	ProcessedEvents int   `json:"processed_events"`
	LastEventSeq    int64 `json:"last_event_seq"`
}

// Replay recomputes the memory_trust snapshot for every key with events
// at or after fromEventSeq (or every key with any events, if nil),
// always from that key's full event history — never from a partial
// intermediate state, so the result is identical whether it came from a
// full or incremental replay.
func (s *Store) Replay(ctx context.Context, fromEventSeq *int64) (ReplayReport, error) {
	var keys []MemoryKey
	var err error
	if fromEventSeq != nil {
		keys, err = s.keysWithEventsFrom(ctx, *fromEventSeq)
	} else {
		keys, err = s.keysWithAnyEvents(ctx)
	}
	if err != nil {
		return ReplayReport{}, err
	}

	rulesets, err := s.GetRulesets(ctx)
	if err != nil {
		return ReplayReport{}, err
	}

	var projectedKeys, processedEvents int
	for _, key := range keys {
		events, err := s.ListEventsForKey(ctx, key, 0)
		if err != nil {
			return ReplayReport{}, err
		}
		processedEvents += len(events)

		trust, err := ProjectMemoryTrust(events, rulesets)
		if err != nil {
			return ReplayReport{}, apperr.Wrap(err, apperr.KindIntegrity, "project memory trust").WithDetailsf("key=%s", key)
		}
		if trust == nil {
			continue
		}
		lastRulesetVersion := uint32(1)
		if len(events) > 0 {
			lastRulesetVersion = events[len(events)-1].RulesetVersion
		}
		if err := s.upsertMemoryTrust(ctx, *trust, lastRulesetVersion); err != nil {
			return ReplayReport{}, err
		}
		projectedKeys++
	}

	lastEventSeq, err := s.latestEventSeq(ctx)
	if err != nil {
		return ReplayReport{}, err
	}

	const q = `
		INSERT INTO outcome_projection_state(projector_name, ruleset_version, last_event_seq, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(projector_name) DO UPDATE SET
			ruleset_version = excluded.ruleset_version,
			last_event_seq = excluded.last_event_seq,
			updated_at = excluded.updated_at`
	now := domain.FormatRFC3339(domain.NowUTC())
	if _, err := s.db.ExecContext(ctx, q, projectorName, lastEventSeq, now); err != nil {
		return ReplayReport{}, apperr.Wrap(err, apperr.KindInfrastructure, "update projection state")
	}

	s.log.Info("replayed outcome projection",
		obslog.OutcomeFields("replay").Count(projectedKeys).EventSeq(lastEventSeq).
			Custom("processed_events", processedEvents).KeysAndValues()...)

	return ReplayReport{
		ProjectedKeys:   projectedKeys,
		ProcessedEvents: processedEvents,
		LastEventSeq:    lastEventSeq,
	}, nil
}

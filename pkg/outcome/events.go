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
	"database/sql"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

type outcomeEventRow struct {
	EventSeq         int64           `db:"event_seq"`
	EventID          string          `db:"event_id"`
	RulesetVersion   uint32          `db:"ruleset_version"`
	MemoryID         string          `db:"memory_id"`
	Version          uint32          `db:"version"`
	EventType        string          `db:"event_type"`
	OccurredAt       string          `db:"occurred_at"`
	RecordedAt       string          `db:"recorded_at"`
	Writer           string          `db:"writer"`
	Justification    string          `db:"justification"`
	ContextID        *string         `db:"context_id"`
	Edited           bool            `db:"edited"`
	Escalated        bool            `db:"escalated"`
	Severity         *string         `db:"severity"`
	ManualConfidence *float32        `db:"manual_confidence"`
	OverrideCap      bool            `db:"override_cap"`
	PayloadJSON      []byte          `db:"payload_json"`
}

func (r outcomeEventRow) toDomain() OutcomeEvent {
	event := OutcomeEvent{
		EventSeq:         r.EventSeq,
		EventID:          r.EventID,
		RulesetVersion:   r.RulesetVersion,
		MemoryID:         r.MemoryID,
		Version:          r.Version,
		EventType:        domain.OutcomeEventType(r.EventType),
		OccurredAt:       r.OccurredAt,
		RecordedAt:       r.RecordedAt,
		Writer:           r.Writer,
		Justification:    r.Justification,
		ContextID:        r.ContextID,
		Edited:           r.Edited,
		Escalated:        r.Escalated,
		ManualConfidence: r.ManualConfidence,
		OverrideCap:      r.OverrideCap,
		PayloadJSON:      r.PayloadJSON,
	}
	if r.Severity != nil {
		sev := domain.Severity(*r.Severity)
		event.Severity = &sev
	}
	return event
}

// AppendEvent validates and inserts the next event in a memory's outcome
// stream, assigning event_seq and recorded_at. The referenced ruleset
// must already be registered.
func (s *Store) AppendEvent(ctx context.Context, input OutcomeEventInput) (OutcomeEvent, error) {
	if err := input.Validate(); err != nil {
		return OutcomeEvent{}, apperr.Wrap(err, apperr.KindValidation, "outcome event failed validation")
	}

	rulesets, err := s.GetRulesets(ctx)
	if err != nil {
		return OutcomeEvent{}, err
	}
	if _, ok := rulesets[input.RulesetVersion]; !ok {
		return OutcomeEvent{}, apperr.New(apperr.KindConfiguration, "missing ruleset configuration").WithDetailsf("ruleset_version=%d", input.RulesetVersion)
	}

	eventID := input.EventID
	if eventID == "" {
		eventID = domain.NewOutcomeEventID().String()
	}
	recordedAt := domain.FormatRFC3339(domain.NowUTC())

	var severity *string
	if input.Severity != nil {
		s := string(*input.Severity)
		severity = &s
	}
	payload := input.PayloadJSON
	if payload == nil {
		payload = []byte(`{}`)
	}

	const q = `
		INSERT INTO outcome_events(
			event_id, ruleset_version, memory_id, version, event_type,
			occurred_at, recorded_at, writer, justification,
			context_id, edited, escalated, severity,
			manual_confidence, override_cap, payload_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		eventID, input.RulesetVersion, input.MemoryID, input.Version, string(input.EventType),
		input.OccurredAt, recordedAt, input.Writer, input.Justification,
		input.ContextID, input.Edited, input.Escalated, severity,
		input.ManualConfidence, input.OverrideCap, []byte(payload),
	)
	if err != nil {
		return OutcomeEvent{}, apperr.Wrap(err, apperr.KindInfrastructure, "append outcome event")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return OutcomeEvent{}, apperr.Wrap(err, apperr.KindInfrastructure, "read outcome event sequence")
	}

	s.log.Info("appended outcome event",
		obslog.OutcomeFields("append_event").EventSeq(seq).MemoryRef(input.MemoryID, input.Version).
			Custom("event_type", string(input.EventType)).KeysAndValues()...)

	return OutcomeEvent{
		EventSeq:         seq,
		EventID:          eventID,
		RulesetVersion:   input.RulesetVersion,
		MemoryID:         input.MemoryID,
		Version:          input.Version,
		EventType:        input.EventType,
		OccurredAt:       input.OccurredAt,
		RecordedAt:       recordedAt,
		Writer:           input.Writer,
		Justification:    input.Justification,
		ContextID:        input.ContextID,
		Edited:           input.Edited,
		Escalated:        input.Escalated,
		Severity:         input.Severity,
		ManualConfidence: input.ManualConfidence,
		OverrideCap:      input.OverrideCap,
		PayloadJSON:      payload,
	}, nil
}

// ListEventsForKey returns every event for one (memory_id, version) key
// in event_seq order, optionally capped at limit (0 means unlimited).
func (s *Store) ListEventsForKey(ctx context.Context, key MemoryKey, limit int) ([]OutcomeEvent, error) {
	var rows []outcomeEventRow
	q := `
		SELECT event_seq, event_id, ruleset_version, memory_id, version, event_type,
			occurred_at, recorded_at, writer, justification, context_id,
			edited, escalated, severity, manual_confidence, override_cap, payload_json
		FROM outcome_events
		WHERE memory_id = ? AND version = ?
		ORDER BY event_seq ASC`
	args := []interface{}{key.MemoryID, key.Version}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "list outcome events for key")
	}
	return toDomainEvents(rows), nil
}

// ListEventsFromSeq returns every event at or after fromEventSeq, across
// every key — the input to an incremental replay.
func (s *Store) ListEventsFromSeq(ctx context.Context, fromEventSeq int64) ([]OutcomeEvent, error) {
	var rows []outcomeEventRow
	const q = `
		SELECT event_seq, event_id, ruleset_version, memory_id, version, event_type,
			occurred_at, recorded_at, writer, justification, context_id,
			edited, escalated, severity, manual_confidence, override_cap, payload_json
		FROM outcome_events WHERE event_seq >= ? ORDER BY event_seq ASC`
	if err := s.db.SelectContext(ctx, &rows, q, fromEventSeq); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "list outcome events from seq")
	}
	return toDomainEvents(rows), nil
}

func toDomainEvents(rows []outcomeEventRow) []OutcomeEvent {
	out := make([]OutcomeEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

func (s *Store) latestEventSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	const q = `SELECT MAX(event_seq) FROM outcome_events`
	if err := s.db.GetContext(ctx, &seq, q); err != nil {
		return 0, apperr.Wrap(err, apperr.KindInfrastructure, "query latest event_seq")
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

func (s *Store) keysWithEventsFrom(ctx context.Context, fromEventSeq int64) ([]MemoryKey, error) {
	const q = `
		SELECT DISTINCT memory_id, version FROM outcome_events
		WHERE event_seq >= ? ORDER BY memory_id ASC, version ASC`
	return queryKeys(ctx, s.db, q, fromEventSeq)
}

func (s *Store) keysWithAnyEvents(ctx context.Context) ([]MemoryKey, error) {
	const q = `SELECT DISTINCT memory_id, version FROM outcome_events ORDER BY memory_id ASC, version ASC`
	return queryKeys(ctx, s.db, q)
}

type memoryKeyRow struct {
	MemoryID string `db:"memory_id"`
	Version  uint32 `db:"version"`
}

func queryKeys(ctx context.Context, db sqlxQueryer, query string, args ...interface{}) ([]MemoryKey, error) {
	var rows []memoryKeyRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "list outcome event keys")
	}
	out := make([]MemoryKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, MemoryKey{MemoryID: r.MemoryID, Version: r.Version})
	}
	return out, nil
}

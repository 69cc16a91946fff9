package tracestore

import (
	"context"
	"database/sql"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

type traceEventRow struct {
	EventSeq      int64            `db:"event_seq"`
	EventID       domain.EventID   `db:"event_id"`
	RunID         domain.RunID     `db:"run_id"`
	StepID        *domain.StepID   `db:"step_id"`
	EventType     string           `db:"event_type"`
	OccurredAt    string           `db:"occurred_at"`
	RecordedAt    string           `db:"recorded_at"`
	ActorType     string           `db:"actor_type"`
	ActorID       string           `db:"actor_id"`
	PayloadJSON   []byte           `db:"payload_json"`
	PayloadHash   string           `db:"payload_hash"`
	PrevEventHash *string          `db:"prev_event_hash"`
	EventHash     string           `db:"event_hash"`
}

// nullableStepID converts an optional step id into a query argument,
// avoiding a nil-pointer dereference inside StepID's value-receiver
// driver.Valuer implementation when no step is associated with the event.
func nullableStepID(id *domain.StepID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func (r traceEventRow) toDomain() domain.EventRow {
	return domain.EventRow{
		EventSeq: r.EventSeq,
		Event: domain.TraceEvent{
			EventID:       r.EventID,
			RunID:         r.RunID,
			StepID:        r.StepID,
			EventType:     domain.TraceEventType(r.EventType),
			OccurredAt:    r.OccurredAt,
			RecordedAt:    r.RecordedAt,
			ActorType:     r.ActorType,
			ActorID:       r.ActorID,
			PayloadJSON:   r.PayloadJSON,
			PayloadHash:   r.PayloadHash,
			PrevEventHash: r.PrevEventHash,
			EventHash:     r.EventHash,
		},
	}
}

// LastEventHash returns the event_hash of the most recently appended event
// for a run, or nil if the run has no events yet — the value the next
// event's prev_event_hash must carry to extend the chain.
func (s *Store) LastEventHash(ctx context.Context, runID domain.RunID) (*string, error) {
	var hash string
	const q = `SELECT event_hash FROM trace_events WHERE run_id = ? ORDER BY event_seq DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &hash, q, runID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "read last event hash")
	}
	return &hash, nil
}

// AppendEvent inserts the next event in a run's hash chain. The trace_events
// table has no update/delete path (enforced by triggers): this is the only
// write operation this table supports.
func (s *Store) AppendEvent(ctx context.Context, event domain.TraceEvent) (int64, error) {
	const q = `
		INSERT INTO trace_events
			(event_id, run_id, step_id, event_type, occurred_at, recorded_at, actor_type, actor_id,
			 payload_json, payload_hash, prev_event_hash, event_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		event.EventID, event.RunID, nullableStepID(event.StepID), string(event.EventType), event.OccurredAt, event.RecordedAt,
		event.ActorType, event.ActorID, []byte(event.PayloadJSON), event.PayloadHash, event.PrevEventHash, event.EventHash,
	)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindInfrastructure, "append trace event")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindInfrastructure, "read trace event sequence")
	}
	return seq, nil
}

// ListEventsForRun returns every event for a run in chain order.
func (s *Store) ListEventsForRun(ctx context.Context, runID domain.RunID) ([]domain.EventRow, error) {
	var rows []traceEventRow
	const q = `
		SELECT event_seq, event_id, run_id, step_id, event_type, occurred_at, recorded_at,
			actor_type, actor_id, payload_json, payload_hash, prev_event_hash, event_hash
		FROM trace_events WHERE run_id = ? ORDER BY event_seq ASC`
	if err := s.db.SelectContext(ctx, &rows, q, runID); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "list events for run")
	}
	out := make([]domain.EventRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ListEventsForStep returns every event scoped to one step, in chain order.
func (s *Store) ListEventsForStep(ctx context.Context, stepID domain.StepID) ([]domain.EventRow, error) {
	var rows []traceEventRow
	const q = `
		SELECT event_seq, event_id, run_id, step_id, event_type, occurred_at, recorded_at,
			actor_type, actor_id, payload_json, payload_hash, prev_event_hash, event_hash
		FROM trace_events WHERE step_id = ? ORDER BY event_seq ASC`
	if err := s.db.SelectContext(ctx, &rows, q, stepID); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "list events for step")
	}
	out := make([]domain.EventRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

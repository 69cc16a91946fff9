package tracestore

import (
	"context"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// AppendProviderCall persists one provider adapter invocation's full
// audit record. provider_calls is append-only, matching trace_events.
func (s *Store) AppendProviderCall(ctx context.Context, runID domain.RunID, stepID domain.StepID, call domain.ProviderCallRecord) error {
	const q = `
		INSERT INTO provider_calls
			(provider_call_id, run_id, step_id, provider_name, adapter_version, model_id,
			 request_json, request_hash, response_json, response_hash, latency_ms,
			 input_tokens, output_tokens, started_at, ended_at, status, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		call.ProviderCallID, runID, stepID, call.ProviderName, call.AdapterVersion, call.ModelID,
		[]byte(call.RequestJSON), call.RequestHash, []byte(call.ResponseJSON), call.ResponseHash, call.LatencyMs,
		call.InputTokens, call.OutputTokens, call.StartedAt, call.EndedAt, call.Status, call.ErrorText,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "append provider call")
	}
	return nil
}

type providerCallRow struct {
	ProviderCallID domain.ProviderCallID `db:"provider_call_id"`
	ProviderName   string                `db:"provider_name"`
	AdapterVersion string                `db:"adapter_version"`
	ModelID        string                `db:"model_id"`
	RequestJSON    []byte                `db:"request_json"`
	RequestHash    string                `db:"request_hash"`
	ResponseJSON   []byte                `db:"response_json"`
	ResponseHash   string                `db:"response_hash"`
	LatencyMs      *uint64               `db:"latency_ms"`
	InputTokens    *uint32               `db:"input_tokens"`
	OutputTokens   *uint32               `db:"output_tokens"`
	StartedAt      string                `db:"started_at"`
	EndedAt        string                `db:"ended_at"`
	Status         string                `db:"status"`
	ErrorText      *string               `db:"error_text"`
}

func (r providerCallRow) toDomain() domain.ProviderCallRecord {
	return domain.ProviderCallRecord{
		ProviderCallID: r.ProviderCallID,
		ProviderName:   r.ProviderName,
		AdapterVersion: r.AdapterVersion,
		ModelID:        r.ModelID,
		RequestJSON:    r.RequestJSON,
		RequestHash:    r.RequestHash,
		ResponseJSON:   r.ResponseJSON,
		ResponseHash:   r.ResponseHash,
		LatencyMs:      r.LatencyMs,
		InputTokens:    r.InputTokens,
		OutputTokens:   r.OutputTokens,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		Status:         r.Status,
		ErrorText:      r.ErrorText,
	}
}

// GetProviderCallsForStep returns every provider call recorded for a step,
// in invocation order.
func (s *Store) GetProviderCallsForStep(ctx context.Context, stepID domain.StepID) ([]domain.ProviderCallRecord, error) {
	var rows []providerCallRow
	const q = `
		SELECT provider_call_id, provider_name, adapter_version, model_id, request_json, request_hash,
			response_json, response_hash, latency_ms, input_tokens, output_tokens, started_at, ended_at,
			status, error_text
		FROM provider_calls WHERE step_id = ? ORDER BY started_at ASC`
	if err := s.db.SelectContext(ctx, &rows, q, stepID); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "get provider calls for step")
	}
	out := make([]domain.ProviderCallRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

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
	"fmt"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
)

// ProjectorIssueSeverity classifies a ProjectorIssue.
type ProjectorIssueSeverity string

const (
	ProjectorIssueError   ProjectorIssueSeverity = "error"
	ProjectorIssueWarning ProjectorIssueSeverity = "warning"
)

// ProjectorIssue is one concrete health problem found by ProjectorCheck.
type ProjectorIssue struct {
	Code     string                 `json:"code"`
	Severity ProjectorIssueSeverity `json:"severity"`
	Message  string                 `json:"message"`
}

// ProjectorStaleKey identifies one (memory_id, version) whose memory_trust
// row (if any) is behind its outcome_events history.
type ProjectorStaleKey struct {
	MemoryID           string `json:"memory_id"`
	Version            uint32 `json:"version"`
	MaxEventSeq        int64  `json:"max_event_seq"`
	ProjectedEventSeq  *int64 `json:"projected_event_seq,omitempty"`
}

// ProjectorStatus is a point-in-time health snapshot of the trust projector.
type ProjectorStatus struct {
	ContractVersion            string `json:"contract_version"`
	ProjectorName              string `json:"projector_name"`
	RulesetVersion              uint32 `json:"ruleset_version"`
	ProjectedEventSeq          int64  `json:"projected_event_seq"`
	LatestEventSeq             int64  `json:"latest_event_seq"`
	LagEvents                  int64  `json:"lag_events"`
	LagDeltaEvents             int64  `json:"lag_delta_events"`
	TrackedKeys                int    `json:"tracked_keys"`
	TrustRows                  int    `json:"trust_rows"`
	StaleTrustRows             int    `json:"stale_trust_rows"`
	KeysWithEventsNoTrustRow   int    `json:"keys_with_events_no_trust_row"`
	TrustRowsWithoutEvents     int    `json:"trust_rows_without_events"`
	MaxStaleSeqGap             int64  `json:"max_stale_seq_gap"`
	UpdatedAt                  *string `json:"updated_at,omitempty"`
}

// ProjectorCheck is the pass/fail health verdict derived from ProjectorStatus.
type ProjectorCheck struct {
	ContractVersion string              `json:"contract_version"`
	Healthy         bool                `json:"healthy"`
	Status          ProjectorStatus     `json:"status"`
	Issues          []ProjectorIssue    `json:"issues"`
	StaleKeySample  []ProjectorStaleKey `json:"stale_key_sample"`
}

type projectionStateRow struct {
	RulesetVersion uint32 `db:"ruleset_version"`
	LastEventSeq   int64  `db:"last_event_seq"`
	UpdatedAt      string `db:"updated_at"`
}

func (s *Store) projectionState(ctx context.Context) (*projectionStateRow, error) {
	var row projectionStateRow
	const q = `SELECT ruleset_version, last_event_seq, updated_at FROM outcome_projection_state WHERE projector_name = ?`
	if err := s.db.GetContext(ctx, &row, q, projectorName); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "load projection state")
	}
	return &row, nil
}

func (s *Store) countDistinctEventKeys(ctx context.Context) (int, error) {
	var count int
	const q = `SELECT COUNT(*) FROM (SELECT DISTINCT memory_id, version FROM outcome_events)`
	if err := s.db.GetContext(ctx, &count, q); err != nil {
		return 0, apperr.Wrap(err, apperr.KindInfrastructure, "count distinct outcome event keys")
	}
	return count, nil
}

func (s *Store) countMemoryTrustRows(ctx context.Context) (int, error) {
	var count int
	const q = `SELECT COUNT(*) FROM memory_trust`
	if err := s.db.GetContext(ctx, &count, q); err != nil {
		return 0, apperr.Wrap(err, apperr.KindInfrastructure, "count memory_trust rows")
	}
	return count, nil
}

func (s *Store) countTrustRowsWithoutEvents(ctx context.Context) (int, error) {
	var count int
	const q = `
		SELECT COUNT(*) FROM (
			SELECT trust.memory_id, trust.version
			FROM memory_trust trust
			LEFT JOIN (SELECT DISTINCT memory_id, version FROM outcome_events) events
				ON events.memory_id = trust.memory_id AND events.version = trust.version
			WHERE events.memory_id IS NULL
		)`
	if err := s.db.GetContext(ctx, &count, q); err != nil {
		return 0, apperr.Wrap(err, apperr.KindInfrastructure, "count orphan memory_trust rows")
	}
	return count, nil
}

// ProjectorStaleKeys lists every (memory_id, version) whose memory_trust
// row (if any) is behind its outcome_events history, optionally capped
// at limit.
func (s *Store) ProjectorStaleKeys(ctx context.Context, limit *int) ([]ProjectorStaleKey, error) {
	q := `
		SELECT
			events.memory_id,
			events.version,
			events.max_event_seq,
			trust.last_event_seq AS projected_event_seq
		FROM (
			SELECT memory_id, version, MAX(event_seq) AS max_event_seq
			FROM outcome_events GROUP BY memory_id, version
		) events
		LEFT JOIN memory_trust trust
			ON trust.memory_id = events.memory_id AND trust.version = events.version
		WHERE trust.last_event_seq IS NULL OR trust.last_event_seq < events.max_event_seq
		ORDER BY events.memory_id ASC, events.version ASC`
	if limit != nil {
		q += fmt.Sprintf(" LIMIT %d", *limit)
	}

	var rows []struct {
		MemoryID          string `db:"memory_id"`
		Version           uint32 `db:"version"`
		MaxEventSeq       int64  `db:"max_event_seq"`
		ProjectedEventSeq *int64 `db:"projected_event_seq"`
	}
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "list stale projector keys")
	}

	out := make([]ProjectorStaleKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, ProjectorStaleKey{
			MemoryID:          r.MemoryID,
			Version:           r.Version,
			MaxEventSeq:       r.MaxEventSeq,
			ProjectedEventSeq: r.ProjectedEventSeq,
		})
	}
	return out, nil
}

// ProjectorStatus reports the current lag and integrity counters for the
// trust projector.
func (s *Store) ProjectorStatus(ctx context.Context) (ProjectorStatus, error) {
	state, err := s.projectionState(ctx)
	if err != nil {
		return ProjectorStatus{}, err
	}
	rulesetVersion := uint32(1)
	var projectedEventSeq int64
	var updatedAt *string
	if state != nil {
		rulesetVersion = state.RulesetVersion
		projectedEventSeq = state.LastEventSeq
		updatedAt = &state.UpdatedAt
	}

	latestEventSeq, err := s.latestEventSeq(ctx)
	if err != nil {
		return ProjectorStatus{}, err
	}
	lagEvents := latestEventSeq - projectedEventSeq
	if lagEvents < 0 {
		lagEvents = 0
	}

	trackedKeys, err := s.countDistinctEventKeys(ctx)
	if err != nil {
		return ProjectorStatus{}, err
	}
	trustRows, err := s.countMemoryTrustRows(ctx)
	if err != nil {
		return ProjectorStatus{}, err
	}
	staleKeys, err := s.ProjectorStaleKeys(ctx, nil)
	if err != nil {
		return ProjectorStatus{}, err
	}
	trustRowsWithoutEvents, err := s.countTrustRowsWithoutEvents(ctx)
	if err != nil {
		return ProjectorStatus{}, err
	}

	var keysWithEventsNoTrustRow int
	var maxStaleSeqGap int64
	for _, key := range staleKeys {
		if key.ProjectedEventSeq == nil {
			keysWithEventsNoTrustRow++
		}
		var projected int64
		if key.ProjectedEventSeq != nil {
			projected = *key.ProjectedEventSeq
		}
		if gap := key.MaxEventSeq - projected; gap > maxStaleSeqGap {
			maxStaleSeqGap = gap
		}
	}

	return ProjectorStatus{
		ContractVersion:          "projector_status.v1",
		ProjectorName:            projectorName,
		RulesetVersion:           rulesetVersion,
		ProjectedEventSeq:        projectedEventSeq,
		LatestEventSeq:           latestEventSeq,
		LagEvents:                lagEvents,
		LagDeltaEvents:           lagEvents,
		TrackedKeys:              trackedKeys,
		TrustRows:                trustRows,
		StaleTrustRows:           len(staleKeys),
		KeysWithEventsNoTrustRow: keysWithEventsNoTrustRow,
		TrustRowsWithoutEvents:   trustRowsWithoutEvents,
		MaxStaleSeqGap:           maxStaleSeqGap,
		UpdatedAt:                updatedAt,
	}, nil
}

// ProjectorCheck evaluates ProjectorStatus against health thresholds,
// returning categorized issues and a capped sample of stale keys.
func (s *Store) ProjectorCheck(ctx context.Context) (ProjectorCheck, error) {
	status, err := s.ProjectorStatus(ctx)
	if err != nil {
		return ProjectorCheck{}, err
	}

	var issues []ProjectorIssue
	if status.LagEvents > 0 {
		issues = append(issues, ProjectorIssue{
			Code: "projection_lag", Severity: ProjectorIssueError,
			Message: fmt.Sprintf("projection lag detected: %d events behind", status.LagEvents),
		})
	}
	if status.StaleTrustRows > 0 {
		issues = append(issues, ProjectorIssue{
			Code: "stale_trust_rows", Severity: ProjectorIssueError,
			Message: fmt.Sprintf("stale trust rows detected: %d keys out of date", status.StaleTrustRows),
		})
	}
	if status.TrackedKeys != status.TrustRows {
		issues = append(issues, ProjectorIssue{
			Code: "key_snapshot_mismatch", Severity: ProjectorIssueError,
			Message: fmt.Sprintf("key/snapshot mismatch: tracked_keys=%d trust_rows=%d", status.TrackedKeys, status.TrustRows),
		})
	}
	if status.TrustRowsWithoutEvents > 0 {
		issues = append(issues, ProjectorIssue{
			Code: "orphan_trust_rows", Severity: ProjectorIssueWarning,
			Message: fmt.Sprintf("trust rows without events detected: %d rows", status.TrustRowsWithoutEvents),
		})
	}

	sampleLimit := 25
	sample, err := s.ProjectorStaleKeys(ctx, &sampleLimit)
	if err != nil {
		return ProjectorCheck{}, err
	}

	healthy := true
	for _, issue := range issues {
		if issue.Severity == ProjectorIssueError {
			healthy = false
			break
		}
	}

	return ProjectorCheck{
		ContractVersion: "projector_check.v1",
		Healthy:         healthy,
		Status:          status,
		Issues:          issues,
		StaleKeySample:  sample,
	}, nil
}

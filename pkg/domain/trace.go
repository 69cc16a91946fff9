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

package domain

import "encoding/json"

// TraceEvent is the audit atom: one hash-chained moment in a run's history.
type TraceEvent struct {
	EventID        EventID         `json:"event_id"`
	RunID          RunID           `json:"run_id"`
	StepID         *StepID         `json:"step_id,omitempty"`
	EventType      TraceEventType  `json:"event_type"`
	OccurredAt     string          `json:"occurred_at"`
	RecordedAt     string          `json:"recorded_at"`
	ActorType      string          `json:"actor_type"`
	ActorID        string          `json:"actor_id"`
	PayloadJSON    json.RawMessage `json:"payload_json"`
	PayloadHash    string          `json:"payload_hash"`
	PrevEventHash  *string         `json:"prev_event_hash"`
	EventHash      string          `json:"event_hash"`
}

// hashMaterial is the subset of TraceEvent fields the event hash chain
// covers (spec §4.7's "Event hash chain" paragraph) — excludes the
// event_hash field itself so the hash can never cover its own output.
type hashMaterial struct {
	EventID       EventID         `json:"event_id"`
	RunID         RunID           `json:"run_id"`
	StepID        *StepID         `json:"step_id,omitempty"`
	EventType     TraceEventType  `json:"event_type"`
	OccurredAt    string          `json:"occurred_at"`
	RecordedAt    string          `json:"recorded_at"`
	ActorType     string          `json:"actor_type"`
	ActorID       string          `json:"actor_id"`
	PayloadHash   string          `json:"payload_hash"`
	PrevEventHash *string         `json:"prev_event_hash"`
}

// EventRow pairs a persisted event with its store-assigned sequence number.
type EventRow struct {
	EventSeq int64      `json:"event_seq"`
	Event    TraceEvent `json:"event"`
}

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

package orchestrator

import (
	"context"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// runChain tracks the last appended event hash for one run in memory,
// so a sequence of appendEvent calls within a single step transaction
// does not need to round-trip LastEventHash between every append.
type runChain struct {
	prev *string
}

func newRunChain(ctx context.Context, store TraceStore, runID domain.RunID) (*runChain, error) {
	prev, err := store.LastEventHash(ctx, runID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "load last event hash")
	}
	return &runChain{prev: prev}, nil
}

// append builds, hashes, links and persists one trace event, advancing
// the chain's in-memory prev pointer (§4.7 "Event hash chain").
func (c *runChain) append(ctx context.Context, store TraceStore, runID domain.RunID, stepID *domain.StepID, eventType domain.TraceEventType, actorType, actorID string, payload interface{}) (domain.TraceEvent, error) {
	payloadJSON, err := domain.CanonicalJSON(payload)
	if err != nil {
		return domain.TraceEvent{}, apperr.Wrap(err, apperr.KindInfrastructure, "marshal event payload")
	}
	payloadHash := domain.HashBytes(payloadJSON)

	now := domain.FormatRFC3339(domain.NowUTC())
	event := domain.TraceEvent{
		EventID:       domain.NewEventID(),
		RunID:         runID,
		StepID:        stepID,
		EventType:     eventType,
		OccurredAt:    now,
		RecordedAt:    now,
		ActorType:     actorType,
		ActorID:       actorID,
		PayloadJSON:   payloadJSON,
		PayloadHash:   payloadHash,
		PrevEventHash: c.prev,
	}

	hash, err := domain.ComputeEventHash(event)
	if err != nil {
		return domain.TraceEvent{}, apperr.Wrap(err, apperr.KindInfrastructure, "compute event hash")
	}
	event.EventHash = hash

	if _, err := store.AppendEvent(ctx, event); err != nil {
		return domain.TraceEvent{}, apperr.Wrap(err, apperr.KindInfrastructure, "append trace event")
	}
	c.prev = &hash
	return event, nil
}

const (
	actorTypeOrchestrator = "orchestrator"
	actorTypeSystem       = "system"
)

// warningPayload is the payload shape for a Warning event.
type warningPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorPayload is the payload shape for an Error event.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

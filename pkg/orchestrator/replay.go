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
	"encoding/json"
	"time"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/trustgate"
)

// ReplayAuditResult is the report produced by walking one run's event
// chain and verifying every link (§4.7 "Replay").
type ReplayAuditResult struct {
	RunID      domain.RunID `json:"run_id"`
	EventCount int          `json:"events"`
	ChainValid bool         `json:"chain_valid"`
	BrokenAt   *int64       `json:"broken_at_event_seq,omitempty"`
}

// ReplayAudit reads a run's events in sequence order and verifies each
// event's prev_event_hash equals the previous event's event_hash; the
// first event's prev_event_hash must be null.
func (o *Orchestrator) ReplayAudit(ctx context.Context, runID domain.RunID) (ReplayAuditResult, error) {
	rows, err := o.cfg.Store.ListEventsForRun(ctx, runID)
	if err != nil {
		return ReplayAuditResult{}, apperr.Wrap(err, apperr.KindInfrastructure, "list events for replay audit")
	}

	result := ReplayAuditResult{RunID: runID, EventCount: len(rows), ChainValid: true}
	var prevHash *string
	for _, row := range rows {
		ev := row.Event
		if !equalHashPtr(ev.PrevEventHash, prevHash) {
			result.ChainValid = false
			seq := row.EventSeq
			result.BrokenAt = &seq
			return result, nil
		}
		hash := ev.EventHash
		prevHash = &hash
	}
	return result, nil
}

func equalHashPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// staticContextSource replays a run's already-persisted context
// packages instead of querying a live resolver (§4.7 "Replay with
// provider rerun"): every query for a step returns that step's
// originally recorded packages verbatim.
type staticContextSource struct {
	packagesByStepKey map[string][]domain.ContextPackageEnvelope
}

func (s *staticContextSource) Assemble(_ context.Context, _ domain.RunID, stepKey string, _ time.Time, _ []domain.ContextQuery) ([]domain.ContextPackageEnvelope, error) {
	packages, ok := s.packagesByStepKey[stepKey]
	if !ok {
		return nil, apperr.New(apperr.KindIntegrity, "no recorded context packages for step "+stepKey)
	}
	return packages, nil
}

// ReplayWithProviderRerun re-executes a completed run as a new run: it
// reuses the source run's normalized workflow and recorded context
// packages as a static, resolver-bypassing source, forces the trust
// gate to allow everything through unchanged, and re-invokes providers
// for every step. The new run's ReplayOfRunID points at the source.
func (o *Orchestrator) ReplayWithProviderRerun(ctx context.Context, sourceRunID domain.RunID) (domain.RunRecord, error) {
	store := o.cfg.Store

	source, err := store.GetRun(ctx, sourceRunID)
	if err != nil {
		return domain.RunRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "load source run")
	}
	snapshot, err := store.GetWorkflowSnapshot(ctx, source.WorkflowHash)
	if err != nil {
		return domain.RunRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "load source workflow snapshot")
	}
	var workflow domain.NormalizedWorkflow
	if err := json.Unmarshal(snapshot.NormalizedJSON, &workflow); err != nil {
		return domain.RunRecord{}, apperr.Wrap(err, apperr.KindIntegrity, "unmarshal normalized workflow snapshot")
	}

	sourceSteps, err := store.GetStepRecords(ctx, sourceRunID)
	if err != nil {
		return domain.RunRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "load source step records")
	}
	packagesByStepKey := make(map[string][]domain.ContextPackageEnvelope, len(sourceSteps))
	for _, step := range sourceSteps {
		packages, err := store.GetStepContextPackages(ctx, step.StepID)
		if err != nil {
			return domain.RunRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "load source step context packages")
		}
		packagesByStepKey[step.StepKey] = packages
	}

	replayCfg := o.cfg
	replayCfg.Context = &staticContextSource{packagesByStepKey: packagesByStepKey}
	replayCfg.Trust = trustgate.NewAllowAll(o.cfg.Log)
	replayOrchestrator, err := New(replayCfg)
	if err != nil {
		return domain.RunRecord{}, err
	}

	asOf, err := domain.ParseRFC3339(source.AsOf)
	if err != nil {
		return domain.RunRecord{}, apperr.Wrap(err, apperr.KindIntegrity, "parse source run as_of")
	}
	replayOf := sourceRunID

	envelope := domain.NormalizedWorkflowEnvelope{
		SourceFormat:       snapshot.SourceFormat,
		SourceYAMLHash:     snapshot.SourceYAMLHash,
		NormalizedHash:     snapshot.WorkflowHash,
		NormalizedWorkflow: workflow,
		NormalizedJSON:     snapshot.NormalizedJSON,
	}

	sourceChain, err := newRunChain(ctx, store, sourceRunID)
	if err != nil {
		return domain.RunRecord{}, err
	}
	if _, err := sourceChain.append(ctx, store, sourceRunID, nil, domain.EventReplayStarted, actorTypeOrchestrator, actorTypeOrchestrator, map[string]string{}); err != nil {
		return domain.RunRecord{}, err
	}

	newRun, err := replayOrchestrator.Run(ctx, envelope, RunOptions{
		AsOf:           asOf,
		AsOfWasDefault: source.AsOfWasDefault,
		ReplayOfRunID:  &replayOf,
	})

	if _, emitErr := sourceChain.append(ctx, store, sourceRunID, nil, domain.EventReplayFinished, actorTypeOrchestrator, actorTypeOrchestrator, map[string]string{"replay_run_id": newRun.RunID.String()}); emitErr != nil {
		o.cfg.Log.Error(emitErr, "failed to emit replay finished event on source run")
	}

	return newRun, err
}

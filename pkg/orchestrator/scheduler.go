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
	"sort"
	"time"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// RunOptions parameterizes one Run call.
type RunOptions struct {
	AsOf                  time.Time
	AsOfWasDefault        bool
	ExternalCorrelationID *string
	InvocationParamsJSON  json.RawMessage
	ReplayOfRunID         *domain.RunID
}

// Run normalizes a workflow envelope into a fresh run, schedules its
// steps to completion, and finalizes the run's manifest.
func (o *Orchestrator) Run(ctx context.Context, envelope domain.NormalizedWorkflowEnvelope, opts RunOptions) (domain.RunRecord, error) {
	workflow := envelope.NormalizedWorkflow
	store := o.cfg.Store

	if err := store.UpsertWorkflowSnapshot(ctx, domain.WorkflowSnapshotRecord{
		WorkflowHash:         envelope.NormalizedHash,
		NormalizationVersion: workflow.NormalizationVersion,
		SourceFormat:         envelope.SourceFormat,
		SourceYAMLHash:       envelope.SourceYAMLHash,
		NormalizedJSON:       envelope.NormalizedJSON,
	}); err != nil {
		return domain.RunRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "upsert workflow snapshot")
	}

	run := domain.RunRecord{
		RunID:                   domain.NewRunID(),
		WorkflowName:            workflow.WorkflowName,
		WorkflowVersion:         workflow.WorkflowVersion,
		WorkflowHash:            envelope.NormalizedHash,
		AsOf:                    domain.FormatRFC3339(opts.AsOf),
		AsOfWasDefault:          opts.AsOfWasDefault,
		StartedAt:               domain.FormatRFC3339(domain.NowUTC()),
		Status:                  domain.RunRunning,
		ReplayOfRunID:           opts.ReplayOfRunID,
		ExternalCorrelationID:   opts.ExternalCorrelationID,
		EngineVersion:           EngineVersion,
		InvocationParamsJSON:    opts.InvocationParamsJSON,
		ManifestSignatureStatus: signatureStatusUnsigned,
	}
	if err := store.InsertRun(ctx, run); err != nil {
		return domain.RunRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "insert run record")
	}

	chain, err := newRunChain(ctx, store, run.RunID)
	if err != nil {
		return domain.RunRecord{}, err
	}
	if _, err := chain.append(ctx, store, run.RunID, nil, domain.EventRunStarted, actorTypeOrchestrator, actorTypeOrchestrator, map[string]string{
		"workflow_name": workflow.WorkflowName,
		"workflow_hash": envelope.NormalizedHash,
	}); err != nil {
		return domain.RunRecord{}, err
	}

	agentsByName := make(map[string]domain.AgentDefinition, len(workflow.Agents))
	for _, a := range workflow.Agents {
		agentsByName[a.AgentName] = a
	}

	finishedSteps, schedErr := o.schedule(ctx, chain, run, workflow, agentsByName)

	status := RunStatusFromSteps(finishedSteps)
	if schedErr != nil {
		status = domain.RunFailed
		o.cfg.Log.Error(schedErr, "scheduling loop failed", obslog.OrchestratorFields("schedule").RunID(run.RunID.String()).KeysAndValues()...)
	}

	endedAt := domain.FormatRFC3339(domain.NowUTC())
	if err := store.UpdateRunFinished(ctx, run.RunID, status, endedAt); err != nil {
		return domain.RunRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "update run finished")
	}
	if _, err := chain.append(ctx, store, run.RunID, nil, domain.EventRunFinished, actorTypeOrchestrator, actorTypeOrchestrator, map[string]string{"status": string(status)}); err != nil {
		return domain.RunRecord{}, err
	}

	run.Status = status
	run.EndedAt = &endedAt

	if err := o.finalizeRunManifest(ctx, run, envelope.SourceYAMLHash, workflow.NormalizationVersion); err != nil {
		return domain.RunRecord{}, err
	}

	if schedErr != nil {
		return run, schedErr
	}
	return run, nil
}

// schedule runs the DAG loop to completion: ready steps execute in
// ascending index order, newly-blocked steps are marked skipped, and
// a stall with pending work left is reported as a dependency cycle.
func (o *Orchestrator) schedule(ctx context.Context, chain *runChain, run domain.RunRecord, workflow domain.NormalizedWorkflow, agentsByName map[string]domain.AgentDefinition) ([]domain.StepRecord, error) {
	stepsByKey := make(map[string]domain.WorkflowStepDefinition, len(workflow.Steps))
	indexByKey := make(map[string]int, len(workflow.Steps))
	for i, s := range workflow.Steps {
		stepsByKey[s.StepKey] = s
		indexByKey[s.StepKey] = i
	}

	status := make(map[string]domain.StepStatus, len(workflow.Steps))
	for _, s := range workflow.Steps {
		status[s.StepKey] = domain.StepPending
	}

	finished := make([]domain.StepRecord, 0, len(workflow.Steps))

	for {
		var pendingKeys []string
		for key, st := range status {
			if st == domain.StepPending {
				pendingKeys = append(pendingKeys, key)
			}
		}
		if len(pendingKeys) == 0 {
			break
		}

		var ready []string
		var blocked []string
		for _, key := range pendingKeys {
			def := stepsByKey[key]
			allSucceeded := true
			anyBlocking := false
			for _, dep := range def.DependsOn {
				depStatus, seen := status[dep]
				if !seen || depStatus != domain.StepSucceeded {
					allSucceeded = false
				}
				if seen && blocksDependents(depStatus) {
					anyBlocking = true
				}
			}
			switch {
			case anyBlocking:
				blocked = append(blocked, key)
			case allSucceeded:
				ready = append(ready, key)
			}
		}

		for _, key := range blocked {
			if err := o.skipBlockedStep(ctx, chain, run, stepsByKey[key], indexByKey[key]); err != nil {
				return finished, err
			}
			status[key] = domain.StepSkipped
		}

		if len(ready) == 0 {
			if len(blocked) > 0 {
				continue
			}
			return finished, apperr.New(apperr.KindIntegrity, "dependency cycle: pending steps remain with none ready")
		}

		sort.Slice(ready, func(i, j int) bool { return indexByKey[ready[i]] < indexByKey[ready[j]] })

		for _, key := range ready {
			def := stepsByKey[key]
			record, err := o.runStepTransaction(ctx, chain, run, workflow, agentsByName, def, indexByKey[key])
			if err != nil {
				return finished, err
			}
			status[key] = record.Status
			finished = append(finished, record)
		}
	}

	return finished, nil
}

// skipBlockedStep records a step whose dependency failed, was rejected
// or was itself skipped: no transaction runs, only a terminal
// StepRecord and a StepFinished event.
func (o *Orchestrator) skipBlockedStep(ctx context.Context, chain *runChain, run domain.RunRecord, def domain.WorkflowStepDefinition, index int) error {
	store := o.cfg.Store
	stepID := domain.NewStepID()
	now := domain.FormatRFC3339(domain.NowUTC())
	errEnvelope := domain.ErrorEnvelope{Code: ReasonDependencyNotSatisfied, Message: "one or more dependencies did not succeed"}
	errorJSON, err := domain.CanonicalJSON(errEnvelope)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "marshal skipped step error")
	}
	taskJSON, _ := domain.CanonicalJSON(def.Task)
	constraintsJSON, _ := domain.CanonicalJSON(def.Constraints)

	record := domain.StepRecord{
		StepID:          stepID,
		RunID:           run.RunID,
		StepIndex:       index,
		StepKey:         def.StepKey,
		AgentName:       def.AgentName,
		Status:          domain.StepSkipped,
		StartedAt:       &now,
		EndedAt:         &now,
		TaskPayloadJSON: taskJSON,
		ConstraintsJSON: constraintsJSON,
		ErrorJSON:       errorJSON,
	}
	if err := store.InsertStep(ctx, record); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "insert skipped step record")
	}
	if err := store.UpdateStepFinished(ctx, stepID, domain.StepSkipped, now, nil, errorJSON); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "finish skipped step record")
	}
	if _, err := chain.append(ctx, store, run.RunID, &stepID, domain.EventStepFinished, actorTypeOrchestrator, actorTypeOrchestrator, map[string]string{"status": string(domain.StepSkipped), "reason": ReasonDependencyNotSatisfied}); err != nil {
		return err
	}
	return nil
}

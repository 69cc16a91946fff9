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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// ReasonDependencyNotSatisfied is the fixed error reason a skipped
// step's StepRecord carries when one of its dependencies did not
// succeed.
const ReasonDependencyNotSatisfied = "dependency_not_satisfied"

// ReasonProviderInvocationFailed is the fixed error reason a failed
// step's StepRecord carries when its provider adapter call errors.
const ReasonProviderInvocationFailed = "provider_invocation_failed"

const (
	gateNameTrust    = "trust_gate"
	gateNamePolicy   = "policy_prune"
	gateNameToolGate = "tool_gate"

	decidedByTrustGate    = "trust_gate"
	decidedByPolicyEngine = "policy_engine"
	decidedByHumanGate    = "human_gate_decider"
	decidedByToolGate     = "tool_gate"
)

type taskContextQueries struct {
	ContextQueries []domain.ContextQuery `json:"context_queries,omitempty"`
}

// contextQueriesFor extracts the declared context_queries from a step's
// task payload, falling back to one implicit recall query over the
// step's own key when a task declares none.
func contextQueriesFor(stepDef domain.WorkflowStepDefinition) []domain.ContextQuery {
	var t taskContextQueries
	if len(stepDef.Task) > 0 {
		_ = json.Unmarshal(stepDef.Task, &t)
	}
	if len(t.ContextQueries) > 0 {
		return t.ContextQueries
	}
	return []domain.ContextQuery{{Mode: domain.QueryModeRecall, Text: stepDef.StepKey}}
}

// runStepTransaction executes one step's fourteen ordered effects
// (context assembly, policy pruning, trust gating, provider
// invocation, write application) against a single ready step.
func (o *Orchestrator) runStepTransaction(ctx context.Context, chain *runChain, run domain.RunRecord, workflow domain.NormalizedWorkflow, agentsByName map[string]domain.AgentDefinition, stepDef domain.WorkflowStepDefinition, stepIndex int) (result domain.StepRecord, err error) {
	ctx, span := tracer.Start(ctx, "orchestrator.step")
	span.SetAttributes(
		attribute.String("orchestrator.run_id", run.RunID.String()),
		attribute.String("orchestrator.step_key", stepDef.StepKey),
		attribute.String("orchestrator.agent_name", stepDef.AgentName),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("orchestrator.step_status", string(result.Status)))
		}
		span.End()
	}()

	store := o.cfg.Store
	stepID := domain.NewStepID()
	asOf, err := domain.ParseRFC3339(run.AsOf)
	if err != nil {
		return domain.StepRecord{}, apperr.Wrap(err, apperr.KindValidation, "parse run as_of")
	}

	// 1: resolve agent, snapshot effective permissions.
	agent, ok := agentsByName[stepDef.AgentName]
	if !ok {
		return domain.StepRecord{}, apperr.New(apperr.KindValidation, fmt.Sprintf("step %q references unknown agent %q", stepDef.StepKey, stepDef.AgentName))
	}
	perms := domain.ResolveEffectivePermissions(agent.Permissions)
	perms, err = o.narrowByToolGate(ctx, run.RunID, stepID, perms)
	if err != nil {
		return domain.StepRecord{}, err
	}

	// 2: fetch context packages for (run_id, step, as_of).
	queries := contextQueriesFor(stepDef)
	envelopes, err := o.cfg.Context.Assemble(ctx, run.RunID, stepDef.StepKey, asOf, queries)
	if err != nil {
		return domain.StepRecord{}, apperr.Wrap(err, apperr.KindDependency, "assemble context packages")
	}

	// 3: apply policy pruning.
	prunedEnvelopes, prunedRefs, err := o.cfg.Policy.Prune(perms, envelopes)
	if err != nil {
		return domain.StepRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "prune context packages")
	}

	// 4: collect candidate refs, evaluate trust gate.
	candidates := collectTrustCandidates(prunedEnvelopes)
	attachments, err := o.cfg.Trust.Evaluate(ctx, run.RunID, stepDef.StepKey, asOf, domain.RetrievalSafe, candidates)
	if err != nil {
		return domain.StepRecord{}, apperr.Wrap(err, apperr.KindDependency, "evaluate trust gate")
	}

	// 5: drop items the trust gate excluded, recompute package hashes.
	filteredEnvelopes, err := applyTrustFilter(prunedEnvelopes, attachments)
	if err != nil {
		return domain.StepRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "recompute trust-filtered package hashes")
	}

	// 6: assemble the step request, compute its input hash.
	request := domain.StepRequest{
		RunID:                   run.RunID,
		StepID:                  stepID,
		StepKey:                 stepDef.StepKey,
		AsOf:                    run.AsOf,
		Agent:                   agent,
		TaskPayload:             stepDef.Task,
		InjectedContextPackages: filteredEnvelopes,
		TrustGateAttachments:    attachments,
		EffectivePermissions:    perms,
		Constraints:             stepDef.Constraints,
	}
	inputHash, err := domain.ComputeStepRequestHash(request)
	if err != nil {
		return domain.StepRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "compute step input hash")
	}
	request.InputHash = inputHash

	taskJSON, _ := domain.CanonicalJSON(stepDef.Task)
	constraintsJSON, _ := domain.CanonicalJSON(stepDef.Constraints)
	permsJSON, _ := domain.CanonicalJSON(perms)

	// 7: insert the step record, status running.
	startedAt := domain.FormatRFC3339(domain.NowUTC())
	record := domain.StepRecord{
		StepID:          stepID,
		RunID:           run.RunID,
		StepIndex:       stepIndex,
		StepKey:         stepDef.StepKey,
		AgentName:       stepDef.AgentName,
		Status:          domain.StepRunning,
		StartedAt:       &startedAt,
		TaskPayloadJSON: taskJSON,
		ConstraintsJSON: constraintsJSON,
		PermissionsJSON: permsJSON,
		InputHash:       inputHash,
	}
	if err := store.InsertStep(ctx, record); err != nil {
		return domain.StepRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "insert step record")
	}

	// 8: persist gate-decision rows, context packages, the pruned aggregate.
	for _, att := range attachments {
		if err := o.appendTrustGateDecision(ctx, run.RunID, stepID, att); err != nil {
			return domain.StepRecord{}, err
		}
	}
	for _, env := range filteredEnvelopes {
		if err := store.AppendContextPackage(ctx, run.RunID, stepID, env); err != nil {
			return domain.StepRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "persist context package")
		}
	}
	if len(prunedRefs) > 0 {
		if err := o.appendPolicyPruneDecision(ctx, run.RunID, stepID, prunedRefs); err != nil {
			return domain.StepRecord{}, err
		}
	}

	// 9: emit the preparation events in order.
	if _, err := chain.append(ctx, store, run.RunID, &stepID, domain.EventStepReady, actorTypeOrchestrator, actorTypeOrchestrator, map[string]string{"step_key": stepDef.StepKey}); err != nil {
		return domain.StepRecord{}, err
	}
	if _, err := chain.append(ctx, store, run.RunID, &stepID, domain.EventStepInputPrepared, actorTypeOrchestrator, actorTypeOrchestrator, map[string]string{"input_hash": inputHash}); err != nil {
		return domain.StepRecord{}, err
	}
	if len(attachments) > 0 {
		if _, err := chain.append(ctx, store, run.RunID, &stepID, domain.EventGateEvaluated, actorTypeOrchestrator, decidedByTrustGate, trustSummary(attachments)); err != nil {
			return domain.StepRecord{}, err
		}
	}
	if len(prunedRefs) > 0 {
		if _, err := chain.append(ctx, store, run.RunID, &stepID, domain.EventStepPermissionPruned, actorTypeOrchestrator, decidedByPolicyEngine, prunedRefs); err != nil {
			return domain.StepRecord{}, err
		}
		if _, err := chain.append(ctx, store, run.RunID, &stepID, domain.EventWarning, actorTypeOrchestrator, actorTypeOrchestrator, warningPayload{Code: "permission_prune", Message: "one or more context items were pruned by policy"}); err != nil {
			return domain.StepRecord{}, err
		}
	}
	if _, err := chain.append(ctx, store, run.RunID, &stepID, domain.EventStepStarted, actorTypeOrchestrator, actorTypeOrchestrator, map[string]string{"step_key": stepDef.StepKey}); err != nil {
		return domain.StepRecord{}, err
	}

	started := time.Now()
	outcome := o.invokeProviderAndFinish(ctx, chain, run, workflow, stepDef, request, stepID)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.observeStepDuration(string(outcome.Status), time.Since(started).Seconds())
	}

	// 14: update the step record's terminal status, emit StepFinished.
	endedAt := domain.FormatRFC3339(domain.NowUTC())
	var errorJSON json.RawMessage
	if outcome.Error != nil {
		errorJSON, _ = domain.CanonicalJSON(outcome.Error)
	}
	var outputHashPtr *string
	if outcome.OutputHash != "" {
		h := outcome.OutputHash
		outputHashPtr = &h
	}
	if err := store.UpdateStepFinished(ctx, stepID, outcome.Status, endedAt, outputHashPtr, errorJSON); err != nil {
		return domain.StepRecord{}, apperr.Wrap(err, apperr.KindInfrastructure, "update step finished")
	}
	if _, err := chain.append(ctx, store, run.RunID, &stepID, domain.EventStepFinished, actorTypeOrchestrator, actorTypeOrchestrator, map[string]string{"status": string(outcome.Status)}); err != nil {
		return domain.StepRecord{}, err
	}

	record.Status = outcome.Status
	record.EndedAt = &endedAt
	record.OutputHash = outputHashPtr
	record.ErrorJSON = errorJSON
	return record, nil
}

// invokeProviderAndFinish is effects 10-13: the required-human-gate
// check, the provider call (or its skip), output hashing, and proposed
// write application.
func (o *Orchestrator) invokeProviderAndFinish(ctx context.Context, chain *runChain, run domain.RunRecord, workflow domain.NormalizedWorkflow, stepDef domain.WorkflowStepDefinition, request domain.StepRequest, stepID domain.StepID) domain.StepResult {
	store := o.cfg.Store

	// 10: required human gates can reject the step outright.
	for _, gateName := range requiredHumanGates(stepDef.GatePoints, workflow.Gates) {
		decision, err := o.cfg.HumanGates.Decide(ctx, run.RunID, stepDef.StepKey, gateName)
		if err != nil {
			decision = HumanGateDecision{Approved: false, Notes: err.Error()}
		}
		o.countGateDecision(domain.GateKindHuman, decision.Approved)
		if err := o.appendHumanGateDecision(ctx, run.RunID, stepID, gateName, decision); err != nil {
			return rejectedResult(run.RunID, stepID, "human_gate_decision_persist_failed")
		}
		if !decision.Approved {
			return rejectedResult(run.RunID, stepID, gateName)
		}
	}

	adapter, ok := o.cfg.Providers.Resolve(request.Agent.Provider.ProviderName)
	if !ok {
		noProviderErr := apperr.New(apperr.KindConfiguration, fmt.Sprintf("no provider adapter registered for %q", request.Agent.Provider.ProviderName))
		return o.finishFailedNoProvider(ctx, chain, run, stepID, noProviderErr)
	}

	callCtx, callSpan := tracer.Start(ctx, "orchestrator.provider_call")
	callSpan.SetAttributes(
		attribute.String("orchestrator.provider_name", request.Agent.Provider.ProviderName),
		attribute.String("orchestrator.step_key", stepDef.StepKey),
	)
	invocation, err := adapter.Invoke(callCtx, request)
	if err != nil {
		callSpan.RecordError(err)
		callSpan.SetStatus(codes.Error, err.Error())
		callSpan.End()
		if _, emitErr := chain.append(ctx, store, run.RunID, &stepID, domain.EventError, actorTypeOrchestrator, request.Agent.Provider.ProviderName, errorPayload{Code: ReasonProviderInvocationFailed, Message: err.Error()}); emitErr != nil {
			o.cfg.Log.Error(emitErr, "failed to emit provider error event")
		}
		return domain.StepResult{
			RunID:  run.RunID,
			StepID: stepID,
			Status: domain.StepFailed,
			Error:  &domain.ErrorEnvelope{Code: ReasonProviderInvocationFailed, Message: err.Error()},
		}
	}
	callSpan.End()

	// 11: persist the provider call record, emit ProviderCalled.
	if err := store.AppendProviderCall(ctx, run.RunID, stepID, invocation.CallRecord); err != nil {
		o.cfg.Log.Error(err, "failed to persist provider call record", obslog.OrchestratorFields("persist_provider_call").KeysAndValues()...)
	}
	if _, err := chain.append(ctx, store, run.RunID, &stepID, domain.EventProviderCalled, actorTypeOrchestrator, invocation.CallRecord.ProviderName, map[string]string{"provider_call_id": invocation.CallRecord.ProviderCallID.String(), "status": invocation.CallRecord.Status}); err != nil {
		o.cfg.Log.Error(err, "failed to emit provider called event")
	}

	status := domain.StepSucceeded
	var errEnvelope *domain.ErrorEnvelope
	if invocation.CallRecord.Status != "succeeded" {
		status = domain.StepFailed
		msg := "provider call did not succeed"
		if invocation.CallRecord.ErrorText != nil {
			msg = *invocation.CallRecord.ErrorText
		}
		errEnvelope = &domain.ErrorEnvelope{Code: ReasonProviderInvocationFailed, Message: msg}
	}

	result := domain.StepResult{
		RunID:   run.RunID,
		StepID:  stepID,
		Status:  status,
		Outputs: invocation.Output,
		Error:   errEnvelope,
	}

	// 12: compute the output hash over the canonical result.
	outputHash, err := domain.ComputeStepResultHash(result)
	if err != nil {
		o.cfg.Log.Error(err, "failed to compute step output hash")
	} else {
		result.OutputHash = outputHash
	}

	// 13: apply (or record as not-applied) every proposed write.
	for i, proposal := range invocation.ProposedWrites {
		proposal.ProposalIndex = i
		disposition := o.applyProposedWrite(ctx, run.RunID, stepDef.StepKey, request.EffectivePermissions, proposal)
		proposal.Disposition = disposition.Disposition
		proposal.DispositionReason = disposition.Reason
		if err := store.AppendProposedMemoryWrite(ctx, run.RunID, stepID, proposal); err != nil {
			o.cfg.Log.Error(err, "failed to persist proposed memory write")
		}
		result.ProposedMemoryWrites = append(result.ProposedMemoryWrites, proposal)
	}

	return result
}

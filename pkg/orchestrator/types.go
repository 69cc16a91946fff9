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

// Package orchestrator is the DAG scheduler and step transaction (§4.7):
// it interprets a normalized workflow as a dependency graph, executes
// one step transaction at a time in deterministic order, and maintains
// the run's hash-chained trace event stream and run manifest.
package orchestrator

import (
	"context"
	"time"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/policy"
	"github.com/jordigilh/orchestrator-core/pkg/provider"
	"github.com/jordigilh/orchestrator-core/pkg/trustgate"
)

// TraceStore is the subset of *tracestore.Store the orchestrator
// depends on, narrowed to an interface so tests run against an
// in-memory fake rather than a live SQLite file.
type TraceStore interface {
	UpsertWorkflowSnapshot(ctx context.Context, snapshot domain.WorkflowSnapshotRecord) error
	GetWorkflowSnapshot(ctx context.Context, workflowHash string) (domain.WorkflowSnapshotRecord, error)

	InsertRun(ctx context.Context, run domain.RunRecord) error
	UpdateRunFinished(ctx context.Context, runID domain.RunID, status domain.RunStatus, endedAt string) error
	UpdateRunManifest(ctx context.Context, runID domain.RunID, manifestHash string, signature *string, signatureStatus string) error
	GetRun(ctx context.Context, runID domain.RunID) (domain.RunRecord, error)

	InsertStep(ctx context.Context, step domain.StepRecord) error
	UpdateStepFinished(ctx context.Context, stepID domain.StepID, status domain.StepStatus, endedAt string, outputHash *string, errorJSON []byte) error
	GetStepRecords(ctx context.Context, runID domain.RunID) ([]domain.StepRecord, error)
	GetStep(ctx context.Context, stepID domain.StepID) (domain.StepRecord, error)

	LastEventHash(ctx context.Context, runID domain.RunID) (*string, error)
	AppendEvent(ctx context.Context, event domain.TraceEvent) (int64, error)
	ListEventsForRun(ctx context.Context, runID domain.RunID) ([]domain.EventRow, error)

	AppendGateDecision(ctx context.Context, runID domain.RunID, stepID domain.StepID, decision domain.GateDecisionRecord) error
	GetGateDecisionsForStep(ctx context.Context, stepID domain.StepID) ([]domain.GateDecisionRecord, error)

	AppendContextPackage(ctx context.Context, runID domain.RunID, stepID domain.StepID, envelope domain.ContextPackageEnvelope) error
	GetStepContextPackages(ctx context.Context, stepID domain.StepID) ([]domain.ContextPackageEnvelope, error)

	AppendProviderCall(ctx context.Context, runID domain.RunID, stepID domain.StepID, call domain.ProviderCallRecord) error
	GetProviderCallsForStep(ctx context.Context, stepID domain.StepID) ([]domain.ProviderCallRecord, error)

	AppendProposedMemoryWrite(ctx context.Context, runID domain.RunID, stepID domain.StepID, proposal domain.ProposedMemoryWrite) error
	GetProposedMemoryWritesForStep(ctx context.Context, stepID domain.StepID) ([]domain.ProposedMemoryWrite, error)
}

// ContextSource is the narrow seam over *contextsource.Source (C4).
// Defined locally (rather than imported) because contextsource.Source
// already depends on domain only, and the orchestrator's replay path
// substitutes a static, stored-package source that never imports
// contextsource at all (§4.7 "Replay with provider rerun").
type ContextSource interface {
	Assemble(ctx context.Context, runID domain.RunID, stepKey string, asOf time.Time, queries []domain.ContextQuery) ([]domain.ContextPackageEnvelope, error)
}

// PolicyEngine is the narrow seam over *policy.Engine (C6).
type PolicyEngine interface {
	Prune(perms domain.EffectivePermissions, envelopes []domain.ContextPackageEnvelope) ([]domain.ContextPackageEnvelope, []policy.PrunedReference, error)
}

// TrustGate is the narrow seam over *trustgate.Gate (C5).
type TrustGate interface {
	Evaluate(ctx context.Context, runID domain.RunID, stepKey string, asOf time.Time, mode domain.RetrievalMode, candidates []trustgate.Candidate) ([]domain.TrustGateAttachment, error)
}

// ProviderRegistry resolves an agent's provider_name to an adapter (C7).
type ProviderRegistry interface {
	Resolve(providerName string) (provider.Adapter, bool)
}

// ToolGateEvaluator is the narrow seam over *policy.ToolGate: a
// rego-evaluated gate-point check layered over an agent's static
// allowed_tools list (§4.4). A nil ToolGate on Config skips this layer
// entirely and the static list passes through unnarrowed.
type ToolGateEvaluator interface {
	Evaluate(ctx context.Context, tool string, perms domain.EffectivePermissions) (bool, error)
}

// HumanGateDecider is the consumed-as-given human-in-the-loop approval
// surface for required human gate points (§4.7 step 10). A workflow
// author names gate points on a step; when one resolves to
// GateKindHuman and Required, the orchestrator asks this decider
// whether the step may proceed.
type HumanGateDecider interface {
	Decide(ctx context.Context, runID domain.RunID, stepKey string, gateName string) (HumanGateDecision, error)
}

// HumanGateDecision is one decider's verdict on a required human gate.
type HumanGateDecision struct {
	Approved bool
	Notes    string
}

// WriteApplier is the consumed-as-given memory-write surface a
// provider's proposed writes are applied through (§4.7 step 13; spec
// §8's "write appliers ... are capability sets behind stable
// interfaces"). A nil applier on Config selects the disabled variant:
// every proposal is recorded `not_applied` with reason
// `apply_proposed_writes_disabled`.
type WriteApplier interface {
	Apply(ctx context.Context, runID domain.RunID, stepKey string, proposal domain.ProposedMemoryWrite) (WriteDisposition, error)
}

// WriteDisposition is the outcome of attempting to apply one proposed
// memory write.
type WriteDisposition struct {
	Disposition string
	Reason      string
}

const (
	DispositionApplied    = "applied"
	DispositionRejected   = "rejected"
	DispositionNotApplied = "not_applied"

	ReasonWritesDisabled     = "apply_proposed_writes_disabled"
	ReasonWritesNotPermitted = "write_proposals_not_permitted"
)

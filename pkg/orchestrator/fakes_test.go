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

package orchestrator_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/orchestrator"
	"github.com/jordigilh/orchestrator-core/pkg/policy"
	"github.com/jordigilh/orchestrator-core/pkg/provider"
	"github.com/jordigilh/orchestrator-core/pkg/trustgate"
)

// memStore is an in-memory TraceStore fake: a single mutex-guarded
// struct covering every table the orchestrator touches, enough to
// drive a full Run without a real SQLite file.
type memStore struct {
	mu sync.Mutex

	snapshots map[string]domain.WorkflowSnapshotRecord
	runs      map[string]domain.RunRecord
	steps     map[string]domain.StepRecord
	events    map[string][]domain.EventRow
	gates     map[string][]domain.GateDecisionRecord
	packages  map[string][]domain.ContextPackageEnvelope
	calls     map[string][]domain.ProviderCallRecord
	writes    map[string][]domain.ProposedMemoryWrite
}

func newMemStore() *memStore {
	return &memStore{
		snapshots: map[string]domain.WorkflowSnapshotRecord{},
		runs:      map[string]domain.RunRecord{},
		steps:     map[string]domain.StepRecord{},
		events:    map[string][]domain.EventRow{},
		gates:     map[string][]domain.GateDecisionRecord{},
		packages:  map[string][]domain.ContextPackageEnvelope{},
		calls:     map[string][]domain.ProviderCallRecord{},
		writes:    map[string][]domain.ProposedMemoryWrite{},
	}
}

func (m *memStore) UpsertWorkflowSnapshot(_ context.Context, s domain.WorkflowSnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.WorkflowHash] = s
	return nil
}

func (m *memStore) GetWorkflowSnapshot(_ context.Context, workflowHash string) (domain.WorkflowSnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[workflowHash]
	if !ok {
		return domain.WorkflowSnapshotRecord{}, apperr.New(apperr.KindIntegrity, "snapshot not found")
	}
	return s, nil
}

func (m *memStore) InsertRun(_ context.Context, run domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.RunID.String()] = run
	return nil
}

func (m *memStore) UpdateRunFinished(_ context.Context, runID domain.RunID, status domain.RunStatus, endedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[runID.String()]
	r.Status = status
	r.EndedAt = &endedAt
	m.runs[runID.String()] = r
	return nil
}

func (m *memStore) UpdateRunManifest(_ context.Context, runID domain.RunID, manifestHash string, signature *string, signatureStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[runID.String()]
	r.ManifestHash = &manifestHash
	r.ManifestSignature = signature
	r.ManifestSignatureStatus = signatureStatus
	m.runs[runID.String()] = r
	return nil
}

func (m *memStore) GetRun(_ context.Context, runID domain.RunID) (domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID.String()]
	if !ok {
		return domain.RunRecord{}, apperr.New(apperr.KindIntegrity, "run not found")
	}
	return r, nil
}

func (m *memStore) InsertStep(_ context.Context, step domain.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step.StepID.String()] = step
	return nil
}

func (m *memStore) UpdateStepFinished(_ context.Context, stepID domain.StepID, status domain.StepStatus, endedAt string, outputHash *string, errorJSON json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.steps[stepID.String()]
	s.Status = status
	s.EndedAt = &endedAt
	s.OutputHash = outputHash
	s.ErrorJSON = errorJSON
	m.steps[stepID.String()] = s
	return nil
}

func (m *memStore) GetStepRecords(_ context.Context, runID domain.RunID) ([]domain.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StepRecord
	for _, s := range m.steps {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetStep(_ context.Context, stepID domain.StepID) (domain.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[stepID.String()]
	if !ok {
		return domain.StepRecord{}, apperr.New(apperr.KindIntegrity, "step not found")
	}
	return s, nil
}

func (m *memStore) LastEventHash(_ context.Context, runID domain.RunID) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.events[runID.String()]
	if len(rows) == 0 {
		return nil, nil
	}
	h := rows[len(rows)-1].Event.EventHash
	return &h, nil
}

func (m *memStore) AppendEvent(_ context.Context, event domain.TraceEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := int64(len(m.events[event.RunID.String()]) + 1)
	m.events[event.RunID.String()] = append(m.events[event.RunID.String()], domain.EventRow{EventSeq: seq, Event: event})
	return seq, nil
}

func (m *memStore) ListEventsForRun(_ context.Context, runID domain.RunID) ([]domain.EventRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EventRow(nil), m.events[runID.String()]...), nil
}

func (m *memStore) AppendGateDecision(_ context.Context, _ domain.RunID, stepID domain.StepID, decision domain.GateDecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gates[stepID.String()] = append(m.gates[stepID.String()], decision)
	return nil
}

func (m *memStore) GetGateDecisionsForStep(_ context.Context, stepID domain.StepID) ([]domain.GateDecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GateDecisionRecord(nil), m.gates[stepID.String()]...), nil
}

func (m *memStore) AppendContextPackage(_ context.Context, _ domain.RunID, stepID domain.StepID, envelope domain.ContextPackageEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages[stepID.String()] = append(m.packages[stepID.String()], envelope)
	return nil
}

func (m *memStore) GetStepContextPackages(_ context.Context, stepID domain.StepID) ([]domain.ContextPackageEnvelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ContextPackageEnvelope(nil), m.packages[stepID.String()]...), nil
}

func (m *memStore) AppendProviderCall(_ context.Context, _ domain.RunID, stepID domain.StepID, call domain.ProviderCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[stepID.String()] = append(m.calls[stepID.String()], call)
	return nil
}

func (m *memStore) GetProviderCallsForStep(_ context.Context, stepID domain.StepID) ([]domain.ProviderCallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProviderCallRecord(nil), m.calls[stepID.String()]...), nil
}

func (m *memStore) AppendProposedMemoryWrite(_ context.Context, _ domain.RunID, stepID domain.StepID, proposal domain.ProposedMemoryWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[stepID.String()] = append(m.writes[stepID.String()], proposal)
	return nil
}

func (m *memStore) GetProposedMemoryWritesForStep(_ context.Context, stepID domain.StepID) ([]domain.ProposedMemoryWrite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProposedMemoryWrite(nil), m.writes[stepID.String()]...), nil
}

var _ orchestrator.TraceStore = (*memStore)(nil)

// fakeContextSource returns one fixed, empty-selection package per
// step, so every test controls trust/policy behavior independent of a
// real context resolver.
type fakeContextSource struct {
	itemsByStep map[string][]domain.ContextItem
}

func (f *fakeContextSource) Assemble(_ context.Context, _ domain.RunID, stepKey string, _ time.Time, queries []domain.ContextQuery) ([]domain.ContextPackageEnvelope, error) {
	items := f.itemsByStep[stepKey]
	pkg := domain.ContextPackage{
		ContextPackageID: stepKey + "-pkg",
		GeneratedAt:      domain.NowUTC(),
		Query:            domain.QueryRequest{Text: queries[0].Text},
		Determinism:      domain.DeterminismMetadata{RulesetVersion: "test.v1", SnapshotID: "snap"},
		Answer:           domain.Answer{Result: domain.AnswerAllow, Why: "fixture"},
		SelectedItems:    items,
	}
	hash, err := domain.ComputeContextPackageHash(pkg)
	if err != nil {
		return nil, err
	}
	return []domain.ContextPackageEnvelope{{PackageSlot: 0, Source: "fake", ContextPackage: pkg, PackageHash: hash}}, nil
}

var _ orchestrator.ContextSource = (*fakeContextSource)(nil)

// passthroughPolicy never prunes anything.
type passthroughPolicy struct{}

func (passthroughPolicy) Prune(_ domain.EffectivePermissions, envelopes []domain.ContextPackageEnvelope) ([]domain.ContextPackageEnvelope, []policy.PrunedReference, error) {
	return envelopes, nil, nil
}

var _ orchestrator.PolicyEngine = passthroughPolicy{}

// denylistToolGate denies any tool named in deny, approving everything else.
type denylistToolGate struct {
	deny map[string]bool
}

func (g denylistToolGate) Evaluate(_ context.Context, tool string, _ domain.EffectivePermissions) (bool, error) {
	return !g.deny[tool], nil
}

var _ orchestrator.ToolGateEvaluator = denylistToolGate{}

// allowAllTrust includes every candidate.
type allowAllTrust struct{}

func (allowAllTrust) Evaluate(_ context.Context, _ domain.RunID, _ string, _ time.Time, _ domain.RetrievalMode, candidates []trustgate.Candidate) ([]domain.TrustGateAttachment, error) {
	out := make([]domain.TrustGateAttachment, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, domain.TrustGateAttachment{
			MemoryID:        c.MemoryID,
			Version:         c.Version,
			MemoryVersionID: c.MemoryVersionID,
			Include:         true,
			TrustStatus:     "active",
			Source:          "fake",
			EvaluatedAt:     domain.NowUTC(),
		})
	}
	return out, nil
}

var _ orchestrator.TrustGate = allowAllTrust{}

// scriptedProvider returns a fixed invocation or error per provider name.
type scriptedProvider struct {
	invocations map[string]provider.ProviderInvocation
	errs        map[string]error
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Invoke(_ context.Context, request domain.StepRequest) (provider.ProviderInvocation, error) {
	name := request.Agent.Provider.ProviderName
	if err, ok := s.errs[name]; ok {
		return provider.ProviderInvocation{}, err
	}
	return s.invocations[name], nil
}

type scriptedRegistry struct {
	adapter provider.Adapter
}

func (r *scriptedRegistry) Resolve(_ string) (provider.Adapter, bool) {
	return r.adapter, true
}

var _ orchestrator.ProviderRegistry = (*scriptedRegistry)(nil)

func succeededInvocation(message string) provider.ProviderInvocation {
	return provider.ProviderInvocation{
		CallRecord: domain.ProviderCallRecord{
			ProviderCallID: domain.NewProviderCallID(),
			ProviderName:   "scripted",
			AdapterVersion: "test.v1",
			ModelID:        "model-test",
			RequestJSON:    json.RawMessage(`{}`),
			ResponseJSON:   json.RawMessage(`{}`),
			StartedAt:      domain.FormatRFC3339(domain.NowUTC()),
			EndedAt:        domain.FormatRFC3339(domain.NowUTC()),
			Status:         "succeeded",
		},
		Output: domain.StepOutputEnvelope{Message: message},
	}
}

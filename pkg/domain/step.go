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

// StepRequest is the fully assembled, canonically hashable input to one
// step's provider invocation (spec §4.7 step 6).
type StepRequest struct {
	RunID                    RunID                    `json:"run_id"`
	StepID                   StepID                   `json:"step_id"`
	StepKey                  string                   `json:"step_key"`
	AsOf                     string                   `json:"as_of"`
	Agent                    AgentDefinition          `json:"agent"`
	TaskPayload              json.RawMessage          `json:"task_payload"`
	InjectedContextPackages  []ContextPackageEnvelope `json:"injected_context_packages"`
	TrustGateAttachments     []TrustGateAttachment    `json:"trust_gate_attachments"`
	EffectivePermissions     EffectivePermissions     `json:"effective_permissions"`
	Constraints              StepConstraints          `json:"constraints"`
	InputHash                string                   `json:"input_hash"`
}

// ProposedMemoryWrite is an adapter-emitted proposal attached to a step.
type ProposedMemoryWrite struct {
	ProposalIndex    int             `json:"proposal_index"`
	Payload          json.RawMessage `json:"payload"`
	Justification    string          `json:"justification"`
	Disposition      string          `json:"disposition"`
	DispositionReason string         `json:"disposition_reason,omitempty"`
}

// StepOutputEnvelope is a provider adapter's successful output.
type StepOutputEnvelope struct {
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorEnvelope is a machine-readable step/provider failure.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GateDecisionRecord is one persisted gate evaluation outcome.
//
// Invariant (hard): when GateKind == GateKindTrust and SubjectType ==
// "memory_ref", MemoryID, Version and MemoryVersionID MUST all be set.
type GateDecisionRecord struct {
	GateKind             GateKind            `json:"gate_kind"`
	GateName             string              `json:"gate_name"`
	SubjectType          string              `json:"subject_type"`
	MemoryID             *string             `json:"memory_id,omitempty"`
	Version              *uint32             `json:"version,omitempty"`
	MemoryVersionID       *string            `json:"memory_version_id,omitempty"`
	Decision              GateDecisionOutcome `json:"decision"`
	ReasonCodes           []string            `json:"reason_codes,omitempty"`
	Notes                 *string             `json:"notes,omitempty"`
	DecidedBy              string             `json:"decided_by"`
	DecidedAt              string             `json:"decided_at"`
	SourceRulesetVersion   *uint32            `json:"source_ruleset_version,omitempty"`
	EvidenceJSON           json.RawMessage    `json:"evidence_json,omitempty"`
}

// HasCompleteMemoryRefIdentity reports whether a trust/memory_ref gate
// decision carries its full identity triple, per the hard invariant in
// spec §3/§8.9.
func (g GateDecisionRecord) HasCompleteMemoryRefIdentity() bool {
	if g.GateKind != GateKindTrust || g.SubjectType != "memory_ref" {
		return true
	}
	return g.MemoryID != nil && g.Version != nil && g.MemoryVersionID != nil
}

// ProviderCallRecord is one adapter invocation's full audit record.
type ProviderCallRecord struct {
	ProviderCallID ProviderCallID  `json:"provider_call_id"`
	ProviderName   string          `json:"provider_name"`
	AdapterVersion string          `json:"adapter_version"`
	ModelID        string          `json:"model_id"`
	RequestJSON    json.RawMessage `json:"request_json"`
	RequestHash    string          `json:"request_hash"`
	ResponseJSON   json.RawMessage `json:"response_json"`
	ResponseHash   string          `json:"response_hash"`
	LatencyMs      *uint64         `json:"latency_ms,omitempty"`
	InputTokens    *uint32         `json:"input_tokens,omitempty"`
	OutputTokens   *uint32         `json:"output_tokens,omitempty"`
	StartedAt      string          `json:"started_at"`
	EndedAt        string          `json:"ended_at"`
	Status         string          `json:"status"`
	ErrorText      *string         `json:"error_text,omitempty"`
}

// StepResult is the terminal outcome of one step transaction.
type StepResult struct {
	RunID                 RunID                 `json:"run_id"`
	StepID                StepID                `json:"step_id"`
	Status                StepStatus            `json:"status"`
	Outputs               StepOutputEnvelope    `json:"outputs"`
	ProposedMemoryWrites  []ProposedMemoryWrite `json:"proposed_memory_writes,omitempty"`
	ProviderCalls         []ProviderCallRecord  `json:"provider_calls,omitempty"`
	GateDecisions         []GateDecisionRecord  `json:"gate_decisions,omitempty"`
	OutputHash            string                `json:"output_hash"`
	Error                 *ErrorEnvelope        `json:"error,omitempty"`
}

// StepRecord is the persisted row shape for one step.
type StepRecord struct {
	StepID          StepID          `json:"step_id"`
	RunID           RunID           `json:"run_id"`
	StepIndex       int             `json:"step_index"`
	StepKey         string          `json:"step_key"`
	AgentName       string          `json:"agent_name"`
	Status          StepStatus      `json:"status"`
	StartedAt       *string         `json:"started_at,omitempty"`
	EndedAt         *string         `json:"ended_at,omitempty"`
	TaskPayloadJSON json.RawMessage `json:"task_payload_json"`
	ConstraintsJSON json.RawMessage `json:"constraints_json"`
	PermissionsJSON json.RawMessage `json:"permissions_json"`
	InputHash       string          `json:"input_hash"`
	OutputHash      *string         `json:"output_hash,omitempty"`
	ErrorJSON       json.RawMessage `json:"error_json,omitempty"`
}

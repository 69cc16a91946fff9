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

// ProviderBinding names the provider adapter and model an agent invokes.
type ProviderBinding struct {
	ProviderName string          `json:"provider_name"`
	ModelID      string          `json:"model_id"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// AgentPermissions is the declared permission profile attached to an agent
// definition, before being resolved into EffectivePermissions for a step.
type AgentPermissions struct {
	AllowedRecordTypes     []RecordType `json:"allowed_record_types,omitempty"`
	AllowedTools           []string     `json:"allowed_tools,omitempty"`
	MaxContextItems        *uint32      `json:"max_context_items,omitempty"`
	CanProposeMemoryWrites bool         `json:"can_propose_memory_writes"`
	FailOnPermissionPrune  bool         `json:"fail_on_permission_prune"`
}

// AgentDefinition is one workflow participant.
type AgentDefinition struct {
	AgentName           string            `json:"agent_name"`
	Role                string            `json:"role"`
	Provider            ProviderBinding   `json:"provider"`
	Permissions         AgentPermissions  `json:"permissions"`
	DefaultInstructions []string          `json:"default_instructions,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// StepConstraints bounds a step's provider invocation.
type StepConstraints struct {
	MaxOutputTokens *uint32 `json:"max_output_tokens,omitempty"`
	TimeoutMs       *uint64 `json:"timeout_ms,omitempty"`
}

// GatePointDefinition declares one named gate a workflow can reference.
type GatePointDefinition struct {
	GateName string   `json:"gate_name"`
	GateKind GateKind `json:"gate_kind"`
	Required bool     `json:"required"`
}

// WorkflowStepDefinition is one DAG node in a normalized workflow.
type WorkflowStepDefinition struct {
	StepKey     string          `json:"step_key"`
	AgentName   string          `json:"agent_name"`
	Task        json.RawMessage `json:"task,omitempty"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Condition   *string         `json:"condition,omitempty"`
	GatePoints  []string        `json:"gate_points,omitempty"`
	Constraints StepConstraints `json:"constraints"`
}

// WorkflowDefaults carries workflow-wide behavior flags.
type WorkflowDefaults struct {
	NonInteractive bool `json:"non_interactive"`
}

// NormalizedWorkflow is the canonical form produced by the (external)
// workflow normalizer; its hash over NormalizedJSON is what runs reference.
type NormalizedWorkflow struct {
	WorkflowName          string                   `json:"workflow_name"`
	WorkflowVersion       string                   `json:"workflow_version"`
	NormalizationVersion  uint32                   `json:"normalization_version"`
	Agents                []AgentDefinition        `json:"agents"`
	Steps                 []WorkflowStepDefinition `json:"steps"`
	Gates                 []GatePointDefinition    `json:"gates,omitempty"`
	Defaults              WorkflowDefaults         `json:"defaults"`
}

// NormalizedWorkflowEnvelope is the full consumed-interface payload for
// workflow intake (spec §6): source bytes, their hash, and the normalized
// form plus its hash.
type NormalizedWorkflowEnvelope struct {
	SourceFormat       string              `json:"source_format"`
	SourceYAMLHash     string              `json:"source_yaml_hash"`
	NormalizedHash     string              `json:"normalized_hash"`
	NormalizedWorkflow NormalizedWorkflow  `json:"normalized_workflow"`
	NormalizedJSON     json.RawMessage     `json:"normalized_json"`
}

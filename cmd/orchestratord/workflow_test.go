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

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

func writeWorkflowFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write workflow fixture: %v", err)
	}
	return path
}

const validWorkflow = `
workflow_name: incident-triage
workflow_version: "1.0.0"
agents:
  - agent_name: triager
    role: investigator
    provider:
      provider_name: mock
      model_id: mock-v1
steps:
  - step_key: gather-context
    agent_name: triager
  - step_key: propose-remediation
    agent_name: triager
    depends_on: ["gather-context"]
`

func TestLoadWorkflowEnvelope_Valid(t *testing.T) {
	path := writeWorkflowFile(t, validWorkflow)
	envelope, err := loadWorkflowEnvelope(path)
	if err != nil {
		t.Fatalf("loadWorkflowEnvelope: %v", err)
	}
	if envelope.NormalizedWorkflow.WorkflowName != "incident-triage" {
		t.Errorf("WorkflowName = %v", envelope.NormalizedWorkflow.WorkflowName)
	}
	if envelope.SourceFormat != "yaml" {
		t.Errorf("SourceFormat = %v", envelope.SourceFormat)
	}
	if envelope.SourceYAMLHash == "" || envelope.NormalizedHash == "" {
		t.Error("expected both hashes to be populated")
	}
	if len(envelope.NormalizedWorkflow.Steps) != 2 {
		t.Fatalf("Steps = %d, want 2", len(envelope.NormalizedWorkflow.Steps))
	}
}

func TestLoadWorkflowEnvelope_MissingFile(t *testing.T) {
	_, err := loadWorkflowEnvelope(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing workflow file")
	}
}

func TestValidateWorkflow_DuplicateAgentName(t *testing.T) {
	workflow := domain.NormalizedWorkflow{
		Agents: []domain.AgentDefinition{
			{AgentName: "triager"},
			{AgentName: "triager"},
		},
	}
	if err := validateWorkflow(workflow); err == nil {
		t.Fatal("expected an error for duplicate agent names")
	} else if !strings.Contains(err.Error(), "duplicate agent name") {
		t.Errorf("error = %v, want mention of duplicate agent name", err)
	}
}

func TestValidateWorkflow_DuplicateStepKey(t *testing.T) {
	workflow := domain.NormalizedWorkflow{
		Agents: []domain.AgentDefinition{{AgentName: "triager"}},
		Steps: []domain.WorkflowStepDefinition{
			{StepKey: "step-1", AgentName: "triager"},
			{StepKey: "step-1", AgentName: "triager"},
		},
	}
	if err := validateWorkflow(workflow); err == nil {
		t.Fatal("expected an error for duplicate step keys")
	} else if !strings.Contains(err.Error(), "duplicate step key") {
		t.Errorf("error = %v, want mention of duplicate step key", err)
	}
}

func TestValidateWorkflow_UnknownAgentReference(t *testing.T) {
	workflow := domain.NormalizedWorkflow{
		Agents: []domain.AgentDefinition{{AgentName: "triager"}},
		Steps: []domain.WorkflowStepDefinition{
			{StepKey: "step-1", AgentName: "ghost"},
		},
	}
	if err := validateWorkflow(workflow); err == nil {
		t.Fatal("expected an error for a step referencing an unknown agent")
	} else if !strings.Contains(err.Error(), "unknown agent") {
		t.Errorf("error = %v, want mention of unknown agent", err)
	}
}

func TestValidateWorkflow_UnknownGateReference(t *testing.T) {
	workflow := domain.NormalizedWorkflow{
		Agents: []domain.AgentDefinition{{AgentName: "triager"}},
		Steps: []domain.WorkflowStepDefinition{
			{StepKey: "step-1", AgentName: "triager", GatePoints: []string{"ghost-gate"}},
		},
	}
	if err := validateWorkflow(workflow); err == nil {
		t.Fatal("expected an error for a step referencing an unknown gate")
	} else if !strings.Contains(err.Error(), "unknown gate") {
		t.Errorf("error = %v, want mention of unknown gate", err)
	}
}

func TestValidateWorkflow_UnknownDependency(t *testing.T) {
	workflow := domain.NormalizedWorkflow{
		Agents: []domain.AgentDefinition{{AgentName: "triager"}},
		Steps: []domain.WorkflowStepDefinition{
			{StepKey: "step-1", AgentName: "triager", DependsOn: []string{"ghost-step"}},
		},
	}
	if err := validateWorkflow(workflow); err == nil {
		t.Fatal("expected an error for a step depending on an unknown step")
	} else if !strings.Contains(err.Error(), "unknown step") {
		t.Errorf("error = %v, want mention of unknown step", err)
	}
}

func TestValidateWorkflow_DependencyCycle(t *testing.T) {
	workflow := domain.NormalizedWorkflow{
		Agents: []domain.AgentDefinition{{AgentName: "triager"}},
		Steps: []domain.WorkflowStepDefinition{
			{StepKey: "step-1", AgentName: "triager", DependsOn: []string{"step-2"}},
			{StepKey: "step-2", AgentName: "triager", DependsOn: []string{"step-1"}},
		},
	}
	if err := validateWorkflow(workflow); err == nil {
		t.Fatal("expected an error for a dependency cycle")
	} else if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error = %v, want mention of a cycle", err)
	}
}

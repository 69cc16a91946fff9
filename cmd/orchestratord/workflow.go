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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// workflowYAML is the CLI's own source format for workflow YAML, a
// convenience stand-in for the upstream normalizer spec §6 names as a
// consumed external interface. It mirrors NormalizedWorkflow field for
// field so loading is a direct conversion, not a transformation.
type workflowYAML struct {
	WorkflowName string `yaml:"workflow_name"`
	WorkflowVer  string `yaml:"workflow_version"`
	Agents       []struct {
		AgentName string `yaml:"agent_name"`
		Role      string `yaml:"role"`
		Provider  struct {
			ProviderName string `yaml:"provider_name"`
			ModelID      string `yaml:"model_id"`
			Params       map[string]interface{} `yaml:"params,omitempty"`
		} `yaml:"provider"`
		Permissions struct {
			AllowedRecordTypes     []string `yaml:"allowed_record_types,omitempty"`
			AllowedTools           []string `yaml:"allowed_tools,omitempty"`
			MaxContextItems        *uint32  `yaml:"max_context_items,omitempty"`
			CanProposeMemoryWrites bool     `yaml:"can_propose_memory_writes"`
			FailOnPermissionPrune  bool     `yaml:"fail_on_permission_prune"`
		} `yaml:"permissions"`
	} `yaml:"agents"`
	Steps []struct {
		StepKey     string                 `yaml:"step_key"`
		AgentName   string                 `yaml:"agent_name"`
		Task        map[string]interface{} `yaml:"task,omitempty"`
		DependsOn   []string               `yaml:"depends_on,omitempty"`
		GatePoints  []string               `yaml:"gate_points,omitempty"`
		Constraints struct {
			MaxOutputTokens *uint32 `yaml:"max_output_tokens,omitempty"`
			TimeoutMs       *uint64 `yaml:"timeout_ms,omitempty"`
		} `yaml:"constraints"`
	} `yaml:"steps"`
	Gates []struct {
		GateName string `yaml:"gate_name"`
		GateKind string `yaml:"gate_kind"`
		Required bool   `yaml:"required"`
	} `yaml:"gates,omitempty"`
}

// loadWorkflowEnvelope reads a workflow YAML file and converts it into
// a NormalizedWorkflowEnvelope, computing both hashes and validating
// the dependency graph (§6 "Workflow intake (consumed)").
func loadWorkflowEnvelope(path string) (domain.NormalizedWorkflowEnvelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.NormalizedWorkflowEnvelope{}, apperr.Wrap(err, apperr.KindConfiguration, "read workflow file").WithDetailsf("path=%s", path)
	}

	var src workflowYAML
	if err := yaml.Unmarshal(raw, &src); err != nil {
		return domain.NormalizedWorkflowEnvelope{}, apperr.Wrap(err, apperr.KindValidation, "parse workflow yaml").WithDetailsf("path=%s", path)
	}

	workflow := domain.NormalizedWorkflow{
		WorkflowName:         src.WorkflowName,
		WorkflowVersion:      src.WorkflowVer,
		NormalizationVersion: 1,
		Defaults:             domain.WorkflowDefaults{},
	}

	for _, a := range src.Agents {
		params, err := domain.CanonicalJSON(a.Provider.Params)
		if err != nil {
			return domain.NormalizedWorkflowEnvelope{}, apperr.Wrap(err, apperr.KindValidation, "marshal provider params").WithDetailsf("agent=%s", a.AgentName)
		}
		recordTypes := make([]domain.RecordType, 0, len(a.Permissions.AllowedRecordTypes))
		for _, rt := range a.Permissions.AllowedRecordTypes {
			recordTypes = append(recordTypes, domain.RecordType(rt))
		}
		workflow.Agents = append(workflow.Agents, domain.AgentDefinition{
			AgentName: a.AgentName,
			Role:      a.Role,
			Provider: domain.ProviderBinding{
				ProviderName: a.Provider.ProviderName,
				ModelID:      a.Provider.ModelID,
				Params:       params,
			},
			Permissions: domain.AgentPermissions{
				AllowedRecordTypes:     recordTypes,
				AllowedTools:           a.Permissions.AllowedTools,
				MaxContextItems:        a.Permissions.MaxContextItems,
				CanProposeMemoryWrites: a.Permissions.CanProposeMemoryWrites,
				FailOnPermissionPrune:  a.Permissions.FailOnPermissionPrune,
			},
		})
	}

	for _, s := range src.Steps {
		task, err := domain.CanonicalJSON(s.Task)
		if err != nil {
			return domain.NormalizedWorkflowEnvelope{}, apperr.Wrap(err, apperr.KindValidation, "marshal step task").WithDetailsf("step=%s", s.StepKey)
		}
		workflow.Steps = append(workflow.Steps, domain.WorkflowStepDefinition{
			StepKey:    s.StepKey,
			AgentName:  s.AgentName,
			Task:       task,
			DependsOn:  s.DependsOn,
			GatePoints: s.GatePoints,
			Constraints: domain.StepConstraints{
				MaxOutputTokens: s.Constraints.MaxOutputTokens,
				TimeoutMs:       s.Constraints.TimeoutMs,
			},
		})
	}

	for _, g := range src.Gates {
		workflow.Gates = append(workflow.Gates, domain.GatePointDefinition{
			GateName: g.GateName,
			GateKind: domain.GateKind(g.GateKind),
			Required: g.Required,
		})
	}

	if err := validateWorkflow(workflow); err != nil {
		return domain.NormalizedWorkflowEnvelope{}, err
	}

	normalizedJSON, err := domain.CanonicalJSON(workflow)
	if err != nil {
		return domain.NormalizedWorkflowEnvelope{}, apperr.Wrap(err, apperr.KindInfrastructure, "marshal normalized workflow")
	}

	return domain.NormalizedWorkflowEnvelope{
		SourceFormat:       "yaml",
		SourceYAMLHash:     domain.HashBytes(raw),
		NormalizedHash:     domain.HashBytes(normalizedJSON),
		NormalizedWorkflow: workflow,
		NormalizedJSON:     normalizedJSON,
	}, nil
}

// validateWorkflow checks the invariants spec §6 assigns to intake:
// unique agent names, unique step keys, dependency closure, gate
// references resolve, and no dependency cycles (Kahn's algorithm,
// reporting remaining keys on a cycle, per spec §9's cyclic-graph note).
func validateWorkflow(workflow domain.NormalizedWorkflow) error {
	agentNames := make(map[string]struct{}, len(workflow.Agents))
	for _, a := range workflow.Agents {
		if _, dup := agentNames[a.AgentName]; dup {
			return apperr.New(apperr.KindDependency, fmt.Sprintf("duplicate agent name %q", a.AgentName))
		}
		agentNames[a.AgentName] = struct{}{}
	}

	gateNames := make(map[string]struct{}, len(workflow.Gates))
	for _, g := range workflow.Gates {
		gateNames[g.GateName] = struct{}{}
	}

	stepKeys := make(map[string]struct{}, len(workflow.Steps))
	inDegree := make(map[string]int, len(workflow.Steps))
	dependents := make(map[string][]string, len(workflow.Steps))
	for _, s := range workflow.Steps {
		if _, dup := stepKeys[s.StepKey]; dup {
			return apperr.New(apperr.KindDependency, fmt.Sprintf("duplicate step key %q", s.StepKey))
		}
		stepKeys[s.StepKey] = struct{}{}
		if _, ok := agentNames[s.AgentName]; !ok {
			return apperr.New(apperr.KindDependency, fmt.Sprintf("step %q references unknown agent %q", s.StepKey, s.AgentName))
		}
		for _, gp := range s.GatePoints {
			if _, ok := gateNames[gp]; !ok {
				return apperr.New(apperr.KindDependency, fmt.Sprintf("step %q references unknown gate %q", s.StepKey, gp))
			}
		}
	}
	for _, s := range workflow.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := stepKeys[dep]; !ok {
				return apperr.New(apperr.KindDependency, fmt.Sprintf("step %q depends on unknown step %q", s.StepKey, dep))
			}
			inDegree[s.StepKey]++
			dependents[dep] = append(dependents[dep], s.StepKey)
		}
	}

	var queue []string
	for _, s := range workflow.Steps {
		if inDegree[s.StepKey] == 0 {
			queue = append(queue, s.StepKey)
		}
	}
	visited := 0
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range dependents[key] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if visited != len(workflow.Steps) {
		var remaining []string
		for _, s := range workflow.Steps {
			if inDegree[s.StepKey] > 0 {
				remaining = append(remaining, s.StepKey)
			}
		}
		return apperr.New(apperr.KindDependency, fmt.Sprintf("workflow dependency cycle among steps: %v", remaining))
	}
	return nil
}

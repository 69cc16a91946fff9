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

// RunRecord is the persisted row shape for one run.
type RunRecord struct {
	RunID                   RunID           `json:"run_id"`
	WorkflowName            string          `json:"workflow_name"`
	WorkflowVersion         string          `json:"workflow_version"`
	WorkflowHash            string          `json:"workflow_hash"`
	AsOf                    string          `json:"as_of"`
	AsOfWasDefault          bool            `json:"as_of_was_default"`
	StartedAt               string          `json:"started_at"`
	EndedAt                 *string         `json:"ended_at,omitempty"`
	Status                  RunStatus       `json:"status"`
	ReplayOfRunID           *RunID          `json:"replay_of_run_id,omitempty"`
	ExternalCorrelationID   *string         `json:"external_correlation_id,omitempty"`
	EngineVersion           string          `json:"engine_version"`
	InvocationParamsJSON    json.RawMessage `json:"invocation_params_json,omitempty"`
	ManifestHash            *string         `json:"manifest_hash,omitempty"`
	ManifestSignature       *string         `json:"manifest_signature,omitempty"`
	ManifestSignatureStatus string          `json:"manifest_signature_status"`
}

// WorkflowSnapshotRecord is the persisted, hash-keyed normalized workflow body.
type WorkflowSnapshotRecord struct {
	WorkflowHash         string          `json:"workflow_hash"`
	NormalizationVersion uint32          `json:"normalization_version"`
	SourceFormat         string          `json:"source_format"`
	SourceYAMLHash       string          `json:"source_yaml_hash"`
	NormalizedJSON       json.RawMessage `json:"normalized_json"`
}

// StepContextPackageRecord is the persisted pairing of a step key and one
// of its context package envelopes.
type StepContextPackageRecord struct {
	StepKey  string                 `json:"step_key"`
	Envelope ContextPackageEnvelope `json:"envelope"`
}

// RunManifest is the fixed-schema payload hashed and recorded on a run
// (spec §4.7 "Run manifest"). schema is always "run_manifest.v1".
type RunManifest struct {
	Schema                string          `json:"schema"`
	RunID                 RunID           `json:"run_id"`
	WorkflowHash          string          `json:"workflow_hash"`
	SourceYAMLHash        string          `json:"source_yaml_hash"`
	NormalizationVersion  uint32          `json:"normalization_version"`
	WorkflowName          string          `json:"workflow_name"`
	WorkflowVersion       string          `json:"workflow_version"`
	AsOf                  string          `json:"as_of"`
	AsOfWasDefault        bool            `json:"as_of_was_default"`
	ReplayOfRunID         *RunID          `json:"replay_of_run_id,omitempty"`
	ExternalCorrelationID *string         `json:"external_correlation_id,omitempty"`
	EngineVersion         string          `json:"engine_version"`
	InvocationParamsJSON  json.RawMessage `json:"invocation_params_json,omitempty"`
}

// NewRunManifest builds the fixed-schema manifest payload for a run.
func NewRunManifest(run RunRecord, sourceYAMLHash string, normVersion uint32) RunManifest {
	return RunManifest{
		Schema:                "run_manifest.v1",
		RunID:                 run.RunID,
		WorkflowHash:          run.WorkflowHash,
		SourceYAMLHash:        sourceYAMLHash,
		NormalizationVersion:  normVersion,
		WorkflowName:          run.WorkflowName,
		WorkflowVersion:       run.WorkflowVersion,
		AsOf:                  run.AsOf,
		AsOfWasDefault:        run.AsOfWasDefault,
		ReplayOfRunID:         run.ReplayOfRunID,
		ExternalCorrelationID: run.ExternalCorrelationID,
		EngineVersion:         run.EngineVersion,
		InvocationParamsJSON:  run.InvocationParamsJSON,
	}
}

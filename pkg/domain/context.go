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

import "time"

// QueryRequest is the upstream memory-kernel policy-query signature
// (actor/action/resource/as_of), treated as given per scope.
type QueryRequest struct {
	Text     string    `json:"text"`
	Actor    string    `json:"actor"`
	Action   string    `json:"action"`
	Resource string    `json:"resource"`
	AsOf     time.Time `json:"as_of"`
}

// DeterminismMetadata records how a context package was assembled so it
// can be reproduced; SnapshotID is rewritten by the context source (§4.3).
type DeterminismMetadata struct {
	RulesetVersion string   `json:"ruleset_version"`
	SnapshotID     string   `json:"snapshot_id"`
	TieBreakers    []string `json:"tie_breakers,omitempty"`
}

// Answer is the upstream policy query's verdict, carried through unchanged.
type Answer struct {
	Result AnswerResult `json:"result"`
	Why    string       `json:"why"`
}

// Why explains why a context item was selected or excluded.
type Why struct {
	Included   bool               `json:"included"`
	Reasons    []string           `json:"reasons,omitempty"`
	RuleScores map[string]float64 `json:"rule_scores,omitempty"`
}

// ContextItem is one memory reference inside a context package.
type ContextItem struct {
	Rank            uint32      `json:"rank"`
	MemoryVersionID string      `json:"memory_version_id"`
	MemoryID        string      `json:"memory_id"`
	RecordType      RecordType  `json:"record_type"`
	Version         uint32      `json:"version"`
	TruthStatus     TruthStatus `json:"truth_status"`
	Confidence      *float32    `json:"confidence,omitempty"`
	Authority       Authority   `json:"authority"`
	Why             Why         `json:"why"`
}

// ContextPackage is the upstream memory-kernel resolver's output for one
// query: an ordered, deterministic selection plus its determinism trace.
type ContextPackage struct {
	ContextPackageID string               `json:"context_package_id"`
	GeneratedAt      time.Time            `json:"generated_at"`
	Query            QueryRequest         `json:"query"`
	Determinism      DeterminismMetadata  `json:"determinism"`
	Answer           Answer               `json:"answer"`
	SelectedItems    []ContextItem        `json:"selected_items"`
	ExcludedItems    []ContextItem        `json:"excluded_items"`
	OrderingTrace    []string             `json:"ordering_trace,omitempty"`
}

// ContextPackageEnvelope attaches slot/source/hash bookkeeping to one
// package as it is persisted against a step.
type ContextPackageEnvelope struct {
	PackageSlot    int            `json:"package_slot"`
	Source         string         `json:"source"`
	ContextPackage ContextPackage `json:"context_package"`
	PackageHash    string         `json:"package_hash"`
}

// TrustGateAttachment is the trust gate's evaluation of one memory
// identity for one step.
type TrustGateAttachment struct {
	MemoryID            string    `json:"memory_id"`
	Version             uint32    `json:"version"`
	MemoryVersionID      string   `json:"memory_version_id"`
	Include              bool     `json:"include"`
	TrustStatus          string   `json:"trust_status"`
	ConfidenceEffective  float32  `json:"confidence_effective"`
	Capped               bool     `json:"capped"`
	ReasonCodes          []string `json:"reason_codes,omitempty"`
	RulesetVersion       *uint32  `json:"ruleset_version,omitempty"`
	EvaluatedAt          time.Time `json:"evaluated_at"`
	Source               string   `json:"source"`
}

// EffectivePermissions is the resolved permission profile for one step,
// derived from an agent's AgentPermissions.
type EffectivePermissions struct {
	AllowedRecordTypes     []RecordType `json:"allowed_record_types,omitempty"`
	AllowedTools           []string     `json:"allowed_tools,omitempty"`
	MaxContextItems        *uint32      `json:"max_context_items,omitempty"`
	CanProposeMemoryWrites bool         `json:"can_propose_memory_writes"`
	FailOnPermissionPrune  bool         `json:"fail_on_permission_prune"`
}

// ResolveEffectivePermissions snapshots an agent's AgentPermissions into
// the EffectivePermissions a step transaction carries forward.
func ResolveEffectivePermissions(p AgentPermissions) EffectivePermissions {
	return EffectivePermissions{
		AllowedRecordTypes:     append([]RecordType(nil), p.AllowedRecordTypes...),
		AllowedTools:           append([]string(nil), p.AllowedTools...),
		MaxContextItems:        p.MaxContextItems,
		CanProposeMemoryWrites: p.CanProposeMemoryWrites,
		FailOnPermissionPrune:  p.FailOnPermissionPrune,
	}
}

// ContextQuery is one entry of a step task payload's context_queries array.
type ContextQuery struct {
	Mode        ContextQueryMode `json:"mode"`
	Text        string           `json:"text"`
	Actor       string           `json:"actor,omitempty"`
	Action      string           `json:"action,omitempty"`
	Resource    string           `json:"resource,omitempty"`
	RecordTypes []RecordType     `json:"record_types,omitempty"`
}

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

package domain_test

import (
	"testing"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

func strPtr(s string) *string { return &s }
func u32Ptr(v uint32) *uint32 { return &v }

func TestGateDecisionRecord_HasCompleteMemoryRefIdentity(t *testing.T) {
	complete := domain.GateDecisionRecord{
		GateKind:        domain.GateKindTrust,
		SubjectType:     "memory_ref",
		MemoryID:        strPtr("mem-1"),
		Version:         u32Ptr(1),
		MemoryVersionID: strPtr("mvid-1"),
	}
	if !complete.HasCompleteMemoryRefIdentity() {
		t.Error("expected complete identity triple to pass")
	}

	missing := domain.GateDecisionRecord{
		GateKind:    domain.GateKindTrust,
		SubjectType: "memory_ref",
		MemoryID:    strPtr("mem-1"),
	}
	if missing.HasCompleteMemoryRefIdentity() {
		t.Error("expected missing version/memory_version_id to fail the invariant")
	}

	nonTrust := domain.GateDecisionRecord{
		GateKind:    domain.GateKindPolicy,
		SubjectType: "memory_ref",
	}
	if !nonTrust.HasCompleteMemoryRefIdentity() {
		t.Error("non-trust gate kinds are not bound by the memory_ref identity invariant")
	}
}

func TestResolveEffectivePermissions_CopiesSlices(t *testing.T) {
	maxItems := uint32(5)
	perms := domain.AgentPermissions{
		AllowedRecordTypes: []domain.RecordType{domain.RecordDecision},
		AllowedTools:       []string{"search"},
		MaxContextItems:    &maxItems,
	}
	eff := domain.ResolveEffectivePermissions(perms)

	perms.AllowedRecordTypes[0] = domain.RecordEvent
	if eff.AllowedRecordTypes[0] != domain.RecordDecision {
		t.Error("ResolveEffectivePermissions must copy, not alias, the allowed record types slice")
	}
}

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

// Package policy prunes a step's post-context-source packages down to
// an agent's effective permissions (§4.4): a static record-type/
// max-items list check, plus an optional rego-evaluated tool
// gate-point layered on top for tool-call decisions.
package policy

import (
	"github.com/go-logr/logr"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// PrunedReference records one context item dropped by the policy
// engine, with the reason code that explains why.
type PrunedReference struct {
	PackageSlot int        `json:"package_slot"`
	MemoryID    string     `json:"memory_id"`
	Version     uint32     `json:"version"`
	RecordType  domain.RecordType `json:"record_type"`
	ReasonCode  string     `json:"reason_code"`
}

const (
	ReasonRecordTypeNotAllowed         = "record_type_not_allowed"
	ReasonMaxContextItemsExceeded      = "max_context_items_exceeded"
	ReasonExcludedRecordTypeNotAllowed = "excluded_record_type_not_allowed"
)

// Engine applies the effective-permissions prune to context packages.
type Engine struct {
	log logr.Logger
}

// NewEngine builds a policy Engine.
func NewEngine(log logr.Logger) *Engine {
	return &Engine{log: log}
}

// Prune walks every package's selected and excluded items in order,
// dropping anything the permissions profile disallows, and recomputes
// each mutated package's hash. The running selected-item count is
// shared across all of a step's packages, since max_context_items is a
// per-step budget.
func (e *Engine) Prune(perms domain.EffectivePermissions, envelopes []domain.ContextPackageEnvelope) ([]domain.ContextPackageEnvelope, []PrunedReference, error) {
	allowedRecordTypes := make(map[domain.RecordType]struct{}, len(perms.AllowedRecordTypes))
	for _, rt := range perms.AllowedRecordTypes {
		allowedRecordTypes[rt] = struct{}{}
	}
	recordTypeRestricted := len(allowedRecordTypes) > 0

	var pruned []PrunedReference
	selectedCount := 0
	result := make([]domain.ContextPackageEnvelope, len(envelopes))

	for i, envelope := range envelopes {
		pkg := envelope.ContextPackage

		selected := make([]domain.ContextItem, 0, len(pkg.SelectedItems))
		for _, item := range pkg.SelectedItems {
			if recordTypeRestricted {
				if _, ok := allowedRecordTypes[item.RecordType]; !ok {
					pruned = append(pruned, newPrunedReference(envelope.PackageSlot, item, ReasonRecordTypeNotAllowed))
					continue
				}
			}
			if perms.MaxContextItems != nil && uint32(selectedCount) >= *perms.MaxContextItems {
				pruned = append(pruned, newPrunedReference(envelope.PackageSlot, item, ReasonMaxContextItemsExceeded))
				continue
			}
			selected = append(selected, item)
			selectedCount++
		}

		excluded := make([]domain.ContextItem, 0, len(pkg.ExcludedItems))
		for _, item := range pkg.ExcludedItems {
			if recordTypeRestricted {
				if _, ok := allowedRecordTypes[item.RecordType]; !ok {
					pruned = append(pruned, newPrunedReference(envelope.PackageSlot, item, ReasonExcludedRecordTypeNotAllowed))
					continue
				}
			}
			excluded = append(excluded, item)
		}

		pkg.SelectedItems = selected
		pkg.ExcludedItems = excluded

		hash, err := domain.ComputeContextPackageHash(pkg)
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.KindInfrastructure, "recompute pruned package hash")
		}
		envelope.ContextPackage = pkg
		envelope.PackageHash = hash
		result[i] = envelope
	}

	if len(pruned) > 0 && perms.FailOnPermissionPrune {
		// §4.4: fail_on_permission_prune is a locked decision — observed
		// as a warning, never an abort.
		e.log.Info("permission prune occurred under fail_on_permission_prune",
			obslog.NewFields().Component("policy").Operation("prune").Count(len(pruned)).KeysAndValues()...)
	}

	return result, pruned, nil
}

func newPrunedReference(slot int, item domain.ContextItem, reason string) PrunedReference {
	return PrunedReference{
		PackageSlot: slot,
		MemoryID:    item.MemoryID,
		Version:     item.Version,
		RecordType:  item.RecordType,
		ReasonCode:  reason,
	}
}

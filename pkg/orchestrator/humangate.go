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

package orchestrator

import (
	"context"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// AutoApproveGateDecider approves every required human gate without
// asking anyone. It is used only when set on Config.HumanGates
// explicitly; New falls back to AutoRejectGateDecider when HumanGates
// is nil.
type AutoApproveGateDecider struct{}

// NewAutoApproveGateDecider builds the always-approve decider.
func NewAutoApproveGateDecider() *AutoApproveGateDecider {
	return &AutoApproveGateDecider{}
}

func (AutoApproveGateDecider) Decide(_ context.Context, _ domain.RunID, _ string, _ string) (HumanGateDecision, error) {
	return HumanGateDecision{Approved: true, Notes: "auto-approved: non_interactive"}, nil
}

// AutoRejectGateDecider rejects every required human gate without
// asking anyone. Useful for tests and for a workflow run configured to
// fail closed when no live decider is reachable.
type AutoRejectGateDecider struct{}

// NewAutoRejectGateDecider builds the fail-closed decider.
func NewAutoRejectGateDecider() *AutoRejectGateDecider {
	return &AutoRejectGateDecider{}
}

func (AutoRejectGateDecider) Decide(_ context.Context, _ domain.RunID, _ string, _ string) (HumanGateDecision, error) {
	return HumanGateDecision{Approved: false, Notes: "auto-rejected: no decider configured"}, nil
}

// requiredHumanGates returns the names of a step's gate points that
// resolve to a required human gate in the workflow's gate catalog.
func requiredHumanGates(gatePoints []string, catalog []domain.GatePointDefinition) []string {
	byName := make(map[string]domain.GatePointDefinition, len(catalog))
	for _, g := range catalog {
		byName[g.GateName] = g
	}
	var required []string
	for _, name := range gatePoints {
		def, ok := byName[name]
		if !ok {
			continue
		}
		if def.GateKind == domain.GateKindHuman && def.Required {
			required = append(required, name)
		}
	}
	return required
}

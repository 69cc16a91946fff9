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
	"github.com/go-logr/logr"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
)

// EngineVersion is stamped onto every run manifest this build produces.
const EngineVersion = "orchestrator-core.v1"

// Config wires the six capability seams a run needs (§4.7, §8). Store,
// Context, Policy, Trust and Providers are required; HumanGates
// defaults to auto-reject and Writes to disabled when left nil, so a
// deployment that never wires an interactive decider fails closed
// rather than silently approving every gate.
type Config struct {
	Store     TraceStore
	Context   ContextSource
	Policy    PolicyEngine
	Trust     TrustGate
	Providers ProviderRegistry

	HumanGates HumanGateDecider
	Writes     WriteApplier
	ToolGate   ToolGateEvaluator
	Metrics    *Metrics

	Log logr.Logger
}

// Orchestrator runs workflows to completion, one step transaction at a
// time, against the seams in Config.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and builds an Orchestrator, filling in the
// fail-closed defaults for HumanGates and Writes when left nil.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, apperr.New(apperr.KindConfiguration, "orchestrator requires a TraceStore")
	}
	if cfg.Context == nil {
		return nil, apperr.New(apperr.KindConfiguration, "orchestrator requires a ContextSource")
	}
	if cfg.Policy == nil {
		return nil, apperr.New(apperr.KindConfiguration, "orchestrator requires a PolicyEngine")
	}
	if cfg.Trust == nil {
		return nil, apperr.New(apperr.KindConfiguration, "orchestrator requires a TrustGate")
	}
	if cfg.Providers == nil {
		return nil, apperr.New(apperr.KindConfiguration, "orchestrator requires a ProviderRegistry")
	}
	if cfg.HumanGates == nil {
		cfg.HumanGates = NewAutoRejectGateDecider()
	}
	if cfg.Writes == nil {
		cfg.Writes = NewDisabledWriteApplier()
	}
	return &Orchestrator{cfg: cfg}, nil
}

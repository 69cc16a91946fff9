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

// Package provider implements the adapter contract (§4.6): given a
// fully populated step request, return a provider invocation record.
// Adapters never panic or raise on a failed call; a failure is an
// *apperr.AppError like any other core error, and the orchestrator
// turns it into a failed step.
package provider

import (
	"context"
	"encoding/json"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// ProviderInvocation is one adapter call's full result: its audit
// record, the step output on success, and any proposed memory writes.
type ProviderInvocation struct {
	CallRecord     domain.ProviderCallRecord
	Output         domain.StepOutputEnvelope
	ProposedWrites []domain.ProposedMemoryWrite
}

// Adapter is the provider contract every concrete adapter implements.
type Adapter interface {
	// Name is the provider_name an agent's ProviderBinding selects this
	// adapter with.
	Name() string
	Invoke(ctx context.Context, request domain.StepRequest) (ProviderInvocation, error)
}

// Registry resolves an agent's provider_name to a concrete Adapter.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a Registry from a set of adapters, keyed by Name().
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Resolve looks up the adapter for a provider name.
func (r *Registry) Resolve(providerName string) (Adapter, bool) {
	a, ok := r.adapters[providerName]
	return a, ok
}

func rawMessageOrNull(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

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

// Package obslog provides the orchestrator's structured logging surface:
// a zap-backed logger plus a chainable Fields builder analogous to the
// teacher's pkg/shared/logging package, generalized from Kubernetes/HTTP
// domains to the run/step/event/gate domain of this core.
package obslog

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a chainable, ordered-insensitive set of structured logging
// key/value pairs. Every setter returns the receiver so calls chain.
type Fields map[string]interface{}

// NewFields returns an empty Fields set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) RunID(id string) Fields {
	if id == "" {
		return f
	}
	f["run_id"] = id
	return f
}

func (f Fields) StepID(id string) Fields {
	if id == "" {
		return f
	}
	f["step_id"] = id
	return f
}

func (f Fields) StepKey(key string) Fields {
	if key == "" {
		return f
	}
	f["step_key"] = key
	return f
}

func (f Fields) EventSeq(seq int64) Fields {
	f["event_seq"] = seq
	return f
}

func (f Fields) MemoryRef(memoryID string, version uint32) Fields {
	if memoryID == "" {
		return f
	}
	f["memory_id"] = memoryID
	f["memory_version"] = version
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Err(err error) Fields {
	if err == nil {
		return f
	}
	f["error"] = err.Error()
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus renders Fields as a logrus.Fields map, for consumers that
// want a flat map[string]interface{} rather than structured zap fields.
func (f Fields) ToLogrus() logrus.Fields {
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// KeysAndValues flattens Fields into the alternating key/value slice
// logr.Logger.Info/Error expect as variadic arguments.
func (f Fields) KeysAndValues() []interface{} {
	out := make([]interface{}, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}

// TraceFields is the canonical field set for trace-store operations.
func TraceFields(operation, runID string) Fields {
	return NewFields().Component("tracestore").Operation(operation).RunID(runID)
}

// OutcomeFields is the canonical field set for outcome-store/projector operations.
func OutcomeFields(operation string) Fields {
	return NewFields().Component("outcome").Operation(operation)
}

// GateFields is the canonical field set for trust/policy gate decisions.
func GateFields(gateKind, gateName string) Fields {
	return NewFields().Component("gate").Custom("gate_kind", gateKind).Custom("gate_name", gateName)
}

// ProviderFields is the canonical field set for provider adapter invocations.
func ProviderFields(providerName, modelID string) Fields {
	return NewFields().Component("provider").Custom("provider_name", providerName).Custom("model_id", modelID)
}

// ContextFields is the canonical field set for context-source assembly.
func ContextFields(operation string) Fields {
	return NewFields().Component("contextsource").Operation(operation)
}

// OrchestratorFields is the canonical field set for scheduler/step
// transaction operations.
func OrchestratorFields(operation string) Fields {
	return NewFields().Component("orchestrator").Operation(operation)
}

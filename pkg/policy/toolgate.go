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

package policy

import (
	"context"
	_ "embed"

	"github.com/go-logr/logr"
	opa "github.com/open-policy-agent/opa/v1/rego"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

//go:embed policies/tool_allow.rego
var defaultToolPolicyModule string

// toolPolicyInput is the rego evaluation input for one gate-point check.
type toolPolicyInput struct {
	Tool         string   `json:"tool"`
	AllowedTools []string `json:"allowed_tools"`
}

// ToolGate evaluates a rego-backed gate-point policy for tool calls
// against a step's allowed_tools list; Engine.Prune does not read
// allowed_tools, it prunes context items only (§4.4, domain stack:
// "rego-evaluated permission rule layered over the list-based prune").
type ToolGate struct {
	query opa.PreparedEvalQuery
	log   logr.Logger
}

// NewToolGate prepares a rego module for repeated evaluation. An empty
// module string uses the embedded default policy.
func NewToolGate(ctx context.Context, module string, log logr.Logger) (*ToolGate, error) {
	if module == "" {
		module = defaultToolPolicyModule
	}
	prepared, err := opa.New(
		opa.Query("data.orchestrator.toolpolicy.allow"),
		opa.Module("tool_allow.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, "prepare tool gate-point policy")
	}
	return &ToolGate{query: prepared, log: log}, nil
}

// Evaluate decides whether tool clears the gate-point policy given a
// step's effective permissions.
func (g *ToolGate) Evaluate(ctx context.Context, tool string, perms domain.EffectivePermissions) (bool, error) {
	results, err := g.query.Eval(ctx, opa.EvalInput(toolPolicyInput{Tool: tool, AllowedTools: perms.AllowedTools}))
	if err != nil {
		return false, apperr.Wrap(err, apperr.KindDependency, "evaluate tool gate-point policy")
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, apperr.New(apperr.KindIntegrity, "tool gate-point policy produced no result")
	}
	allow, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, apperr.New(apperr.KindIntegrity, "tool gate-point policy result was not boolean")
	}

	g.log.Info("evaluated tool gate-point policy",
		obslog.GateFields("tool", tool).Custom("allow", allow).KeysAndValues()...)
	return allow, nil
}

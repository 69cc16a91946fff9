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

package contextsource

import (
	"context"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// MockResolver is a deterministic, in-memory Resolver for tests and for
// local development without a live memory kernel. Its default packages
// carry the placeholder snapshot id "upstream-nonce", which Assemble's
// snapshot-id rewrite replaces, so the final envelope's id comes from
// Assemble rather than from the resolver.
type MockResolver struct {
	PolicyPackages map[string]domain.ContextPackage
	RecallPackages map[string]domain.ContextPackage
}

// NewMockResolver returns an empty MockResolver; populate the maps
// directly, keyed by query text.
func NewMockResolver() *MockResolver {
	return &MockResolver{
		PolicyPackages: map[string]domain.ContextPackage{},
		RecallPackages: map[string]domain.ContextPackage{},
	}
}

func (m *MockResolver) ResolvePolicy(ctx context.Context, query domain.QueryRequest) (domain.ContextPackage, error) {
	pkg, ok := m.PolicyPackages[query.Text]
	if !ok {
		pkg = domain.ContextPackage{
			Query:       query,
			GeneratedAt: query.AsOf,
			Determinism: domain.DeterminismMetadata{RulesetVersion: "policy-v1", SnapshotID: "upstream-nonce"},
			Answer:      domain.Answer{Result: domain.AnswerAllow, Why: "default allow"},
		}
	}
	return pkg, nil
}

func (m *MockResolver) ResolveRecall(ctx context.Context, query RecallQuery) (domain.ContextPackage, error) {
	pkg, ok := m.RecallPackages[query.Text]
	if !ok {
		pkg = domain.ContextPackage{
			Query:       domain.QueryRequest{Text: query.Text, AsOf: query.AsOf},
			GeneratedAt: query.AsOf,
			Determinism: domain.DeterminismMetadata{RulesetVersion: "recall-v1", SnapshotID: "upstream-nonce"},
			Answer:      domain.Answer{Result: domain.AnswerAllow, Why: "recall scope resolved"},
		}
	}
	return pkg, nil
}

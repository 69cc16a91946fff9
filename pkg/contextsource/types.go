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

// Package contextsource assembles a step's ordered context packages
// from the upstream memory-kernel resolver (§4.3): it dispatches each
// declared query in policy or recall mode, then rewrites determinism
// metadata and the package hash so the result is stable independent of
// whatever snapshot nonce the resolver happened to generate.
package contextsource

import (
	"context"
	"time"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// RecallQuery is the upstream memory kernel's recall-query signature
// (§4.3): free text plus an optional record-type scope.
type RecallQuery struct {
	Text        string
	RecordTypes []domain.RecordType
	AsOf        time.Time
}

// Resolver is the upstream memory-kernel context resolver, consumed as
// given (§4.3, §6 "Context resolver (consumed)"). Implementations call
// out to the actual memory kernel; MockResolver serves tests that don't
// need a live kernel.
type Resolver interface {
	ResolvePolicy(ctx context.Context, query domain.QueryRequest) (domain.ContextPackage, error)
	ResolveRecall(ctx context.Context, query RecallQuery) (domain.ContextPackage, error)
}

// knownRecordTypes is the closed set a recall query's record_types
// tokens must validate against (§4.3: "unknown record-type tokens MUST
// fail validation").
var knownRecordTypes = map[domain.RecordType]struct{}{
	domain.RecordConstraint: {},
	domain.RecordDecision:   {},
	domain.RecordEvent:      {},
	domain.RecordOutcome:    {},
	domain.RecordPreference: {},
}

// IsKnownRecordType reports whether rt is one of the closed record-type
// tokens the upstream kernel recognizes.
func IsKnownRecordType(rt domain.RecordType) bool {
	_, ok := knownRecordTypes[rt]
	return ok
}

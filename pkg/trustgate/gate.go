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

// Package trustgate evaluates the retrieval trust gate (§4.5) for the
// post-policy candidates of one step, against the outcome store's
// projected trust snapshots.
package trustgate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/outcome"
)

// Candidate is one memory identity surfaced by a post-policy context
// package, carrying the memory_version_id the outcome store doesn't
// track.
type Candidate struct {
	MemoryID        string
	Version         uint32
	MemoryVersionID string
}

// GatePreviewer is the subset of *outcome.Store the gate depends on.
type GatePreviewer interface {
	GatePreview(ctx context.Context, mode domain.RetrievalMode, asOf string, contextID string, candidates []outcome.MemoryKey) ([]outcome.GateDecision, error)
}

// Gate evaluates the trust gate for a batch of candidates. A nil store
// selects the permissive allow-all variant (§4.5).
type Gate struct {
	store GatePreviewer
	log   logr.Logger
}

// New builds a Gate backed by an outcome store's trust snapshots.
func New(store GatePreviewer, log logr.Logger) *Gate {
	return &Gate{store: store, log: log}
}

// NewAllowAll builds the permissive variant used when a configuration
// does not enable trust gating: every candidate is included with
// reason code "included.no_trust_gating_configured".
func NewAllowAll(log logr.Logger) *Gate {
	return &Gate{store: nil, log: log}
}

// Evaluate gates candidates for one step, building the context id as
// "{run_id}:{step_key}" (§4.5).
func (g *Gate) Evaluate(ctx context.Context, runID domain.RunID, stepKey string, asOf time.Time, mode domain.RetrievalMode, candidates []Candidate) ([]domain.TrustGateAttachment, error) {
	contextID := fmt.Sprintf("%s:%s", runID.String(), stepKey)
	evaluatedAt := domain.NowUTC()

	if g.store == nil {
		attachments := make([]domain.TrustGateAttachment, 0, len(candidates))
		for _, c := range candidates {
			attachments = append(attachments, domain.TrustGateAttachment{
				MemoryID: c.MemoryID, Version: c.Version, MemoryVersionID: c.MemoryVersionID,
				Include: true, ReasonCodes: []string{"included.no_trust_gating_configured"},
				EvaluatedAt: evaluatedAt, Source: "trust_gate.allow_all",
			})
		}
		g.log.Info("evaluated trust gate (allow-all)", obslog.GateFields(string(mode), "trust_gate").Count(len(attachments)).KeysAndValues()...)
		return attachments, nil
	}

	keys := make([]outcome.MemoryKey, 0, len(candidates))
	for _, c := range candidates {
		keys = append(keys, outcome.MemoryKey{MemoryID: c.MemoryID, Version: c.Version})
	}

	decisions, err := g.store.GatePreview(ctx, mode, domain.FormatRFC3339(asOf), contextID, keys)
	if err != nil {
		return nil, err
	}

	attachments := make([]domain.TrustGateAttachment, 0, len(candidates))
	for i, decision := range decisions {
		candidate := candidates[i]
		var rulesetVersion *uint32
		if len(decision.ReasonCodes) > 0 && decision.ReasonCodes[0] != "excluded.no_trust_snapshot" {
			v := decision.RulesetVersion
			rulesetVersion = &v
		}
		attachments = append(attachments, domain.TrustGateAttachment{
			MemoryID: candidate.MemoryID, Version: candidate.Version, MemoryVersionID: candidate.MemoryVersionID,
			Include: decision.Include, TrustStatus: string(decision.TrustStatus),
			ConfidenceEffective: decision.ConfidenceEffective, Capped: decision.Capped,
			ReasonCodes: decision.ReasonCodes, RulesetVersion: rulesetVersion,
			EvaluatedAt: evaluatedAt, Source: "trust_gate.projected",
		})
	}

	g.log.Info("evaluated trust gate", obslog.GateFields(string(mode), "trust_gate").Count(len(attachments)).KeysAndValues()...)
	return attachments, nil
}

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

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/policy"
	"github.com/jordigilh/orchestrator-core/pkg/trustgate"
)

// collectTrustCandidates flattens every selected item across a step's
// post-policy packages into the trust gate's candidate shape,
// deduplicating by memory_version_id.
func collectTrustCandidates(envelopes []domain.ContextPackageEnvelope) []trustgate.Candidate {
	seen := make(map[string]struct{})
	var out []trustgate.Candidate
	for _, env := range envelopes {
		for _, item := range env.ContextPackage.SelectedItems {
			if _, ok := seen[item.MemoryVersionID]; ok {
				continue
			}
			seen[item.MemoryVersionID] = struct{}{}
			out = append(out, trustgate.Candidate{
				MemoryID:        item.MemoryID,
				Version:         item.Version,
				MemoryVersionID: item.MemoryVersionID,
			})
		}
	}
	return out
}

// applyTrustFilter drops selected items the trust gate excluded and
// recomputes the hash of every mutated package.
func applyTrustFilter(envelopes []domain.ContextPackageEnvelope, attachments []domain.TrustGateAttachment) ([]domain.ContextPackageEnvelope, error) {
	included := make(map[string]bool, len(attachments))
	for _, att := range attachments {
		included[att.MemoryVersionID] = att.Include
	}

	out := make([]domain.ContextPackageEnvelope, len(envelopes))
	for i, env := range envelopes {
		pkg := env.ContextPackage
		filtered := make([]domain.ContextItem, 0, len(pkg.SelectedItems))
		changed := false
		for _, item := range pkg.SelectedItems {
			if include, ok := included[item.MemoryVersionID]; ok && !include {
				changed = true
				continue
			}
			filtered = append(filtered, item)
		}
		if !changed {
			out[i] = env
			continue
		}
		pkg.SelectedItems = filtered
		hash, err := domain.ComputeContextPackageHash(pkg)
		if err != nil {
			return nil, err
		}
		env.ContextPackage = pkg
		env.PackageHash = hash
		out[i] = env
	}
	return out, nil
}

// trustSummary is the GateEvaluated event's payload shape: counts, not
// full attachments, since attachments are already persisted as gate
// decision rows.
type trustSummaryPayload struct {
	Evaluated int `json:"evaluated"`
	Included  int `json:"included"`
	Excluded  int `json:"excluded"`
}

func trustSummary(attachments []domain.TrustGateAttachment) trustSummaryPayload {
	s := trustSummaryPayload{Evaluated: len(attachments)}
	for _, a := range attachments {
		if a.Include {
			s.Included++
		} else {
			s.Excluded++
		}
	}
	return s
}

func (o *Orchestrator) appendTrustGateDecision(ctx context.Context, runID domain.RunID, stepID domain.StepID, att domain.TrustGateAttachment) error {
	decision := domain.GateApproved
	if !att.Include {
		decision = domain.GateRejected
	}
	memoryID, memoryVersionID := att.MemoryID, att.MemoryVersionID
	version := att.Version
	o.countGateDecision(domain.GateKindTrust, att.Include)
	record := domain.GateDecisionRecord{
		GateKind:             domain.GateKindTrust,
		GateName:             gateNameTrust,
		SubjectType:          "memory_ref",
		MemoryID:             &memoryID,
		Version:              &version,
		MemoryVersionID:      &memoryVersionID,
		Decision:             decision,
		ReasonCodes:          att.ReasonCodes,
		DecidedBy:            decidedByTrustGate,
		DecidedAt:            domain.FormatRFC3339(domain.NowUTC()),
		SourceRulesetVersion: att.RulesetVersion,
	}
	if err := o.cfg.Store.AppendGateDecision(ctx, runID, stepID, record); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "persist trust gate decision")
	}
	return nil
}

// narrowByToolGate re-validates perms.AllowedTools through the
// rego-evaluated gate-point policy, layered over the static list
// resolved from the agent's permissions. A nil ToolGate or an empty
// list is a no-op; otherwise each denied tool is dropped from the
// list returned to the caller and the denials are persisted as one
// pruned gate decision.
func (o *Orchestrator) narrowByToolGate(ctx context.Context, runID domain.RunID, stepID domain.StepID, perms domain.EffectivePermissions) (domain.EffectivePermissions, error) {
	if o.cfg.ToolGate == nil || len(perms.AllowedTools) == 0 {
		return perms, nil
	}
	var allowed, denied []string
	for _, tool := range perms.AllowedTools {
		ok, err := o.cfg.ToolGate.Evaluate(ctx, tool, perms)
		if err != nil {
			return perms, apperr.Wrap(err, apperr.KindDependency, "evaluate tool gate-point policy")
		}
		o.countGateDecision(domain.GateKindPolicy, ok)
		if ok {
			allowed = append(allowed, tool)
		} else {
			denied = append(denied, tool)
		}
	}
	if len(denied) > 0 {
		record := domain.GateDecisionRecord{
			GateKind:    domain.GateKindPolicy,
			GateName:    gateNameToolGate,
			SubjectType: "step",
			Decision:    domain.GatePruned,
			ReasonCodes: denied,
			DecidedBy:   decidedByToolGate,
			DecidedAt:   domain.FormatRFC3339(domain.NowUTC()),
		}
		if err := o.cfg.Store.AppendGateDecision(ctx, runID, stepID, record); err != nil {
			return perms, apperr.Wrap(err, apperr.KindInfrastructure, "persist tool gate decision")
		}
	}
	perms.AllowedTools = allowed
	return perms, nil
}

func (o *Orchestrator) appendPolicyPruneDecision(ctx context.Context, runID domain.RunID, stepID domain.StepID, pruned []policy.PrunedReference) error {
	reasonSeen := make(map[string]struct{})
	var reasons []string
	for _, p := range pruned {
		if _, ok := reasonSeen[p.ReasonCode]; ok {
			continue
		}
		reasonSeen[p.ReasonCode] = struct{}{}
		reasons = append(reasons, p.ReasonCode)
	}
	evidence, err := domain.CanonicalJSON(pruned)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "marshal pruned reference evidence")
	}
	record := domain.GateDecisionRecord{
		GateKind:     domain.GateKindPolicy,
		GateName:     gateNamePolicy,
		SubjectType:  "step",
		Decision:     domain.GatePruned,
		ReasonCodes:  reasons,
		DecidedBy:    decidedByPolicyEngine,
		DecidedAt:    domain.FormatRFC3339(domain.NowUTC()),
		EvidenceJSON: evidence,
	}
	if err := o.cfg.Store.AppendGateDecision(ctx, runID, stepID, record); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "persist policy prune decision")
	}
	return nil
}

func (o *Orchestrator) appendHumanGateDecision(ctx context.Context, runID domain.RunID, stepID domain.StepID, gateName string, decision HumanGateDecision) error {
	outcome := domain.GateApproved
	if !decision.Approved {
		outcome = domain.GateRejected
	}
	notes := decision.Notes
	record := domain.GateDecisionRecord{
		GateKind:    domain.GateKindHuman,
		GateName:    gateName,
		SubjectType: "step",
		Decision:    outcome,
		Notes:       &notes,
		DecidedBy:   decidedByHumanGate,
		DecidedAt:   domain.FormatRFC3339(domain.NowUTC()),
	}
	if err := o.cfg.Store.AppendGateDecision(ctx, runID, stepID, record); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "persist human gate decision")
	}
	return nil
}

func (o *Orchestrator) countGateDecision(kind domain.GateKind, approved bool) {
	if o.cfg.Metrics == nil {
		return
	}
	decision := "approved"
	if !approved {
		decision = "rejected"
	}
	o.cfg.Metrics.countGateDecision(string(kind), decision)
}

// rejectedResult builds the terminal StepResult for a step a required
// human gate rejected (§4.7 step 10): the provider is never invoked.
func rejectedResult(runID domain.RunID, stepID domain.StepID, gateName string) domain.StepResult {
	return domain.StepResult{
		RunID:  runID,
		StepID: stepID,
		Status: domain.StepRejected,
		Error:  &domain.ErrorEnvelope{Code: "human_gate_rejected", Message: "gate " + gateName + " rejected this step"},
	}
}

// finishFailedNoProvider builds the terminal StepResult for a step
// whose agent names a provider with no registered adapter.
func (o *Orchestrator) finishFailedNoProvider(ctx context.Context, chain *runChain, run domain.RunRecord, stepID domain.StepID, cause error) domain.StepResult {
	if _, err := chain.append(ctx, o.cfg.Store, run.RunID, &stepID, domain.EventError, actorTypeOrchestrator, actorTypeSystem, errorPayload{Code: "provider_not_configured", Message: cause.Error()}); err != nil {
		o.cfg.Log.Error(err, "failed to emit provider-not-configured error event")
	}
	return domain.StepResult{
		RunID:  run.RunID,
		StepID: stepID,
		Status: domain.StepFailed,
		Error:  &domain.ErrorEnvelope{Code: "provider_not_configured", Message: cause.Error()},
	}
}

// applyProposedWrite routes one proposed write through the configured
// WriteApplier, honoring the agent's can_propose_memory_writes gate
// before ever calling it.
func (o *Orchestrator) applyProposedWrite(ctx context.Context, runID domain.RunID, stepKey string, perms domain.EffectivePermissions, proposal domain.ProposedMemoryWrite) WriteDisposition {
	if !perms.CanProposeMemoryWrites {
		return WriteDisposition{Disposition: DispositionNotApplied, Reason: ReasonWritesNotPermitted}
	}
	disposition, err := o.cfg.Writes.Apply(ctx, runID, stepKey, proposal)
	if err != nil {
		return WriteDisposition{Disposition: DispositionNotApplied, Reason: err.Error()}
	}
	return disposition
}

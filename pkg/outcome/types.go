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

// Package outcome is the append-only event stream of outcomes for each
// (memory_id, version) and the deterministic projection of that stream
// into a memory_trust snapshot.
package outcome

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

var rulesetValidate = validator.New()

// MemoryKey identifies one (memory_id, version) trust timeline.
type MemoryKey struct {
	MemoryID string
	Version  uint32
}

func (k MemoryKey) String() string {
	return fmt.Sprintf("%s:%d", k.MemoryID, k.Version)
}

// OutcomeEvent is one durable row in a memory's outcome stream.
type OutcomeEvent struct {
	EventSeq         int64                `json:"event_seq"`
	EventID          string               `json:"event_id"`
	RulesetVersion   uint32               `json:"ruleset_version"`
	MemoryID         string               `json:"memory_id"`
	Version          uint32               `json:"version"`
	EventType        domain.OutcomeEventType `json:"event_type"`
	OccurredAt       string               `json:"occurred_at"`
	RecordedAt       string               `json:"recorded_at"`
	Writer           string               `json:"writer"`
	Justification    string               `json:"justification"`
	ContextID        *string              `json:"context_id,omitempty"`
	Edited           bool                 `json:"edited"`
	Escalated        bool                 `json:"escalated"`
	Severity         *domain.Severity     `json:"severity,omitempty"`
	ManualConfidence *float32             `json:"manual_confidence,omitempty"`
	OverrideCap      bool                 `json:"override_cap"`
	PayloadJSON      json.RawMessage      `json:"payload_json"`
}

// OutcomeEventInput is the write-path payload for AppendEvent; EventID and
// RecordedAt are assigned by the store if not supplied.
type OutcomeEventInput struct {
	EventID          string
	RulesetVersion   uint32
	MemoryID         string
	Version          uint32
	EventType        domain.OutcomeEventType
	OccurredAt       string
	Writer           string
	Justification    string
	ContextID        *string
	Edited           bool
	Escalated        bool
	Severity         *domain.Severity
	ManualConfidence *float32
	OverrideCap      bool
	PayloadJSON      json.RawMessage
}

// Validate checks the append-rules from the outcome store's write path:
// ruleset_version and version must be positive, writer and justification
// must be non-empty, occurred_at must be UTC, severity is required when
// escalated, and manual_confidence is required (and bounded) for
// manual_set_confidence and inherited events.
func (in OutcomeEventInput) Validate() error {
	if in.RulesetVersion == 0 {
		return fmt.Errorf("ruleset_version MUST be >= 1")
	}
	if in.Version == 0 {
		return fmt.Errorf("version MUST be >= 1")
	}
	if err := domain.EnsureNonEmpty("writer", in.Writer); err != nil {
		return err
	}
	if err := domain.EnsureNonEmpty("justification", in.Justification); err != nil {
		return err
	}
	if _, err := domain.ParseRFC3339(in.OccurredAt); err != nil {
		return fmt.Errorf("occurred_at MUST be UTC: %w", err)
	}
	if in.Escalated && in.Severity == nil {
		return fmt.Errorf("severity is required when escalated=true")
	}
	if in.EventType == domain.OutcomeManualSetConfidence && in.ManualConfidence == nil {
		return fmt.Errorf("manual_set_confidence requires manual_confidence")
	}
	if in.EventType == domain.OutcomeInherited && in.ManualConfidence == nil {
		return fmt.Errorf("inherited requires source confidence in manual_confidence")
	}
	if in.ManualConfidence != nil {
		if *in.ManualConfidence < 0 || *in.ManualConfidence > 1 {
			return fmt.Errorf("manual_confidence MUST be in [0.0, 1.0]")
		}
	}
	return nil
}

// OutcomeRuleset is one versioned tuning of the trust-projection algorithm.
// Every event carries the ruleset_version whose rules apply to it; the
// catalog is an upsert (see UpsertRuleset), so registering an existing
// ruleset_version again replaces its stored tuning.
type OutcomeRuleset struct {
	RulesetVersion                 uint32  `json:"ruleset_version" validate:"gte=1"`
	Alpha                          float32 `json:"alpha" validate:"gte=0,lte=1"`
	PerEventDecay                  float32 `json:"per_event_decay" validate:"gte=0,lte=1"`
	SuccessWeight                  float32 `json:"success_weight"`
	EditedSuccessWeight            float32 `json:"edited_success_weight"`
	FailureWeight                  float32 `json:"failure_weight"`
	IgnoredWeight                  float32 `json:"ignored_weight"`
	SeverityLowMultiplier          float32 `json:"severity_low_multiplier"`
	SeverityMedMultiplier          float32 `json:"severity_med_multiplier"`
	SeverityHighMultiplier         float32 `json:"severity_high_multiplier"`
	InheritanceFactor              float32 `json:"inheritance_factor" validate:"gte=0,lte=1"`
	InheritanceCap                 float32 `json:"inheritance_cap" validate:"gte=0,lte=1"`
	BaseConfidence                 float32 `json:"base_confidence" validate:"gte=0,lte=1"`
	ContradictionDegrade           float32 `json:"contradiction_degrade"`
	ContradictionCap               float32 `json:"contradiction_cap" validate:"gte=0,lte=1"`
	ValidatedWinsRequired          uint8   `json:"validated_wins_required"`
	ValidatedWindowSize            int     `json:"validated_window_size"`
	SafeMinConfidence              float32 `json:"safe_min_confidence" validate:"gte=0,lte=1"`
	ExplorationMinConfidence       float32 `json:"exploration_min_confidence" validate:"gte=0,lte=1"`
	ExplorationProbeMinConfidence  float32 `json:"exploration_probe_min_confidence" validate:"gte=0,lte=1"`
	ExplorationProbeMaxConfidence  float32 `json:"exploration_probe_max_confidence" validate:"gte=0,lte=1"`
	ExplorationProbeBudget         float32 `json:"exploration_probe_budget" validate:"gte=0,lte=1"`
	ReadDecayLambdaPerDay          float32 `json:"read_decay_lambda_per_day" validate:"gte=0,lte=1"`
}

// DefaultRuleset (ruleset_version 1) is the baseline tuning carried over
// from the memory kernel's own default configuration.
func DefaultRuleset() OutcomeRuleset {
	return OutcomeRuleset{
		RulesetVersion:                1,
		Alpha:                         0.08,
		PerEventDecay:                 0.02,
		SuccessWeight:                 1.0,
		EditedSuccessWeight:           0.5,
		FailureWeight:                 -1.25,
		IgnoredWeight:                 -0.15,
		SeverityLowMultiplier:         1.0,
		SeverityMedMultiplier:         1.2,
		SeverityHighMultiplier:        1.5,
		InheritanceFactor:             0.70,
		InheritanceCap:                0.80,
		BaseConfidence:                0.50,
		ContradictionDegrade:          0.30,
		ContradictionCap:              0.40,
		ValidatedWinsRequired:         3,
		ValidatedWindowSize:           5,
		SafeMinConfidence:             0.60,
		ExplorationMinConfidence:      0.30,
		ExplorationProbeMinConfidence: 0.15,
		ExplorationProbeMaxConfidence: 0.30,
		ExplorationProbeBudget:        0.20,
		ReadDecayLambdaPerDay:         0.01,
	}
}

// Validate checks ruleset numeric bounds (via struct tags) plus the
// cross-field window invariants a tag alone can't express.
func (r OutcomeRuleset) Validate() error {
	if err := rulesetValidate.Struct(r); err != nil {
		return fmt.Errorf("ruleset configuration out of bounds: %w", err)
	}
	if r.ValidatedWindowSize <= 0 {
		return fmt.Errorf("validated_window_size MUST be >= 1")
	}
	if int(r.ValidatedWinsRequired) > r.ValidatedWindowSize {
		return fmt.Errorf("validated_wins_required MUST be <= validated_window_size")
	}
	if r.ExplorationProbeMinConfidence > r.ExplorationProbeMaxConfidence {
		return fmt.Errorf("exploration probe min cannot exceed max")
	}
	return nil
}

// SeverityMultiplier returns the weight multiplier applied to a scored
// event: 1.0 unless the event is escalated, in which case it is the
// ruleset's per-severity multiplier (defaulting to "low" if unset).
func (r OutcomeRuleset) SeverityMultiplier(severity *domain.Severity, escalated bool) float32 {
	if !escalated {
		return 1.0
	}
	sev := domain.SeverityLow
	if severity != nil {
		sev = *severity
	}
	switch sev {
	case domain.SeverityMedium:
		return r.SeverityMedMultiplier
	case domain.SeverityHigh:
		return r.SeverityHighMultiplier
	default:
		return r.SeverityLowMultiplier
	}
}

// MemoryTrust is the terminal projection of one memory's outcome stream.
type MemoryTrust struct {
	MemoryID                string            `json:"memory_id"`
	Version                 uint32            `json:"version"`
	ConfidenceRaw           float32           `json:"confidence_raw"`
	ConfidenceEffective     float32           `json:"confidence_effective"`
	BaselineConfidence      float32           `json:"baseline_confidence"`
	TrustStatus             domain.TrustStatus `json:"trust_status"`
	ContradictionCapActive  bool              `json:"contradiction_cap_active"`
	CapValue                float32           `json:"cap_value"`
	ManualOverrideActive    bool              `json:"manual_override_active"`
	WinsLast5               uint8             `json:"wins_last5"`
	FailuresLast5           uint8             `json:"failures_last5"`
	LastEventSeq            int64             `json:"last_event_seq"`
	LastRulesetVersion      uint32            `json:"last_ruleset_version"`
	LastScoredAt            *string           `json:"last_scored_at,omitempty"`
	UpdatedAt               string            `json:"updated_at"`
}

// GateDecision is the outcome of gating one memory for retrieval.
type GateDecision struct {
	MemoryID            string             `json:"memory_id"`
	Version             uint32             `json:"version"`
	Include             bool               `json:"include"`
	ConfidenceEffective float32            `json:"confidence_effective"`
	TrustStatus         domain.TrustStatus `json:"trust_status"`
	Capped              bool               `json:"capped"`
	RulesetVersion      uint32             `json:"ruleset_version"`
	ReasonCodes         []string           `json:"reason_codes"`
}

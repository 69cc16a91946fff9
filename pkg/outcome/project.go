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

package outcome

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

type windowEntry int

const (
	windowSuccess windowEntry = iota
	windowFailure
	windowIgnored
	windowUnknown
)

// ProjectMemoryTrust walks one (memory_id, version) key's events in
// event_seq order and folds them into a terminal MemoryTrust snapshot.
// Incremental replay MUST call this over the full event slice for an
// affected key rather than resuming from a partial state: the rolling
// window and cap/override flags are not separable from the events that
// produced them.
func ProjectMemoryTrust(events []OutcomeEvent, rulesets map[uint32]OutcomeRuleset) (*MemoryTrust, error) {
	if len(events) == 0 {
		return nil, nil
	}

	first := events[0]
	if first.Version == 0 {
		return nil, fmt.Errorf("version MUST be >= 1")
	}
	key := MemoryKey{MemoryID: first.MemoryID, Version: first.Version}

	firstRuleset, err := rulesetFor(first.RulesetVersion, rulesets)
	if err != nil {
		return nil, err
	}

	var (
		prevEventSeq           int64
		window                 []windowEntry
		baseline               = firstRuleset.BaseConfidence
		confidenceRaw          = baseline
		confidenceEffective    = baseline
		trustStatus            = domain.TrustActive
		contradictionCapActive bool
		capValue               float32 = 1.0
		manualOverrideActive   bool
		lastScoredAt           *string
	)

	for _, event := range events {
		if event.MemoryID != key.MemoryID || event.Version != key.Version {
			return nil, fmt.Errorf("replay stream MUST contain a single (memory_id, version) key")
		}
		if event.EventSeq <= prevEventSeq {
			return nil, fmt.Errorf("event_seq MUST be strictly increasing")
		}
		ruleset, err := rulesetFor(event.RulesetVersion, rulesets)
		if err != nil {
			return nil, err
		}
		prevEventSeq = event.EventSeq

		switch event.EventType {
		case domain.OutcomeInherited:
			if event.ManualConfidence == nil {
				return nil, fmt.Errorf("inherited event missing source confidence")
			}
			baseline = minFloat32(domain.ClampConfidence(ruleset.InheritanceFactor*(*event.ManualConfidence)), ruleset.InheritanceCap)
			confidenceRaw = baseline
			contradictionCapActive = false
			capValue = 1.0
			manualOverrideActive = false
			window = window[:0]
			trustStatus = domain.TrustActive
		case domain.OutcomeSuccess:
			weight := ruleset.SuccessWeight
			if event.Edited {
				weight = ruleset.EditedSuccessWeight
			}
			confidenceRaw = applyScoredEvent(confidenceRaw, baseline, weight, ruleset, event)
			occurred := event.OccurredAt
			lastScoredAt = &occurred
			window = pushWindow(window, windowSuccess, ruleset.ValidatedWindowSize)
		case domain.OutcomeFailure:
			confidenceRaw = applyScoredEvent(confidenceRaw, baseline, ruleset.FailureWeight, ruleset, event)
			occurred := event.OccurredAt
			lastScoredAt = &occurred
			window = pushWindow(window, windowFailure, ruleset.ValidatedWindowSize)
		case domain.OutcomeIgnored:
			confidenceRaw = applyScoredEvent(confidenceRaw, baseline, ruleset.IgnoredWeight, ruleset, event)
			occurred := event.OccurredAt
			lastScoredAt = &occurred
			window = pushWindow(window, windowIgnored, ruleset.ValidatedWindowSize)
		case domain.OutcomeUnknown:
			window = pushWindow(window, windowUnknown, ruleset.ValidatedWindowSize)
		case domain.OutcomeManualSetConfidence:
			if event.ManualConfidence == nil {
				return nil, fmt.Errorf("manual_set_confidence missing manual_confidence")
			}
			confidenceRaw = domain.ClampConfidence(*event.ManualConfidence)
			manualOverrideActive = event.OverrideCap
		case domain.OutcomeManualPromote:
			trustStatus = domain.TrustActive
			window = window[:0]
		case domain.OutcomeManualRetire:
			trustStatus = domain.TrustRetired
		case domain.OutcomeAuthoritativeContradiction:
			contradictionCapActive = true
			capValue = ruleset.ContradictionCap
			confidenceRaw = domain.ClampConfidence(confidenceRaw - ruleset.ContradictionDegrade)
		default:
			return nil, fmt.Errorf("unknown outcome event type %q", event.EventType)
		}

		confidenceEffective = confidenceRaw
		if contradictionCapActive && !manualOverrideActive {
			confidenceEffective = minFloat32(confidenceEffective, capValue)
		}

		if trustStatus != domain.TrustRetired {
			wins, failures := countWindow(window)
			if !contradictionCapActive && wins >= int(ruleset.ValidatedWinsRequired) && failures == 0 {
				trustStatus = domain.TrustValidated
			} else {
				trustStatus = domain.TrustActive
			}
		}
	}

	wins, failures := countWindow(window)
	last := events[len(events)-1]

	return &MemoryTrust{
		MemoryID:               key.MemoryID,
		Version:                key.Version,
		ConfidenceRaw:          confidenceRaw,
		ConfidenceEffective:    confidenceEffective,
		BaselineConfidence:     baseline,
		TrustStatus:            trustStatus,
		ContradictionCapActive: contradictionCapActive,
		CapValue:               capValue,
		ManualOverrideActive:   manualOverrideActive,
		WinsLast5:              clampUint8(wins),
		FailuresLast5:          clampUint8(failures),
		LastEventSeq:           last.EventSeq,
		LastRulesetVersion:     last.RulesetVersion,
		LastScoredAt:           lastScoredAt,
		UpdatedAt:              last.RecordedAt,
	}, nil
}

// ApplyAsOfDecay exponentially decays confidence_raw toward baseline for
// the elapsed time since last_scored_at, re-deriving confidence_effective.
// Retired snapshots and snapshots with no scored event are returned as-is.
func ApplyAsOfDecay(trust MemoryTrust, ruleset OutcomeRuleset, asOf string) (MemoryTrust, error) {
	if trust.TrustStatus == domain.TrustRetired || trust.LastScoredAt == nil {
		return trust, nil
	}
	lastScoredAt, err := domain.ParseRFC3339(*trust.LastScoredAt)
	if err != nil {
		return trust, fmt.Errorf("parse last_scored_at: %w", err)
	}
	asOfTime, err := domain.ParseRFC3339(asOf)
	if err != nil {
		return trust, fmt.Errorf("parse as_of: %w", err)
	}
	if !asOfTime.After(lastScoredAt) {
		return trust, nil
	}

	elapsedDays := asOfTime.Sub(lastScoredAt).Seconds() / domain.SecondsPerDay
	decayTerm := float32(math.Exp(-float64(ruleset.ReadDecayLambdaPerDay) * elapsedDays))

	decayed := trust
	decayed.ConfidenceRaw = domain.ClampConfidence(decayed.BaselineConfidence + (decayed.ConfidenceRaw-decayed.BaselineConfidence)*decayTerm)
	decayed.ConfidenceEffective = decayed.ConfidenceRaw
	if decayed.ContradictionCapActive && !decayed.ManualOverrideActive {
		decayed.ConfidenceEffective = minFloat32(decayed.ConfidenceEffective, decayed.CapValue)
	}
	return decayed, nil
}

// GateMemory decides whether one memory's trust snapshot clears the bar
// for inclusion in a given retrieval mode, returning reason codes that
// explain the decision either way.
func GateMemory(trust MemoryTrust, mode domain.RetrievalMode, contextID string, ruleset OutcomeRuleset) GateDecision {
	capped := trust.ContradictionCapActive && !trust.ManualOverrideActive

	if trust.TrustStatus == domain.TrustRetired {
		return GateDecision{
			MemoryID: trust.MemoryID, Version: trust.Version, Include: false,
			ConfidenceEffective: trust.ConfidenceEffective, TrustStatus: trust.TrustStatus,
			Capped: capped, RulesetVersion: trust.LastRulesetVersion, ReasonCodes: []string{"excluded.retired"},
		}
	}

	decision := GateDecision{
		MemoryID: trust.MemoryID, Version: trust.Version,
		ConfidenceEffective: trust.ConfidenceEffective, TrustStatus: trust.TrustStatus, Capped: capped,
		RulesetVersion: trust.LastRulesetVersion,
	}

	safeQualifies := trust.TrustStatus == domain.TrustValidated && !capped && trust.ConfidenceEffective >= ruleset.SafeMinConfidence

	switch mode {
	case domain.RetrievalSafe:
		if safeQualifies {
			decision.Include = true
			decision.ReasonCodes = []string{"included.safe.validated_threshold"}
		} else {
			decision.ReasonCodes = []string{"excluded.safe.threshold_or_status"}
		}
	case domain.RetrievalExploration:
		switch {
		case safeQualifies:
			decision.Include = true
			decision.ReasonCodes = []string{"included.exploration.safe_equivalent"}
		case trust.TrustStatus == domain.TrustActive && trust.ConfidenceEffective >= ruleset.ExplorationMinConfidence:
			decision.Include = true
			decision.ReasonCodes = []string{"included.exploration.active_threshold"}
		case trust.TrustStatus == domain.TrustActive &&
			trust.ConfidenceEffective >= ruleset.ExplorationProbeMinConfidence &&
			trust.ConfidenceEffective < ruleset.ExplorationProbeMaxConfidence:
			bucket := deterministicBucket(fmt.Sprintf("%s:%d:%s", trust.MemoryID, trust.Version, contextID))
			if bucket <= ruleset.ExplorationProbeBudget {
				decision.Include = true
				decision.ReasonCodes = []string{"included.exploration.probe_bucket"}
			} else {
				decision.ReasonCodes = []string{"excluded.exploration.probe_bucket"}
			}
		default:
			decision.ReasonCodes = []string{"excluded.exploration.threshold_or_status"}
		}
	}
	return decision
}

func rulesetFor(version uint32, rulesets map[uint32]OutcomeRuleset) (OutcomeRuleset, error) {
	ruleset, ok := rulesets[version]
	if !ok {
		return OutcomeRuleset{}, fmt.Errorf("missing ruleset configuration for version %d", version)
	}
	if err := ruleset.Validate(); err != nil {
		return OutcomeRuleset{}, err
	}
	return ruleset, nil
}

func applyScoredEvent(confidenceRaw, baseline, baseWeight float32, ruleset OutcomeRuleset, event OutcomeEvent) float32 {
	severityMultiplier := ruleset.SeverityMultiplier(event.Severity, event.Escalated)
	raw := domain.ClampConfidence(confidenceRaw + ruleset.Alpha*baseWeight*severityMultiplier)
	return domain.ClampConfidence(baseline + (raw-baseline)*(1-ruleset.PerEventDecay))
}

func pushWindow(window []windowEntry, entry windowEntry, windowSize int) []windowEntry {
	window = append(window, entry)
	if len(window) > windowSize {
		window = window[len(window)-windowSize:]
	}
	return window
}

func countWindow(window []windowEntry) (wins, failures int) {
	for _, entry := range window {
		switch entry {
		case windowSuccess:
			wins++
		case windowFailure:
			failures++
		}
	}
	return wins, failures
}

func minFloat32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func clampUint8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(v)
}

// deterministicBucket hashes input with FNV-1a (stable across processes,
// unlike Go's randomized map/string hashers) and normalizes the 64-bit
// sum to [0, 1).
func deterministicBucket(input string) float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(input))
	return float32(float64(h.Sum64()) / float64(math.MaxUint64))
}

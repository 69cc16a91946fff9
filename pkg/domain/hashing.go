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

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashJSON canonically serializes value and hashes the result.
//
// encoding/json already sorts map keys and escapes consistently, which
// satisfies the canonical-serialization discipline in spec §7 (sorted
// key order, fixed numeric representation, UTF-8, no incidental
// whitespace once compacted) without a bespoke canonicalizer.
func HashJSON(value interface{}) (string, error) {
	b, err := CanonicalJSON(value)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// CanonicalJSON serializes value into its canonical form: sorted object
// keys (encoding/json's native behavior for maps), no HTML-escaping
// surprises, and no extraneous whitespace.
func CanonicalJSON(value interface{}) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("canonical json marshal: %w", err)
	}
	return b, nil
}

// ComputeStepRequestHash hashes a fully formed step request envelope.
func ComputeStepRequestHash(request StepRequest) (string, error) {
	// input_hash is itself a field of StepRequest; hash over the
	// envelope with that field cleared so the hash never covers itself.
	request.InputHash = ""
	return HashJSON(request)
}

// ComputeStepResultHash hashes a fully formed step result envelope.
func ComputeStepResultHash(result StepResult) (string, error) {
	result.OutputHash = ""
	return HashJSON(result)
}

// ComputeEventHash hashes the chain-covered material of a trace event:
// every field except payload_json (covered through payload_hash) and
// event_hash itself (spec §4.7's "Event hash chain").
func ComputeEventHash(event TraceEvent) (string, error) {
	material := hashMaterial{
		EventID:       event.EventID,
		RunID:         event.RunID,
		StepID:        event.StepID,
		EventType:     event.EventType,
		OccurredAt:    event.OccurredAt,
		RecordedAt:    event.RecordedAt,
		ActorType:     event.ActorType,
		ActorID:       event.ActorID,
		PayloadHash:   event.PayloadHash,
		PrevEventHash: event.PrevEventHash,
	}
	return HashJSON(material)
}

// ComputeContextPackageHash hashes the inner context package of an
// envelope, independent of package_slot/source/the hash field itself —
// used whenever policy pruning or trust filtering mutates selected/
// excluded items and the envelope's package_hash must be recomputed.
func ComputeContextPackageHash(pkg ContextPackage) (string, error) {
	return HashJSON(pkg)
}

// ComputeRunManifestHash hashes a run manifest payload.
func ComputeRunManifestHash(manifest RunManifest) (string, error) {
	return HashJSON(manifest)
}

// ComputeWorkflowHash hashes a normalized workflow body; re-normalizing
// the same source MUST be a fixed point (spec §8 property 11).
func ComputeWorkflowHash(workflow NormalizedWorkflow) (string, error) {
	return HashJSON(workflow)
}

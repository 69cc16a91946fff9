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
)

// signatureStatusUnsigned is the manifest signature status recorded
// until a deployment configures a signer (§4.7 "Run manifest").
const signatureStatusUnsigned = "unsigned"

// finalizeRunManifest builds and persists the run manifest for a
// finished run: schema "run_manifest.v1", hashed, with a null
// signature until a signer is wired in.
func (o *Orchestrator) finalizeRunManifest(ctx context.Context, run domain.RunRecord, sourceYAMLHash string, normVersion uint32) error {
	manifest := domain.NewRunManifest(run, sourceYAMLHash, normVersion)
	hash, err := domain.ComputeRunManifestHash(manifest)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "compute run manifest hash")
	}
	if err := o.cfg.Store.UpdateRunManifest(ctx, run.RunID, hash, nil, signatureStatusUnsigned); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "persist run manifest")
	}
	return nil
}

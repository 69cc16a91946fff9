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

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// DisabledWriteApplier is the default WriteApplier: it never applies a
// proposal, recording it not_applied with the fixed reason code (§4.7
// step 13). Used whenever a deployment has not configured a live
// memory-write surface.
type DisabledWriteApplier struct{}

// NewDisabledWriteApplier builds the default, no-op applier.
func NewDisabledWriteApplier() *DisabledWriteApplier {
	return &DisabledWriteApplier{}
}

func (DisabledWriteApplier) Apply(_ context.Context, _ domain.RunID, _ string, _ domain.ProposedMemoryWrite) (WriteDisposition, error) {
	return WriteDisposition{Disposition: DispositionNotApplied, Reason: ReasonWritesDisabled}, nil
}

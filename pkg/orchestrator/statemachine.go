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

import "github.com/jordigilh/orchestrator-core/pkg/domain"

// IsTerminalStep reports whether a step status ends the scheduler's
// interest in that step: no further transaction will touch it.
func IsTerminalStep(s domain.StepStatus) bool {
	switch s {
	case domain.StepSucceeded, domain.StepFailed, domain.StepRejected, domain.StepSkipped:
		return true
	default:
		return false
	}
}

// blocksDependents reports whether a finished step's status prevents
// any step depending on it from becoming ready.
func blocksDependents(s domain.StepStatus) bool {
	switch s {
	case domain.StepFailed, domain.StepRejected, domain.StepSkipped:
		return true
	default:
		return false
	}
}

// IsTerminalRun reports whether a run status is final.
func IsTerminalRun(s domain.RunStatus) bool {
	switch s {
	case domain.RunSucceeded, domain.RunFailed, domain.RunRejected:
		return true
	default:
		return false
	}
}

// RunStatusFromSteps derives a run's terminal status from its steps'
// final statuses: rejected beats failed beats succeeded.
func RunStatusFromSteps(steps []domain.StepRecord) domain.RunStatus {
	anyFailed := false
	for _, s := range steps {
		if s.Status == domain.StepRejected {
			return domain.RunRejected
		}
		if s.Status == domain.StepFailed {
			anyFailed = true
		}
	}
	if anyFailed {
		return domain.RunFailed
	}
	return domain.RunSucceeded
}

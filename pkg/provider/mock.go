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

package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

const MockAdapterVersion = "mock-v1"

// MockAdapter is a deterministic function of (input_hash, model_id,
// adapter_version): the same inputs always produce the same response
// hashes, with no network or disk I/O (§4.6).
type MockAdapter struct{}

// NewMockAdapter builds the no-dependency mock adapter.
func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Name() string { return "mock" }

type mockResponse struct {
	Message string `json:"message"`
	Seed    string `json:"seed"`
}

func (a *MockAdapter) Invoke(ctx context.Context, request domain.StepRequest) (ProviderInvocation, error) {
	startedAt := domain.FormatRFC3339(domain.NowUTC())
	seed := fmt.Sprintf("%s:%s:%s", request.InputHash, request.Agent.Provider.ModelID, MockAdapterVersion)
	responseHash := domain.HashBytes([]byte(seed))

	response := mockResponse{
		Message: fmt.Sprintf("mock response for %s", request.StepKey),
		Seed:    seed,
	}
	responseJSON := rawMessageOrNull(response)

	requestSummary := struct {
		InputHash string `json:"input_hash"`
		ModelID   string `json:"model_id"`
	}{InputHash: request.InputHash, ModelID: request.Agent.Provider.ModelID}
	requestJSON := rawMessageOrNull(requestSummary)

	endedAt := domain.FormatRFC3339(domain.NowUTC())
	record := domain.ProviderCallRecord{
		ProviderName:   a.Name(),
		AdapterVersion: MockAdapterVersion,
		ModelID:        request.Agent.Provider.ModelID,
		RequestJSON:    requestJSON,
		RequestHash:    request.InputHash,
		ResponseJSON:   responseJSON,
		ResponseHash:   responseHash,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		Status:         "succeeded",
	}

	return ProviderInvocation{
		CallRecord: record,
		Output:     domain.StepOutputEnvelope{Message: response.Message, Payload: json.RawMessage(responseJSON)},
	}, nil
}

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
	"os"

	"github.com/go-logr/logr"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

const LangChainAdapterVersion = "langchain-v1"

// langChainParams is an agent's ProviderBinding.Params for the
// langchain adapter: an OpenAI-compatible endpoint (so the same
// adapter reaches local model servers and hosted OpenAI-compatible
// providers alike).
type langChainParams struct {
	BaseURL   string `json:"base_url,omitempty"`
	APIKeyEnv string `json:"api_key_env"`
}

// LangChainAdapter invokes a model through langchaingo's OpenAI-
// compatible client, giving the core a path to any provider
// langchaingo supports without a bespoke adapter per backend.
type LangChainAdapter struct {
	log logr.Logger
}

// NewLangChainAdapter builds the langchaingo-backed adapter.
func NewLangChainAdapter(log logr.Logger) *LangChainAdapter {
	return &LangChainAdapter{log: log}
}

func (a *LangChainAdapter) Name() string { return "langchain" }

func (a *LangChainAdapter) Invoke(ctx context.Context, request domain.StepRequest) (ProviderInvocation, error) {
	var params langChainParams
	if len(request.Agent.Provider.Params) > 0 {
		if err := json.Unmarshal(request.Agent.Provider.Params, &params); err != nil {
			return ProviderInvocation{}, apperr.Wrap(err, apperr.KindValidation, "parse langchain adapter params")
		}
	}
	apiKey := ""
	if params.APIKeyEnv != "" {
		apiKey = os.Getenv(params.APIKeyEnv)
	}

	var payload anthropicTaskPayload
	if err := json.Unmarshal(request.TaskPayload, &payload); err != nil {
		return ProviderInvocation{}, apperr.Wrap(err, apperr.KindValidation, "parse task payload for langchain adapter")
	}

	opts := []openai.Option{
		openai.WithModel(request.Agent.Provider.ModelID),
	}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}
	if params.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(params.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return ProviderInvocation{}, apperr.Wrap(err, apperr.KindConfiguration, "build langchain openai client")
	}

	startedAt := domain.FormatRFC3339(domain.NowUTC())
	completion, err := llms.GenerateFromSinglePrompt(ctx, llm, payload.Prompt)
	endedAt := domain.FormatRFC3339(domain.NowUTC())

	requestJSON := rawMessageOrNull(struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}{Model: request.Agent.Provider.ModelID, Prompt: payload.Prompt})

	record := domain.ProviderCallRecord{
		ProviderName:   a.Name(),
		AdapterVersion: LangChainAdapterVersion,
		ModelID:        request.Agent.Provider.ModelID,
		RequestJSON:    requestJSON,
		RequestHash:    request.InputHash,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
	}

	if err != nil {
		a.log.Info("langchain provider call failed", obslog.ProviderFields(a.Name(), request.Agent.Provider.ModelID).Err(err).KeysAndValues()...)
		return ProviderInvocation{}, apperr.Wrap(err, apperr.KindExternal, "langchain generate call failed")
	}

	responseJSON := rawMessageOrNull(struct {
		Text string `json:"text"`
	}{Text: completion})
	record.ResponseJSON = responseJSON
	record.ResponseHash = domain.HashBytes(responseJSON)
	record.Status = "succeeded"

	return ProviderInvocation{
		CallRecord: record,
		Output:     domain.StepOutputEnvelope{Message: completion, Payload: responseJSON},
	}, nil
}

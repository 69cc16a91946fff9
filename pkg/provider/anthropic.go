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

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-logr/logr"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

const AnthropicAdapterVersion = "anthropic-v1"

// anthropicParams is an agent's ProviderBinding.Params for the
// anthropic adapter: the environment variable holding the API key and
// an optional max_tokens override.
type anthropicParams struct {
	APIKeyEnv string `json:"api_key_env"`
	MaxTokens *int64 `json:"max_tokens,omitempty"`
}

// AnthropicAdapter invokes a Claude model through the official SDK,
// using a step's task payload text as the single user message.
type AnthropicAdapter struct {
	log logr.Logger
}

// NewAnthropicAdapter builds the Anthropic Messages API adapter.
func NewAnthropicAdapter(log logr.Logger) *AnthropicAdapter {
	return &AnthropicAdapter{log: log}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

type anthropicTaskPayload struct {
	Prompt string `json:"prompt"`
}

func (a *AnthropicAdapter) Invoke(ctx context.Context, request domain.StepRequest) (ProviderInvocation, error) {
	var params anthropicParams
	if len(request.Agent.Provider.Params) > 0 {
		if err := json.Unmarshal(request.Agent.Provider.Params, &params); err != nil {
			return ProviderInvocation{}, apperr.Wrap(err, apperr.KindValidation, "parse anthropic adapter params")
		}
	}
	apiKey := ""
	if params.APIKeyEnv != "" {
		apiKey = os.Getenv(params.APIKeyEnv)
	}
	if apiKey == "" {
		return ProviderInvocation{}, apperr.New(apperr.KindConfiguration, "anthropic adapter requires params.api_key_env to name a populated environment variable")
	}

	var payload anthropicTaskPayload
	if err := json.Unmarshal(request.TaskPayload, &payload); err != nil {
		return ProviderInvocation{}, apperr.Wrap(err, apperr.KindValidation, "parse task payload for anthropic adapter")
	}

	maxTokens := int64(1024)
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	startedAt := domain.FormatRFC3339(domain.NowUTC())

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Agent.Provider.ModelID),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(payload.Prompt)),
		},
	})
	endedAt := domain.FormatRFC3339(domain.NowUTC())

	requestJSON := rawMessageOrNull(struct {
		Model     string `json:"model"`
		MaxTokens int64  `json:"max_tokens"`
		Prompt    string `json:"prompt"`
	}{Model: request.Agent.Provider.ModelID, MaxTokens: maxTokens, Prompt: payload.Prompt})

	record := domain.ProviderCallRecord{
		ProviderName:   a.Name(),
		AdapterVersion: AnthropicAdapterVersion,
		ModelID:        request.Agent.Provider.ModelID,
		RequestJSON:    requestJSON,
		RequestHash:    request.InputHash,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
	}

	if err != nil {
		a.log.Info("anthropic provider call failed", obslog.ProviderFields(a.Name(), request.Agent.Provider.ModelID).Err(err).KeysAndValues()...)
		return ProviderInvocation{}, apperr.Wrap(err, apperr.KindExternal, "anthropic messages.new call failed")
	}

	text := ""
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	responseJSON := rawMessageOrNull(struct {
		Text         string `json:"text"`
		StopReason   string `json:"stop_reason"`
		InputTokens  int64  `json:"input_tokens"`
		OutputTokens int64  `json:"output_tokens"`
	}{Text: text, StopReason: string(message.StopReason), InputTokens: message.Usage.InputTokens, OutputTokens: message.Usage.OutputTokens})
	record.ResponseJSON = responseJSON
	record.ResponseHash = domain.HashBytes(responseJSON)
	record.Status = "succeeded"

	inputTokens := uint32(message.Usage.InputTokens)
	outputTokens := uint32(message.Usage.OutputTokens)
	record.InputTokens = &inputTokens
	record.OutputTokens = &outputTokens

	return ProviderInvocation{
		CallRecord: record,
		Output:     domain.StepOutputEnvelope{Message: text, Payload: responseJSON},
	}, nil
}

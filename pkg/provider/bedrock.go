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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/go-logr/logr"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

const BedrockAdapterVersion = "bedrock-v1"

// bedrockParams is an agent's ProviderBinding.Params for the bedrock
// adapter: the AWS region to resolve the runtime client against.
type bedrockParams struct {
	Region string `json:"region"`
}

// BedrockAdapter invokes a model through AWS Bedrock's InvokeModel API,
// passing the task payload through as the request body verbatim
// (Bedrock's per-model request shapes vary; callers are responsible
// for a task payload already shaped for the bound model).
type BedrockAdapter struct {
	log logr.Logger
}

// NewBedrockAdapter builds the Bedrock runtime adapter.
func NewBedrockAdapter(log logr.Logger) *BedrockAdapter {
	return &BedrockAdapter{log: log}
}

func (a *BedrockAdapter) Name() string { return "bedrock" }

func (a *BedrockAdapter) Invoke(ctx context.Context, request domain.StepRequest) (ProviderInvocation, error) {
	var params bedrockParams
	if len(request.Agent.Provider.Params) > 0 {
		if err := json.Unmarshal(request.Agent.Provider.Params, &params); err != nil {
			return ProviderInvocation{}, apperr.Wrap(err, apperr.KindValidation, "parse bedrock adapter params")
		}
	}

	var optFns []func(*config.LoadOptions) error
	if params.Region != "" {
		optFns = append(optFns, config.WithRegion(params.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return ProviderInvocation{}, apperr.Wrap(err, apperr.KindConfiguration, "load aws config for bedrock adapter")
	}
	client := bedrockruntime.NewFromConfig(cfg)

	startedAt := domain.FormatRFC3339(domain.NowUTC())
	out, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(request.Agent.Provider.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        request.TaskPayload,
	})
	endedAt := domain.FormatRFC3339(domain.NowUTC())

	record := domain.ProviderCallRecord{
		ProviderName:   a.Name(),
		AdapterVersion: BedrockAdapterVersion,
		ModelID:        request.Agent.Provider.ModelID,
		RequestJSON:    rawMessageOrNull(json.RawMessage(request.TaskPayload)),
		RequestHash:    request.InputHash,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
	}

	if err != nil {
		a.log.Info("bedrock provider call failed", obslog.ProviderFields(a.Name(), request.Agent.Provider.ModelID).Err(err).KeysAndValues()...)
		return ProviderInvocation{}, apperr.Wrap(err, apperr.KindExternal, "bedrock invoke_model call failed")
	}

	responseJSON := json.RawMessage(out.Body)
	if !json.Valid(responseJSON) {
		responseJSON = rawMessageOrNull(string(out.Body))
	}
	record.ResponseJSON = responseJSON
	record.ResponseHash = domain.HashBytes(responseJSON)
	record.Status = "succeeded"

	return ProviderInvocation{
		CallRecord: record,
		Output:     domain.StepOutputEnvelope{Message: "bedrock call succeeded", Payload: responseJSON},
	}, nil
}

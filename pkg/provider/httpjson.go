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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

const HTTPJSONAdapterVersion = "http-json-v1"

// httpJSONParams is an agent's ProviderBinding.Params for the
// http_json adapter (§4.6): required url, optional timeout_ms,
// headers, and auth_bearer_env (the name of an environment variable
// holding the bearer token).
type httpJSONParams struct {
	URL           string            `json:"url"`
	TimeoutMs     *uint64           `json:"timeout_ms,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	AuthBearerEnv *string           `json:"auth_bearer_env,omitempty"`
}

// HTTPJSONAdapter POSTs a step request's task payload to a configured
// URL and maps the HTTP response to a step outcome: 2xx is a succeeded
// provider call, non-2xx is a failed call with the response body
// captured (not a hard error), and a transport failure (DNS, dial,
// timeout) is a hard error since no call actually completed.
type HTTPJSONAdapter struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     logr.Logger
}

// NewHTTPJSONAdapter builds the HTTP-JSON adapter with a circuit
// breaker guarding the outbound call.
func NewHTTPJSONAdapter(log logr.Logger) *HTTPJSONAdapter {
	settings := gobreaker.Settings{
		Name:        "provider.http_json",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &HTTPJSONAdapter{
		client:  &http.Client{},
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

func (a *HTTPJSONAdapter) Name() string { return "http_json" }

func (a *HTTPJSONAdapter) Invoke(ctx context.Context, request domain.StepRequest) (ProviderInvocation, error) {
	var params httpJSONParams
	if len(request.Agent.Provider.Params) > 0 {
		if err := json.Unmarshal(request.Agent.Provider.Params, &params); err != nil {
			return ProviderInvocation{}, apperr.Wrap(err, apperr.KindValidation, "parse http_json adapter params")
		}
	}
	if params.URL == "" {
		return ProviderInvocation{}, apperr.New(apperr.KindValidation, "http_json adapter requires params.url")
	}

	timeout := 30 * time.Second
	if params.TimeoutMs != nil {
		timeout = time.Duration(*params.TimeoutMs) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestBody := rawMessageOrNull(request.TaskPayload)
	startedAt := domain.FormatRFC3339(domain.NowUTC())

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.doPost(callCtx, params, requestBody)
	})
	endedAt := domain.FormatRFC3339(domain.NowUTC())

	record := domain.ProviderCallRecord{
		ProviderName:   a.Name(),
		AdapterVersion: HTTPJSONAdapterVersion,
		ModelID:        request.Agent.Provider.ModelID,
		RequestJSON:    requestBody,
		RequestHash:    request.InputHash,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
	}

	if err != nil {
		a.log.Info("http_json provider call failed transport", obslog.ProviderFields(a.Name(), request.Agent.Provider.ModelID).Err(err).KeysAndValues()...)
		return ProviderInvocation{}, apperr.Wrap(err, apperr.KindExternal, "http_json transport error")
	}

	resp := result.(httpResponse)
	record.ResponseJSON = resp.body
	record.ResponseHash = domain.HashBytes(resp.body)

	if resp.statusCode >= 200 && resp.statusCode < 300 {
		record.Status = "succeeded"
		return ProviderInvocation{
			CallRecord: record,
			Output:     domain.StepOutputEnvelope{Message: "http_json call succeeded", Payload: resp.body},
		}, nil
	}

	errText := string(resp.body)
	record.Status = "failed"
	record.ErrorText = &errText
	return ProviderInvocation{CallRecord: record}, nil
}

type httpResponse struct {
	statusCode int
	body       json.RawMessage
}

func (a *HTTPJSONAdapter) doPost(ctx context.Context, params httpJSONParams, requestBody json.RawMessage) (httpResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, params.URL, bytes.NewReader(requestBody))
	if err != nil {
		return httpResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}
	if params.AuthBearerEnv != nil {
		if token := os.Getenv(*params.AuthBearerEnv); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return httpResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResponse{}, err
	}
	if !json.Valid(body) {
		body, _ = json.Marshal(string(body))
	}
	return httpResponse{statusCode: resp.StatusCode, body: body}, nil
}

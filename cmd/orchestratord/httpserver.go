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

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

const gracefulShutdownTimeout = 10 * time.Second

// serveCmd runs the optional HTTP façade: a thin, external-style layer
// over the core (spec §1's scope line keeps the core itself free of
// any transport), exposing run submission, replay, and the outcome
// projector's health check.
func serveCmd(ctx context.Context, a *app) error {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	router.Post("/runs", a.handleCreateRun)
	router.Get("/runs/{runID}", a.handleGetRun)
	router.Post("/runs/{runID}/replay", a.handleReplay)
	router.Post("/runs/{runID}/replay-audit", a.handleReplayAudit)
	router.Get("/healthz/projector", a.handleProjectorHealth)
	router.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: a.cfg.HTTPAddr, Handler: router}
	a.log.Info("starting orchestratord http facade", "addr", a.cfg.HTTPAddr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type runRequestBody struct {
	NormalizedWorkflow domain.NormalizedWorkflow `json:"normalized_workflow"`
	SourceFormat       string                    `json:"source_format"`
	SourceYAMLHash     string                    `json:"source_yaml_hash"`
}

func (a *app) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body runRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	normalizedJSON, err := domain.CanonicalJSON(body.NormalizedWorkflow)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	envelope := domain.NormalizedWorkflowEnvelope{
		SourceFormat:       body.SourceFormat,
		SourceYAMLHash:     body.SourceYAMLHash,
		NormalizedHash:     domain.HashBytes(normalizedJSON),
		NormalizedWorkflow: body.NormalizedWorkflow,
		NormalizedJSON:     normalizedJSON,
	}

	correlationID := middleware.GetReqID(r.Context())
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	run, err := a.orch.Run(r.Context(), envelope, runOptionsFor(a, &correlationID))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (a *app) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := domain.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	run, err := a.trace.GetRun(r.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "run_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *app) handleReplay(w http.ResponseWriter, r *http.Request) {
	runID, err := domain.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	newRun, err := a.orch.ReplayWithProviderRerun(r.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newRun)
}

func (a *app) handleReplayAudit(w http.ResponseWriter, r *http.Request) {
	runID, err := domain.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	result, err := a.orch.ReplayAudit(r.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleProjectorHealth surfaces the outcome store's trust projector
// status as a liveness/readiness style check, and feeds the same
// status into the orchestrator's lag gauge on every poll.
func (a *app) handleProjectorHealth(w http.ResponseWriter, r *http.Request) {
	check, err := a.outcomeDB.ProjectorCheck(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	a.metrics.ObserveProjectorStatus(check.Status)
	status := http.StatusOK
	if !check.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, check)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorBody{Code: code, Message: message})
}

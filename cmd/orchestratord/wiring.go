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
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/appconfig"
	"github.com/jordigilh/orchestrator-core/pkg/contextsource"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/orchestrator"
	"github.com/jordigilh/orchestrator-core/pkg/outcome"
	"github.com/jordigilh/orchestrator-core/pkg/policy"
	"github.com/jordigilh/orchestrator-core/pkg/provider"
	"github.com/jordigilh/orchestrator-core/pkg/tracestore"
	"github.com/jordigilh/orchestrator-core/pkg/trustgate"
)

// app bundles every long-lived component the binary's subcommands
// share, so main.go's subcommand handlers never reach past it into
// individual package constructors.
type app struct {
	cfg       *appconfig.Config
	trace     *tracestore.Store
	outcomeDB *outcome.Store
	rulesets  *outcome.RulesetRegistry
	orch      *orchestrator.Orchestrator
	metrics   *orchestrator.Metrics
	registry  *prometheus.Registry
	log       logr.Logger
}

// buildApp opens both databases, wires the capability seams behind
// orchestrator.Config, and starts the ruleset directory watch.
func buildApp(ctx context.Context, cfg *appconfig.Config, log logr.Logger) (*app, error) {
	trace, err := tracestore.Open(ctx, cfg.TraceDBPath, cfg.BusyTimeout)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "open trace store")
	}

	outcomeDB, err := outcome.Open(ctx, cfg.OutcomeDBPath, cfg.BusyTimeout, log)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "open outcome store")
	}

	rulesets, err := outcome.NewRulesetRegistry(ctx, outcomeDB, cfg.RulesetDir, log)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "load ruleset registry")
	}
	if err := rulesets.Watch(ctx); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "watch ruleset directory")
	}

	var pkgCache *contextsource.PackageCache
	if cfg.RedisEnabled {
		client := contextsource.NewRedisClient(cfg.RedisAddr, 0, log)
		pkgCache = contextsource.NewPackageCache(client, 5*time.Minute)
	}
	contextSource := contextsource.NewSource(contextsource.NewMockResolver(), pkgCache, log)

	policyEngine := policy.NewEngine(log)
	trustGate := trustgate.New(outcomeDB, log)

	toolGate, err := policy.NewToolGate(ctx, "", log)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, "prepare tool gate-point policy")
	}

	providers := provider.NewRegistry(
		provider.NewMockAdapter(),
		provider.NewHTTPJSONAdapter(log),
		provider.NewAnthropicAdapter(log),
		provider.NewBedrockAdapter(log),
		provider.NewLangChainAdapter(log),
	)

	registry := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(registry)

	orch, err := orchestrator.New(orchestrator.Config{
		Store:     trace,
		Context:   contextSource,
		Policy:    policyEngine,
		Trust:     trustGate,
		Providers: providers,
		ToolGate:  toolGate,
		Metrics:   metrics,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		trace:     trace,
		outcomeDB: outcomeDB,
		rulesets:  rulesets,
		orch:      orch,
		metrics:   metrics,
		registry:  registry,
		log:       log,
	}, nil
}

func (a *app) Close() {
	_ = a.rulesets.Close()
	_ = a.trace.Close()
	_ = a.outcomeDB.Close()
}

// runOptionsFor builds RunOptions defaulting as_of to now when the
// caller didn't supply one (§4.7's as_of_was_default flag), with an
// optional external correlation id for façade-originated runs.
func runOptionsFor(a *app, correlationID *string) orchestrator.RunOptions {
	return orchestrator.RunOptions{
		AsOf:                  domain.NowUTC(),
		AsOfWasDefault:        true,
		ExternalCorrelationID: correlationID,
	}
}

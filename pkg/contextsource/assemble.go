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

package contextsource

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// Source assembles a step's context packages against an upstream
// resolver, with an optional result cache.
type Source struct {
	resolver Resolver
	cache    *PackageCache
	log      logr.Logger
}

// NewSource builds a Source. pkgCache may be nil to disable caching.
func NewSource(resolver Resolver, pkgCache *PackageCache, log logr.Logger) *Source {
	return &Source{resolver: resolver, cache: pkgCache, log: log}
}

// Assemble resolves every declared query in order and returns the
// envelopes with package_slot 0..n-1 (§4.3). queries must be
// non-empty; callers normalize a step's implicit single-query task
// payload into a one-element slice before calling Assemble.
func (s *Source) Assemble(ctx context.Context, runID domain.RunID, stepKey string, asOf time.Time, queries []domain.ContextQuery) ([]domain.ContextPackageEnvelope, error) {
	if len(queries) == 0 {
		return nil, apperr.New(apperr.KindValidation, "context query list must not be empty")
	}

	envelopes := make([]domain.ContextPackageEnvelope, 0, len(queries))
	for slot, query := range queries {
		envelope, err := s.resolveOne(ctx, runID.String(), stepKey, slot, asOf, query)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, envelope)
	}

	s.log.Info("assembled context packages",
		obslog.ContextFields("assemble").RunID(runID.String()).StepKey(stepKey).Count(len(envelopes)).KeysAndValues()...)
	return envelopes, nil
}

func (s *Source) resolveOne(ctx context.Context, runID, stepKey string, slot int, asOf time.Time, query domain.ContextQuery) (domain.ContextPackageEnvelope, error) {
	if cached, ok := s.cache.get(ctx, runID, stepKey, slot); ok {
		return *cached, nil
	}

	pkg, source, err := s.resolve(ctx, asOf, query)
	if err != nil {
		return domain.ContextPackageEnvelope{}, err
	}

	pkg.Determinism.SnapshotID = fmt.Sprintf("%s:%s:%d", runID, stepKey, slot)
	hash, err := domain.ComputeContextPackageHash(pkg)
	if err != nil {
		return domain.ContextPackageEnvelope{}, apperr.Wrap(err, apperr.KindInfrastructure, "compute context package hash")
	}

	envelope := domain.ContextPackageEnvelope{
		PackageSlot:    slot,
		Source:         source,
		ContextPackage: pkg,
		PackageHash:    hash,
	}

	if err := s.cache.put(ctx, runID, stepKey, slot, envelope); err != nil {
		s.log.Info("context package cache write failed, continuing without cache",
			obslog.ContextFields("cache_put").Err(err).KeysAndValues()...)
	}
	return envelope, nil
}

func (s *Source) resolve(ctx context.Context, asOf time.Time, query domain.ContextQuery) (domain.ContextPackage, string, error) {
	mode := query.Mode
	if mode == "" {
		mode = domain.QueryModePolicy
	}

	switch mode {
	case domain.QueryModePolicy:
		pkg, err := s.resolver.ResolvePolicy(ctx, domain.QueryRequest{
			Text:     query.Text,
			Actor:    query.Actor,
			Action:   query.Action,
			Resource: query.Resource,
			AsOf:     asOf,
		})
		if err != nil {
			return domain.ContextPackage{}, "", apperr.Wrap(err, apperr.KindDependency, "resolve policy query")
		}
		return pkg, "memory_kernel.policy", nil

	case domain.QueryModeRecall:
		for _, rt := range query.RecordTypes {
			if !IsKnownRecordType(rt) {
				return domain.ContextPackage{}, "", apperr.New(apperr.KindValidation, "unknown record type in recall query").WithDetailsf("record_type=%s", rt)
			}
		}
		pkg, err := s.resolver.ResolveRecall(ctx, RecallQuery{
			Text:        query.Text,
			RecordTypes: query.RecordTypes,
			AsOf:        asOf,
		})
		if err != nil {
			return domain.ContextPackage{}, "", apperr.Wrap(err, apperr.KindDependency, "resolve recall query")
		}
		return pkg, "memory_kernel.recall", nil

	default:
		return domain.ContextPackage{}, "", apperr.New(apperr.KindValidation, "unknown context query mode").WithDetailsf("mode=%s", mode)
	}
}

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
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	rediscache "github.com/jordigilh/orchestrator-core/internal/cache"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// PackageCache is the optional result cache keyed by (run_id, step_key,
// package_slot), so a retried step transaction replays the same
// envelopes instead of re-querying the upstream resolver.
type PackageCache struct {
	cache *rediscache.Cache[domain.ContextPackageEnvelope]
}

// NewPackageCache scopes a redis client to the context-package prefix
// with the given entry TTL.
func NewPackageCache(client *rediscache.Client, ttl time.Duration) *PackageCache {
	return &PackageCache{cache: rediscache.NewCache[domain.ContextPackageEnvelope](client, "contextsource.package", ttl)}
}

// NewRedisClient is a thin constructor wrapper so callers configuring
// the optional cache don't need to import go-redis directly.
func NewRedisClient(addr string, db int, log logr.Logger) *rediscache.Client {
	return rediscache.NewClient(&redis.Options{Addr: addr, DB: db}, log)
}

func packageCacheKey(runID, stepKey string, slot int) string {
	return fmt.Sprintf("%s:%s:%d", runID, stepKey, slot)
}

func (c *PackageCache) get(ctx context.Context, runID, stepKey string, slot int) (*domain.ContextPackageEnvelope, bool) {
	if c == nil {
		return nil, false
	}
	envelope, err := c.cache.Get(ctx, packageCacheKey(runID, stepKey, slot))
	if err != nil {
		if !errors.Is(err, rediscache.ErrCacheMiss) {
			// A degraded cache must never fail context assembly; treat
			// any non-miss error (connectivity, serialization) as a
			// miss and fall through to the resolver.
			return nil, false
		}
		return nil, false
	}
	return envelope, true
}

func (c *PackageCache) put(ctx context.Context, runID, stepKey string, slot int, envelope domain.ContextPackageEnvelope) error {
	if c == nil {
		return nil
	}
	return c.cache.Set(ctx, packageCacheKey(runID, stepKey, slot), &envelope)
}

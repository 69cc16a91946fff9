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

// Package cache provides a type-safe Redis-backed cache, generalized
// from the teacher's pkg/cache/redis client so any component can cache
// JSON-serializable values behind a prefix and TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Client wraps a go-redis client with connection verification and
// structured logging, mirroring the teacher's rediscache.Client.
type Client struct {
	rdb *redis.Client
	log logr.Logger
}

// NewClient constructs a Client from redis.Options without connecting.
func NewClient(opts *redis.Options, log logr.Logger) *Client {
	return &Client{rdb: redis.NewClient(opts), log: log}
}

// EnsureConnection pings Redis, surfacing connectivity failures early
// rather than at the first Get/Set call.
func (c *Client) EnsureConnection(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return apperr.Wrap(err, apperr.KindDependency, "redis connection failed")
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Cache is a type-safe view over Client scoped to one key prefix and TTL.
type Cache[T any] struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewCache scopes a Client to a key prefix and a fixed entry TTL.
func NewCache[T any](client *Client, prefix string, ttl time.Duration) *Cache[T] {
	return &Cache[T]{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache[T]) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}

// Set serializes value as JSON and stores it under key with the cache's TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value *T) error {
	b, err := json.Marshal(value)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "marshal cache value")
	}
	if err := c.client.rdb.Set(ctx, c.redisKey(key), b, c.ttl).Err(); err != nil {
		return apperr.Wrap(err, apperr.KindDependency, "redis connection failed")
	}
	return nil
}

// Get returns the cached value for key, or ErrCacheMiss if absent/expired.
func (c *Cache[T]) Get(ctx context.Context, key string) (*T, error) {
	b, err := c.client.rdb.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, apperr.Wrap(err, apperr.KindDependency, "redis connection failed")
	}
	var value T
	if err := json.Unmarshal(b, &value); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "unmarshal cache value")
	}
	return &value, nil
}

package cache_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	rediscache "github.com/jordigilh/orchestrator-core/internal/cache"
)

var _ = Describe("redis cache", func() {
	var (
		ctx       context.Context
		miniRedis *miniredis.Miniredis
		client    *rediscache.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		miniRedis, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = rediscache.NewClient(&redis.Options{Addr: miniRedis.Addr()}, logr.Discard())
		Expect(client.EnsureConnection(ctx)).To(Succeed())
	})

	AfterEach(func() {
		_ = client.Close()
		miniRedis.Close()
	})

	It("stores and retrieves a struct value", func() {
		type envelope struct {
			Slot int    `json:"slot"`
			Hash string `json:"hash"`
		}
		c := rediscache.NewCache[envelope](client, "ctxpkg", 5*time.Minute)

		value := envelope{Slot: 0, Hash: "abc"}
		Expect(c.Set(ctx, "run-1:step-a:0", &value)).To(Succeed())

		got, err := c.Get(ctx, "run-1:step-a:0")
		Expect(err).NotTo(HaveOccurred())
		Expect(*got).To(Equal(value))
	})

	It("returns ErrCacheMiss for an absent key", func() {
		c := rediscache.NewCache[string](client, "ctxpkg", 5*time.Minute)
		_, err := c.Get(ctx, "missing")
		Expect(err).To(MatchError(rediscache.ErrCacheMiss))
	})

	It("expires entries after the TTL elapses", func() {
		c := rediscache.NewCache[string](client, "ctxpkg", 1*time.Second)
		value := "soon gone"
		Expect(c.Set(ctx, "k", &value)).To(Succeed())

		miniRedis.FastForward(2 * time.Second)

		_, err := c.Get(ctx, "k")
		Expect(err).To(MatchError(rediscache.ErrCacheMiss))
	})

	It("isolates keys by prefix", func() {
		c1 := rediscache.NewCache[string](client, "p1", 5*time.Minute)
		c2 := rediscache.NewCache[string](client, "p2", 5*time.Minute)
		v1, v2 := "one", "two"
		Expect(c1.Set(ctx, "shared", &v1)).To(Succeed())
		Expect(c2.Set(ctx, "shared", &v2)).To(Succeed())

		got1, err := c1.Get(ctx, "shared")
		Expect(err).NotTo(HaveOccurred())
		Expect(*got1).To(Equal("one"))

		got2, err := c2.Get(ctx, "shared")
		Expect(err).NotTo(HaveOccurred())
		Expect(*got2).To(Equal("two"))
	})
})

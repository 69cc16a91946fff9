package contextsource_test

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/orchestrator-core/pkg/contextsource"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

// countingResolver wraps a MockResolver and counts ResolvePolicy calls,
// so cache-hit tests can assert the resolver was not re-invoked.
type countingResolver struct {
	*contextsource.MockResolver
	policyCalls int
}

func (c *countingResolver) ResolvePolicy(ctx context.Context, query domain.QueryRequest) (domain.ContextPackage, error) {
	c.policyCalls++
	return c.MockResolver.ResolvePolicy(ctx, query)
}

var _ = Describe("context source assembly", func() {
	var (
		ctx      context.Context
		resolver *contextsource.MockResolver
		source   *contextsource.Source
		runID    domain.RunID
		asOf     time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		resolver = contextsource.NewMockResolver()
		source = contextsource.NewSource(resolver, nil, logr.Discard())
		runID = domain.NewRunID()
		asOf = time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	})

	It("assigns package_slot 0..n-1 in declared query order", func() {
		queries := []domain.ContextQuery{
			{Mode: domain.QueryModePolicy, Text: "policy query", Actor: "dev", Action: "read", Resource: "repo"},
			{Mode: domain.QueryModeRecall, Text: "recall query", RecordTypes: []domain.RecordType{domain.RecordDecision}},
		}

		envelopes, err := source.Assemble(ctx, runID, "step-a", asOf, queries)
		Expect(err).NotTo(HaveOccurred())
		Expect(envelopes).To(HaveLen(2))
		Expect(envelopes[0].PackageSlot).To(Equal(0))
		Expect(envelopes[0].Source).To(Equal("memory_kernel.policy"))
		Expect(envelopes[1].PackageSlot).To(Equal(1))
		Expect(envelopes[1].Source).To(Equal("memory_kernel.recall"))
	})

	It("stamps snapshot_id as run_id:step_key:package_slot and stabilizes the hash", func() {
		queries := []domain.ContextQuery{
			{Mode: domain.QueryModePolicy, Text: "policy query", Actor: "dev", Action: "read", Resource: "repo"},
		}

		envelopes, err := source.Assemble(ctx, runID, "step-a", asOf, queries)
		Expect(err).NotTo(HaveOccurred())
		Expect(envelopes[0].ContextPackage.Determinism.SnapshotID).To(Equal(fmt.Sprintf("%s:step-a:0", runID.String())))
		Expect(envelopes[0].ContextPackage.Determinism.SnapshotID).NotTo(Equal("upstream-nonce"))
		Expect(envelopes[0].PackageHash).NotTo(BeEmpty())
	})

	It("produces identical envelopes for a second run with the same inputs", func() {
		queries := []domain.ContextQuery{
			{Mode: domain.QueryModePolicy, Text: "policy query", Actor: "dev", Action: "read", Resource: "repo"},
		}

		first, err := source.Assemble(ctx, runID, "step-a", asOf, queries)
		Expect(err).NotTo(HaveOccurred())
		second, err := source.Assemble(ctx, runID, "step-a", asOf, queries)
		Expect(err).NotTo(HaveOccurred())
		Expect(second[0].PackageHash).To(Equal(first[0].PackageHash))
	})

	It("fails validation for an unknown recall record type", func() {
		queries := []domain.ContextQuery{
			{Mode: domain.QueryModeRecall, Text: "recall query", RecordTypes: []domain.RecordType{"not_a_record_type"}},
		}

		_, err := source.Assemble(ctx, runID, "step-a", asOf, queries)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown record type"))
	})

	It("rejects an empty query list", func() {
		_, err := source.Assemble(ctx, runID, "step-a", asOf, nil)
		Expect(err).To(HaveOccurred())
	})

	It("serves a repeated (run_id, step_key, package_slot) from cache without re-invoking the resolver", func() {
		miniRedis, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		defer miniRedis.Close()

		client := contextsource.NewRedisClient(miniRedis.Addr(), 0, logr.Discard())
		defer client.Close()
		pkgCache := contextsource.NewPackageCache(client, 5*time.Minute)

		counting := &countingResolver{MockResolver: contextsource.NewMockResolver()}
		cachedSource := contextsource.NewSource(counting, pkgCache, logr.Discard())

		queries := []domain.ContextQuery{
			{Mode: domain.QueryModePolicy, Text: "policy query", Actor: "dev", Action: "read", Resource: "repo"},
		}

		_, err = cachedSource.Assemble(ctx, runID, "step-a", asOf, queries)
		Expect(err).NotTo(HaveOccurred())
		Expect(counting.policyCalls).To(Equal(1))

		_, err = cachedSource.Assemble(ctx, runID, "step-a", asOf, queries)
		Expect(err).NotTo(HaveOccurred())
		Expect(counting.policyCalls).To(Equal(1))
	})
})

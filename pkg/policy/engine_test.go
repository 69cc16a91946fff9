package policy_test

import (
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/policy"
)

func itemFixture(memoryID string, recordType domain.RecordType) domain.ContextItem {
	return domain.ContextItem{
		MemoryVersionID: memoryID + "-v1",
		MemoryID:        memoryID,
		RecordType:      recordType,
		Version:         1,
		TruthStatus:     domain.TruthAsserted,
		Authority:       domain.AuthorityAuthoritative,
	}
}

func envelopeFixture(slot int, selected, excluded []domain.ContextItem) domain.ContextPackageEnvelope {
	return domain.ContextPackageEnvelope{
		PackageSlot: slot,
		Source:      "memory_kernel.policy",
		ContextPackage: domain.ContextPackage{
			SelectedItems: selected,
			ExcludedItems: excluded,
		},
	}
}

var _ = Describe("policy engine", func() {
	var engine *policy.Engine

	BeforeEach(func() {
		engine = policy.NewEngine(logr.Discard())
	})

	It("drops selected items whose record type is not allowed", func() {
		perms := domain.EffectivePermissions{AllowedRecordTypes: []domain.RecordType{domain.RecordDecision}}
		envelopes := []domain.ContextPackageEnvelope{
			envelopeFixture(0, []domain.ContextItem{
				itemFixture("mem-1", domain.RecordDecision),
				itemFixture("mem-2", domain.RecordConstraint),
			}, nil),
		}

		pruned, refs, err := engine.Prune(perms, envelopes)
		Expect(err).NotTo(HaveOccurred())
		Expect(pruned[0].ContextPackage.SelectedItems).To(HaveLen(1))
		Expect(pruned[0].ContextPackage.SelectedItems[0].MemoryID).To(Equal("mem-1"))
		Expect(refs).To(HaveLen(1))
		Expect(refs[0].ReasonCode).To(Equal(policy.ReasonRecordTypeNotAllowed))
		Expect(refs[0].MemoryID).To(Equal("mem-2"))
	})

	It("enforces max_context_items across all of a step's packages", func() {
		max := uint32(1)
		perms := domain.EffectivePermissions{MaxContextItems: &max}
		envelopes := []domain.ContextPackageEnvelope{
			envelopeFixture(0, []domain.ContextItem{itemFixture("mem-1", domain.RecordDecision)}, nil),
			envelopeFixture(1, []domain.ContextItem{itemFixture("mem-2", domain.RecordDecision)}, nil),
		}

		pruned, refs, err := engine.Prune(perms, envelopes)
		Expect(err).NotTo(HaveOccurred())
		Expect(pruned[0].ContextPackage.SelectedItems).To(HaveLen(1))
		Expect(pruned[1].ContextPackage.SelectedItems).To(HaveLen(0))
		Expect(refs).To(HaveLen(1))
		Expect(refs[0].ReasonCode).To(Equal(policy.ReasonMaxContextItemsExceeded))
		Expect(refs[0].MemoryID).To(Equal("mem-2"))
	})

	It("filters excluded items by record type with their own reason code", func() {
		perms := domain.EffectivePermissions{AllowedRecordTypes: []domain.RecordType{domain.RecordDecision}}
		envelopes := []domain.ContextPackageEnvelope{
			envelopeFixture(0, nil, []domain.ContextItem{itemFixture("mem-3", domain.RecordConstraint)}),
		}

		pruned, refs, err := engine.Prune(perms, envelopes)
		Expect(err).NotTo(HaveOccurred())
		Expect(pruned[0].ContextPackage.ExcludedItems).To(BeEmpty())
		Expect(refs).To(HaveLen(1))
		Expect(refs[0].ReasonCode).To(Equal(policy.ReasonExcludedRecordTypeNotAllowed))
	})

	It("recomputes the package hash after mutation", func() {
		perms := domain.EffectivePermissions{}
		envelopes := []domain.ContextPackageEnvelope{
			envelopeFixture(0, []domain.ContextItem{itemFixture("mem-1", domain.RecordDecision)}, nil),
		}
		envelopes[0].PackageHash = "stale"

		pruned, _, err := engine.Prune(perms, envelopes)
		Expect(err).NotTo(HaveOccurred())
		Expect(pruned[0].PackageHash).NotTo(Equal("stale"))
		Expect(pruned[0].PackageHash).NotTo(BeEmpty())
	})
})

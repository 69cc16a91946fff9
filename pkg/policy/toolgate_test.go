package policy_test

import (
	"context"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/policy"
)

var _ = Describe("tool gate-point policy", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("allows a tool present in allowed_tools using the default policy", func() {
		gate, err := policy.NewToolGate(ctx, "", logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		allowed, err := gate.Evaluate(ctx, "kubectl_get", domain.EffectivePermissions{AllowedTools: []string{"kubectl_get", "kubectl_describe"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("denies a tool absent from allowed_tools", func() {
		gate, err := policy.NewToolGate(ctx, "", logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		allowed, err := gate.Evaluate(ctx, "kubectl_delete", domain.EffectivePermissions{AllowedTools: []string{"kubectl_get"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("accepts a caller-supplied rego module", func() {
		module := `
package orchestrator.toolpolicy

default allow := false

allow if {
	input.tool == "always_allowed"
}
`
		gate, err := policy.NewToolGate(ctx, module, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		allowed, err := gate.Evaluate(ctx, "always_allowed", domain.EffectivePermissions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())

		denied, err := gate.Evaluate(ctx, "anything_else", domain.EffectivePermissions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(denied).To(BeFalse())
	})
})

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

package orchestrator_test

import (
	"context"
	"encoding/json"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/orchestrator"
	"github.com/jordigilh/orchestrator-core/pkg/provider"
)

func apperrExternal(message string) error {
	return apperr.New(apperr.KindExternal, message)
}

func agentFixture(name, providerName string) domain.AgentDefinition {
	return domain.AgentDefinition{
		AgentName: name,
		Role:      "worker",
		Provider:  domain.ProviderBinding{ProviderName: providerName, ModelID: "model-test"},
	}
}

func stepFixture(key, agentName string, deps ...string) domain.WorkflowStepDefinition {
	return domain.WorkflowStepDefinition{
		StepKey:   key,
		AgentName: agentName,
		Task:      json.RawMessage(`{"context_queries":[{"mode":"recall","text":"t"}]}`),
		DependsOn: deps,
	}
}

func envelopeFixture(workflow domain.NormalizedWorkflow) domain.NormalizedWorkflowEnvelope {
	normalized, _ := domain.CanonicalJSON(workflow)
	hash := domain.HashBytes(normalized)
	return domain.NormalizedWorkflowEnvelope{
		SourceFormat:       "yaml",
		SourceYAMLHash:     "source-hash",
		NormalizedHash:     hash,
		NormalizedWorkflow: workflow,
		NormalizedJSON:     normalized,
	}
}

var _ = Describe("Orchestrator Run", func() {
	var (
		store     *memStore
		providers *scriptedRegistry
	)

	BeforeEach(func() {
		store = newMemStore()
		providers = &scriptedRegistry{}
	})

	buildOrchestrator := func() *orchestrator.Orchestrator {
		o, err := orchestrator.New(orchestrator.Config{
			Store:     store,
			Context:   &fakeContextSource{itemsByStep: map[string][]domain.ContextItem{}},
			Policy:    passthroughPolicy{},
			Trust:     allowAllTrust{},
			Providers: providers,
			Log:       logr.Discard(),
		})
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	It("runs a single step to success and finalizes the manifest", func() {
		providers.adapter = &scriptedProvider{
			invocations: map[string]provider.ProviderInvocation{"p1": succeededInvocation("ok")},
		}
		workflow := domain.NormalizedWorkflow{
			WorkflowName:    "wf",
			WorkflowVersion: "v1",
			Agents:          []domain.AgentDefinition{agentFixture("agent-1", "p1")},
			Steps:           []domain.WorkflowStepDefinition{stepFixture("step-1", "agent-1")},
		}
		o := buildOrchestrator()
		run, err := o.Run(context.Background(), envelopeFixture(workflow), orchestrator.RunOptions{AsOf: domain.NowUTC()})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(domain.RunSucceeded))
		Expect(run.ManifestHash).NotTo(BeNil())

		steps, err := store.GetStepRecords(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(steps).To(HaveLen(1))
		Expect(steps[0].Status).To(Equal(domain.StepSucceeded))

		events, err := store.ListEventsForRun(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(events)).To(BeNumerically(">", 0))
		Expect(events[0].Event.PrevEventHash).To(BeNil())
		for i := 1; i < len(events); i++ {
			Expect(*events[i].Event.PrevEventHash).To(Equal(events[i-1].Event.EventHash))
		}
	})

	It("narrows allowed_tools through the tool gate before invoking the provider", func() {
		providers.adapter = &scriptedProvider{
			invocations: map[string]provider.ProviderInvocation{"p1": succeededInvocation("ok")},
		}
		agent := agentFixture("agent-1", "p1")
		agent.Permissions = domain.AgentPermissions{AllowedTools: []string{"search", "shell"}}
		workflow := domain.NormalizedWorkflow{
			WorkflowName: "wf",
			Agents:       []domain.AgentDefinition{agent},
			Steps:        []domain.WorkflowStepDefinition{stepFixture("step-1", "agent-1")},
		}
		o, err := orchestrator.New(orchestrator.Config{
			Store:     store,
			Context:   &fakeContextSource{itemsByStep: map[string][]domain.ContextItem{}},
			Policy:    passthroughPolicy{},
			Trust:     allowAllTrust{},
			Providers: providers,
			ToolGate:  denylistToolGate{deny: map[string]bool{"shell": true}},
			Log:       logr.Discard(),
		})
		Expect(err).NotTo(HaveOccurred())

		run, err := o.Run(context.Background(), envelopeFixture(workflow), orchestrator.RunOptions{AsOf: domain.NowUTC()})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(domain.RunSucceeded))

		steps, err := store.GetStepRecords(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(steps).To(HaveLen(1))

		var perms domain.EffectivePermissions
		Expect(json.Unmarshal(steps[0].PermissionsJSON, &perms)).To(Succeed())
		Expect(perms.AllowedTools).To(ConsistOf("search"))

		decisions, err := store.GetGateDecisionsForStep(context.Background(), steps[0].StepID)
		Expect(err).NotTo(HaveOccurred())
		var toolDecision *domain.GateDecisionRecord
		for i := range decisions {
			if decisions[i].GateName == "tool_gate" {
				toolDecision = &decisions[i]
			}
		}
		Expect(toolDecision).NotTo(BeNil())
		Expect(toolDecision.Decision).To(Equal(domain.GatePruned))
		Expect(toolDecision.ReasonCodes).To(ConsistOf("shell"))
	})

	It("skips a step whose dependency failed, with the dependency_not_satisfied reason", func() {
		providers.adapter = &scriptedProvider{
			errs: map[string]error{"p1": apperrExternal("boom")},
		}
		workflow := domain.NormalizedWorkflow{
			WorkflowName: "wf",
			Agents:       []domain.AgentDefinition{agentFixture("agent-1", "p1")},
			Steps: []domain.WorkflowStepDefinition{
				stepFixture("step-1", "agent-1"),
				stepFixture("step-2", "agent-1", "step-1"),
			},
		}
		o := buildOrchestrator()
		run, err := o.Run(context.Background(), envelopeFixture(workflow), orchestrator.RunOptions{AsOf: domain.NowUTC()})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(domain.RunFailed))

		steps, err := store.GetStepRecords(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		byKey := map[string]domain.StepRecord{}
		for _, s := range steps {
			byKey[s.StepKey] = s
		}
		Expect(byKey["step-1"].Status).To(Equal(domain.StepFailed))
		Expect(byKey["step-2"].Status).To(Equal(domain.StepSkipped))

		var errEnvelope domain.ErrorEnvelope
		Expect(json.Unmarshal(byKey["step-2"].ErrorJSON, &errEnvelope)).To(Succeed())
		Expect(errEnvelope.Code).To(Equal(orchestrator.ReasonDependencyNotSatisfied))
	})

	It("rejects a step whose required human gate is denied, without invoking the provider", func() {
		providers.adapter = &scriptedProvider{
			invocations: map[string]provider.ProviderInvocation{"p1": succeededInvocation("should not be reached")},
		}
		step := stepFixture("step-1", "agent-1")
		step.GatePoints = []string{"approve"}
		workflow := domain.NormalizedWorkflow{
			WorkflowName: "wf",
			Agents:       []domain.AgentDefinition{agentFixture("agent-1", "p1")},
			Steps:        []domain.WorkflowStepDefinition{step},
			Gates:        []domain.GatePointDefinition{{GateName: "approve", GateKind: domain.GateKindHuman, Required: true}},
		}
		o, err := orchestrator.New(orchestrator.Config{
			Store:      store,
			Context:    &fakeContextSource{itemsByStep: map[string][]domain.ContextItem{}},
			Policy:     passthroughPolicy{},
			Trust:      allowAllTrust{},
			Providers:  providers,
			HumanGates: orchestrator.NewAutoRejectGateDecider(),
			Log:        logr.Discard(),
		})
		Expect(err).NotTo(HaveOccurred())

		run, err := o.Run(context.Background(), envelopeFixture(workflow), orchestrator.RunOptions{AsOf: domain.NowUTC()})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(domain.RunRejected))

		steps, err := store.GetStepRecords(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(steps[0].Status).To(Equal(domain.StepRejected))

		calls, err := store.GetProviderCallsForStep(context.Background(), steps[0].StepID)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(BeEmpty())
	})

	It("marks a step failed with provider_invocation_failed when the adapter errors", func() {
		providers.adapter = &scriptedProvider{
			errs: map[string]error{"p1": apperrExternal("boom")},
		}
		workflow := domain.NormalizedWorkflow{
			WorkflowName: "wf",
			Agents:       []domain.AgentDefinition{agentFixture("agent-1", "p1")},
			Steps:        []domain.WorkflowStepDefinition{stepFixture("step-1", "agent-1")},
		}
		o := buildOrchestrator()
		run, err := o.Run(context.Background(), envelopeFixture(workflow), orchestrator.RunOptions{AsOf: domain.NowUTC()})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(domain.RunFailed))

		steps, err := store.GetStepRecords(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(steps).To(HaveLen(1))
		Expect(steps[0].Status).To(Equal(domain.StepFailed))

		var errEnvelope domain.ErrorEnvelope
		Expect(json.Unmarshal(steps[0].ErrorJSON, &errEnvelope)).To(Succeed())
		Expect(errEnvelope.Code).To(Equal(orchestrator.ReasonProviderInvocationFailed))

		calls, err := store.GetProviderCallsForStep(context.Background(), steps[0].StepID)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(BeEmpty())
	})
})

var _ = Describe("Orchestrator replay", func() {
	var (
		store     *memStore
		providers *scriptedRegistry
		o         *orchestrator.Orchestrator
	)

	BeforeEach(func() {
		store = newMemStore()
		providers = &scriptedRegistry{adapter: &scriptedProvider{
			invocations: map[string]provider.ProviderInvocation{"p1": succeededInvocation("ok")},
		}}
		var err error
		o, err = orchestrator.New(orchestrator.Config{
			Store:     store,
			Context:   &fakeContextSource{itemsByStep: map[string][]domain.ContextItem{}},
			Policy:    passthroughPolicy{},
			Trust:     allowAllTrust{},
			Providers: providers,
			Log:       logr.Discard(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	workflow := domain.NormalizedWorkflow{
		WorkflowName: "wf",
		Agents:       []domain.AgentDefinition{agentFixture("agent-1", "p1")},
		Steps:        []domain.WorkflowStepDefinition{stepFixture("step-1", "agent-1")},
	}

	It("reports a valid chain for a completed run", func() {
		run, err := o.Run(context.Background(), envelopeFixture(workflow), orchestrator.RunOptions{AsOf: domain.NowUTC()})
		Expect(err).NotTo(HaveOccurred())

		audit, err := o.ReplayAudit(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(audit.ChainValid).To(BeTrue())
		Expect(audit.BrokenAt).To(BeNil())
		Expect(audit.EventCount).To(BeNumerically(">", 0))
	})

	It("reports the first broken link in a corrupted chain", func() {
		run, err := o.Run(context.Background(), envelopeFixture(workflow), orchestrator.RunOptions{AsOf: domain.NowUTC()})
		Expect(err).NotTo(HaveOccurred())

		rows := store.events[run.RunID.String()]
		Expect(len(rows)).To(BeNumerically(">", 2))
		corrupted := "not-a-real-hash"
		rows[2].Event.PrevEventHash = &corrupted

		audit, err := o.ReplayAudit(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(audit.ChainValid).To(BeFalse())
		Expect(audit.BrokenAt).NotTo(BeNil())
		Expect(*audit.BrokenAt).To(Equal(rows[2].EventSeq))
	})

	It("re-executes a completed run as a new replay run without re-assembling context", func() {
		run, err := o.Run(context.Background(), envelopeFixture(workflow), orchestrator.RunOptions{AsOf: domain.NowUTC()})
		Expect(err).NotTo(HaveOccurred())

		newRun, err := o.ReplayWithProviderRerun(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(newRun.RunID).NotTo(Equal(run.RunID))
		Expect(newRun.ReplayOfRunID).NotTo(BeNil())
		Expect(*newRun.ReplayOfRunID).To(Equal(run.RunID))
		Expect(newRun.Status).To(Equal(domain.RunSucceeded))

		sourceEvents, err := store.ListEventsForRun(context.Background(), run.RunID)
		Expect(err).NotTo(HaveOccurred())
		var sawStarted, sawFinished bool
		for _, row := range sourceEvents {
			switch row.Event.EventType {
			case domain.EventReplayStarted:
				sawStarted = true
			case domain.EventReplayFinished:
				sawFinished = true
			}
		}
		Expect(sawStarted).To(BeTrue())
		Expect(sawFinished).To(BeTrue())
	})
})

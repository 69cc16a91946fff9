package tracestore_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/tracestore"
)

// legacyUpStatements strips goose's directive comments from a migration
// file and returns only its Up section, so a pre-memory_version_id
// schema can be laid down directly without going through goose's own
// version bookkeeping.
func legacyUpStatements(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "-- +goose Down" {
			break
		}
		switch trimmed {
		case "-- +goose Up", "-- +goose StatementBegin", "-- +goose StatementEnd":
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func tempDBPath(name string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("orchestrator-trace-test-%s-%s.sqlite", name, domain.NewRunID().String()))
}

func fixtureRun(runID domain.RunID) domain.RunRecord {
	now := domain.FormatRFC3339(domain.NowUTC())
	return domain.RunRecord{
		RunID:                   runID,
		WorkflowName:            "wf",
		WorkflowVersion:         "v1",
		WorkflowHash:            "hash",
		AsOf:                    now,
		AsOfWasDefault:          true,
		StartedAt:               now,
		Status:                  domain.RunRunning,
		EngineVersion:           "test",
		InvocationParamsJSON:    json.RawMessage(`{}`),
		ManifestSignatureStatus: "unsigned",
	}
}

func fixtureStep(runID domain.RunID, stepID domain.StepID) domain.StepRecord {
	return domain.StepRecord{
		StepID:          stepID,
		RunID:           runID,
		StepIndex:       0,
		StepKey:         "step",
		AgentName:       "agent",
		Status:          domain.StepRunning,
		TaskPayloadJSON: json.RawMessage(`{}`),
		ConstraintsJSON: json.RawMessage(`{}`),
		PermissionsJSON: json.RawMessage(`{}`),
		InputHash:       "input-hash",
	}
}

func fixturePackage() domain.ContextPackageEnvelope {
	now := domain.NowUTC()
	confidence := float32(0.9)
	selected := domain.ContextItem{
		Rank:            1,
		MemoryVersionID: "mvid-1",
		MemoryID:        "mem-1",
		RecordType:      domain.RecordConstraint,
		Version:         1,
		TruthStatus:     domain.TruthAsserted,
		Confidence:      &confidence,
		Authority:       domain.AuthorityAuthoritative,
		Why: domain.Why{
			Included: true,
			Reasons:  []string{"fixture"},
		},
	}
	pkg := domain.ContextPackage{
		ContextPackageID: "pkg",
		GeneratedAt:      now,
		Query: domain.QueryRequest{
			Text:     "t",
			Actor:    "a",
			Action:   "act",
			Resource: "res",
			AsOf:     now,
		},
		Determinism: domain.DeterminismMetadata{
			RulesetVersion: "mk.v1",
			SnapshotID:     "snap",
			TieBreakers:    []string{"x"},
		},
		Answer: domain.Answer{
			Result: domain.AnswerAllow,
			Why:    "fixture",
		},
		SelectedItems: []domain.ContextItem{selected},
		OrderingTrace: []string{"fixture"},
	}
	hash, _ := domain.ComputeContextPackageHash(pkg)
	return domain.ContextPackageEnvelope{
		PackageSlot:    0,
		Source:         "recall",
		ContextPackage: pkg,
		PackageHash:    hash,
	}
}

func openStore(name string) (*tracestore.Store, string) {
	ctx := context.Background()
	path := tempDBPath(name)
	store, err := tracestore.Open(ctx, path, 2*time.Second)
	Expect(err).NotTo(HaveOccurred())
	return store, path
}

var _ = Describe("tracestore", func() {
	var ctx context.Context
	var dbPath string

	BeforeEach(func() {
		ctx = context.Background()
		dbPath = ""
	})

	AfterEach(func() {
		if dbPath != "" {
			_ = os.Remove(dbPath)
		}
	})

	It("runs migrations idempotently and exposes manifest columns", func() {
		store, path := openStore("migrate")
		dbPath = path
		defer store.Close()

		runID := domain.NewRunID()
		Expect(store.UpsertWorkflowSnapshot(ctx, domain.WorkflowSnapshotRecord{
			WorkflowHash: "hash", NormalizationVersion: 1, SourceFormat: "yaml",
			SourceYAMLHash: "yaml-hash", NormalizedJSON: json.RawMessage(`{"x":1}`),
		})).To(Succeed())
		Expect(store.InsertRun(ctx, fixtureRun(runID))).To(Succeed())

		Expect(store.UpdateRunManifest(ctx, runID, "manifest-hash", nil, "unsigned")).To(Succeed())
		got, err := store.GetRun(ctx, runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(*got.ManifestHash).To(Equal("manifest-hash"))

		reopened, err := tracestore.Open(ctx, path, 2*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(reopened.Close()).To(Succeed())
	})

	It("rejects mutation of trace events", func() {
		store, path := openStore("append-only")
		dbPath = path
		defer store.Close()

		runID := domain.NewRunID()
		stepID := domain.NewStepID()
		Expect(store.UpsertWorkflowSnapshot(ctx, domain.WorkflowSnapshotRecord{
			WorkflowHash: "hash", NormalizationVersion: 1, SourceFormat: "yaml",
			SourceYAMLHash: "yaml-hash", NormalizedJSON: json.RawMessage(`{"x":1}`),
		})).To(Succeed())
		Expect(store.InsertRun(ctx, fixtureRun(runID))).To(Succeed())
		Expect(store.InsertStep(ctx, fixtureStep(runID, stepID))).To(Succeed())

		now := domain.FormatRFC3339(domain.NowUTC())
		event := domain.TraceEvent{
			EventID:     domain.NewEventID(),
			RunID:       runID,
			StepID:      &stepID,
			EventType:   domain.EventStepStarted,
			OccurredAt:  now,
			RecordedAt:  now,
			ActorType:   "system",
			ActorID:     "test",
			PayloadJSON: json.RawMessage(`{"k":"v"}`),
			PayloadHash: "payload",
			EventHash:   "event",
		}
		_, err := store.AppendEvent(ctx, event)
		Expect(err).NotTo(HaveOccurred())

		_, err = store.DB().ExecContext(ctx, "UPDATE trace_events SET actor_id = 'mutated' WHERE event_seq = 1")
		Expect(err).To(HaveOccurred())
	})

	It("round-trips a context package and persists a trust gate decision", func() {
		store, path := openStore("round-trip")
		dbPath = path
		defer store.Close()

		runID := domain.NewRunID()
		stepID := domain.NewStepID()
		Expect(store.UpsertWorkflowSnapshot(ctx, domain.WorkflowSnapshotRecord{
			WorkflowHash: "hash", NormalizationVersion: 1, SourceFormat: "yaml",
			SourceYAMLHash: "yaml-hash", NormalizedJSON: json.RawMessage(`{"x":1}`),
		})).To(Succeed())
		Expect(store.InsertRun(ctx, fixtureRun(runID))).To(Succeed())
		Expect(store.InsertStep(ctx, fixtureStep(runID, stepID))).To(Succeed())

		pkg := fixturePackage()
		Expect(store.AppendContextPackage(ctx, runID, stepID, pkg)).To(Succeed())

		memoryID := pkg.ContextPackage.SelectedItems[0].MemoryID
		memoryVersionID := pkg.ContextPackage.SelectedItems[0].MemoryVersionID
		version := uint32(1)
		rulesetVersion := uint32(1)
		Expect(store.AppendGateDecision(ctx, runID, stepID, domain.GateDecisionRecord{
			GateKind:             domain.GateKindTrust,
			GateName:             "trust",
			SubjectType:          "memory_ref",
			MemoryID:             &memoryID,
			Version:              &version,
			MemoryVersionID:      &memoryVersionID,
			Decision:             domain.GateApproved,
			ReasonCodes:          []string{"included"},
			DecidedBy:            "test",
			DecidedAt:            domain.FormatRFC3339(domain.NowUTC()),
			SourceRulesetVersion: &rulesetVersion,
			EvidenceJSON:         json.RawMessage(`{"k":"v"}`),
		})).To(Succeed())

		loaded, err := store.GetStepContextPackages(ctx, stepID)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(HaveLen(1))
		Expect(loaded[0].ContextPackage.SelectedItems).To(HaveLen(1))

		decisions, err := store.GetGateDecisionsForStep(ctx, stepID)
		Expect(err).NotTo(HaveOccurred())
		Expect(decisions).To(HaveLen(1))
	})

	It("rejects a trust/memory_ref gate decision missing memory_version_id", func() {
		store, path := openStore("trust-memory-version-required")
		dbPath = path
		defer store.Close()

		runID := domain.NewRunID()
		stepID := domain.NewStepID()
		Expect(store.UpsertWorkflowSnapshot(ctx, domain.WorkflowSnapshotRecord{
			WorkflowHash: "hash", NormalizationVersion: 1, SourceFormat: "yaml",
			SourceYAMLHash: "yaml-hash", NormalizedJSON: json.RawMessage(`{"x":1}`),
		})).To(Succeed())
		Expect(store.InsertRun(ctx, fixtureRun(runID))).To(Succeed())
		Expect(store.InsertStep(ctx, fixtureStep(runID, stepID))).To(Succeed())

		memoryID := "mem-1"
		version := uint32(1)
		err := store.AppendGateDecision(ctx, runID, stepID, domain.GateDecisionRecord{
			GateKind:    domain.GateKindTrust,
			GateName:    "trust",
			SubjectType: "memory_ref",
			MemoryID:    &memoryID,
			Version:     &version,
			Decision:    domain.GateApproved,
			ReasonCodes: []string{"included"},
			DecidedBy:   "test",
			DecidedAt:   domain.FormatRFC3339(domain.NowUTC()),
		})
		Expect(err).To(HaveOccurred())
	})

	It("migrates a pre-identity database, keeping legacy rows and enforcing the new trust/memory_ref identity on inserts after", func() {
		path := tempDBPath("legacy-trust-identity")
		dbPath = path

		upSQL, err := os.ReadFile(filepath.Join("migrations", "00001_init.sql"))
		Expect(err).NotTo(HaveOccurred())

		legacy, err := sql.Open("sqlite3", path)
		Expect(err).NotTo(HaveOccurred())
		_, err = legacy.ExecContext(ctx, legacyUpStatements(string(upSQL)))
		Expect(err).NotTo(HaveOccurred())
		_, err = legacy.ExecContext(ctx, `
			INSERT INTO step_gate_decisions
				(run_id, step_id, gate_kind, gate_name, subject_type, decision, reason_codes_json, decided_by, decided_at)
			VALUES
				('legacy-run', 'legacy-step', 'trust', 'trust_gate', 'memory_ref', 'rejected', '["legacy"]', 'legacy', '2026-02-07T00:00:00Z')`)
		Expect(err).NotTo(HaveOccurred())
		Expect(legacy.Close()).To(Succeed())

		store, err := tracestore.Open(ctx, path, 2*time.Second)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		var legacyCount int
		Expect(store.DB().GetContext(ctx, &legacyCount, `
			SELECT COUNT(*) FROM step_gate_decisions
			WHERE gate_kind = 'trust' AND subject_type = 'memory_ref' AND memory_version_id IS NULL`)).To(Succeed())
		Expect(legacyCount).To(Equal(1))

		_, err = store.DB().ExecContext(ctx, `
			INSERT INTO step_gate_decisions
				(run_id, step_id, gate_kind, gate_name, subject_type, decision, reason_codes_json, decided_by, decided_at)
			VALUES
				('new-run', 'new-step', 'trust', 'trust_gate', 'memory_ref', 'approved', '["included"]', 'test', '2026-02-07T00:00:00Z')`)
		Expect(err).To(HaveOccurred())
	})
})

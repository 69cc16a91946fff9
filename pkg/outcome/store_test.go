package outcome_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/orchestrator-core/pkg/domain"
	"github.com/jordigilh/orchestrator-core/pkg/outcome"
)

func tempOutcomeDBPath(name string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("orchestrator-outcome-test-%s-%s.sqlite", name, domain.NewRunID().String()))
}

func createMemoryRecordsSchema(path, ddl string) {
	db, err := sqlx.Connect("sqlite3", path)
	Expect(err).NotTo(HaveOccurred())
	defer db.Close()
	_, err = db.Exec(ddl)
	Expect(err).NotTo(HaveOccurred())
}

const canonicalMemoryRecordsDDL = `
	CREATE TABLE memory_records (
		memory_version_id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		UNIQUE(memory_id, version)
	)`

func openOutcomeStoreWithMemoryRecords(name string) (*outcome.Store, string) {
	path := tempOutcomeDBPath(name)
	createMemoryRecordsSchema(path, canonicalMemoryRecordsDDL)
	store, err := outcome.Open(context.Background(), path, 2*time.Second, logr.Discard())
	Expect(err).NotTo(HaveOccurred())
	return store, path
}

func fixtureEventInput(eventType domain.OutcomeEventType) outcome.OutcomeEventInput {
	return outcome.OutcomeEventInput{
		RulesetVersion: 1,
		MemoryID:       "mem-1",
		Version:        1,
		EventType:      eventType,
		OccurredAt:     domain.FormatRFC3339(domain.NowUTC()),
		Writer:         "tester",
		Justification:  "fixture",
	}
}

var _ = Describe("outcome store", func() {
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

	It("fails to open without an upstream memory_records table", func() {
		path := tempOutcomeDBPath("missing-memory-records")
		dbPath = path
		_, err := outcome.Open(ctx, path, 2*time.Second, logr.Discard())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("memory_records"))
	})

	It("opens successfully with an explicit unique index on identity columns", func() {
		path := tempOutcomeDBPath("explicit-index")
		dbPath = path
		createMemoryRecordsSchema(path, `
			CREATE TABLE memory_records (
				memory_version_id TEXT PRIMARY KEY,
				memory_id TEXT NOT NULL,
				version INTEGER NOT NULL
			);
			CREATE UNIQUE INDEX idx_memory_identity ON memory_records(memory_id, version);`)
		store, err := outcome.Open(ctx, path, 2*time.Second, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()
	})

	It("rejects mutation of outcome_events", func() {
		store, path := openOutcomeStoreWithMemoryRecords("append-only")
		dbPath = path
		defer store.Close()

		_, err := store.AppendEvent(ctx, fixtureEventInput(domain.OutcomeSuccess))
		Expect(err).NotTo(HaveOccurred())

		_, err = store.DB().ExecContext(ctx, "UPDATE outcome_events SET writer = 'mutated' WHERE event_seq = 1")
		Expect(err).To(HaveOccurred())
	})

	It("reports projector lag before replay and recovery after", func() {
		store, path := openOutcomeStoreWithMemoryRecords("projector-lag")
		dbPath = path
		defer store.Close()

		_, err := store.AppendEvent(ctx, fixtureEventInput(domain.OutcomeSuccess))
		Expect(err).NotTo(HaveOccurred())

		statusBefore, err := store.ProjectorStatus(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(statusBefore.LagEvents).To(Equal(int64(1)))
		Expect(statusBefore.StaleTrustRows).To(Equal(1))
		Expect(statusBefore.KeysWithEventsNoTrustRow).To(Equal(1))

		checkBefore, err := store.ProjectorCheck(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(checkBefore.Healthy).To(BeFalse())
		Expect(checkBefore.Issues).NotTo(BeEmpty())
		Expect(checkBefore.StaleKeySample).NotTo(BeEmpty())

		_, err = store.Replay(ctx, nil)
		Expect(err).NotTo(HaveOccurred())

		statusAfter, err := store.ProjectorStatus(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(statusAfter.LagEvents).To(Equal(int64(0)))
		Expect(statusAfter.StaleTrustRows).To(Equal(0))
		Expect(statusAfter.TrackedKeys).To(Equal(1))
		Expect(statusAfter.TrustRows).To(Equal(1))

		checkAfter, err := store.ProjectorCheck(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(checkAfter.Healthy).To(BeTrue())
		Expect(checkAfter.Issues).To(BeEmpty())
	})

	It("supports safe and exploration gate preview modes", func() {
		store, path := openOutcomeStoreWithMemoryRecords("gate-preview")
		dbPath = path
		defer store.Close()

		for i := 0; i < 3; i++ {
			_, err := store.AppendEvent(ctx, fixtureEventInput(domain.OutcomeSuccess))
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := store.Replay(ctx, nil)
		Expect(err).NotTo(HaveOccurred())

		key := outcome.MemoryKey{MemoryID: "mem-1", Version: 1}
		asOf := domain.FormatRFC3339(domain.NowUTC())

		safeDecisions, err := store.GatePreview(ctx, domain.RetrievalSafe, asOf, "ctx-1", []outcome.MemoryKey{key})
		Expect(err).NotTo(HaveOccurred())
		Expect(safeDecisions).To(HaveLen(1))
		Expect(safeDecisions[0].Include).To(BeTrue())

		explorationDecisions, err := store.GatePreview(ctx, domain.RetrievalExploration, asOf, "ctx-1", []outcome.MemoryKey{key})
		Expect(err).NotTo(HaveOccurred())
		Expect(explorationDecisions).To(HaveLen(1))
		Expect(explorationDecisions[0].Include).To(BeTrue())
	})

	It("excludes candidates with no trust snapshot yet", func() {
		store, path := openOutcomeStoreWithMemoryRecords("no-snapshot")
		dbPath = path
		defer store.Close()

		key := outcome.MemoryKey{MemoryID: "never-scored", Version: 1}
		decisions, err := store.GatePreview(ctx, domain.RetrievalSafe, domain.FormatRFC3339(domain.NowUTC()), "ctx-1", []outcome.MemoryKey{key})
		Expect(err).NotTo(HaveOccurred())
		Expect(decisions).To(HaveLen(1))
		Expect(decisions[0].Include).To(BeFalse())
		Expect(decisions[0].ReasonCodes).To(ContainElement("excluded.no_trust_snapshot"))
	})
})

package store

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NEAR-DevHub/devbot/common/id"
	"github.com/NEAR-DevHub/devbot/core/db"
	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

var _ = Describe("listQuery", func() {
	It("orders by full id with no filter", func() {
		sql, args := listQuery(ledger.PRFilter{})
		Expect(sql).To(HaveSuffix("FROM pull_requests ORDER BY full_id"))
		Expect(args).To(BeEmpty())
	})

	It("pages unmerged records", func() {
		sql, args := listQuery(ledger.PRFilter{Unmerged: true, Offset: 200, Limit: 100})
		Expect(sql).To(ContainSubstring("WHERE merged_at IS NULL AND NOT excluded AND NOT stale"))
		Expect(sql).To(HaveSuffix("ORDER BY full_id OFFSET $1 LIMIT $2"))
		Expect(args).To(Equal([]any{200, 100}))
	})

	It("orders an author's records newest first", func() {
		sql, args := listQuery(ledger.PRFilter{Author: "alice", Limit: 20})
		Expect(sql).To(ContainSubstring("WHERE author = $1"))
		Expect(sql).To(HaveSuffix("ORDER BY started_at DESC, full_id LIMIT $2"))
		Expect(args).To(Equal([]any{"alice", 20}))
	})

	It("orders executed records by merge time", func() {
		sql, _ := listQuery(ledger.PRFilter{Executed: true})
		Expect(sql).To(ContainSubstring("WHERE executed"))
		Expect(sql).To(HaveSuffix("ORDER BY merged_at, full_id"))
	})
})

// The postgres specs need a disposable database; they are skipped unless
// DEVBOT_TEST_DATABASE_URL points at one.
var _ = Describe("Ledger on postgres", Ordered, func() {
	var (
		ctx      context.Context
		database *db.DB
		machine  *ledger.Machine
	)

	BeforeAll(func() {
		dsn := os.Getenv("DEVBOT_TEST_DATABASE_URL")
		if dsn == "" {
			Skip("DEVBOT_TEST_DATABASE_URL not set")
		}
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		var err error
		database, err = db.New(ctx, db.Config{DSN: dsn})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(database.Close)

		Expect(database.Migrate(ctx)).To(Succeed())
		_, err = database.Conn().Exec(ctx, `TRUNCATE streak_user_data, streaks, user_period_data, excluded_prs, pull_requests, paused_repos, organizations`)
		Expect(err).NotTo(HaveOccurred())

		machine = ledger.NewMachine(NewLedger(database))
	})

	It("runs a contribution through to execution", func() {
		ref := domain.PRRef{Owner: "near", Repo: "core", Number: 1}
		started := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
		merged := started.Add(48 * time.Hour)

		_, err := machine.Apply(ctx, ledger.AllowOrganization{Org: "near"})
		Expect(err).NotTo(HaveOccurred())
		_, err = machine.Apply(ctx, ledger.SlothCalled{PR: ref, Author: "alice", StartedAt: started})
		Expect(err).NotTo(HaveOccurred())
		_, err = machine.Apply(ctx, ledger.SlothScored{FullID: ref.FullID(), Maintainer: "bob", Score: 8})
		Expect(err).NotTo(HaveOccurred())

		r, err := machine.Apply(ctx, ledger.SlothMerged{FullID: ref.FullID(), MergedAt: merged})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Executed).To(BeTrue())
		Expect(r.Score).To(Equal(uint32(8)))

		snap, err := machine.View(ctx, ledger.UserProfile{Handle: "alice", At: merged})
		Expect(err).NotTo(HaveOccurred())
		view := snap.(ledger.UserView)
		Expect(view.Periods).NotTo(BeEmpty())
		for _, p := range view.Periods {
			Expect(p.Data.TotalScore).To(Equal(uint32(8)))
			Expect(p.Data.PRsOpened).To(Equal(uint32(1)))
		}
	})

	It("keeps pauses per repository", func() {
		_, err := machine.Apply(ctx, ledger.PauseRepo{Org: "near", Repo: "docs"})
		Expect(err).NotTo(HaveOccurred())

		snap, err := machine.View(ctx, ledger.CheckInfo{PR: domain.PRRef{Owner: "near", Repo: "docs", Number: 1}})
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.(ledger.PRInfo).Paused).To(BeTrue())

		snap, err = machine.View(ctx, ledger.CheckInfo{PR: domain.PRRef{Owner: "near", Repo: "core", Number: 1}})
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.(ledger.PRInfo).Paused).To(BeFalse())
	})
})

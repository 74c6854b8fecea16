package ledger_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

type recordingSink struct {
	mu       sync.Mutex
	receipts []ledger.Receipt
	err      error
}

func (s *recordingSink) Publish(_ context.Context, r ledger.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return s.err
}

// failingStore wraps a memory store and fails every SavePeriod call.
type failingStore struct {
	*ledger.MemoryStore
}

func (f failingStore) WithTx(ctx context.Context, fn func(s ledger.Store) error) error {
	return f.MemoryStore.WithTx(ctx, func(s ledger.Store) error {
		return fn(failingTx{Store: s})
	})
}

type failingTx struct {
	ledger.Store
}

func (failingTx) SavePeriod(context.Context, string, string, ledger.UserPeriodData) error {
	return errors.New("disk full")
}

func pr(n int) domain.PRRef {
	return domain.PRRef{Owner: "near", Repo: "core", Number: n}
}

var _ = Describe("Machine", func() {
	var (
		ctx     context.Context
		store   *ledger.MemoryStore
		sink    *recordingSink
		machine *ledger.Machine
		client  *ledger.Client
	)

	started := date(2024, time.March, 4)
	merged := date(2024, time.March, 20)

	BeforeEach(func() {
		ctx = context.Background()
		store = ledger.NewMemoryStore()
		sink = &recordingSink{}
		machine = ledger.NewMachine(store,
			ledger.WithReceiptSink(sink),
			ledger.WithClock(func() time.Time { return merged }))
		client = ledger.NewClient(machine)

		_, err := machine.Apply(ctx, ledger.AllowOrganization{Org: "near"})
		Expect(err).NotTo(HaveOccurred())
	})

	info := func(ref domain.PRRef) ledger.PRInfo {
		i, err := client.CheckInfo(ctx, ref)
		Expect(err).NotTo(HaveOccurred())
		return i
	}

	profile := func(handle string, at time.Time) ledger.UserView {
		v, err := client.UserProfile(ctx, handle, at)
		Expect(err).NotTo(HaveOccurred())
		return v
	}

	periodData := func(v ledger.UserView, p ledger.TimePeriod) ledger.UserPeriodData {
		for _, s := range v.Periods {
			if s.Period == p {
				return s.Data
			}
		}
		Fail("period missing from view")
		return ledger.UserPeriodData{}
	}

	Describe("SlothCalled", func() {
		It("creates an open record", func() {
			r, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeTrue())
			Expect(r.PRID).To(Equal("near/core/1"))
			Expect(r.ID).NotTo(BeZero())

			i := info(pr(1))
			Expect(i.Exist).To(BeTrue())
			Expect(i.Allowed).To(BeTrue())
			Expect(i.Scored).To(BeFalse())
		})

		It("is a no-op the second time", func() {
			_, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())

			r, err := client.SlothCalled(ctx, pr(1), "bob", started.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())
			Expect(sink.receipts).To(HaveLen(2))
		})

		It("rejects organizations off the allow-list", func() {
			_, err := client.SlothCalled(ctx, domain.PRRef{Owner: "other", Repo: "x", Number: 1}, "alice", started)
			Expect(err).To(MatchError(ledger.ErrNotAllowed))
		})

		It("rejects paused repositories", func() {
			_, err := client.Pause(ctx, "near", "core")
			Expect(err).NotTo(HaveOccurred())

			_, err = client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).To(MatchError(ledger.ErrNotAllowed))
			Expect(info(pr(1)).Paused).To(BeTrue())
		})

		It("skips excluded contributions", func() {
			_, err := client.Exclude(ctx, "near/core/1")
			Expect(err).NotTo(HaveOccurred())

			r, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())
			Expect(info(pr(1)).Exist).To(BeFalse())
			Expect(info(pr(1)).Excluded).To(BeTrue())
		})

		It("requires a start time", func() {
			_, err := client.SlothCalled(ctx, pr(1), "alice", time.Time{})
			Expect(err).To(MatchError(ledger.ErrConsistency))
		})
	})

	Describe("SlothScored", func() {
		BeforeEach(func() {
			_, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())
		})

		DescribeTable("rejects scores out of range",
			func(score int) {
				_, err := client.SlothScored(ctx, "near/core/1", "maint", uint8(score))
				Expect(err).To(MatchError(ledger.ErrInvalidScore))
			},
			Entry("zero", 0),
			Entry("eleven", 11),
		)

		It("fails for unknown contributions", func() {
			_, err := client.SlothScored(ctx, "near/core/404", "maint", 5)
			Expect(err).To(MatchError(ledger.ErrNotFound))
		})

		It("does not aggregate before the merge", func() {
			r, err := client.SlothScored(ctx, "near/core/1", "maint", 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeTrue())
			Expect(r.Executed).To(BeFalse())

			Expect(info(pr(1)).Scored).To(BeTrue())
			Expect(periodData(profile("alice", merged), ledger.AllTime)).To(BeZero())
		})

		It("averages maintainer scores and replaces a maintainer's own score", func() {
			_, err := client.SlothScored(ctx, "near/core/1", "m1", 3)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothScored(ctx, "near/core/1", "m1", 8)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothScored(ctx, "near/core/1", "m2", 5)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())

			Expect(periodData(profile("alice", merged), ledger.AllTime).TotalScore).To(Equal(uint32(7)))
		})
	})

	Describe("executed transition", func() {
		BeforeEach(func() {
			_, err := client.SlothCalled(ctx, pr(1), "alice", date(2024, time.February, 27))
			Expect(err).NotTo(HaveOccurred())
		})

		It("executes when the score arrives after the merge", func() {
			_, err := client.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())
			Expect(info(pr(1)).Executed).To(BeFalse())

			r, err := client.SlothScored(ctx, "near/core/1", "maint", 6)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Executed).To(BeTrue())
			Expect(info(pr(1)).Executed).To(BeTrue())
		})

		It("folds score into merge buckets and the opening into start buckets", func() {
			_, err := client.SlothScored(ctx, "near/core/1", "maint", 6)
			Expect(err).NotTo(HaveOccurred())
			r, err := client.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Executed).To(BeTrue())

			march := profile("alice", merged)
			Expect(periodData(march, ledger.Month)).To(Equal(ledger.UserPeriodData{
				TotalScore: 6, ExecutedPRs: 1, PRsMerged: 1,
			}))
			Expect(periodData(march, ledger.AllTime)).To(Equal(ledger.UserPeriodData{
				TotalScore: 6, ExecutedPRs: 1, PRsMerged: 1, PRsOpened: 1,
			}))

			february := profile("alice", date(2024, time.February, 27))
			Expect(periodData(february, ledger.Month)).To(Equal(ledger.UserPeriodData{PRsOpened: 1}))
		})

		It("ignores scores and merges after execution", func() {
			_, err := client.SlothScored(ctx, "near/core/1", "maint", 6)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())

			r, err := client.SlothScored(ctx, "near/core/1", "other", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())

			r, err = client.SlothMerged(ctx, "near/core/1", merged.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())

			Expect(periodData(profile("alice", merged), ledger.AllTime).TotalScore).To(Equal(uint32(6)))
		})

		It("requires a merge time", func() {
			_, err := client.SlothMerged(ctx, "near/core/1", time.Time{})
			Expect(err).To(MatchError(ledger.ErrConsistency))
		})

		It("never executes an excluded contribution", func() {
			_, err := client.Exclude(ctx, "near/core/1")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothScored(ctx, "near/core/1", "maint", 6)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())

			i := info(pr(1))
			Expect(i.Excluded).To(BeTrue())
			Expect(i.Executed).To(BeFalse())
			Expect(periodData(profile("alice", merged), ledger.AllTime)).To(BeZero())
		})

		It("rolls back everything when the store fails mid-transition", func() {
			c := ledger.NewClient(ledger.NewMachine(failingStore{store}))
			_, err := c.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.SlothScored(ctx, "near/core/1", "maint", 6)
			Expect(err).To(MatchError(ContainSubstring("disk full")))

			i := info(pr(1))
			Expect(i.Merged).To(BeTrue())
			Expect(i.Scored).To(BeFalse())
			Expect(i.Executed).To(BeFalse())
		})
	})

	Describe("SlothStale", func() {
		BeforeEach(func() {
			_, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())
		})

		It("flags open contributions and drops them from the unmerged list", func() {
			r, err := client.SlothStale(ctx, "near/core/1")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeTrue())

			refs, err := client.UnmergedPRs(ctx, 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(refs).To(BeEmpty())
		})

		It("ignores merged and unknown contributions", func() {
			_, err := client.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())

			r, err := client.SlothStale(ctx, "near/core/1")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())

			r, err = client.SlothStale(ctx, "near/core/404")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())
		})

		It("is cleared by a later merge", func() {
			_, err := client.SlothStale(ctx, "near/core/1")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())

			recs, err := client.UserContributions(ctx, "alice", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].State()).To(Equal(ledger.StateMerged))
		})
	})

	Describe("pause and unpause", func() {
		It("is idempotent both ways", func() {
			r, err := client.Pause(ctx, "near", "core")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeTrue())

			r, err = client.Pause(ctx, "near", "core")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())

			Expect(info(pr(1)).Allowed).To(BeFalse())
			Expect(info(pr(1)).AllowedOrg).To(BeTrue())

			r, err = client.Unpause(ctx, "near", "core")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeTrue())
			Expect(info(pr(1)).Allowed).To(BeTrue())

			r, err = client.Unpause(ctx, "near", "core")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())
		})
	})

	Describe("organizations", func() {
		It("disallows and re-allows", func() {
			_, err := machine.Apply(ctx, ledger.DisallowOrganization{Org: "near"})
			Expect(err).NotTo(HaveOccurred())
			Expect(info(pr(1)).AllowedOrg).To(BeFalse())

			r, err := machine.Apply(ctx, ledger.AllowOrganization{Org: "near"})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeTrue())
			Expect(info(pr(1)).AllowedOrg).To(BeTrue())
		})
	})

	Describe("ExcludePR", func() {
		It("does not exclude an executed contribution", func() {
			_, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothScored(ctx, "near/core/1", "maint", 4)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())

			r, err := client.Exclude(ctx, "near/core/1")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())
			Expect(info(pr(1)).Excluded).To(BeFalse())
		})

		It("keeps the exclusion when asked twice", func() {
			_, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())

			r, err := client.Exclude(ctx, "near/core/1")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeTrue())

			r, err = client.Exclude(ctx, "near/core/1")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeFalse())
			Expect(info(pr(1)).Excluded).To(BeTrue())
		})
	})

	Describe("streaks", func() {
		var monthly int64

		BeforeEach(func() {
			r, err := machine.Apply(ctx, ledger.AddStreak{
				Name:     "monthly merge",
				Period:   ledger.Month,
				Criteria: []ledger.Criterion{{Kind: ledger.PRsMerged, Value: 1}},
			})
			Expect(err).NotTo(HaveOccurred())
			monthly = r.StreakID
		})

		execute := func(n int, author string, at time.Time) {
			_, err := client.SlothCalled(ctx, pr(n), author, at.Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothScored(ctx, pr(n).FullID(), "maint", 5)
			Expect(err).NotTo(HaveOccurred())
			r, err := client.SlothMerged(ctx, pr(n).FullID(), at)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Executed).To(BeTrue())
		}

		progress := func(handle string) ledger.StreakUserData {
			for _, s := range profile(handle, merged).Streaks {
				if s.Streak.ID == monthly {
					return s.Progress
				}
			}
			Fail("streak missing from view")
			return ledger.StreakUserData{}
		}

		It("assigns increasing ids", func() {
			r, err := machine.Apply(ctx, ledger.AddStreak{
				Name:     "weekly",
				Period:   ledger.Week,
				Criteria: []ledger.Criterion{{Kind: ledger.PRsOpened, Value: 1}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.StreakID).To(Equal(monthly + 1))
		})

		It("rejects streaks on all time", func() {
			_, err := machine.Apply(ctx, ledger.AddStreak{
				Name:     "forever",
				Period:   ledger.AllTime,
				Criteria: []ledger.Criterion{{Kind: ledger.PRsOpened, Value: 1}},
			})
			Expect(err).To(MatchError(ledger.ErrConsistency))
		})

		It("counts consecutive buckets", func() {
			execute(1, "alice", date(2024, time.January, 10))
			execute(2, "alice", date(2024, time.February, 10))
			execute(3, "alice", date(2024, time.March, 10))

			p := progress("alice")
			Expect(p.Amount).To(Equal(uint32(3)))
			Expect(p.Best).To(Equal(uint32(3)))
			Expect(p.LatestTimeString).To(Equal("032024"))
		})

		It("restarts at one after a gap", func() {
			execute(1, "bob", date(2024, time.January, 10))
			execute(2, "bob", date(2024, time.March, 10))

			p := progress("bob")
			Expect(p.Amount).To(Equal(uint32(1)))
			Expect(p.LatestTimeString).To(Equal("032024"))
		})

		It("does not extend twice inside one bucket", func() {
			execute(1, "carol", date(2024, time.March, 1))
			execute(2, "carol", date(2024, time.March, 2))
			Expect(progress("carol").Amount).To(Equal(uint32(1)))
		})

		It("breaks the run when a later bucket fails", func() {
			_, err := machine.Apply(ctx, ledger.SetStreakActive{ID: monthly, Active: false})
			Expect(err).NotTo(HaveOccurred())
			r, err := machine.Apply(ctx, ledger.AddStreak{
				Name:     "two a month",
				Period:   ledger.Month,
				Criteria: []ledger.Criterion{{Kind: ledger.PRsMerged, Value: 2}},
			})
			Expect(err).NotTo(HaveOccurred())
			monthly = r.StreakID

			execute(1, "dave", date(2024, time.January, 10))
			execute(2, "dave", date(2024, time.January, 11))
			Expect(progress("dave").Amount).To(Equal(uint32(1)))

			execute(3, "dave", date(2024, time.February, 10))
			Expect(progress("dave").Amount).To(Equal(uint32(1)))

			execute(4, "dave", date(2024, time.April, 10))
			p := progress("dave")
			Expect(p.Amount).To(BeZero())
			Expect(p.Best).To(Equal(uint32(1)))
		})

		It("does not move a run backwards when an old contribution executes late", func() {
			october := date(2023, time.October, 10)
			_, err := client.SlothCalled(ctx, pr(9), "frank", october.Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothMerged(ctx, pr(9).FullID(), october)
			Expect(err).NotTo(HaveOccurred())

			execute(1, "frank", date(2024, time.January, 10))
			execute(2, "frank", date(2024, time.February, 10))
			execute(3, "frank", date(2024, time.March, 10))

			r, err := client.SlothScored(ctx, pr(9).FullID(), "maint", 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Executed).To(BeTrue())

			p := progress("frank")
			Expect(p.Amount).To(Equal(uint32(3)))
			Expect(p.Best).To(Equal(uint32(3)))
			Expect(p.LatestTimeString).To(Equal("032024"))
			Expect(periodData(profile("frank", october), ledger.Month).PRsMerged).To(Equal(uint32(1)))
		})

		It("skips inactive streaks", func() {
			_, err := machine.Apply(ctx, ledger.SetStreakActive{ID: monthly, Active: false})
			Expect(err).NotTo(HaveOccurred())

			execute(1, "erin", date(2024, time.January, 10))
			Expect(progress("erin").Amount).To(BeZero())
		})

		It("fails to toggle an unknown streak", func() {
			_, err := machine.Apply(ctx, ledger.SetStreakActive{ID: 999, Active: false})
			Expect(err).To(MatchError(ledger.ErrNotFound))
		})
	})

	Describe("receipts", func() {
		It("publishes applied mutations only", func() {
			_, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())

			Expect(sink.receipts).To(HaveLen(2))
			Expect(sink.receipts[0].Kind).To(Equal("allow_organization"))
			Expect(sink.receipts[1].Kind).To(Equal("sloth_called"))
			Expect(sink.receipts[1].ID).To(BeNumerically(">", sink.receipts[0].ID))
		})

		It("does not fail the mutation when the sink does", func() {
			sink.err = errors.New("redis down")
			r, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Applied).To(BeTrue())
		})
	})

	Describe("serialization", func() {
		It("lets exactly one concurrent score execute the contribution", func() {
			_, err := client.SlothCalled(ctx, pr(1), "alice", started)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothMerged(ctx, "near/core/1", merged)
			Expect(err).NotTo(HaveOccurred())

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				executed int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					r, err := client.SlothScored(ctx, "near/core/1", "maint", 5)
					Expect(err).NotTo(HaveOccurred())
					if r.Executed {
						mu.Lock()
						executed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Expect(executed).To(Equal(1))
			Expect(periodData(profile("alice", merged), ledger.AllTime).ExecutedPRs).To(Equal(uint32(1)))
		})
	})
})

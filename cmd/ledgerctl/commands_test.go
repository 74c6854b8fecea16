package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

var _ = Describe("ledgerctl commands", func() {
	var (
		ctx context.Context
		out *bytes.Buffer
		e   *env
	)

	BeforeEach(func() {
		ctx = context.Background()
		out = &bytes.Buffer{}
		e = &env{machine: ledger.NewMachine(ledger.NewMemoryStore()), out: out}
	})

	lastReceipt := func() ledger.Receipt {
		var r ledger.Receipt
		dec := json.NewDecoder(out)
		for dec.More() {
			Expect(dec.Decode(&r)).To(Succeed())
		}
		return r
	}

	It("allows and disallows an organization", func() {
		Expect(runAllowOrg(ctx, e, []string{"near"})).To(Succeed())
		Expect(lastReceipt().Applied).To(BeTrue())

		info, err := ledger.NewClient(e.machine).CheckInfo(ctx, domain.PRRef{Owner: "near", Repo: "core", Number: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(info.AllowedOrg).To(BeTrue())

		Expect(runDisallowOrg(ctx, e, []string{"near"})).To(Succeed())
		info, err = ledger.NewClient(e.machine).CheckInfo(ctx, domain.PRRef{Owner: "near", Repo: "core", Number: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(info.AllowedOrg).To(BeFalse())
	})

	It("requires exactly one positional argument", func() {
		Expect(runAllowOrg(ctx, e, nil)).To(MatchError(ContainSubstring("expected 1 argument(s), got 0")))
	})

	It("rejects malformed PR ids on exclude", func() {
		Expect(runExclude(ctx, e, []string{"near/core"})).To(MatchError(ContainSubstring("malformed pr id")))
		Expect(runExclude(ctx, e, []string{"near/core/7"})).To(Succeed())
		Expect(lastReceipt().Kind).To(Equal("exclude_pr"))
	})

	It("adds a streak from flags and toggles it", func() {
		Expect(runStreakAdd(ctx, e, []string{
			"--name", "weekly merge",
			"--period", "week",
			"--criterion", "prs_merged=1",
		})).To(Succeed())
		streakID := lastReceipt().StreakID
		Expect(streakID).NotTo(BeZero())

		Expect(runStreakToggle(ctx, e, []string{"--active=false", "1"})).To(Succeed())
		Expect(lastReceipt().Applied).To(BeTrue())

		streaks, err := ledger.NewClient(e.machine).Streaks(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(streaks).To(HaveLen(1))
		Expect(streaks[0].Name).To(Equal("weekly merge"))
		Expect(streaks[0].Active).To(BeFalse())
		Expect(streaks[0].Criteria).To(ConsistOf(ledger.Criterion{Kind: ledger.PRsMerged, Value: 1}))
	})

	It("loads streaks from a YAML file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "streaks.yaml")
		Expect(os.WriteFile(path, []byte(`
streaks:
  - name: weekly
    period: week
    criteria:
      - {kind: prs_opened, value: 1}
  - name: monthly score
    period: month
    criteria:
      - {kind: total_score, value: 8}
`), 0o600)).To(Succeed())

		Expect(runStreakAdd(ctx, e, []string{"-f", path})).To(Succeed())

		streaks, err := ledger.NewClient(e.machine).Streaks(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(streaks).To(HaveLen(2))
	})

	It("rejects bad streak input", func() {
		Expect(runStreakAdd(ctx, e, []string{"--period", "week"})).To(MatchError(ContainSubstring("--name is required")))
		Expect(runStreakAdd(ctx, e, []string{"--name", "x", "--period", "fortnight"})).To(HaveOccurred())
		Expect(runStreakAdd(ctx, e, []string{"--name", "x", "--period", "week", "--criterion", "prs_merged"})).
			To(MatchError(ContainSubstring("expected kind=value")))
		Expect(runStreakToggle(ctx, e, []string{"abc"})).To(MatchError(ContainSubstring("bad streak id")))
	})

	It("passes --help through as pflag.ErrHelp", func() {
		Expect(runUser(ctx, e, []string{"--help"})).To(MatchError(pflag.ErrHelp))
	})

	It("prints a user profile and rebuilds aggregates", func() {
		Expect(runUser(ctx, e, []string{"alice"})).To(Succeed())
		var view ledger.UserView
		Expect(json.Unmarshal(out.Bytes(), &view)).To(Succeed())
		Expect(view.Handle).To(Equal("alice"))

		out.Reset()
		Expect(runMigrate(ctx, e, nil)).To(Succeed())
		var report ledger.MigrationReport
		Expect(json.Unmarshal(out.Bytes(), &report)).To(Succeed())
		Expect(report.Records).To(BeZero())
	})
})

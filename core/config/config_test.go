package config_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NEAR-DevHub/devbot/core/config"
)

var _ = Describe("Load", func() {
	BeforeEach(func() {
		t := GinkgoT()
		t.Setenv("DEVBOT_ENV", "test")
		t.Setenv("GITHUB_TOKEN", "token")
		t.Setenv("GITHUB_BOT_HANDLE", "devbot")
		t.Setenv("DATABASE_URL", "")
		t.Setenv("REDIS_URL", "")
		t.Setenv("POLL_MODE", "inline")
	})

	It("applies defaults for the bot", func() {
		cfg, err := config.Load(config.ServiceTypeBot)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Poller.Mode).To(Equal(config.ModeInline))
		Expect(cfg.Poller.Interval).To(Equal(time.Minute))
		Expect(cfg.Poller.StaleAfter).To(Equal(14 * 24 * time.Hour))
		Expect(cfg.Pipeline.CursorKey).To(Equal("devbot:cursor"))
		Expect(cfg.DB.Enabled()).To(BeFalse())
		Expect(cfg.OTel.ServiceName).To(Equal("devbot-bot"))
	})

	It("requires the GitHub token and bot handle", func() {
		GinkgoT().Setenv("GITHUB_TOKEN", "")
		_, err := config.Load(config.ServiceTypeBot)
		Expect(err).To(MatchError(ContainSubstring("GITHUB_TOKEN")))
	})

	It("lets ledgerctl run without GitHub credentials", func() {
		GinkgoT().Setenv("GITHUB_TOKEN", "")
		_, err := config.Load(config.ServiceTypeLedgerCtl)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects queue mode without Redis and Postgres", func() {
		GinkgoT().Setenv("POLL_MODE", "queue")
		GinkgoT().Setenv("REDIS_URL", "redis://localhost:6379")
		_, err := config.Load(config.ServiceTypeBot)
		Expect(err).To(MatchError(ContainSubstring("required when POLL_MODE=queue")))
	})

	It("rejects unknown modes", func() {
		GinkgoT().Setenv("POLL_MODE", "webhook")
		_, err := config.Load(config.ServiceTypeBot)
		Expect(err).To(MatchError(ContainSubstring("unknown POLL_MODE")))
	})

	It("requires Redis and Postgres for the worker", func() {
		_, err := config.Load(config.ServiceTypeWorker)
		Expect(err).To(MatchError(ContainSubstring("required for the worker")))

		GinkgoT().Setenv("REDIS_URL", "redis://localhost:6379")
		GinkgoT().Setenv("DATABASE_URL", "postgres://localhost/devbot")
		cfg, err := config.Load(config.ServiceTypeWorker)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Pipeline.MaxAttempts).To(Equal(5))
		Expect(cfg.Pipeline.RedisConsumer).To(Equal("worker"))
	})

	It("ignores malformed numbers and keeps the default", func() {
		GinkgoT().Setenv("POLL_CONCURRENCY", "lots")
		cfg, err := config.Load(config.ServiceTypeBot)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Poller.Concurrency).To(Equal(8))
	})
})

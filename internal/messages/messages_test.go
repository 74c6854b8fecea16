package messages_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NEAR-DevHub/devbot/internal/messages"
)

var _ = Describe("Set", func() {
	var (
		ctx     context.Context
		globals messages.Vars
	)

	BeforeEach(func() {
		ctx = context.Background()
		globals = messages.Vars{
			"bot_name":         "race-bot",
			"link":             "https://example.org",
			"leaderboard_link": "https://example.org/board",
			"form":             "https://example.org/apply",
		}
	})

	It("defines every category", func() {
		set, err := messages.Load("", globals)
		Expect(err).NotTo(HaveOccurred())
		for _, c := range messages.Categories {
			Expect(set.Render(ctx, c, messages.Vars{
				"sender": "m", "pr_author_username": "a", "score": "5", "raw": "x", "org": "o",
			})).NotTo(BeEmpty(), string(c))
		}
	})

	It("substitutes globals at load time and vars at render time", func() {
		set, err := messages.Load("", globals)
		Expect(err).NotTo(HaveOccurred())

		text := set.Render(ctx, messages.Final, messages.Vars{"pr_author_username": "alice", "score": "8"})
		Expect(text).To(ContainSubstring("@alice"))
		Expect(text).To(ContainSubstring("8 points"))
		Expect(text).To(ContainSubstring("https://example.org/board"))

		Expect(set.Render(ctx, messages.IncludeBasic, messages.Vars{"pr_author_username": "alice"})).
			To(ContainSubstring("`@race-bot score [1-10]`"))
	})

	It("keeps a missing placeholder and logs a warning", func() {
		var buf bytes.Buffer
		prev := slog.Default()
		slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
		DeferCleanup(func() { slog.SetDefault(prev) })

		set, err := messages.Load("", globals)
		Expect(err).NotTo(HaveOccurred())

		text := set.Render(ctx, messages.ErrorSelfScore, nil)
		Expect(text).To(ContainSubstring("@{sender}"))
		Expect(buf.String()).To(ContainSubstring("message variable not provided"))
		Expect(buf.String()).To(ContainSubstring("variable=sender"))
	})

	It("does not re-expand placeholders inside values", func() {
		set, err := messages.Load("", globals)
		Expect(err).NotTo(HaveOccurred())

		text := set.Render(ctx, messages.ErrorInvalidScore, messages.Vars{"sender": "bob", "raw": "{sender}"})
		Expect(text).To(ContainSubstring(`"{sender}"`))
	})

	It("overlays an override file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "messages.yaml")
		Expect(os.WriteFile(path, []byte(`
leaderboard_link: https://override.example/board
messages:
  pause: "Paused by request."
`), 0o600)).To(Succeed())

		set, err := messages.Load(path, globals)
		Expect(err).NotTo(HaveOccurred())
		Expect(set.Render(ctx, messages.Pause, nil)).To(Equal("Paused by request."))
		Expect(set.Render(ctx, messages.Final, messages.Vars{"pr_author_username": "a", "score": "1"})).
			To(ContainSubstring("https://override.example/board"))
	})

	It("fails when the override file is unreadable", func() {
		_, err := messages.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"), globals)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an override that blanks a template", func() {
		path := filepath.Join(GinkgoT().TempDir(), "messages.yaml")
		Expect(os.WriteFile(path, []byte("messages:\n  stale: \"  \"\n"), 0o600)).To(Succeed())

		_, err := messages.Load(path, globals)
		Expect(err).To(MatchError(ContainSubstring("stale")))
	})
})

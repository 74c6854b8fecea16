package command_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NEAR-DevHub/devbot/internal/command"
	"github.com/NEAR-DevHub/devbot/internal/domain"
)

var _ = Describe("Parse", func() {
	pr := domain.PrMetadata{
		PRRef:     domain.PRRef{Owner: "near", Repo: "core", Number: 1},
		Author:    user("alice", domain.AssociationContributor),
		StartedAt: date(2024, 1, 1),
	}

	mention := func(body string) domain.Event {
		return domain.Event{
			Kind:           domain.EventKindMention,
			NotificationID: "n1",
			PR:             pr,
			Comment: &domain.Comment{
				ID:        42,
				Body:      &body,
				User:      user("bob", domain.AssociationMember),
				CreatedAt: date(2024, 1, 2),
			},
		}
	}

	DescribeTable("mention comments",
		func(body string, name string, raw string) {
			cmd, ok := command.Parse("devbot", mention(body))
			Expect(ok).To(BeTrue())
			Expect(cmd.Name()).To(Equal(name))

			t := command.TriggerOf(cmd)
			Expect(t.CommentID).To(Equal(int64(42)))
			Expect(t.NotificationID).To(Equal("n1"))
			Expect(t.Sender.Login).To(Equal("bob"))

			if score, isScore := cmd.(command.Score); isScore {
				Expect(score.Raw).To(Equal(raw))
			}
		},
		Entry("include", "@devbot include", "include", ""),
		Entry("include inside text", "hey @devbot include please", "include", ""),
		Entry("score", "@devbot score 7", "score", "7"),
		Entry("score keeps raw garbage", "@devbot score seven ", "score", "seven"),
		Entry("score stops at the line end", "@devbot score 5\nthanks", "score", "5"),
		Entry("pause", "@devbot pause", "pause", ""),
		Entry("unpause", "@devbot unpause", "unpause", ""),
		Entry("exclude", "@devbot exclude", "exclude", ""),
		Entry("first phrase wins", "@devbot score 3 and @devbot include", "include", ""),
	)

	It("ignores comments without a trigger phrase", func() {
		_, ok := command.Parse("devbot", mention("@devbot hello"))
		Expect(ok).To(BeFalse())

		_, ok = command.Parse("devbot", mention("@otherbot include"))
		Expect(ok).To(BeFalse())
	})

	It("ignores the bot's own comments", func() {
		ev := mention("@devbot include")
		ev.Comment.User = user("devbot", domain.AssociationNone)
		_, ok := command.Parse("devbot", ev)
		Expect(ok).To(BeFalse())
	})

	It("falls back to the html and text bodies", func() {
		text := "@devbot pause"
		ev := mention("")
		ev.Comment.Body = nil
		ev.Comment.BodyText = &text

		cmd, ok := command.Parse("devbot", ev)
		Expect(ok).To(BeTrue())
		Expect(cmd).To(BeAssignableToTypeOf(command.Pause{}))
	})

	It("ignores a mention without any body", func() {
		ev := mention("")
		ev.Comment.Body = nil
		_, ok := command.Parse("devbot", ev)
		Expect(ok).To(BeFalse())
	})

	It("builds a merge command from a merged state change", func() {
		merged := pr
		at := date(2024, 2, 1)
		merged.MergedAt = &at

		cmd, ok := command.Parse("devbot", domain.Event{Kind: domain.EventKindMerged, NotificationID: "n2", PR: merged})
		Expect(ok).To(BeTrue())
		Expect(cmd).To(BeAssignableToTypeOf(command.Merged{}))
		Expect(command.TriggerOf(cmd).Timestamp).To(Equal(at))
	})

	It("drops a state change without a merge time", func() {
		_, ok := command.Parse("devbot", domain.Event{Kind: domain.EventKindMerged, PR: pr})
		Expect(ok).To(BeFalse())
	})
})

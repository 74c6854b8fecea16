package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/NEAR-DevHub/devbot/common/logger"
	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/platform"
)

// Extractor turns notifications into events by reading each thread.
type Extractor struct {
	reader      platform.Reader
	botHandle   string
	concurrency int
}

func NewExtractor(reader platform.Reader, botHandle string, concurrency int) *Extractor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Extractor{reader: reader, botHandle: botHandle, concurrency: concurrency}
}

// Extract fetches threads concurrently but keeps the output ordered by
// notification, then by thread position. A thread that cannot be fetched
// is skipped and counted in failed; the rest of the batch goes on.
func (e *Extractor) Extract(ctx context.Context, notifications []domain.Notification) (events []domain.Event, failed int) {
	perThread := make([][]domain.Event, len(notifications))
	unread := make([]bool, len(notifications))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, n := range notifications {
		g.Go(func() error {
			evs, err := e.extractOne(gctx, n)
			perThread[i], unread[i] = evs, err != nil
			return nil
		})
	}
	_ = g.Wait()

	for i, evs := range perThread {
		if unread[i] {
			failed++
		}
		events = append(events, evs...)
	}
	return events, failed
}

func (e *Extractor) extractOne(ctx context.Context, n domain.Notification) ([]domain.Event, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		PRID:           logger.Ptr(n.PR.FullID()),
		NotificationID: logger.Ptr(n.ID),
	})

	pr, err := e.reader.GetPullRequest(ctx, n.PR)
	if err != nil {
		slog.WarnContext(ctx, "skipping notification, pull request unavailable", "error", err)
		return nil, err
	}
	comments, err := e.reader.ListComments(ctx, n.PR)
	if err != nil {
		slog.WarnContext(ctx, "skipping notification, comments unavailable", "error", err)
		return nil, err
	}

	mention := "@" + e.botHandle
	var newestFirst []domain.Event
	for i := len(comments) - 1; i >= 0; i-- {
		c := comments[i]
		// Everything before the bot's last reply was handled in an earlier cycle.
		if c.User.Login == e.botHandle {
			break
		}
		text, ok := c.Text()
		if !ok || !strings.Contains(text, mention) {
			continue
		}
		newestFirst = append(newestFirst, domain.Event{
			Kind:           domain.EventKindMention,
			NotificationID: n.ID,
			PR:             pr,
			Comment:        &c,
		})
	}

	events := make([]domain.Event, 0, len(newestFirst)+1)
	for i := len(newestFirst) - 1; i >= 0; i-- {
		events = append(events, newestFirst[i])
	}

	if n.Reason == domain.ReasonStateChange && pr.Merged() {
		events = append(events, domain.Event{
			Kind:           domain.EventKindMerged,
			NotificationID: n.ID,
			PR:             pr,
		})
	}
	return events, nil
}

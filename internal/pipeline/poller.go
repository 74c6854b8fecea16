package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/platform"
)

// Poller reads the notification feed since a cursor.
type Poller struct {
	reader platform.Reader
}

func NewPoller(reader platform.Reader) *Poller {
	return &Poller{reader: reader}
}

// Poll returns the relevant notifications updated after since, and the
// cursor the caller may advance to once they are handled. The returned
// cursor is never earlier than since.
func (p *Poller) Poll(ctx context.Context, since time.Time) ([]domain.Notification, time.Time, error) {
	all, err := p.reader.ListNotifications(ctx, since)
	if err != nil {
		return nil, since, fmt.Errorf("listing notifications: %w", err)
	}

	newSince := since
	kept := make([]domain.Notification, 0, len(all))
	for _, n := range all {
		if n.UpdatedAt.After(newSince) {
			newSince = n.UpdatedAt
		}
		if !n.Relevant() {
			continue
		}
		kept = append(kept, n)
	}

	slog.DebugContext(ctx, "polled notifications",
		"total", len(all),
		"relevant", len(kept),
		"since", since,
		"new_since", newSince)

	return kept, newSince, nil
}

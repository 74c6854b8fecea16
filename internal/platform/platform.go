// Package platform is the contract the bot needs from the code host.
package platform

import (
	"context"
	"time"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

// Reader fetches notifications and thread state.
type Reader interface {
	ListNotifications(ctx context.Context, since time.Time) ([]domain.Notification, error)
	GetPullRequest(ctx context.Context, ref domain.PRRef) (domain.PrMetadata, error)
	// ListComments returns the PR conversation oldest first.
	ListComments(ctx context.Context, ref domain.PRRef) ([]domain.Comment, error)
}

// Writer posts replies and acknowledgements.
type Writer interface {
	CreateComment(ctx context.Context, ref domain.PRRef, body string) error
	ReactToComment(ctx context.Context, ref domain.PRRef, commentID int64) error
	ReactToPullRequest(ctx context.Context, ref domain.PRRef) error
	MarkNotificationRead(ctx context.Context, notificationID string) error
}

type Platform interface {
	Reader
	Writer
}

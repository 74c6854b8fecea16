package ledger

import (
	"context"
	"time"
)

// PRFilter selects records for ListPRs. Zero values mean "any".
type PRFilter struct {
	Author string
	// Unmerged keeps records that are not merged, excluded or stale.
	Unmerged bool
	// Executed keeps executed records only, ordered by (merged_at, full id).
	Executed bool
	Offset   int
	Limit    int
}

// Store is the persistence contract of the ledger. Reads of absent rows
// return zero values except GetPR, which returns ErrNotFound.
type Store interface {
	GetPR(ctx context.Context, fullID string) (PRRecord, error)
	SavePR(ctx context.Context, rec PRRecord) error
	ListPRs(ctx context.Context, filter PRFilter) ([]PRRecord, error)

	GetOrganization(ctx context.Context, name string) (Organization, error)
	SaveOrganization(ctx context.Context, org Organization) error

	IsExcluded(ctx context.Context, fullID string) (bool, error)
	MarkExcluded(ctx context.Context, fullID string, at time.Time) error

	GetPeriod(ctx context.Context, handle, timeString string) (UserPeriodData, error)
	SavePeriod(ctx context.Context, handle, timeString string, data UserPeriodData) error

	ListStreaks(ctx context.Context) ([]Streak, error)
	SaveStreak(ctx context.Context, s Streak) error
	GetStreakProgress(ctx context.Context, streakID int64, handle string) (StreakUserData, error)
	SaveStreakProgress(ctx context.Context, p StreakUserData) error
	ListStreakProgress(ctx context.Context, handle string) ([]StreakUserData, error)

	// ResetDerived drops every aggregate and every streak progress row.
	ResetDerived(ctx context.Context) error
}

// TxRunner runs fn against a Store inside one transaction. When fn returns
// an error nothing it wrote is visible afterwards.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(s Store) error) error
}

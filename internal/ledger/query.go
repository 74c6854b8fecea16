package ledger

import (
	"time"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

// Query is a read request for View.
type Query interface {
	query()
}

// Snapshot is what View returns; its concrete type follows the query.
type Snapshot interface {
	snapshot()
}

type CheckInfo struct {
	PR domain.PRRef
}

// UnmergedPRs pages over open contributions. Pages are zero-based.
type UnmergedPRs struct {
	Page  int
	Limit int
}

// UserProfile returns per-period aggregates for the buckets holding At
// (now when zero), plus streak progress.
type UserProfile struct {
	Handle string
	At     time.Time
}

type UserContributions struct {
	Handle string
	Page   int
	Limit  int
}

type ListStreaks struct{}

func (CheckInfo) query()         {}
func (UnmergedPRs) query()       {}
func (UserProfile) query()       {}
func (UserContributions) query() {}
func (ListStreaks) query()       {}

type PRPage struct {
	Items []domain.PRRef
}

type PeriodSummary struct {
	Period     TimePeriod
	TimeString string
	Data       UserPeriodData
}

type StreakSummary struct {
	Streak   Streak
	Progress StreakUserData
}

// UserView is the read model of one contributor.
type UserView struct {
	Handle  string
	Periods []PeriodSummary
	Streaks []StreakSummary
}

type ContributionPage struct {
	Items []PRRecord
}

type StreakList struct {
	Items []Streak
}

func (PRInfo) snapshot()           {}
func (PRPage) snapshot()           {}
func (UserView) snapshot()         {}
func (ContributionPage) snapshot() {}
func (StreakList) snapshot()       {}

package ledger

import (
	"time"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

// Mutation is a state transition request. The set is closed: Apply switches
// over every variant.
type Mutation interface {
	Kind() string
	mutation()
}

// SlothCalled starts tracking a contribution.
type SlothCalled struct {
	PR        domain.PRRef
	Author    string
	StartedAt time.Time
}

// SlothScored records one maintainer's score.
type SlothScored struct {
	FullID     string
	Maintainer string
	Score      uint8
}

// SlothMerged confirms the merge. MergedAt must be set.
type SlothMerged struct {
	FullID   string
	MergedAt time.Time
}

type SlothStale struct {
	FullID string
}

type PauseRepo struct {
	Org  string
	Repo string
}

type UnpauseRepo struct {
	Org  string
	Repo string
}

// ExcludePR adds the id to the append-only exclusion set.
type ExcludePR struct {
	FullID string
}

type AllowOrganization struct {
	Org string
}

type DisallowOrganization struct {
	Org string
}

// AddStreak registers a streak; the machine assigns its id.
type AddStreak struct {
	Name     string
	Period   TimePeriod
	Criteria []Criterion
}

type SetStreakActive struct {
	ID     int64
	Active bool
}

func (SlothCalled) Kind() string          { return "sloth_called" }
func (SlothScored) Kind() string          { return "sloth_scored" }
func (SlothMerged) Kind() string          { return "sloth_merged" }
func (SlothStale) Kind() string           { return "sloth_stale" }
func (PauseRepo) Kind() string            { return "pause_repo" }
func (UnpauseRepo) Kind() string          { return "unpause_repo" }
func (ExcludePR) Kind() string            { return "exclude_pr" }
func (AllowOrganization) Kind() string    { return "allow_organization" }
func (DisallowOrganization) Kind() string { return "disallow_organization" }
func (AddStreak) Kind() string            { return "add_streak" }
func (SetStreakActive) Kind() string      { return "set_streak_active" }

func (SlothCalled) mutation()          {}
func (SlothScored) mutation()          {}
func (SlothMerged) mutation()          {}
func (SlothStale) mutation()           {}
func (PauseRepo) mutation()            {}
func (UnpauseRepo) mutation()          {}
func (ExcludePR) mutation()            {}
func (AllowOrganization) mutation()    {}
func (DisallowOrganization) mutation() {}
func (AddStreak) mutation()            {}
func (SetStreakActive) mutation()      {}

// Receipt describes what Apply did. Applied is false when the mutation was an
// idempotent no-op.
type Receipt struct {
	ID       int64     `json:"id"`
	Kind     string    `json:"kind"`
	PRID     string    `json:"pr_id,omitempty"`
	Applied  bool      `json:"applied"`
	Executed bool      `json:"executed"`
	Score    uint32    `json:"score,omitempty"`
	StreakID int64     `json:"streak_id,omitempty"`
	At       time.Time `json:"at"`
}

package ledger

import (
	"sort"
	"time"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

const (
	MinScore = 1
	MaxScore = 10
)

// State is the derived lifecycle state of a contribution.
type State string

const (
	StateOpen     State = "open"
	StateScored   State = "scored"
	StateMerged   State = "merged"
	StateExecuted State = "executed"
	StateExcluded State = "excluded"
	StateStale    State = "stale"
)

// PRRecord is the ledger's record of one contribution. Records are never
// deleted; exclusion and staleness are flags.
type PRRecord struct {
	Org       string
	Repo      string
	Number    int
	Author    string
	StartedAt time.Time
	MergedAt  *time.Time
	// Scores holds one score per maintainer login.
	Scores   map[string]uint8
	Excluded bool
	Stale    bool
	Executed bool
}

func (r PRRecord) Ref() domain.PRRef {
	return domain.PRRef{Owner: r.Org, Repo: r.Repo, Number: r.Number}
}

func (r PRRecord) FullID() string {
	return r.Ref().FullID()
}

func (r PRRecord) Scored() bool {
	return len(r.Scores) > 0
}

func (r PRRecord) Merged() bool {
	return r.MergedAt != nil
}

// Score is the rounded mean of the maintainer scores, 0 when unscored.
func (r PRRecord) Score() uint32 {
	if len(r.Scores) == 0 {
		return 0
	}
	var sum uint32
	for _, s := range r.Scores {
		sum += uint32(s)
	}
	n := uint32(len(r.Scores))
	return (sum + n/2) / n
}

func (r PRRecord) State() State {
	switch {
	case r.Excluded:
		return StateExcluded
	case r.Executed:
		return StateExecuted
	case r.Merged():
		return StateMerged
	case r.Stale:
		return StateStale
	case r.Scored():
		return StateScored
	default:
		return StateOpen
	}
}

// executable reports whether the record is ready for the executed transition.
func (r PRRecord) executable() bool {
	return !r.Executed && !r.Excluded && r.Scored() && r.Merged()
}

func (r PRRecord) clone() PRRecord {
	c := r
	if r.MergedAt != nil {
		m := *r.MergedAt
		c.MergedAt = &m
	}
	c.Scores = make(map[string]uint8, len(r.Scores))
	for k, v := range r.Scores {
		c.Scores[k] = v
	}
	return c
}

// Maintainers returns the logins that scored the record, sorted.
func (r PRRecord) Maintainers() []string {
	out := make([]string, 0, len(r.Scores))
	for k := range r.Scores {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Organization is an allow-list entry plus the repositories paused in it.
type Organization struct {
	Name    string
	Allowed bool
	Paused  map[string]bool
}

func (o Organization) RepoPaused(repo string) bool {
	return o.Paused[repo]
}

func (o Organization) clone() Organization {
	c := o
	c.Paused = make(map[string]bool, len(o.Paused))
	for k, v := range o.Paused {
		if v {
			c.Paused[k] = true
		}
	}
	return c
}

// PRInfo is the idempotency gate: a fresh view of what the ledger knows about
// one contribution. Callers re-read it before every mutating command.
type PRInfo struct {
	AllowedOrg bool
	// Allowed is AllowedOrg with the repository not paused.
	Allowed  bool
	Paused   bool
	Exist    bool
	Merged   bool
	Scored   bool
	Executed bool
	Excluded bool
}

// UserPeriodData is one user's aggregate in one bucket.
type UserPeriodData struct {
	TotalScore  uint32
	ExecutedPRs uint32
	PRsOpened   uint32
	PRsMerged   uint32
}

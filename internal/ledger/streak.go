package ledger

import (
	"fmt"
)

// CriterionKind names one streak condition.
type CriterionKind string

const (
	PRsOpened               CriterionKind = "prs_opened"
	PRsMerged               CriterionKind = "prs_merged"
	TotalScore              CriterionKind = "total_score"
	AverageScoreGreaterThan CriterionKind = "average_score_greater_than"
)

// Criterion is a threshold over a UserPeriodData bucket.
type Criterion struct {
	Kind  CriterionKind `json:"kind" yaml:"kind"`
	Value uint32        `json:"value" yaml:"value"`
}

func (c Criterion) Met(d UserPeriodData) bool {
	switch c.Kind {
	case PRsOpened:
		return d.PRsOpened >= c.Value
	case PRsMerged:
		return d.PRsMerged >= c.Value
	case TotalScore:
		return d.TotalScore >= c.Value
	case AverageScoreGreaterThan:
		if d.ExecutedPRs == 0 {
			return false
		}
		return d.TotalScore/d.ExecutedPRs > c.Value
	default:
		return false
	}
}

func (c Criterion) validate() error {
	switch c.Kind {
	case PRsOpened, PRsMerged, TotalScore, AverageScoreGreaterThan:
		return nil
	default:
		return fmt.Errorf("%w: unknown streak criterion %q", ErrConsistency, c.Kind)
	}
}

type Streak struct {
	ID       int64
	Name     string
	Period   TimePeriod
	Criteria []Criterion
	Active   bool
}

// Validate rejects streaks the machine can never evaluate.
func (s Streak) Validate() error {
	if s.Period == AllTime {
		return fmt.Errorf("%w: streak %q on %s", ErrConsistency, s.Name, AllTime)
	}
	if _, err := ParseTimePeriod(string(s.Period)); err != nil {
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	if len(s.Criteria) == 0 {
		return fmt.Errorf("%w: streak %q has no criteria", ErrConsistency, s.Name)
	}
	for _, c := range s.Criteria {
		if err := c.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Achieved reports whether every criterion holds for the bucket.
func (s Streak) Achieved(d UserPeriodData) bool {
	for _, c := range s.Criteria {
		if !c.Met(d) {
			return false
		}
	}
	return true
}

// StreakUserData is a user's running progress on one streak.
type StreakUserData struct {
	StreakID         int64
	Handle           string
	Amount           uint32
	Best             uint32
	LatestTimeString string
}

// advance applies the continuity rule for one evaluation in bucket current,
// whose predecessor is previous. It reports whether anything changed.
//
// A failed evaluation inside the current or the previous bucket leaves the run
// alone: the current bucket is still open and may yet be achieved.
func (p *StreakUserData) advance(achieved bool, current, previous string) bool {
	if achieved {
		switch {
		case p.LatestTimeString == current:
			return false
		case p.LatestTimeString == previous && p.Amount > 0:
			p.Amount++
		default:
			p.Amount = 1
		}
		p.LatestTimeString = current
		if p.Amount > p.Best {
			p.Best = p.Amount
		}
		return true
	}

	if p.LatestTimeString == current || p.LatestTimeString == previous || p.Amount == 0 {
		return false
	}
	p.Amount = 0
	return true
}

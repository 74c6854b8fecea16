package command

import (
	"time"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

// Trigger is what every command carries: the PR it targets, who asked, and
// what to acknowledge.
type Trigger struct {
	PR             domain.PrMetadata
	Sender         domain.User
	Timestamp      time.Time
	CommentID      int64  // 0 when no comment triggered it
	NotificationID string // "" when no notification triggered it
}

// Command is a closed union. The unexported method keeps other packages from
// adding variants the executor does not know about.
type Command interface {
	Name() string
	trigger() Trigger
}

// Start includes a PR in the race.
type Start struct{ Trigger }

// Score carries the raw text after the trigger phrase; it is validated at
// execution, not at parse time.
type Score struct {
	Trigger
	Raw string
}

type Pause struct{ Trigger }

type Unpause struct{ Trigger }

// Stale is issued by the sweeper for inactive or closed PRs.
type Stale struct{ Trigger }

type Exclude struct{ Trigger }

// Merged is synthesized from a state change that reports a merge time.
type Merged struct{ Trigger }

func (Start) Name() string   { return "include" }
func (Score) Name() string   { return "score" }
func (Pause) Name() string   { return "pause" }
func (Unpause) Name() string { return "unpause" }
func (Stale) Name() string   { return "stale" }
func (Exclude) Name() string { return "exclude" }
func (Merged) Name() string  { return "merged" }

func (c Start) trigger() Trigger   { return c.Trigger }
func (c Score) trigger() Trigger   { return c.Trigger }
func (c Pause) trigger() Trigger   { return c.Trigger }
func (c Unpause) trigger() Trigger { return c.Trigger }
func (c Stale) trigger() Trigger   { return c.Trigger }
func (c Exclude) trigger() Trigger { return c.Trigger }
func (c Merged) trigger() Trigger  { return c.Trigger }

// TriggerOf exposes a command's trigger to other packages.
func TriggerOf(c Command) Trigger {
	return c.trigger()
}

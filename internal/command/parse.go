package command

import (
	"strings"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

type phrase struct {
	verb  string
	build func(t Trigger, rest string) Command
}

// phrases are tried in order; the first one found in the comment wins.
var phrases = []phrase{
	{"include", func(t Trigger, _ string) Command { return Start{t} }},
	{"score", func(t Trigger, rest string) Command { return Score{Trigger: t, Raw: rest} }},
	{"pause", func(t Trigger, _ string) Command { return Pause{t} }},
	{"unpause", func(t Trigger, _ string) Command { return Unpause{t} }},
	{"exclude", func(t Trigger, _ string) Command { return Exclude{t} }},
}

// Parse maps an event to at most one command. It only decides which command
// applies; whether the command is valid is for the executor to say.
func Parse(botHandle string, ev domain.Event) (Command, bool) {
	switch ev.Kind {
	case domain.EventKindMerged:
		if ev.PR.MergedAt == nil {
			return nil, false
		}
		return Merged{Trigger{
			PR:             ev.PR,
			Timestamp:      *ev.PR.MergedAt,
			NotificationID: ev.NotificationID,
		}}, true
	case domain.EventKindMention:
		return parseMention(botHandle, ev)
	default:
		return nil, false
	}
}

func parseMention(botHandle string, ev domain.Event) (Command, bool) {
	if ev.Comment == nil || ev.Comment.User.Login == botHandle {
		return nil, false
	}
	body, ok := ev.Comment.Text()
	if !ok {
		return nil, false
	}

	t := Trigger{
		PR:             ev.PR,
		Sender:         ev.Comment.User,
		Timestamp:      ev.Comment.CreatedAt,
		CommentID:      ev.Comment.ID,
		NotificationID: ev.NotificationID,
	}

	for _, p := range phrases {
		trigger := "@" + botHandle + " " + p.verb
		idx := strings.Index(body, trigger)
		if idx < 0 {
			continue
		}
		rest := body[idx+len(trigger):]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		return p.build(t, strings.TrimSpace(rest)), true
	}
	return nil, false
}

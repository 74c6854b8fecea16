package domain

import "time"

// Reason is why GitHub delivered a notification thread.
type Reason string

const (
	ReasonMention     Reason = "mention"
	ReasonStateChange Reason = "state_change"
)

// SubjectPullRequest is the only notification subject the bot handles.
const SubjectPullRequest = "PullRequest"

// Notification is one thread from the participating-notifications feed.
type Notification struct {
	ID          string    // thread id, used to mark it read
	PR          PRRef     // parsed from the subject URL
	SubjectType string    // "PullRequest", "Issue", ...
	Reason      Reason    // delivery reason
	UpdatedAt   time.Time // drives the poll cursor
}

// Relevant reports whether the pipeline should look at the thread at all.
func (n Notification) Relevant() bool {
	if n.SubjectType != SubjectPullRequest {
		return false
	}
	return n.Reason == ReasonMention || n.Reason == ReasonStateChange
}

type Comment struct {
	ID        int64
	Body      *string
	BodyHTML  *string
	BodyText  *string
	User      User
	CreatedAt time.Time
}

// Text is the first present body: markdown, then HTML, then plain text.
func (c Comment) Text() (string, bool) {
	for _, b := range []*string{c.Body, c.BodyHTML, c.BodyText} {
		if b != nil {
			return *b, true
		}
	}
	return "", false
}

// EventKind is the semantic type of something the extractor found in a thread.
type EventKind string

const (
	EventKindMention EventKind = "mention"
	EventKindMerged  EventKind = "merged"
)

// Event is one unit of work for the executor. Mention events carry the
// comment that mentioned the bot; merge events carry none.
type Event struct {
	Kind           EventKind
	NotificationID string
	PR             PrMetadata
	Comment        *Comment
	TraceID        string // set when the event crossed the queue
	Attempt        int    // delivery attempt, queue mode only
}

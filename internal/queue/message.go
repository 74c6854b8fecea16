package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

// Message is one pipeline event read off the stream.
type Message struct {
	ID      string
	Event   domain.Event
	Attempt int
	TraceID string
	Raw     redis.XMessage
}

// eventPayload is the wire shape of domain.Event. It is kept apart from the
// domain type so the stream format can outlive refactors of the domain.
type eventPayload struct {
	Kind           domain.EventKind `json:"kind"`
	NotificationID string           `json:"notification_id"`
	PR             prPayload        `json:"pr"`
	Comment        *commentPayload  `json:"comment,omitempty"`
}

type prPayload struct {
	Owner       string             `json:"owner"`
	Repo        string             `json:"repo"`
	Number      int                `json:"number"`
	Author      string             `json:"author"`
	Association domain.Association `json:"author_association"`
	StartedAt   time.Time          `json:"started_at"`
	MergedAt    *time.Time         `json:"merged_at,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Closed      bool               `json:"closed"`
}

type commentPayload struct {
	ID          int64              `json:"id"`
	Body        *string            `json:"body,omitempty"`
	BodyHTML    *string            `json:"body_html,omitempty"`
	BodyText    *string            `json:"body_text,omitempty"`
	User        string             `json:"user"`
	Association domain.Association `json:"user_association"`
	CreatedAt   time.Time          `json:"created_at"`
}

func encodeEvent(ev domain.Event) (string, error) {
	p := eventPayload{
		Kind:           ev.Kind,
		NotificationID: ev.NotificationID,
		PR: prPayload{
			Owner:       ev.PR.Owner,
			Repo:        ev.PR.Repo,
			Number:      ev.PR.Number,
			Author:      ev.PR.Author.Login,
			Association: ev.PR.Author.Association,
			StartedAt:   ev.PR.StartedAt,
			MergedAt:    ev.PR.MergedAt,
			UpdatedAt:   ev.PR.UpdatedAt,
			Closed:      ev.PR.Closed,
		},
	}
	if c := ev.Comment; c != nil {
		p.Comment = &commentPayload{
			ID:          c.ID,
			Body:        c.Body,
			BodyHTML:    c.BodyHTML,
			BodyText:    c.BodyText,
			User:        c.User.Login,
			Association: c.User.Association,
			CreatedAt:   c.CreatedAt,
		}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}
	return string(raw), nil
}

func decodeEvent(raw string) (domain.Event, error) {
	var p eventPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Event{}, fmt.Errorf("decoding event: %w", err)
	}
	switch p.Kind {
	case domain.EventKindMention, domain.EventKindMerged:
	default:
		return domain.Event{}, fmt.Errorf("unknown event kind %q", p.Kind)
	}

	ev := domain.Event{
		Kind:           p.Kind,
		NotificationID: p.NotificationID,
		PR: domain.PrMetadata{
			PRRef:     domain.PRRef{Owner: p.PR.Owner, Repo: p.PR.Repo, Number: p.PR.Number},
			Author:    domain.User{Login: p.PR.Author, Association: p.PR.Association},
			StartedAt: p.PR.StartedAt,
			MergedAt:  p.PR.MergedAt,
			UpdatedAt: p.PR.UpdatedAt,
			Closed:    p.PR.Closed,
		},
	}
	if c := p.Comment; c != nil {
		ev.Comment = &domain.Comment{
			ID:        c.ID,
			Body:      c.Body,
			BodyHTML:  c.BodyHTML,
			BodyText:  c.BodyText,
			User:      domain.User{Login: c.User, Association: c.Association},
			CreatedAt: c.CreatedAt,
		}
	}
	return ev, nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	rawEvent, err := parseString(msg.Values, "event")
	if err != nil {
		return Message{}, err
	}
	ev, err := decodeEvent(rawEvent)
	if err != nil {
		return Message{}, err
	}

	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	ev.TraceID = traceID
	ev.Attempt = attempt

	return Message{
		ID:      msg.ID,
		Event:   ev,
		Attempt: attempt,
		TraceID: traceID,
		Raw:     msg,
	}, nil
}

func messageValues(msg Message, attempt int) (map[string]any, error) {
	event, err := encodeEvent(msg.Event)
	if err != nil {
		return nil, err
	}
	values := map[string]any{
		"event":   event,
		"pr_id":   msg.Event.PR.FullID(),
		"attempt": attempt,
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

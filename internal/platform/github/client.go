package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v74/github"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

const (
	reactionPlusOne = "+1"
	perPage         = 100
)

// Client implements platform.Platform over the GitHub REST API.
type Client struct {
	gh *gh.Client
}

// New builds a client authenticated with token. baseURL overrides the API
// root; leave it empty for github.com.
func New(token, baseURL string, httpClient *http.Client) (*Client, error) {
	c := gh.NewClient(httpClient).WithAuthToken(token)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing github api url: %w", err)
		}
		c.BaseURL = u
	}
	return &Client{gh: c}, nil
}

// Whoami returns the login the token authenticates as.
func (c *Client) Whoami(ctx context.Context) (string, error) {
	u, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", wrap("getting authenticated user", err)
	}
	return u.GetLogin(), nil
}

// ListNotifications returns every participating notification updated after
// since, walking all pages.
func (c *Client) ListNotifications(ctx context.Context, since time.Time) ([]domain.Notification, error) {
	opts := &gh.NotificationListOptions{
		All:           true,
		Participating: true,
		Since:         since,
		ListOptions:   gh.ListOptions{PerPage: perPage},
	}

	var out []domain.Notification
	for {
		page, resp, err := c.gh.Activity.ListNotifications(ctx, opts)
		if err != nil {
			return nil, wrap("listing notifications", err)
		}
		for _, n := range page {
			notification, err := toNotification(n)
			if err != nil {
				slog.WarnContext(ctx, "skipping notification with unexpected subject",
					"notification_id", n.GetID(),
					"error", err)
				continue
			}
			out = append(out, notification)
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) GetPullRequest(ctx context.Context, ref domain.PRRef) (domain.PrMetadata, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return domain.PrMetadata{}, wrap("getting pull request "+ref.FullID(), err)
	}

	meta := domain.PrMetadata{
		PRRef: ref,
		Author: domain.User{
			Login:       pr.GetUser().GetLogin(),
			Association: domain.Association(pr.GetAuthorAssociation()),
		},
		StartedAt: pr.GetCreatedAt().Time,
		UpdatedAt: pr.GetUpdatedAt().Time,
		Closed:    pr.GetState() == "closed",
	}
	if pr.MergedAt != nil {
		merged := pr.GetMergedAt().Time
		meta.MergedAt = &merged
	}
	return meta, nil
}

func (c *Client) ListComments(ctx context.Context, ref domain.PRRef) ([]domain.Comment, error) {
	opts := &gh.IssueListCommentsOptions{
		Sort:        gh.Ptr("created"),
		Direction:   gh.Ptr("asc"),
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var out []domain.Comment
	for {
		page, resp, err := c.gh.Issues.ListComments(ctx, ref.Owner, ref.Repo, ref.Number, opts)
		if err != nil {
			return nil, wrap("listing comments on "+ref.FullID(), err)
		}
		for _, cm := range page {
			out = append(out, domain.Comment{
				ID:   cm.GetID(),
				Body: cm.Body,
				User: domain.User{
					Login:       cm.GetUser().GetLogin(),
					Association: domain.Association(cm.GetAuthorAssociation()),
				},
				CreatedAt: cm.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) CreateComment(ctx context.Context, ref domain.PRRef, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, ref.Owner, ref.Repo, ref.Number, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return wrap("commenting on "+ref.FullID(), err)
	}
	return nil
}

func (c *Client) ReactToComment(ctx context.Context, ref domain.PRRef, commentID int64) error {
	_, _, err := c.gh.Reactions.CreateIssueCommentReaction(ctx, ref.Owner, ref.Repo, commentID, reactionPlusOne)
	if err != nil {
		return wrap(fmt.Sprintf("reacting to comment %d", commentID), err)
	}
	return nil
}

func (c *Client) ReactToPullRequest(ctx context.Context, ref domain.PRRef) error {
	_, _, err := c.gh.Reactions.CreateIssueReaction(ctx, ref.Owner, ref.Repo, ref.Number, reactionPlusOne)
	if err != nil {
		return wrap("reacting to "+ref.FullID(), err)
	}
	return nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, notificationID string) error {
	if _, err := c.gh.Activity.MarkThreadRead(ctx, notificationID); err != nil {
		return wrap("marking notification "+notificationID+" read", err)
	}
	return nil
}

func toNotification(n *gh.Notification) (domain.Notification, error) {
	out := domain.Notification{
		ID:          n.GetID(),
		SubjectType: n.GetSubject().GetType(),
		Reason:      domain.Reason(n.GetReason()),
		UpdatedAt:   n.GetUpdatedAt().Time,
	}
	if out.SubjectType != domain.SubjectPullRequest {
		return out, nil
	}

	ref, err := refFromSubjectURL(n.GetSubject().GetURL())
	if err != nil {
		return domain.Notification{}, err
	}
	out.PR = ref
	return out, nil
}

// refFromSubjectURL parses .../repos/{owner}/{repo}/pulls/{number}.
func refFromSubjectURL(raw string) (domain.PRRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return domain.PRRef{}, fmt.Errorf("parsing subject url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+4 < len(parts); i++ {
		if parts[i] != "repos" || parts[i+3] != "pulls" {
			continue
		}
		n, err := strconv.Atoi(parts[i+4])
		if err != nil {
			return domain.PRRef{}, fmt.Errorf("parsing pr number in %q: %w", raw, err)
		}
		return domain.PRRef{Owner: parts[i+1], Repo: parts[i+2], Number: n}, nil
	}
	return domain.PRRef{}, fmt.Errorf("not a pull request url: %q", raw)
}

// wrap annotates rate limit errors with the reset time so the poll loop's
// log line says when to expect recovery.
func wrap(op string, err error) error {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Errorf("%s: rate limited until %s: %w", op, rle.Rate.Reset.Time.Format(time.RFC3339), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

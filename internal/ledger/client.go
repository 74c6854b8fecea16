package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

// Client is a typed facade over a Ledger for the command pipeline.
type Client struct {
	ledger Ledger
}

func NewClient(l Ledger) *Client {
	return &Client{ledger: l}
}

func (c *Client) CheckInfo(ctx context.Context, pr domain.PRRef) (PRInfo, error) {
	snap, err := c.ledger.View(ctx, CheckInfo{PR: pr})
	if err != nil {
		return PRInfo{}, err
	}
	return snap.(PRInfo), nil
}

func (c *Client) SlothCalled(ctx context.Context, pr domain.PRRef, author string, startedAt time.Time) (Receipt, error) {
	return c.ledger.Apply(ctx, SlothCalled{PR: pr, Author: author, StartedAt: startedAt})
}

func (c *Client) SlothScored(ctx context.Context, fullID, maintainer string, score uint8) (Receipt, error) {
	return c.ledger.Apply(ctx, SlothScored{FullID: fullID, Maintainer: maintainer, Score: score})
}

func (c *Client) SlothMerged(ctx context.Context, fullID string, mergedAt time.Time) (Receipt, error) {
	return c.ledger.Apply(ctx, SlothMerged{FullID: fullID, MergedAt: mergedAt})
}

func (c *Client) SlothStale(ctx context.Context, fullID string) (Receipt, error) {
	return c.ledger.Apply(ctx, SlothStale{FullID: fullID})
}

func (c *Client) Pause(ctx context.Context, org, repo string) (Receipt, error) {
	return c.ledger.Apply(ctx, PauseRepo{Org: org, Repo: repo})
}

func (c *Client) Unpause(ctx context.Context, org, repo string) (Receipt, error) {
	return c.ledger.Apply(ctx, UnpauseRepo{Org: org, Repo: repo})
}

func (c *Client) Exclude(ctx context.Context, fullID string) (Receipt, error) {
	return c.ledger.Apply(ctx, ExcludePR{FullID: fullID})
}

func (c *Client) UnmergedPRs(ctx context.Context, page, limit int) ([]domain.PRRef, error) {
	snap, err := c.ledger.View(ctx, UnmergedPRs{Page: page, Limit: limit})
	if err != nil {
		return nil, err
	}
	return snap.(PRPage).Items, nil
}

// UnmergedPRsAll pages through UnmergedPRs until an empty page comes back.
func (c *Client) UnmergedPRsAll(ctx context.Context) ([]domain.PRRef, error) {
	var all []domain.PRRef
	for page := 0; ; page++ {
		items, err := c.UnmergedPRs(ctx, page, defaultPageLimit)
		if err != nil {
			return nil, fmt.Errorf("fetching unmerged page %d: %w", page, err)
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)
	}
}

func (c *Client) UserProfile(ctx context.Context, handle string, at time.Time) (UserView, error) {
	snap, err := c.ledger.View(ctx, UserProfile{Handle: handle, At: at})
	if err != nil {
		return UserView{}, err
	}
	return snap.(UserView), nil
}

func (c *Client) UserContributions(ctx context.Context, handle string, page, limit int) ([]PRRecord, error) {
	snap, err := c.ledger.View(ctx, UserContributions{Handle: handle, Page: page, Limit: limit})
	if err != nil {
		return nil, err
	}
	return snap.(ContributionPage).Items, nil
}

func (c *Client) Streaks(ctx context.Context) ([]Streak, error) {
	snap, err := c.ledger.View(ctx, ListStreaks{})
	if err != nil {
		return nil, err
	}
	return snap.(StreakList).Items, nil
}

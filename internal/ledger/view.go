package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

func (m *Machine) View(ctx context.Context, q Query) (Snapshot, error) {
	var snap Snapshot
	err := m.store.WithTx(ctx, func(s Store) error {
		var err error
		snap, err = m.view(ctx, s, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (m *Machine) view(ctx context.Context, s Store, q Query) (Snapshot, error) {
	switch q := q.(type) {
	case CheckInfo:
		return checkInfo(ctx, s, q)
	case UnmergedPRs:
		return unmergedPRs(ctx, s, q)
	case UserProfile:
		if q.At.IsZero() {
			q.At = m.now()
		}
		return userProfile(ctx, s, q)
	case UserContributions:
		limit := q.Limit
		if limit <= 0 {
			limit = defaultPageLimit
		}
		recs, err := s.ListPRs(ctx, PRFilter{Author: q.Handle, Offset: q.Page * limit, Limit: limit})
		if err != nil {
			return nil, fmt.Errorf("listing contributions: %w", err)
		}
		return ContributionPage{Items: recs}, nil
	case ListStreaks:
		streaks, err := s.ListStreaks(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing streaks: %w", err)
		}
		return StreakList{Items: streaks}, nil
	default:
		panic(fmt.Sprintf("ledger: unhandled query %T", q))
	}
}

func checkInfo(ctx context.Context, s Store, q CheckInfo) (PRInfo, error) {
	org, err := s.GetOrganization(ctx, q.PR.Owner)
	if err != nil {
		return PRInfo{}, fmt.Errorf("getting organization: %w", err)
	}
	info := PRInfo{
		AllowedOrg: org.Allowed,
		Paused:     org.RepoPaused(q.PR.Repo),
	}
	info.Allowed = info.AllowedOrg && !info.Paused

	excluded, err := s.IsExcluded(ctx, q.PR.FullID())
	if err != nil {
		return PRInfo{}, fmt.Errorf("checking exclusion: %w", err)
	}
	info.Excluded = excluded

	rec, err := s.GetPR(ctx, q.PR.FullID())
	if errors.Is(err, ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return PRInfo{}, fmt.Errorf("getting pr: %w", err)
	}
	info.Exist = true
	info.Merged = rec.Merged()
	info.Scored = rec.Scored()
	info.Executed = rec.Executed
	info.Excluded = info.Excluded || rec.Excluded
	return info, nil
}

func unmergedPRs(ctx context.Context, s Store, q UnmergedPRs) (PRPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	recs, err := s.ListPRs(ctx, PRFilter{Unmerged: true, Offset: q.Page * limit, Limit: limit})
	if err != nil {
		return PRPage{}, fmt.Errorf("listing unmerged prs: %w", err)
	}
	page := PRPage{Items: make([]domain.PRRef, 0, len(recs))}
	for _, r := range recs {
		page.Items = append(page.Items, r.Ref())
	}
	return page, nil
}

func userProfile(ctx context.Context, s Store, q UserProfile) (UserView, error) {
	view := UserView{Handle: q.Handle}
	for _, p := range Periods {
		ts := p.TimeString(q.At)
		d, err := s.GetPeriod(ctx, q.Handle, ts)
		if err != nil {
			return UserView{}, fmt.Errorf("getting period %s: %w", ts, err)
		}
		view.Periods = append(view.Periods, PeriodSummary{Period: p, TimeString: ts, Data: d})
	}

	streaks, err := s.ListStreaks(ctx)
	if err != nil {
		return UserView{}, fmt.Errorf("listing streaks: %w", err)
	}
	progress, err := s.ListStreakProgress(ctx, q.Handle)
	if err != nil {
		return UserView{}, fmt.Errorf("listing streak progress: %w", err)
	}
	byID := make(map[int64]StreakUserData, len(progress))
	for _, p := range progress {
		byID[p.StreakID] = p
	}
	for _, st := range streaks {
		p, ok := byID[st.ID]
		if !ok {
			p = StreakUserData{StreakID: st.ID, Handle: q.Handle}
		}
		view.Streaks = append(view.Streaks, StreakSummary{Streak: st, Progress: p})
	}
	return view, nil
}

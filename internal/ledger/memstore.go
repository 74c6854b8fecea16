package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type periodKey struct {
	handle     string
	timeString string
}

type progressKey struct {
	streakID int64
	handle   string
}

type memState struct {
	prs      map[string]PRRecord
	orgs     map[string]Organization
	excluded map[string]time.Time
	periods  map[periodKey]UserPeriodData
	streaks  map[int64]Streak
	progress map[progressKey]StreakUserData
}

func newMemState() *memState {
	return &memState{
		prs:      map[string]PRRecord{},
		orgs:     map[string]Organization{},
		excluded: map[string]time.Time{},
		periods:  map[periodKey]UserPeriodData{},
		streaks:  map[int64]Streak{},
		progress: map[progressKey]StreakUserData{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.prs {
		c.prs[k] = v.clone()
	}
	for k, v := range st.orgs {
		c.orgs[k] = v.clone()
	}
	for k, v := range st.excluded {
		c.excluded[k] = v
	}
	for k, v := range st.periods {
		c.periods[k] = v
	}
	for k, v := range st.streaks {
		v.Criteria = append([]Criterion(nil), v.Criteria...)
		c.streaks[k] = v
	}
	for k, v := range st.progress {
		c.progress[k] = v
	}
	return c
}

// MemoryStore keeps the ledger in process memory. It backs the bot when no
// database is configured and every ledger test.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// WithTx holds the store lock for the whole of fn. The state is copied on
// the first write so a failing fn leaves the store untouched.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(s Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{base: m.state}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.work != nil {
		m.state = tx.work
	}
	return nil
}

type memTx struct {
	base *memState
	work *memState
}

func (t *memTx) read() *memState {
	if t.work != nil {
		return t.work
	}
	return t.base
}

func (t *memTx) write() *memState {
	if t.work == nil {
		t.work = t.base.clone()
	}
	return t.work
}

func (t *memTx) GetPR(_ context.Context, fullID string) (PRRecord, error) {
	rec, ok := t.read().prs[fullID]
	if !ok {
		return PRRecord{}, fmt.Errorf("pr %s: %w", fullID, ErrNotFound)
	}
	return rec.clone(), nil
}

func (t *memTx) SavePR(_ context.Context, rec PRRecord) error {
	t.write().prs[rec.FullID()] = rec.clone()
	return nil
}

func (t *memTx) ListPRs(_ context.Context, f PRFilter) ([]PRRecord, error) {
	var out []PRRecord
	for _, rec := range t.read().prs {
		if f.Author != "" && rec.Author != f.Author {
			continue
		}
		if f.Unmerged && (rec.Merged() || rec.Excluded || rec.Stale) {
			continue
		}
		if f.Executed && !rec.Executed {
			continue
		}
		out = append(out, rec.clone())
	}

	switch {
	case f.Executed:
		sort.Slice(out, func(i, j int) bool {
			if !out[i].MergedAt.Equal(*out[j].MergedAt) {
				return out[i].MergedAt.Before(*out[j].MergedAt)
			}
			return out[i].FullID() < out[j].FullID()
		})
	case f.Author != "":
		sort.Slice(out, func(i, j int) bool {
			if !out[i].StartedAt.Equal(out[j].StartedAt) {
				return out[i].StartedAt.After(out[j].StartedAt)
			}
			return out[i].FullID() < out[j].FullID()
		})
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].FullID() < out[j].FullID() })
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) GetOrganization(_ context.Context, name string) (Organization, error) {
	org, ok := t.read().orgs[name]
	if !ok {
		return Organization{Name: name}, nil
	}
	return org.clone(), nil
}

func (t *memTx) SaveOrganization(_ context.Context, org Organization) error {
	t.write().orgs[org.Name] = org.clone()
	return nil
}

func (t *memTx) IsExcluded(_ context.Context, fullID string) (bool, error) {
	_, ok := t.read().excluded[fullID]
	return ok, nil
}

func (t *memTx) MarkExcluded(_ context.Context, fullID string, at time.Time) error {
	w := t.write()
	if _, ok := w.excluded[fullID]; !ok {
		w.excluded[fullID] = at
	}
	return nil
}

func (t *memTx) GetPeriod(_ context.Context, handle, timeString string) (UserPeriodData, error) {
	return t.read().periods[periodKey{handle, timeString}], nil
}

func (t *memTx) SavePeriod(_ context.Context, handle, timeString string, d UserPeriodData) error {
	t.write().periods[periodKey{handle, timeString}] = d
	return nil
}

func (t *memTx) ListStreaks(_ context.Context) ([]Streak, error) {
	out := make([]Streak, 0, len(t.read().streaks))
	for _, s := range t.read().streaks {
		s.Criteria = append([]Criterion(nil), s.Criteria...)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) SaveStreak(_ context.Context, s Streak) error {
	s.Criteria = append([]Criterion(nil), s.Criteria...)
	t.write().streaks[s.ID] = s
	return nil
}

func (t *memTx) GetStreakProgress(_ context.Context, streakID int64, handle string) (StreakUserData, error) {
	return t.read().progress[progressKey{streakID, handle}], nil
}

func (t *memTx) SaveStreakProgress(_ context.Context, p StreakUserData) error {
	t.write().progress[progressKey{p.StreakID, p.Handle}] = p
	return nil
}

func (t *memTx) ListStreakProgress(_ context.Context, handle string) ([]StreakUserData, error) {
	var out []StreakUserData
	for k, v := range t.read().progress {
		if k.handle == handle {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreakID < out[j].StreakID })
	return out, nil
}

func (t *memTx) ResetDerived(_ context.Context) error {
	w := t.write()
	w.periods = map[periodKey]UserPeriodData{}
	w.progress = map[progressKey]StreakUserData{}
	return nil
}

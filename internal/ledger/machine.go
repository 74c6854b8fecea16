package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NEAR-DevHub/devbot/common/id"
	"github.com/NEAR-DevHub/devbot/common/logger"
)

const defaultPageLimit = 100

// Ledger is the narrow transactional interface the pipeline depends on.
type Ledger interface {
	Apply(ctx context.Context, m Mutation) (Receipt, error)
	View(ctx context.Context, q Query) (Snapshot, error)
}

// ReceiptSink receives a receipt after its mutation committed.
type ReceiptSink interface {
	Publish(ctx context.Context, r Receipt) error
}

// Machine is the ledger state machine. Mutations are serialized and each one
// runs in a single store transaction.
type Machine struct {
	mu    sync.Mutex
	store TxRunner
	sink  ReceiptSink
	now   func() time.Time
	newID func() int64
}

type Option func(*Machine)

func WithReceiptSink(sink ReceiptSink) Option {
	return func(m *Machine) { m.sink = sink }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithIDGenerator(f func() int64) Option {
	return func(m *Machine) { m.newID = f }
}

func NewMachine(store TxRunner, opts ...Option) *Machine {
	m := &Machine{
		store: store,
		now:   time.Now,
		newID: id.New,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Apply(ctx context.Context, mut Mutation) (Receipt, error) {
	sc := logger.StartSpan(ctx, "ledger.apply",
		trace.WithAttributes(attribute.String("ledger.mutation", mut.Kind())))
	defer sc.End()
	ctx = sc.Context()

	m.mu.Lock()
	defer m.mu.Unlock()

	receipt := Receipt{Kind: mut.Kind(), At: m.now().UTC()}
	err := m.store.WithTx(ctx, func(s Store) error {
		var err error
		receipt, err = m.apply(ctx, s, mut, receipt)
		return err
	})
	if err != nil {
		sc.RecordError(err)
		return Receipt{}, fmt.Errorf("applying %s: %w", mut.Kind(), err)
	}
	receipt.ID = m.newID()

	slog.DebugContext(ctx, "ledger mutation applied",
		"kind", receipt.Kind,
		"pr_id", receipt.PRID,
		"applied", receipt.Applied,
		"executed", receipt.Executed)

	if m.sink != nil && receipt.Applied {
		if err := m.sink.Publish(ctx, receipt); err != nil {
			slog.WarnContext(ctx, "failed to publish receipt",
				"error", err,
				"receipt_id", receipt.ID,
				"kind", receipt.Kind)
		}
	}

	return receipt, nil
}

func (m *Machine) apply(ctx context.Context, s Store, mut Mutation, r Receipt) (Receipt, error) {
	switch mut := mut.(type) {
	case SlothCalled:
		return m.applyCalled(ctx, s, mut, r)
	case SlothScored:
		return m.applyScored(ctx, s, mut, r)
	case SlothMerged:
		return m.applyMerged(ctx, s, mut, r)
	case SlothStale:
		return m.applyStale(ctx, s, mut, r)
	case PauseRepo:
		return m.applyPause(ctx, s, mut.Org, mut.Repo, true, r)
	case UnpauseRepo:
		return m.applyPause(ctx, s, mut.Org, mut.Repo, false, r)
	case ExcludePR:
		return m.applyExclude(ctx, s, mut, r)
	case AllowOrganization:
		return m.applyAllow(ctx, s, mut.Org, true, r)
	case DisallowOrganization:
		return m.applyAllow(ctx, s, mut.Org, false, r)
	case AddStreak:
		return m.applyAddStreak(ctx, s, mut, r)
	case SetStreakActive:
		return m.applySetStreakActive(ctx, s, mut, r)
	default:
		panic(fmt.Sprintf("ledger: unhandled mutation %T", mut))
	}
}

func (m *Machine) applyCalled(ctx context.Context, s Store, mut SlothCalled, r Receipt) (Receipt, error) {
	r.PRID = mut.PR.FullID()
	if mut.StartedAt.IsZero() {
		return r, fmt.Errorf("%w: %s started without a start time", ErrConsistency, r.PRID)
	}

	if _, err := s.GetPR(ctx, r.PRID); err == nil {
		return r, nil
	} else if !errors.Is(err, ErrNotFound) {
		return r, fmt.Errorf("getting pr: %w", err)
	}

	excluded, err := s.IsExcluded(ctx, r.PRID)
	if err != nil {
		return r, fmt.Errorf("checking exclusion: %w", err)
	}
	if excluded {
		return r, nil
	}

	org, err := s.GetOrganization(ctx, mut.PR.Owner)
	if err != nil {
		return r, fmt.Errorf("getting organization: %w", err)
	}
	if !org.Allowed || org.RepoPaused(mut.PR.Repo) {
		return r, fmt.Errorf("%w: %s", ErrNotAllowed, r.PRID)
	}

	rec := PRRecord{
		Org:       mut.PR.Owner,
		Repo:      mut.PR.Repo,
		Number:    mut.PR.Number,
		Author:    mut.Author,
		StartedAt: mut.StartedAt.UTC(),
		Scores:    map[string]uint8{},
	}
	if err := s.SavePR(ctx, rec); err != nil {
		return r, fmt.Errorf("saving pr: %w", err)
	}
	r.Applied = true
	return r, nil
}

func (m *Machine) applyScored(ctx context.Context, s Store, mut SlothScored, r Receipt) (Receipt, error) {
	r.PRID = mut.FullID
	if mut.Score < MinScore || mut.Score > MaxScore {
		return r, fmt.Errorf("%w: %d not in %d..%d", ErrInvalidScore, mut.Score, MinScore, MaxScore)
	}

	rec, err := s.GetPR(ctx, mut.FullID)
	if err != nil {
		return r, fmt.Errorf("getting pr: %w", err)
	}
	if rec.Executed || rec.Excluded {
		return r, nil
	}
	if prev, ok := rec.Scores[mut.Maintainer]; ok && prev == mut.Score {
		return r, nil
	}

	if rec.Scores == nil {
		rec.Scores = map[string]uint8{}
	}
	rec.Scores[mut.Maintainer] = mut.Score

	return m.saveAndMaybeExecute(ctx, s, rec, r)
}

func (m *Machine) applyMerged(ctx context.Context, s Store, mut SlothMerged, r Receipt) (Receipt, error) {
	r.PRID = mut.FullID
	if mut.MergedAt.IsZero() {
		return r, fmt.Errorf("%w: %s merged without a merge time", ErrConsistency, mut.FullID)
	}

	rec, err := s.GetPR(ctx, mut.FullID)
	if err != nil {
		return r, fmt.Errorf("getting pr: %w", err)
	}
	if rec.Merged() {
		return r, nil
	}

	mergedAt := mut.MergedAt.UTC()
	rec.MergedAt = &mergedAt
	rec.Stale = false

	return m.saveAndMaybeExecute(ctx, s, rec, r)
}

func (m *Machine) saveAndMaybeExecute(ctx context.Context, s Store, rec PRRecord, r Receipt) (Receipt, error) {
	if rec.executable() {
		if err := m.execute(ctx, s, &rec); err != nil {
			return r, err
		}
		r.Executed = true
		r.Score = rec.Score()
	}
	if err := s.SavePR(ctx, rec); err != nil {
		return r, fmt.Errorf("saving pr: %w", err)
	}
	r.Applied = true
	return r, nil
}

func (m *Machine) applyStale(ctx context.Context, s Store, mut SlothStale, r Receipt) (Receipt, error) {
	r.PRID = mut.FullID
	rec, err := s.GetPR(ctx, mut.FullID)
	if errors.Is(err, ErrNotFound) {
		return r, nil
	}
	if err != nil {
		return r, fmt.Errorf("getting pr: %w", err)
	}
	if rec.Merged() || rec.Stale || rec.Executed {
		return r, nil
	}

	rec.Stale = true
	if err := s.SavePR(ctx, rec); err != nil {
		return r, fmt.Errorf("saving pr: %w", err)
	}
	r.Applied = true
	return r, nil
}

func (m *Machine) applyPause(ctx context.Context, s Store, orgName, repo string, paused bool, r Receipt) (Receipt, error) {
	org, err := s.GetOrganization(ctx, orgName)
	if err != nil {
		return r, fmt.Errorf("getting organization: %w", err)
	}
	if org.RepoPaused(repo) == paused {
		return r, nil
	}

	org = org.clone()
	org.Name = orgName
	if paused {
		org.Paused[repo] = true
	} else {
		delete(org.Paused, repo)
	}
	if err := s.SaveOrganization(ctx, org); err != nil {
		return r, fmt.Errorf("saving organization: %w", err)
	}
	r.Applied = true
	return r, nil
}

func (m *Machine) applyAllow(ctx context.Context, s Store, orgName string, allowed bool, r Receipt) (Receipt, error) {
	org, err := s.GetOrganization(ctx, orgName)
	if err != nil {
		return r, fmt.Errorf("getting organization: %w", err)
	}
	if org.Allowed == allowed {
		return r, nil
	}

	org = org.clone()
	org.Name = orgName
	org.Allowed = allowed
	if err := s.SaveOrganization(ctx, org); err != nil {
		return r, fmt.Errorf("saving organization: %w", err)
	}
	r.Applied = true
	return r, nil
}

func (m *Machine) applyExclude(ctx context.Context, s Store, mut ExcludePR, r Receipt) (Receipt, error) {
	r.PRID = mut.FullID

	rec, err := s.GetPR(ctx, mut.FullID)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return r, fmt.Errorf("getting pr: %w", err)
	}
	if found && rec.Executed {
		return r, nil
	}

	already, err := s.IsExcluded(ctx, mut.FullID)
	if err != nil {
		return r, fmt.Errorf("checking exclusion: %w", err)
	}
	if !already {
		if err := s.MarkExcluded(ctx, mut.FullID, r.At); err != nil {
			return r, fmt.Errorf("marking excluded: %w", err)
		}
		r.Applied = true
	}

	if found && !rec.Excluded {
		rec.Excluded = true
		if err := s.SavePR(ctx, rec); err != nil {
			return r, fmt.Errorf("saving pr: %w", err)
		}
		r.Applied = true
	}
	return r, nil
}

func (m *Machine) applyAddStreak(ctx context.Context, s Store, mut AddStreak, r Receipt) (Receipt, error) {
	streak := Streak{
		Name:     mut.Name,
		Period:   mut.Period,
		Criteria: append([]Criterion(nil), mut.Criteria...),
		Active:   true,
	}
	if err := streak.Validate(); err != nil {
		return r, err
	}

	existing, err := s.ListStreaks(ctx)
	if err != nil {
		return r, fmt.Errorf("listing streaks: %w", err)
	}
	for _, e := range existing {
		if e.ID >= streak.ID {
			streak.ID = e.ID
		}
	}
	streak.ID++

	if err := s.SaveStreak(ctx, streak); err != nil {
		return r, fmt.Errorf("saving streak: %w", err)
	}
	r.StreakID = streak.ID
	r.Applied = true
	return r, nil
}

func (m *Machine) applySetStreakActive(ctx context.Context, s Store, mut SetStreakActive, r Receipt) (Receipt, error) {
	r.StreakID = mut.ID
	streaks, err := s.ListStreaks(ctx)
	if err != nil {
		return r, fmt.Errorf("listing streaks: %w", err)
	}
	for _, st := range streaks {
		if st.ID != mut.ID {
			continue
		}
		if st.Active == mut.Active {
			return r, nil
		}
		st.Active = mut.Active
		if err := s.SaveStreak(ctx, st); err != nil {
			return r, fmt.Errorf("saving streak: %w", err)
		}
		r.Applied = true
		return r, nil
	}
	return r, fmt.Errorf("streak %d: %w", mut.ID, ErrNotFound)
}

// execute performs the executed transition: fold the record into every
// period bucket of its author, then re-evaluate the author's streaks.
func (m *Machine) execute(ctx context.Context, s Store, rec *PRRecord) error {
	rec.Executed = true
	if err := fold(ctx, s, *rec); err != nil {
		return err
	}

	streaks, err := s.ListStreaks(ctx)
	if err != nil {
		return fmt.Errorf("listing streaks: %w", err)
	}
	return evaluateStreaks(ctx, s, rec.Author, *rec.MergedAt, m.now(), streaks)
}

// fold adds an executed record to its author's aggregates. Score, executed
// and merged counts land in the merge-time bucket, the opened count in the
// start-time bucket.
func fold(ctx context.Context, s Store, rec PRRecord) error {
	if rec.MergedAt == nil {
		return fmt.Errorf("%w: folding unmerged %s", ErrConsistency, rec.FullID())
	}
	score := rec.Score()
	for _, p := range Periods {
		err := bump(ctx, s, rec.Author, p.TimeString(*rec.MergedAt), func(d *UserPeriodData) {
			d.TotalScore += score
			d.ExecutedPRs++
			d.PRsMerged++
		})
		if err != nil {
			return err
		}
		err = bump(ctx, s, rec.Author, p.TimeString(rec.StartedAt), func(d *UserPeriodData) {
			d.PRsOpened++
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func bump(ctx context.Context, s Store, handle, timeString string, fn func(d *UserPeriodData)) error {
	d, err := s.GetPeriod(ctx, handle, timeString)
	if err != nil {
		return fmt.Errorf("getting period %s: %w", timeString, err)
	}
	fn(&d)
	if err := s.SavePeriod(ctx, handle, timeString, d); err != nil {
		return fmt.Errorf("saving period %s: %w", timeString, err)
	}
	return nil
}

// evaluateStreaks runs every active streak for handle against the buckets
// holding at. A run already recorded in a bucket after at, up to now, is
// left alone: a late execution never moves a streak backwards.
func evaluateStreaks(ctx context.Context, s Store, handle string, at, now time.Time, streaks []Streak) error {
	for _, st := range streaks {
		if !st.Active {
			continue
		}
		if st.Period == AllTime {
			return fmt.Errorf("%w: streak %d evaluated on %s", ErrConsistency, st.ID, AllTime)
		}

		current := st.Period.TimeString(at)
		previous := st.Period.PreviousString(at)

		data, err := s.GetPeriod(ctx, handle, current)
		if err != nil {
			return fmt.Errorf("getting period %s: %w", current, err)
		}
		progress, err := s.GetStreakProgress(ctx, st.ID, handle)
		if err != nil {
			return fmt.Errorf("getting streak progress: %w", err)
		}
		progress.StreakID = st.ID
		progress.Handle = handle

		if st.Period.after(progress.LatestTimeString, at, now) {
			continue
		}
		if !progress.advance(st.Achieved(data), current, previous) {
			continue
		}
		if err := s.SaveStreakProgress(ctx, progress); err != nil {
			return fmt.Errorf("saving streak progress: %w", err)
		}
	}
	return nil
}

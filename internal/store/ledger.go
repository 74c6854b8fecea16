package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/NEAR-DevHub/devbot/core/db"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

// serializationFailure is the SQLSTATE postgres returns when a serializable
// transaction lost a conflict.
const serializationFailure = "40001"

const maxTxAttempts = 3

// Ledger persists the ledger in postgres. It implements ledger.TxRunner.
type Ledger struct {
	db *db.DB
}

func NewLedger(database *db.DB) *Ledger {
	return &Ledger{db: database}
}

// WithTx runs fn in one serializable transaction, retrying serialization
// failures. fn may run more than once and must not have outside effects.
func (l *Ledger) WithTx(ctx context.Context, fn func(s ledger.Store) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = l.db.WithTx(ctx, func(tx db.DBTX) error {
			return fn(&ledgerTx{q: tx})
		})
		if !isSerializationFailure(err) {
			return err
		}
		slog.WarnContext(ctx, "ledger transaction conflicted, retrying", "attempt", attempt)
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

type ledgerTx struct {
	q db.DBTX
}

const prColumns = `org, repo, number, author, started_at, merged_at, scores, excluded, stale, executed`

func scanPR(row pgx.Row) (ledger.PRRecord, error) {
	var rec ledger.PRRecord
	if err := row.Scan(
		&rec.Org, &rec.Repo, &rec.Number, &rec.Author,
		&rec.StartedAt, &rec.MergedAt, &rec.Scores,
		&rec.Excluded, &rec.Stale, &rec.Executed,
	); err != nil {
		return ledger.PRRecord{}, err
	}
	rec.StartedAt = rec.StartedAt.UTC()
	if rec.MergedAt != nil {
		m := rec.MergedAt.UTC()
		rec.MergedAt = &m
	}
	if rec.Scores == nil {
		rec.Scores = map[string]uint8{}
	}
	return rec, nil
}

func (t *ledgerTx) GetPR(ctx context.Context, fullID string) (ledger.PRRecord, error) {
	row := t.q.QueryRow(ctx, `SELECT `+prColumns+` FROM pull_requests WHERE full_id = $1`, fullID)
	rec, err := scanPR(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.PRRecord{}, fmt.Errorf("pr %s: %w", fullID, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.PRRecord{}, fmt.Errorf("selecting pr %s: %w", fullID, err)
	}
	return rec, nil
}

func (t *ledgerTx) SavePR(ctx context.Context, rec ledger.PRRecord) error {
	scores := rec.Scores
	if scores == nil {
		scores = map[string]uint8{}
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO pull_requests (full_id, `+prColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (full_id) DO UPDATE SET
			author = EXCLUDED.author,
			started_at = EXCLUDED.started_at,
			merged_at = EXCLUDED.merged_at,
			scores = EXCLUDED.scores,
			excluded = EXCLUDED.excluded,
			stale = EXCLUDED.stale,
			executed = EXCLUDED.executed,
			updated_at = now()`,
		rec.FullID(), rec.Org, rec.Repo, rec.Number, rec.Author,
		rec.StartedAt, rec.MergedAt, scores,
		rec.Excluded, rec.Stale, rec.Executed,
	)
	if err != nil {
		return fmt.Errorf("upserting pr %s: %w", rec.FullID(), err)
	}
	return nil
}

// listQuery renders the filter into SQL. The orderings match the in-memory
// store so both back ends page identically.
func listQuery(f ledger.PRFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Author != "" {
		where = append(where, "author = "+arg(f.Author))
	}
	if f.Unmerged {
		where = append(where, "merged_at IS NULL AND NOT excluded AND NOT stale")
	}
	if f.Executed {
		where = append(where, "executed")
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + prColumns + ` FROM pull_requests`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	switch {
	case f.Executed:
		b.WriteString(" ORDER BY merged_at, full_id")
	case f.Author != "":
		b.WriteString(" ORDER BY started_at DESC, full_id")
	default:
		b.WriteString(" ORDER BY full_id")
	}

	if f.Offset > 0 {
		b.WriteString(" OFFSET " + arg(f.Offset))
	}
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + arg(f.Limit))
	}
	return b.String(), args
}

func (t *ledgerTx) ListPRs(ctx context.Context, f ledger.PRFilter) ([]ledger.PRRecord, error) {
	sql, args := listQuery(f)
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing prs: %w", err)
	}
	defer rows.Close()

	var out []ledger.PRRecord
	for rows.Next() {
		rec, err := scanPR(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pr: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *ledgerTx) GetOrganization(ctx context.Context, name string) (ledger.Organization, error) {
	org := ledger.Organization{Name: name, Paused: map[string]bool{}}

	err := t.q.QueryRow(ctx, `SELECT allowed FROM organizations WHERE name = $1`, name).Scan(&org.Allowed)
	if errors.Is(err, pgx.ErrNoRows) {
		return org, nil
	}
	if err != nil {
		return ledger.Organization{}, fmt.Errorf("selecting organization %s: %w", name, err)
	}

	rows, err := t.q.Query(ctx, `SELECT repo FROM paused_repos WHERE org = $1`, name)
	if err != nil {
		return ledger.Organization{}, fmt.Errorf("listing paused repos: %w", err)
	}
	repos, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return ledger.Organization{}, fmt.Errorf("scanning paused repos: %w", err)
	}
	for _, r := range repos {
		org.Paused[r] = true
	}
	return org, nil
}

func (t *ledgerTx) SaveOrganization(ctx context.Context, org ledger.Organization) error {
	if _, err := t.q.Exec(ctx, `
		INSERT INTO organizations (name, allowed) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET allowed = EXCLUDED.allowed, updated_at = now()`,
		org.Name, org.Allowed,
	); err != nil {
		return fmt.Errorf("upserting organization %s: %w", org.Name, err)
	}

	if _, err := t.q.Exec(ctx, `DELETE FROM paused_repos WHERE org = $1`, org.Name); err != nil {
		return fmt.Errorf("clearing paused repos: %w", err)
	}
	for repo, paused := range org.Paused {
		if !paused {
			continue
		}
		if _, err := t.q.Exec(ctx, `INSERT INTO paused_repos (org, repo) VALUES ($1, $2)`, org.Name, repo); err != nil {
			return fmt.Errorf("pausing %s/%s: %w", org.Name, repo, err)
		}
	}
	return nil
}

func (t *ledgerTx) IsExcluded(ctx context.Context, fullID string) (bool, error) {
	var ok bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM excluded_prs WHERE full_id = $1)`, fullID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking exclusion of %s: %w", fullID, err)
	}
	return ok, nil
}

func (t *ledgerTx) MarkExcluded(ctx context.Context, fullID string, at time.Time) error {
	if _, err := t.q.Exec(ctx, `
		INSERT INTO excluded_prs (full_id, excluded_at) VALUES ($1, $2)
		ON CONFLICT (full_id) DO NOTHING`, fullID, at); err != nil {
		return fmt.Errorf("excluding %s: %w", fullID, err)
	}
	return nil
}

func (t *ledgerTx) GetPeriod(ctx context.Context, handle, timeString string) (ledger.UserPeriodData, error) {
	var d ledger.UserPeriodData
	err := t.q.QueryRow(ctx, `
		SELECT total_score, executed_prs, prs_opened, prs_merged
		FROM user_period_data WHERE handle = $1 AND time_string = $2`,
		handle, timeString,
	).Scan(&d.TotalScore, &d.ExecutedPRs, &d.PRsOpened, &d.PRsMerged)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.UserPeriodData{}, nil
	}
	if err != nil {
		return ledger.UserPeriodData{}, fmt.Errorf("selecting period %s/%s: %w", handle, timeString, err)
	}
	return d, nil
}

func (t *ledgerTx) SavePeriod(ctx context.Context, handle, timeString string, d ledger.UserPeriodData) error {
	if _, err := t.q.Exec(ctx, `
		INSERT INTO user_period_data (handle, time_string, total_score, executed_prs, prs_opened, prs_merged)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (handle, time_string) DO UPDATE SET
			total_score = EXCLUDED.total_score,
			executed_prs = EXCLUDED.executed_prs,
			prs_opened = EXCLUDED.prs_opened,
			prs_merged = EXCLUDED.prs_merged`,
		handle, timeString, d.TotalScore, d.ExecutedPRs, d.PRsOpened, d.PRsMerged,
	); err != nil {
		return fmt.Errorf("upserting period %s/%s: %w", handle, timeString, err)
	}
	return nil
}

func (t *ledgerTx) ListStreaks(ctx context.Context) ([]ledger.Streak, error) {
	rows, err := t.q.Query(ctx, `SELECT id, name, period, criteria, active FROM streaks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing streaks: %w", err)
	}
	defer rows.Close()

	var out []ledger.Streak
	for rows.Next() {
		var (
			s      ledger.Streak
			period string
		)
		if err := rows.Scan(&s.ID, &s.Name, &period, &s.Criteria, &s.Active); err != nil {
			return nil, fmt.Errorf("scanning streak: %w", err)
		}
		s.Period = ledger.TimePeriod(period)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *ledgerTx) SaveStreak(ctx context.Context, s ledger.Streak) error {
	if _, err := t.q.Exec(ctx, `
		INSERT INTO streaks (id, name, period, criteria, active) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			period = EXCLUDED.period,
			criteria = EXCLUDED.criteria,
			active = EXCLUDED.active`,
		s.ID, s.Name, string(s.Period), s.Criteria, s.Active,
	); err != nil {
		return fmt.Errorf("upserting streak %d: %w", s.ID, err)
	}
	return nil
}

func (t *ledgerTx) GetStreakProgress(ctx context.Context, streakID int64, handle string) (ledger.StreakUserData, error) {
	p := ledger.StreakUserData{StreakID: streakID, Handle: handle}
	err := t.q.QueryRow(ctx, `
		SELECT amount, best, latest_time_string
		FROM streak_user_data WHERE streak_id = $1 AND handle = $2`,
		streakID, handle,
	).Scan(&p.Amount, &p.Best, &p.LatestTimeString)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.StreakUserData{StreakID: streakID, Handle: handle}, nil
	}
	if err != nil {
		return ledger.StreakUserData{}, fmt.Errorf("selecting streak progress %d/%s: %w", streakID, handle, err)
	}
	return p, nil
}

func (t *ledgerTx) SaveStreakProgress(ctx context.Context, p ledger.StreakUserData) error {
	if _, err := t.q.Exec(ctx, `
		INSERT INTO streak_user_data (streak_id, handle, amount, best, latest_time_string)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (streak_id, handle) DO UPDATE SET
			amount = EXCLUDED.amount,
			best = EXCLUDED.best,
			latest_time_string = EXCLUDED.latest_time_string`,
		p.StreakID, p.Handle, p.Amount, p.Best, p.LatestTimeString,
	); err != nil {
		return fmt.Errorf("upserting streak progress %d/%s: %w", p.StreakID, p.Handle, err)
	}
	return nil
}

func (t *ledgerTx) ListStreakProgress(ctx context.Context, handle string) ([]ledger.StreakUserData, error) {
	rows, err := t.q.Query(ctx, `
		SELECT streak_id, handle, amount, best, latest_time_string
		FROM streak_user_data WHERE handle = $1 ORDER BY streak_id`, handle)
	if err != nil {
		return nil, fmt.Errorf("listing streak progress: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.StreakUserData, error) {
		var p ledger.StreakUserData
		err := row.Scan(&p.StreakID, &p.Handle, &p.Amount, &p.Best, &p.LatestTimeString)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning streak progress: %w", err)
	}
	return out, nil
}

func (t *ledgerTx) ResetDerived(ctx context.Context) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM streak_user_data`); err != nil {
		return fmt.Errorf("clearing streak progress: %w", err)
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM user_period_data`); err != nil {
		return fmt.Errorf("clearing period data: %w", err)
	}
	return nil
}

var _ ledger.TxRunner = (*Ledger)(nil)

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// MigrationReport summarises a Migrate run.
type MigrationReport struct {
	Records  int // executed records folded
	Promoted int // records found scored and merged but not yet executed
	Authors  int
}

// Migrate rebuilds every aggregate and every streak progress row from the
// records alone. Executed records are replayed in merge order through the
// same fold and streak evaluation the executed transition uses, so running
// it twice yields identical tables.
func (m *Machine) Migrate(ctx context.Context) (MigrationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report MigrationReport
	err := m.store.WithTx(ctx, func(s Store) error {
		report = MigrationReport{}

		if err := s.ResetDerived(ctx); err != nil {
			return fmt.Errorf("resetting derived state: %w", err)
		}

		all, err := s.ListPRs(ctx, PRFilter{})
		if err != nil {
			return fmt.Errorf("listing prs: %w", err)
		}
		streaks, err := s.ListStreaks(ctx)
		if err != nil {
			return fmt.Errorf("listing streaks: %w", err)
		}

		var executed []PRRecord
		for _, rec := range all {
			if rec.Executed && !rec.Merged() {
				return fmt.Errorf("%w: executed %s has no merge time", ErrConsistency, rec.FullID())
			}
			if rec.Executed {
				executed = append(executed, rec)
				continue
			}
			if rec.executable() {
				rec.Executed = true
				if err := s.SavePR(ctx, rec); err != nil {
					return fmt.Errorf("saving pr: %w", err)
				}
				executed = append(executed, rec)
				report.Promoted++
			}
		}

		sort.Slice(executed, func(i, j int) bool {
			a, b := executed[i], executed[j]
			if !a.MergedAt.Equal(*b.MergedAt) {
				return a.MergedAt.Before(*b.MergedAt)
			}
			return a.FullID() < b.FullID()
		})

		authors := map[string]struct{}{}
		for _, rec := range executed {
			if err := fold(ctx, s, rec); err != nil {
				return err
			}
			if err := evaluateStreaks(ctx, s, rec.Author, *rec.MergedAt, *rec.MergedAt, streaks); err != nil {
				return err
			}
			authors[rec.Author] = struct{}{}
		}
		report.Records = len(executed)
		report.Authors = len(authors)
		return nil
	})
	if err != nil {
		return MigrationReport{}, fmt.Errorf("migrating ledger: %w", err)
	}

	slog.InfoContext(ctx, "ledger migrated",
		"records", report.Records,
		"promoted", report.Promoted,
		"authors", report.Authors)
	return report, nil
}

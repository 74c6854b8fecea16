package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NEAR-DevHub/devbot/common/logger"
	"github.com/NEAR-DevHub/devbot/internal/command"
	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/platform"
)

type UnmergedLister interface {
	UnmergedPRsAll(ctx context.Context) ([]domain.PRRef, error)
}

type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// StaleSweeper revisits every open contribution: merges the pipeline missed
// are executed, and closed or inactive pull requests are marked stale.
type StaleSweeper struct {
	ledger   UnmergedLister
	reader   platform.Reader
	executor Executor
	cfg      SweeperConfig
	now      func() time.Time
}

func NewStaleSweeper(l UnmergedLister, reader platform.Reader, executor Executor, cfg SweeperConfig) *StaleSweeper {
	return &StaleSweeper{
		ledger:   l,
		reader:   reader,
		executor: executor,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Checked int
	Merged  int
	Stale   int
	Failed  int
}

func (s *StaleSweeper) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "devbot.pipeline.sweeper"})

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "stale sweeper started", "interval", s.cfg.Interval, "stale_after", s.cfg.StaleAfter)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "sweep failed", "error", err)
				continue
			}
			slog.InfoContext(ctx, "sweep complete",
				"checked", res.Checked,
				"merged", res.Merged,
				"stale", res.Stale,
				"failed", res.Failed)
		}
	}
}

func (s *StaleSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	sc := logger.StartSpan(ctx, "pipeline.sweep")
	defer sc.End()
	ctx = sc.Context()

	var res SweepResult

	refs, err := s.ledger.UnmergedPRsAll(ctx)
	if err != nil {
		sc.RecordError(err)
		return res, fmt.Errorf("listing unmerged prs: %w", err)
	}

	now := s.now()
	for _, ref := range refs {
		res.Checked++
		prCtx := logger.WithLogFields(ctx, logger.LogFields{PRID: logger.Ptr(ref.FullID())})

		pr, err := s.reader.GetPullRequest(prCtx, ref)
		if err != nil {
			res.Failed++
			slog.WarnContext(prCtx, "skipping pull request, fetch failed", "error", err)
			continue
		}

		var cmd command.Command
		switch {
		case pr.Merged():
			cmd = command.Merged{Trigger: command.Trigger{PR: pr, Timestamp: *pr.MergedAt}}
			res.Merged++
		case pr.Closed || now.Sub(pr.UpdatedAt) > s.cfg.StaleAfter:
			cmd = command.Stale{Trigger: command.Trigger{PR: pr, Timestamp: now}}
			res.Stale++
		default:
			continue
		}

		if err := s.executor.Execute(prCtx, cmd); err != nil {
			res.Failed++
			slog.ErrorContext(prCtx, "sweep command failed", "error", err, "command", cmd.Name())
		}
	}
	return res, nil
}

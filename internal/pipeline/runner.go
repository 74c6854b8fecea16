package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/NEAR-DevHub/devbot/common/logger"
	"github.com/NEAR-DevHub/devbot/internal/cursor"
	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

type RunnerConfig struct {
	Interval    time.Duration
	Concurrency int
}

// Runner drives poll cycles: poll, extract, dispatch, advance the cursor.
type Runner struct {
	poller     *Poller
	extractor  *Extractor
	dispatcher Dispatcher
	cursor     cursor.Cursor
	cfg        RunnerConfig
}

func NewRunner(poller *Poller, extractor *Extractor, dispatcher Dispatcher, c cursor.Cursor, cfg RunnerConfig) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Runner{
		poller:     poller,
		extractor:  extractor,
		dispatcher: dispatcher,
		cursor:     c,
		cfg:        cfg,
	}
}

// Run cycles until ctx is done. A failed cycle is logged and retried on the
// next tick from the same cursor.
func (r *Runner) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "devbot.pipeline.runner"})

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "runner started", "interval", r.cfg.Interval, "concurrency", r.cfg.Concurrency)

	for {
		if _, err := r.Cycle(ctx); err != nil {
			slog.ErrorContext(ctx, "poll cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "runner stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CycleResult summarizes one cycle for logging and tests.
type CycleResult struct {
	Notifications int
	Events        int
	Failed        int
	Advanced      bool
	Cursor        time.Time
}

// Cycle runs one poll. Events of one pull request run in order; different
// pull requests run concurrently. The cursor moves only when no event
// failed transiently, so a failed command is seen again next cycle.
func (r *Runner) Cycle(ctx context.Context) (CycleResult, error) {
	sc := logger.StartSpan(ctx, "pipeline.cycle")
	defer sc.End()
	ctx = sc.Context()

	var res CycleResult

	since, err := r.cursor.Load(ctx)
	if err != nil {
		sc.RecordError(err)
		return res, fmt.Errorf("loading cursor: %w", err)
	}
	res.Cursor = since

	notifications, newSince, err := r.poller.Poll(ctx, since)
	if err != nil {
		sc.RecordError(err)
		return res, err
	}
	res.Notifications = len(notifications)

	events, unread := r.extractor.Extract(ctx, notifications)
	res.Events = len(events)

	traceID := sc.TraceID()
	for i := range events {
		events[i].TraceID = traceID
	}

	// Unread threads count as failures so the cursor stays behind them.
	res.Failed = unread + r.dispatchGrouped(ctx, events)
	sc.SetAttributes(
		attribute.Int("pipeline.notifications", res.Notifications),
		attribute.Int("pipeline.events", res.Events),
		attribute.Int("pipeline.failed", res.Failed),
	)

	if res.Failed > 0 {
		slog.WarnContext(ctx, "holding cursor after failed events", "failed", res.Failed, "cursor", since)
		return res, nil
	}

	res.Cursor, err = r.cursor.Advance(ctx, newSince)
	if err != nil {
		sc.RecordError(err)
		return res, fmt.Errorf("advancing cursor: %w", err)
	}
	res.Advanced = true

	if res.Events > 0 {
		slog.InfoContext(ctx, "poll cycle complete",
			"notifications", res.Notifications,
			"events", res.Events,
			"cursor", res.Cursor)
	}
	return res, nil
}

// dispatchGrouped returns how many events failed transiently.
func (r *Runner) dispatchGrouped(ctx context.Context, events []domain.Event) int {
	var (
		order  []string
		groups = map[string][]domain.Event{}
	)
	for _, ev := range events {
		key := ev.PR.FullID()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ev)
	}

	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, key := range order {
		group := groups[key]
		g.Go(func() error {
			for _, ev := range group {
				if !r.dispatchOne(gctx, ev) {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// dispatchOne reports false on a transient failure. Consistency and
// allow-list errors are logged and do not hold the cursor.
func (r *Runner) dispatchOne(ctx context.Context, ev domain.Event) bool {
	fields := logger.LogFields{
		PRID:           logger.Ptr(ev.PR.FullID()),
		NotificationID: logger.Ptr(ev.NotificationID),
	}
	if ev.Comment != nil {
		fields.CommentID = logger.Ptr(ev.Comment.ID)
	}
	ctx = logger.WithLogFields(ctx, fields)

	sc := logger.StartSpan(ctx, "pipeline.event")
	defer sc.End()
	ctx = sc.Context()

	err := r.dispatcher.Dispatch(ctx, ev)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ledger.ErrConsistency), errors.Is(err, ledger.ErrNotAllowed):
		sc.RecordError(err)
		slog.ErrorContext(ctx, "ledger refused event, dropping it", "error", err, "kind", ev.Kind)
		return true
	default:
		sc.RecordError(err)
		slog.ErrorContext(ctx, "event failed, will retry next cycle", "error", err, "kind", ev.Kind)
		return false
	}
}

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/NEAR-DevHub/devbot/common/logger"
	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
	"github.com/NEAR-DevHub/devbot/internal/messages"
	"github.com/NEAR-DevHub/devbot/internal/platform"
)

// Ledger is what the executor needs from the ledger.
type Ledger interface {
	CheckInfo(ctx context.Context, pr domain.PRRef) (ledger.PRInfo, error)
	SlothCalled(ctx context.Context, pr domain.PRRef, author string, startedAt time.Time) (ledger.Receipt, error)
	SlothScored(ctx context.Context, fullID, maintainer string, score uint8) (ledger.Receipt, error)
	SlothMerged(ctx context.Context, fullID string, mergedAt time.Time) (ledger.Receipt, error)
	SlothStale(ctx context.Context, fullID string) (ledger.Receipt, error)
	Pause(ctx context.Context, org, repo string) (ledger.Receipt, error)
	Unpause(ctx context.Context, org, repo string) (ledger.Receipt, error)
	Exclude(ctx context.Context, fullID string) (ledger.Receipt, error)
}

type Renderer interface {
	Render(ctx context.Context, c messages.Category, vars messages.Vars) string
}

// ValidationError is a command the user got wrong. The executor answers it
// with a reply and marks the notification read instead of failing.
type ValidationError struct {
	Reason   string
	Category messages.Category
	Vars     messages.Vars
}

func (e *ValidationError) Error() string {
	return e.Reason
}

type Executor struct {
	ledger   Ledger
	platform platform.Writer
	messages Renderer
}

func NewExecutor(l Ledger, w platform.Writer, m Renderer) *Executor {
	return &Executor{ledger: l, platform: w, messages: m}
}

// Execute runs one command to completion. Validation failures are answered
// and swallowed; anything else is returned for the caller to retry.
func (e *Executor) Execute(ctx context.Context, cmd Command) error {
	t := cmd.trigger()
	fields := logger.LogFields{
		PRID:    logger.Ptr(t.PR.FullID()),
		Command: logger.Ptr(cmd.Name()),
	}
	if t.CommentID != 0 {
		fields.CommentID = logger.Ptr(t.CommentID)
	}
	if t.NotificationID != "" {
		fields.NotificationID = logger.Ptr(t.NotificationID)
	}
	ctx = logger.WithLogFields(ctx, fields)

	sc := logger.StartSpan(ctx, "command."+cmd.Name())
	defer sc.End()
	ctx = sc.Context()

	var err error
	switch c := cmd.(type) {
	case Start:
		err = e.start(ctx, c)
	case Score:
		err = e.score(ctx, c)
	case Pause:
		err = e.pause(ctx, c)
	case Unpause:
		err = e.unpause(ctx, c)
	case Stale:
		err = e.stale(ctx, c)
	case Exclude:
		err = e.exclude(ctx, c)
	case Merged:
		err = e.merged(ctx, c)
	default:
		panic(fmt.Sprintf("command: unhandled command %T", cmd))
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return e.reject(ctx, t, verr)
	}
	if err != nil {
		sc.RecordError(err)
		return fmt.Errorf("executing %s on %s: %w", cmd.Name(), t.PR.FullID(), err)
	}
	return nil
}

func (e *Executor) start(ctx context.Context, c Start) error {
	info, err := e.ledger.CheckInfo(ctx, c.PR.PRRef)
	if err != nil {
		return fmt.Errorf("checking info: %w", err)
	}
	if info.Exist || info.Excluded {
		slog.DebugContext(ctx, "include skipped", "exist", info.Exist, "excluded", info.Excluded)
		return nil
	}
	if !info.AllowedOrg {
		return &ValidationError{
			Reason:   "organization not on the allow-list",
			Category: messages.ErrorOrgNotInAllowedList,
			Vars:     messages.Vars{"org": c.PR.Owner},
		}
	}
	if info.Paused {
		slog.DebugContext(ctx, "include skipped, repository paused")
		return nil
	}

	r, err := e.ledger.SlothCalled(ctx, c.PR.PRRef, c.PR.Author.Login, c.PR.StartedAt)
	if err != nil {
		return fmt.Errorf("starting: %w", err)
	}
	if !r.Applied {
		return nil
	}

	if err := e.reply(ctx, c.PR.PRRef, messages.IncludeBasic, messages.Vars{"pr_author_username": c.PR.Author.Login}); err != nil {
		return err
	}
	return e.platform.ReactToComment(ctx, c.PR.PRRef, c.CommentID)
}

func (e *Executor) score(ctx context.Context, c Score) error {
	info, err := e.ledger.CheckInfo(ctx, c.PR.PRRef)
	if err != nil {
		return fmt.Errorf("checking info: %w", err)
	}
	if !info.Allowed || !info.Exist || info.Excluded {
		return e.markRead(ctx, c.Trigger)
	}
	if info.Executed {
		return &ValidationError{
			Reason:   "contribution already executed",
			Category: messages.ErrorLateScoring,
			Vars:     messages.Vars{"sender": c.Sender.Login},
		}
	}

	score, err := strconv.ParseUint(c.Raw, 10, 8)
	if err != nil || score < ledger.MinScore || score > ledger.MaxScore {
		return &ValidationError{
			Reason:   fmt.Sprintf("invalid score %q", c.Raw),
			Category: messages.ErrorInvalidScore,
			Vars:     messages.Vars{"sender": c.Sender.Login, "raw": c.Raw},
		}
	}

	if c.Sender.Login == c.PR.Author.Login {
		return &ValidationError{
			Reason:   "author scored own pull request",
			Category: messages.ErrorSelfScore,
			Vars:     messages.Vars{"sender": c.Sender.Login},
		}
	}
	if !c.Sender.IsMaintainer() {
		return &ValidationError{
			Reason:   "score from a non-maintainer",
			Category: messages.ErrorRightsViolation,
			Vars:     messages.Vars{"sender": c.Sender.Login},
		}
	}

	if _, err := e.ledger.SlothScored(ctx, c.PR.FullID(), c.Sender.Login, uint8(score)); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}

	vars := messages.Vars{"sender": c.Sender.Login, "score": strconv.FormatUint(score, 10)}
	if err := e.reply(ctx, c.PR.PRRef, messages.CorrectScoring, vars); err != nil {
		return err
	}
	if err := e.platform.ReactToComment(ctx, c.PR.PRRef, c.CommentID); err != nil {
		return err
	}
	return e.markRead(ctx, c.Trigger)
}

func (e *Executor) pause(ctx context.Context, c Pause) error {
	if !c.Sender.IsMaintainer() {
		return rightsViolation(c.Sender)
	}

	info, err := e.ledger.CheckInfo(ctx, c.PR.PRRef)
	if err != nil {
		return fmt.Errorf("checking info: %w", err)
	}
	if info.Paused {
		return &ValidationError{Reason: "repository already paused", Category: messages.ErrorPausePaused}
	}

	if _, err := e.ledger.Pause(ctx, c.PR.Owner, c.PR.Repo); err != nil {
		return fmt.Errorf("pausing: %w", err)
	}
	return e.reply(ctx, c.PR.PRRef, messages.Pause, nil)
}

func (e *Executor) unpause(ctx context.Context, c Unpause) error {
	if !c.Sender.IsMaintainer() {
		return rightsViolation(c.Sender)
	}

	info, err := e.ledger.CheckInfo(ctx, c.PR.PRRef)
	if err != nil {
		return fmt.Errorf("checking info: %w", err)
	}
	if !info.Paused {
		return &ValidationError{Reason: "repository not paused", Category: messages.ErrorUnpauseUnpaused}
	}

	if _, err := e.ledger.Unpause(ctx, c.PR.Owner, c.PR.Repo); err != nil {
		return fmt.Errorf("unpausing: %w", err)
	}
	return e.reply(ctx, c.PR.PRRef, messages.Unpause, nil)
}

// stale records staleness even outside the allow-list, but only talks on
// open PRs in allowed repositories.
func (e *Executor) stale(ctx context.Context, c Stale) error {
	info, err := e.ledger.CheckInfo(ctx, c.PR.PRRef)
	if err != nil {
		return fmt.Errorf("checking info: %w", err)
	}
	if info.Merged {
		slog.WarnContext(ctx, "stale pr already merged, skipping")
		return nil
	}

	r, err := e.ledger.SlothStale(ctx, c.PR.FullID())
	if err != nil {
		return fmt.Errorf("marking stale: %w", err)
	}
	if !r.Applied || !info.Allowed || c.PR.Closed {
		return nil
	}
	return e.reply(ctx, c.PR.PRRef, messages.Stale, nil)
}

func (e *Executor) exclude(ctx context.Context, c Exclude) error {
	if !c.Sender.IsMaintainer() {
		return rightsViolation(c.Sender)
	}

	info, err := e.ledger.CheckInfo(ctx, c.PR.PRRef)
	if err != nil {
		return fmt.Errorf("checking info: %w", err)
	}
	if info.Executed {
		return &ValidationError{
			Reason:   "contribution already executed",
			Category: messages.ErrorLateExclude,
			Vars:     messages.Vars{"sender": c.Sender.Login},
		}
	}
	if !info.Exist || info.Excluded {
		return e.markRead(ctx, c.Trigger)
	}

	if _, err := e.ledger.Exclude(ctx, c.PR.FullID()); err != nil {
		return fmt.Errorf("excluding: %w", err)
	}
	if err := e.reply(ctx, c.PR.PRRef, messages.Exclude, messages.Vars{"sender": c.Sender.Login}); err != nil {
		return err
	}
	return e.markRead(ctx, c.Trigger)
}

func (e *Executor) merged(ctx context.Context, c Merged) error {
	info, err := e.ledger.CheckInfo(ctx, c.PR.PRRef)
	if err != nil {
		return fmt.Errorf("checking info: %w", err)
	}
	if !info.Exist || info.Merged || info.Excluded {
		return nil
	}

	r, err := e.ledger.SlothMerged(ctx, c.PR.FullID(), *c.PR.MergedAt)
	if err != nil {
		return fmt.Errorf("merging: %w", err)
	}
	if !r.Applied {
		return nil
	}

	vars := messages.Vars{"pr_author_username": c.PR.Author.Login}
	if !r.Executed {
		return e.reply(ctx, c.PR.PRRef, messages.MergeWithoutScore, vars)
	}

	vars["score"] = strconv.FormatUint(uint64(r.Score), 10)
	if err := e.reply(ctx, c.PR.PRRef, messages.Final, vars); err != nil {
		return err
	}
	return e.platform.ReactToPullRequest(ctx, c.PR.PRRef)
}

func (e *Executor) reject(ctx context.Context, t Trigger, verr *ValidationError) error {
	slog.InfoContext(ctx, "command rejected", "reason", verr.Reason, "sender", t.Sender.Login)

	if err := e.reply(ctx, t.PR.PRRef, verr.Category, verr.Vars); err != nil {
		return fmt.Errorf("replying to rejected command: %w", err)
	}
	return e.markRead(ctx, t)
}

func (e *Executor) reply(ctx context.Context, ref domain.PRRef, c messages.Category, vars messages.Vars) error {
	if err := e.platform.CreateComment(ctx, ref, e.messages.Render(ctx, c, vars)); err != nil {
		return fmt.Errorf("replying %s: %w", c, err)
	}
	return nil
}

func (e *Executor) markRead(ctx context.Context, t Trigger) error {
	if t.NotificationID == "" {
		return nil
	}
	return e.platform.MarkNotificationRead(ctx, t.NotificationID)
}

func rightsViolation(sender domain.User) *ValidationError {
	return &ValidationError{
		Reason:   "sender is not a maintainer",
		Category: messages.ErrorRightsViolation,
		Vars:     messages.Vars{"sender": sender.Login},
	}
}

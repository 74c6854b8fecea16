package pipeline

import (
	"context"
	"log/slog"

	"github.com/NEAR-DevHub/devbot/internal/command"
	"github.com/NEAR-DevHub/devbot/internal/domain"
)

// Dispatcher takes an event off the runner's hands: inline mode handles it
// on the spot, queue mode enqueues it for a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) error
}

type Executor interface {
	Execute(ctx context.Context, cmd command.Command) error
}

// Handler parses an event and executes the resulting command. Events that
// carry no command are dropped.
type Handler struct {
	botHandle string
	executor  Executor
}

func NewHandler(botHandle string, executor Executor) *Handler {
	return &Handler{botHandle: botHandle, executor: executor}
}

func (h *Handler) Dispatch(ctx context.Context, ev domain.Event) error {
	cmd, ok := command.Parse(h.botHandle, ev)
	if !ok {
		slog.DebugContext(ctx, "event carries no command", "kind", ev.Kind)
		return nil
	}
	return h.executor.Execute(ctx, cmd)
}

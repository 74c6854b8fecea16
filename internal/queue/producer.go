package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/NEAR-DevHub/devbot/internal/domain"
)

type Producer interface {
	Enqueue(ctx context.Context, ev domain.Event) error
	Close() error
}

// RedisProducer appends events to a stream. It doubles as the runner's
// dispatcher in queue mode.
type RedisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) *RedisProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *RedisProducer) Enqueue(ctx context.Context, ev domain.Event) error {
	attempt := ev.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields, err := messageValues(Message{Event: ev, TraceID: ev.TraceID}, attempt)
	if err != nil {
		return err
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued event", "pr_id", ev.PR.FullID(), "kind", ev.Kind, "attempt", attempt)
	return nil
}

func (p *RedisProducer) Dispatch(ctx context.Context, ev domain.Event) error {
	return p.Enqueue(ctx, ev)
}

func (p *RedisProducer) Close() error {
	return p.client.Close()
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NEAR-DevHub/devbot/common/id"
	"github.com/NEAR-DevHub/devbot/common/logger"
	"github.com/NEAR-DevHub/devbot/common/otel"
	"github.com/NEAR-DevHub/devbot/core/config"
	"github.com/NEAR-DevHub/devbot/core/db"
	"github.com/NEAR-DevHub/devbot/internal/command"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
	"github.com/NEAR-DevHub/devbot/internal/messages"
	"github.com/NEAR-DevHub/devbot/internal/pipeline"
	"github.com/NEAR-DevHub/devbot/internal/platform/github"
	"github.com/NEAR-DevHub/devbot/internal/queue"
	"github.com/NEAR-DevHub/devbot/internal/store"
	"github.com/NEAR-DevHub/devbot/internal/worker"
)

const receiptStreamMaxLen = 100_000

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "devbot worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Node IDs must differ between the bot and every worker replica.
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	var options []ledger.Option
	if cfg.Pipeline.ReceiptsEnabled() {
		options = append(options, ledger.WithReceiptSink(
			queue.NewReceiptPublisher(redisClient, cfg.Pipeline.ReceiptStream, receiptStreamMaxLen)))
	}
	client := ledger.NewClient(ledger.NewMachine(store.NewLedger(database), options...))

	gh, err := github.New(cfg.GitHub.Token, cfg.GitHub.APIURL, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create github client", "error", err)
		os.Exit(1)
	}

	templates, err := messages.Load(cfg.Messages.File, messages.Vars{
		"bot_name":         cfg.GitHub.BotHandle,
		"link":             cfg.Messages.Link,
		"leaderboard_link": cfg.Messages.LeaderboardLink,
		"form":             cfg.Messages.Form,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to load message templates", "error", err)
		os.Exit(1)
	}

	handler := pipeline.NewHandler(cfg.GitHub.BotHandle, command.NewExecutor(client, gh, templates))

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer,
		DLQStream: cfg.Pipeline.RedisDLQStream,
		// One event at a time keeps a single consumer in stream order.
		BatchSize:    1,
		Block:        5 * time.Second,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, handler, worker.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:      cfg.Pipeline.RedisStream,
		Group:       cfg.Pipeline.RedisGroup,
		Consumer:    cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:     cfg.Pipeline.ReclaimIdle,
		Interval:    cfg.Pipeline.ReclaimEvery,
		BatchSize:   10,
		MaxAttempts: int64(cfg.Pipeline.MaxAttempts),
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
██████╗ ███████╗██╗   ██╗██████╗  ██████╗ ████████╗    ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔══██╗██╔════╝██║   ██║██╔══██╗██╔═══██╗╚══██╔══╝    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██║  ██║█████╗  ██║   ██║██████╔╝██║   ██║   ██║       ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║  ██║██╔══╝  ╚██╗ ██╔╝██╔══██╗██║   ██║   ██║       ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
██████╔╝███████╗ ╚████╔╝ ██████╔╝╚██████╔╝   ██║       ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚═════╝ ╚══════╝  ╚═══╝  ╚═════╝  ╚═════╝    ╚═╝        ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/NEAR-DevHub/devbot/common/id"
	"github.com/NEAR-DevHub/devbot/common/logger"
	"github.com/NEAR-DevHub/devbot/common/otel"
	"github.com/NEAR-DevHub/devbot/core/config"
	"github.com/NEAR-DevHub/devbot/core/db"
	"github.com/NEAR-DevHub/devbot/internal/command"
	"github.com/NEAR-DevHub/devbot/internal/cursor"
	"github.com/NEAR-DevHub/devbot/internal/http/middleware"
	httprouter "github.com/NEAR-DevHub/devbot/internal/http/router"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
	"github.com/NEAR-DevHub/devbot/internal/messages"
	"github.com/NEAR-DevHub/devbot/internal/pipeline"
	"github.com/NEAR-DevHub/devbot/internal/platform/github"
	"github.com/NEAR-DevHub/devbot/internal/queue"
	"github.com/NEAR-DevHub/devbot/internal/store"
)

const receiptStreamMaxLen = 100_000

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeBot)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "devbot starting",
		"env", cfg.Env,
		"mode", cfg.Poller.Mode,
		"bot", cfg.GitHub.BotHandle)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var (
		ledgerStore ledger.TxRunner = ledger.NewMemoryStore()
		redisClient *redis.Client
		pollCursor  cursor.Cursor = cursor.NewMemory(time.Time{})
		options     []ledger.Option
	)

	if cfg.DB.Enabled() {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to migrate database", "error", err)
			os.Exit(1)
		}
		ledgerStore = store.NewLedger(database)
		slog.InfoContext(ctx, "database connected")
	} else {
		slog.WarnContext(ctx, "DATABASE_URL not set, ledger is kept in memory")
	}

	if cfg.Pipeline.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}

		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.InfoContext(ctx, "redis connected", "cursor_key", cfg.Pipeline.CursorKey)

		pollCursor = cursor.NewRedis(redisClient, cfg.Pipeline.CursorKey)
		if cfg.Pipeline.ReceiptsEnabled() {
			options = append(options, ledger.WithReceiptSink(
				queue.NewReceiptPublisher(redisClient, cfg.Pipeline.ReceiptStream, receiptStreamMaxLen)))
		}
	}

	machine := ledger.NewMachine(ledgerStore, options...)
	client := ledger.NewClient(machine)

	gh, err := github.New(cfg.GitHub.Token, cfg.GitHub.APIURL, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create github client", "error", err)
		os.Exit(1)
	}
	if login, err := gh.Whoami(ctx); err != nil {
		slog.WarnContext(ctx, "could not verify github token", "error", err)
	} else if !strings.EqualFold(login, cfg.GitHub.BotHandle) {
		slog.WarnContext(ctx, "token login differs from configured bot handle",
			"login", login, "bot", cfg.GitHub.BotHandle)
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

	executor := command.NewExecutor(client, gh, templates)

	var dispatcher pipeline.Dispatcher
	switch cfg.Poller.Mode {
	case config.ModeQueue:
		producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, slog.Default())
		defer producer.Close()
		dispatcher = producer
	default:
		dispatcher = pipeline.NewHandler(cfg.GitHub.BotHandle, executor)
	}

	runner := pipeline.NewRunner(
		pipeline.NewPoller(gh),
		pipeline.NewExtractor(gh, cfg.GitHub.BotHandle, cfg.Poller.Concurrency),
		dispatcher,
		pollCursor,
		pipeline.RunnerConfig{Interval: cfg.Poller.Interval, Concurrency: cfg.Poller.Concurrency},
	)
	sweeper := pipeline.NewStaleSweeper(client, gh, executor, pipeline.SweeperConfig{
		Interval:   cfg.Poller.SweepInterval,
		StaleAfter: cfg.Poller.StaleAfter,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, client),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	loopCtx, stopLoops := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop polling first so no command is cut off by the server going away.
	stopLoops()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(shutdownCtx, "poll loop error", "error", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, users *ledger.Client) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, users)

	return router
}

const banner = `
██████╗ ███████╗██╗   ██╗██████╗  ██████╗ ████████╗
██╔══██╗██╔════╝██║   ██║██╔══██╗██╔═══██╗╚══██╔══╝
██║  ██║█████╗  ██║   ██║██████╔╝██║   ██║   ██║
██║  ██║██╔══╝  ╚██╗ ██╔╝██╔══██╗██║   ██║   ██║
██████╔╝███████╗ ╚████╔╝ ██████╔╝╚██████╔╝   ██║
╚═════╝ ╚══════╝  ╚═══╝  ╚═════╝  ╚═════╝    ╚═╝
`

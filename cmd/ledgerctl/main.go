package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/NEAR-DevHub/devbot/common/id"
	"github.com/NEAR-DevHub/devbot/common/logger"
	"github.com/NEAR-DevHub/devbot/core/config"
	"github.com/NEAR-DevHub/devbot/core/db"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
	"github.com/NEAR-DevHub/devbot/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeLedgerCtl)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg)

	if !cfg.DB.Enabled() {
		return errors.New("DATABASE_URL is required")
	}

	if err := id.Init(cfg.NodeID); err != nil {
		return fmt.Errorf("initializing id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	env := &env{
		machine: ledger.NewMachine(store.NewLedger(database)),
		out:     os.Stdout,
		migrateSchema: func(ctx context.Context) error {
			return database.Migrate(ctx)
		},
	}

	slog.DebugContext(ctx, "running ledgerctl command", "command", args[0])
	if err := cmd.run(ctx, env, args[1:]); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return err
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ledgerctl administers the contribution ledger.

Usage:
  ledgerctl <command> [flags]

Commands:
`)
	for _, name := range commandOrder {
		fmt.Fprintf(os.Stderr, "  %-15s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(os.Stderr, `
Run "ledgerctl <command> --help" for the flags of one command.
`)
}

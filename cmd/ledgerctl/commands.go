package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

type env struct {
	machine       *ledger.Machine
	out           io.Writer
	migrateSchema func(ctx context.Context) error
}

type command struct {
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commandOrder = []string{
	"migrate",
	"allow-org",
	"disallow-org",
	"exclude",
	"streak-add",
	"streak-toggle",
	"streaks",
	"user",
}

var commands = map[string]command{
	"migrate":       {"apply schema migrations and rebuild aggregates", runMigrate},
	"allow-org":     {"add an organization to the allow-list", runAllowOrg},
	"disallow-org":  {"remove an organization from the allow-list", runDisallowOrg},
	"exclude":       {"exclude a PR (org/repo/number) from the ledger", runExclude},
	"streak-add":    {"register a streak from flags or a YAML file", runStreakAdd},
	"streak-toggle": {"activate or deactivate a streak", runStreakToggle},
	"streaks":       {"list registered streaks", runStreaks},
	"user":          {"print the profile of a contributor", runUser},
}

// parseFlags parses args and returns the positional arguments. --help
// surfaces as pflag.ErrHelp after the usage was printed.
func parseFlags(fs *pflag.FlagSet, args []string, positional int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	rest := fs.Args()
	if len(rest) != positional {
		return nil, fmt.Errorf("%s: expected %d argument(s), got %d", fs.Name(), positional, len(rest))
	}
	return rest, nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func runMigrate(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("migrate")
	schemaOnly := fs.Bool("schema-only", false, "apply schema migrations without rebuilding aggregates")
	if _, err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	if e.migrateSchema != nil {
		if err := e.migrateSchema(ctx); err != nil {
			return err
		}
	}
	if *schemaOnly {
		return nil
	}

	report, err := e.machine.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("rebuilding aggregates: %w", err)
	}
	return e.print(report)
}

func runAllowOrg(ctx context.Context, e *env, args []string) error {
	rest, err := parseFlags(newFlagSet("allow-org"), args, 1)
	if err != nil {
		return err
	}
	return e.apply(ctx, ledger.AllowOrganization{Org: rest[0]})
}

func runDisallowOrg(ctx context.Context, e *env, args []string) error {
	rest, err := parseFlags(newFlagSet("disallow-org"), args, 1)
	if err != nil {
		return err
	}
	return e.apply(ctx, ledger.DisallowOrganization{Org: rest[0]})
}

func runExclude(ctx context.Context, e *env, args []string) error {
	rest, err := parseFlags(newFlagSet("exclude"), args, 1)
	if err != nil {
		return err
	}
	if _, err := domain.ParseFullID(rest[0]); err != nil {
		return fmt.Errorf("exclude: %w", err)
	}
	return e.apply(ctx, ledger.ExcludePR{FullID: rest[0]})
}

// streakFile is the YAML layout accepted by streak-add --file.
type streakFile struct {
	Streaks []struct {
		Name     string             `yaml:"name"`
		Period   string             `yaml:"period"`
		Criteria []ledger.Criterion `yaml:"criteria"`
	} `yaml:"streaks"`
}

func runStreakAdd(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("streak-add")
	name := fs.String("name", "", "streak name")
	period := fs.String("period", "", "period: week, month, quarter or year")
	criteria := fs.StringArray("criterion", nil, "kind=value, repeatable (e.g. prs_merged=1)")
	file := fs.StringP("file", "f", "", "YAML file holding a streaks list")
	if _, err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	var muts []ledger.AddStreak
	if *file != "" {
		loaded, err := loadStreakFile(*file)
		if err != nil {
			return err
		}
		muts = loaded
	} else {
		mut, err := streakFromFlags(*name, *period, *criteria)
		if err != nil {
			return err
		}
		muts = append(muts, mut)
	}

	for _, mut := range muts {
		if err := e.apply(ctx, mut); err != nil {
			return err
		}
	}
	return nil
}

func streakFromFlags(name, period string, criteria []string) (ledger.AddStreak, error) {
	if name == "" {
		return ledger.AddStreak{}, fmt.Errorf("streak-add: --name is required")
	}
	p, err := ledger.ParseTimePeriod(period)
	if err != nil {
		return ledger.AddStreak{}, fmt.Errorf("streak-add: %w", err)
	}
	mut := ledger.AddStreak{Name: name, Period: p}
	for _, raw := range criteria {
		c, err := parseCriterion(raw)
		if err != nil {
			return ledger.AddStreak{}, err
		}
		mut.Criteria = append(mut.Criteria, c)
	}
	return mut, nil
}

func parseCriterion(raw string) (ledger.Criterion, error) {
	kind, value, ok := strings.Cut(raw, "=")
	if !ok {
		return ledger.Criterion{}, fmt.Errorf("criterion %q: expected kind=value", raw)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return ledger.Criterion{}, fmt.Errorf("criterion %q: %w", raw, err)
	}
	return ledger.Criterion{Kind: ledger.CriterionKind(strings.TrimSpace(kind)), Value: uint32(v)}, nil
}

func loadStreakFile(path string) ([]ledger.AddStreak, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f streakFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(f.Streaks) == 0 {
		return nil, fmt.Errorf("%s: no streaks", path)
	}

	muts := make([]ledger.AddStreak, 0, len(f.Streaks))
	for _, s := range f.Streaks {
		p, err := ledger.ParseTimePeriod(s.Period)
		if err != nil {
			return nil, fmt.Errorf("%s: streak %q: %w", path, s.Name, err)
		}
		muts = append(muts, ledger.AddStreak{Name: s.Name, Period: p, Criteria: s.Criteria})
	}
	return muts, nil
}

func runStreakToggle(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("streak-toggle")
	active := fs.Bool("active", true, "set --active=false to deactivate")
	rest, err := parseFlags(fs, args, 1)
	if err != nil {
		return err
	}
	streakID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("streak-toggle: bad streak id %q", rest[0])
	}
	return e.apply(ctx, ledger.SetStreakActive{ID: streakID, Active: *active})
}

func runStreaks(ctx context.Context, e *env, args []string) error {
	if _, err := parseFlags(newFlagSet("streaks"), args, 0); err != nil {
		return err
	}
	streaks, err := ledger.NewClient(e.machine).Streaks(ctx)
	if err != nil {
		return err
	}
	return e.print(streaks)
}

func runUser(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("user")
	at := fs.String("at", "", "RFC 3339 instant whose periods to show (default now)")
	rest, err := parseFlags(fs, args, 1)
	if err != nil {
		return err
	}

	var when time.Time
	if *at != "" {
		when, err = time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("user: --at: %w", err)
		}
	}

	view, err := ledger.NewClient(e.machine).UserProfile(ctx, rest[0], when)
	if err != nil {
		return err
	}
	return e.print(view)
}

func (e *env) apply(ctx context.Context, mut ledger.Mutation) error {
	receipt, err := e.machine.Apply(ctx, mut)
	if err != nil {
		return fmt.Errorf("applying %s: %w", mut.Kind(), err)
	}
	return e.print(receipt)
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

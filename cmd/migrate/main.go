// Command migrate manages the paper radar database schema.
//
// Usage:
//
//	migrate [-path dir] up
//	migrate [-path dir] steps N
//	migrate [-path dir] version
//	migrate [-path dir] -yes down
//	migrate [-path dir] -yes force V
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/config"
	"github.com/helixir/paper-radar-service/internal/database"
	"github.com/helixir/paper-radar-service/internal/observability"
)

var errUsage = errors.New("usage: migrate [-path dir] [-yes] up|down|steps N|version|force V")

// action is one subcommand. destructive actions need -yes.
type action struct {
	args        int
	destructive bool
	run         func(m *database.Migrator, arg int) error
}

var actions = map[string]action{
	"up": {run: func(m *database.Migrator, _ int) error { return m.Up() }},
	"down": {destructive: true, run: func(m *database.Migrator, _ int) error {
		return m.Down()
	}},
	"steps": {args: 1, run: func(m *database.Migrator, n int) error {
		if n == 0 {
			return fmt.Errorf("steps must be non-zero")
		}
		return m.Steps(n)
	}},
	"version": {run: func(*database.Migrator, int) error { return nil }},
	"force": {args: 1, destructive: true, run: func(m *database.Migrator, v int) error {
		if v < 0 {
			return fmt.Errorf("force version must be >= 0")
		}
		return m.Force(v)
	}},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	migrationsPath := fs.String("path", "", "override the migrations directory")
	confirm := fs.Bool("yes", false, "confirm a destructive action (down, force)")
	if err := fs.Parse(argv); err != nil {
		return err
	}

	name, arg, act, err := parseAction(fs.Args())
	if err != nil {
		return err
	}
	if act.destructive && !*confirm {
		return fmt.Errorf("%s rewrites schema history; rerun with -yes", name)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := observability.DefaultLoggingConfig()
	logCfg.Format = "console"
	logger := observability.NewLogger(logCfg).With().Str("component", "migrate").Logger()

	dir := cfg.Database.MigrationPath
	if *migrationsPath != "" {
		dir = *migrationsPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, dir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	logger.Info().Str("action", name).Msg("running migration action")
	if err := act.run(migrator, arg); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return reportVersion(migrator, logger)
}

// parseAction resolves the positional arguments to a subcommand.
func parseAction(args []string) (string, int, action, error) {
	if len(args) == 0 {
		return "", 0, action{}, errUsage
	}
	name := args[0]
	act, ok := actions[name]
	if !ok {
		return "", 0, action{}, fmt.Errorf("unknown action %q: %w", name, errUsage)
	}
	if len(args)-1 != act.args {
		return "", 0, action{}, fmt.Errorf("%s takes %d argument(s): %w", name, act.args, errUsage)
	}
	var n int
	if act.args == 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, action{}, fmt.Errorf("%s: invalid number %q", name, args[1])
		}
		n = v
	}
	return name, n, act, nil
}

func reportVersion(migrator *database.Migrator, logger zerolog.Logger) error {
	v, dirty, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	if dirty {
		return fmt.Errorf("schema version %d is dirty; fix the failed migration and run force", v)
	}
	return nil
}

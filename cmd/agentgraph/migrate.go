package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/BaSui01/agentgraph/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles `agentgraph migrate <subcommand> [args] [flags]`.
// Positional arguments of steps/goto/force precede the flags.
func runMigrate(args []string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage(out)
		return nil
	}
	subcommand := args[0]
	if subcommand == "reset" {
		subcommand = "down-all"
	}

	var positional []string
	rest := args[1:]
	for len(rest) > 0 && isPositional(rest[0]) {
		positional = append(positional, rest[0])
		rest = rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(out)
	return cli.Run(context.Background(), subcommand, positional)
}

// isPositional reports whether arg is a value rather than a flag. Negative
// numbers count as values so "steps -1" rolls back one migration.
func isPositional(arg string) bool {
	if !strings.HasPrefix(arg, "-") {
		return true
	}
	_, err := strconv.Atoi(arg)
	return err == nil
}

// createMigrator builds a migrator from an explicit URL or the config file.
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

func printMigrateUsage(out io.Writer) {
	fmt.Fprintln(out, `Database Migration Commands

Usage:
  agentgraph migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback all migrations (alias: reset)
  steps <n>   Apply n migrations, or roll back when n is negative
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show migration counts

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  agentgraph migrate up --config /etc/agentgraph/config.yaml
  agentgraph migrate status --db-type sqlite --db-url "file:agentgraph.db?mode=rwc"
  agentgraph migrate goto 1 --config config.yaml`)
}

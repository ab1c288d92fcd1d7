// Command migrate applies goose migrations from migrations/ against
// DATABASE_URL. Subcommands mirror goose's own CLI: up, down, status.
package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/relaycore/orchestrator/internal/infra/config"
	"github.com/relaycore/orchestrator/internal/observability"
)

const migrationsDir = "migrations"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	switch cmd {
	case "up":
		if err := goose.Up(db, migrationsDir); err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
	case "down":
		if err := goose.Down(db, migrationsDir); err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
	case "status":
		if err := goose.Status(db, migrationsDir); err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
	default:
		return fmt.Errorf("unknown migrate subcommand %q (want up, down, or status)", cmd)
	}

	logger.Info("migration command completed", slog.String("command", cmd))
	return nil
}

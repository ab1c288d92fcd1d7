// Command scheduler runs the periodic Durable-Store housekeeping jobs
// described in SPEC_FULL.md §2.1: purging delivered Outbox rows, sweeping
// stale Inbox rows, and logging the daily budget rollover. It never touches
// the Queue Broker, so it can be scaled to zero without affecting dispatch.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaycore/orchestrator/internal/infra/config"
	"github.com/relaycore/orchestrator/internal/infra/postgres"
	"github.com/relaycore/orchestrator/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)

	dbPool := postgres.NewResilientPool(rootCtx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxConns:        cfg.DBPoolMaxConns,
		MinConns:        cfg.DBPoolMinConns,
		MaxConnLifetime: cfg.DBPoolMaxLifetime,
	}, cfg.IgnoreDBStartupError, logger)
	defer dbPool.Close()

	poolQuerier := postgres.NewPoolQuerier(dbPool)
	outboxRepo := postgres.NewOutboxRepo()
	inboxRepo := postgres.NewInboxRepo()

	sched := cron.New(cron.WithLocation(time.UTC))

	registerJob(sched, "0 */6 * * *", "purge delivered outbox rows", logger, func() error {
		before := time.Now().UTC().Add(-time.Duration(cfg.OutboxRetentionHours) * time.Hour)
		n, err := outboxRepo.PurgeDeliveredBefore(rootCtx, poolQuerier, before)
		if err != nil {
			return err
		}
		logger.Info("purged delivered outbox rows", slog.Int64("count", n), slog.Time("before", before))
		return nil
	})

	registerJob(sched, "*/15 * * * *", "sweep stale inbox rows", logger, func() error {
		before := time.Now().UTC().Add(-cfg.SchedulerInboxSweepAfter)
		n, err := inboxRepo.SweepOlderThan(rootCtx, poolQuerier, before)
		if err != nil {
			return err
		}
		logger.Info("swept stale inbox rows", slog.Int64("count", n), slog.Time("before", before))
		return nil
	})

	registerJob(sched, "0 0 * * *", "daily budget rollover", logger, func() error {
		logger.Info("daily budget ledger rollover", slog.Time("date", time.Now().UTC().Truncate(24*time.Hour)), slog.Float64("default_budget_usd", cfg.ModelDailyBudgetUSD))
		return nil
	})

	sched.Start()
	logger.Info("scheduler started", slog.Int("jobs", len(sched.Entries())))

	<-rootCtx.Done()
	logger.Info("scheduler shutdown signal received")
	shutdownCtx := sched.Stop()
	<-shutdownCtx.Done()
	logger.Info("scheduler stopped gracefully")
	return nil
}

// registerJob wraps a housekeeping closure with logging, since cron.Job
// itself has no return value to report failure through.
func registerJob(sched *cron.Cron, spec, name string, logger *slog.Logger, fn func() error) {
	_, err := sched.AddFunc(spec, func() {
		if err := fn(); err != nil {
			logger.Error("scheduled job failed", slog.String("job", name), slog.Any("error", err))
		}
	})
	if err != nil {
		logger.Error("failed to register scheduled job", slog.String("job", name), slog.Any("error", err))
	}
}

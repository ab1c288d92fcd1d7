// Command orchestrator runs the relaycore HTTP API, dispatcher worker pool,
// and outbox relay as one process, wired per SPEC_FULL.md §4-§6.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/relaycore/orchestrator/internal/admission"
	"github.com/relaycore/orchestrator/internal/app"
	"github.com/relaycore/orchestrator/internal/budget"
	"github.com/relaycore/orchestrator/internal/circuit"
	"github.com/relaycore/orchestrator/internal/dispatch"
	"github.com/relaycore/orchestrator/internal/dispatch/handler"
	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/idempotency"
	"github.com/relaycore/orchestrator/internal/infra/config"
	"github.com/relaycore/orchestrator/internal/infra/kafka"
	"github.com/relaycore/orchestrator/internal/infra/postgres"
	"github.com/relaycore/orchestrator/internal/infra/rabbitmq"
	"github.com/relaycore/orchestrator/internal/observability"
	"github.com/relaycore/orchestrator/internal/outbox"
	"github.com/relaycore/orchestrator/internal/queue"
	httpTransport "github.com/relaycore/orchestrator/internal/transport/http"
	"github.com/relaycore/orchestrator/internal/transport/http/contract"
	txhandler "github.com/relaycore/orchestrator/internal/transport/http/handler"
	"github.com/relaycore/orchestrator/internal/transport/http/middleware"
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

	contract.SetProblemBaseURL(cfg.ProblemBaseURL)

	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("orchestrator starting", slog.String("config", cfg.Redacted()))

	var tpShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tp, err := observability.InitTracer(rootCtx, cfg)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(tp)
		tpShutdown = tp.Shutdown
	}

	dbPool := postgres.NewResilientPool(rootCtx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxConns:        cfg.DBPoolMaxConns,
		MinConns:        cfg.DBPoolMinConns,
		MaxConnLifetime: cfg.DBPoolMaxLifetime,
	}, cfg.IgnoreDBStartupError, logger)
	defer dbPool.Close()

	pingCtx, cancelPing := context.WithTimeout(rootCtx, cfg.HealthCheckDBTimeout)
	err = dbPool.Ping(pingCtx)
	cancelPing()
	if err != nil && !cfg.IgnoreDBStartupError {
		return fmt.Errorf("database not reachable at startup: %w", err)
	}

	poolQuerier := postgres.NewPoolQuerier(dbPool)
	txManager := postgres.NewTxManager(dbPool)
	ids := postgres.NewIDGenerator()

	taskRepo := postgres.NewTaskRepo()
	runRepo := postgres.NewRunRepo()
	outboxRepo := postgres.NewOutboxRepo()
	inboxRepo := postgres.NewInboxRepo()
	budgetRepo := postgres.NewBudgetRepo()
	circuitRepo := postgres.NewCircuitRepo()
	apiKeyRepo := postgres.NewApiKeyRepo()

	// Queue Broker (§4.3) - in-process, rebuilt empty on every restart; Task
	// rows already queued in the Durable Store at boot are not re-enqueued.
	// The sweeper below re-enqueues tasks whose lease expires while running.
	broker := queue.New(cfg.MaxQueueDepth)
	go queue.Sweeper(rootCtx, broker, time.Duration(cfg.TaskLeaseSeconds)*time.Second/3, func(taskID domain.ID) {
		task, err := taskRepo.GetByID(rootCtx, poolQuerier, taskID)
		if err != nil {
			logger.Error("lease expiry sweep: fetch task for re-enqueue", "task_id", taskID, "error", err)
			return
		}
		if err := broker.Enqueue(taskID, task.Priority); err != nil {
			logger.Error("lease expiry sweep: re-enqueue", "task_id", taskID, "error", err)
		}
		logger.Warn("re-enqueued task after lease expiry", "task_id", taskID)
	})

	circuits := circuit.NewRegistry(txManager, circuitRepo, cfg.CircuitBreakerThreshold)
	accountant := budget.NewAccountant(txManager, budgetRepo, budget.Config{
		MaxAttempts:   cfg.BudgetCommitMaxAttempts,
		DefaultBudget: cfg.ModelDailyBudgetUSD,
	})
	admissionCtl := admission.New(broker, accountant, circuits, nil)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
	}
	failMode := idempotency.FailOpen
	if cfg.IdempotencyCacheFailMode == "closed" {
		failMode = idempotency.FailClosed
	}
	idempotencyCache := idempotency.NewCache(redisClient, failMode, logger)
	gate := idempotency.NewGate(txManager, taskRepo, inboxRepo, idempotencyCache, cfg.IdempotencyTTL, cfg.WebhookReplayWindow)

	// Outbox Relay sinks (§4.5): each transport degrades to no sink
	// (logged no-op delivery) when its config is absent.
	sinks := outbox.Sinks{}
	if cfg.WebhookSigningSecret != "" {
		sinks[domain.OutboxEffectWebhook] = outbox.NewWebhookSink(&http.Client{Timeout: 10 * time.Second}, cfg.WebhookSigningSecret)
	}
	if cfg.KafkaBrokers != "" {
		kafkaPub, err := kafka.NewKafkaPublisher(&kafka.KafkaConfig{Brokers: []string{cfg.KafkaBrokers}}, logger)
		if err != nil {
			logger.Warn("kafka sink unavailable, outbox kafka effects will no-op", "error", err)
		} else {
			sinks[domain.OutboxEffectKafka] = kafkaPub
		}
	}
	if cfg.AMQPURL != "" {
		amqpPub, err := rabbitmq.NewRabbitMQPublisher(&rabbitmq.RabbitMQConfig{URL: cfg.AMQPURL, Exchange: "relaycore.outbox", ExchangeType: "topic", Durable: true}, logger)
		if err != nil {
			logger.Warn("amqp sink unavailable, outbox amqp effects will no-op", "error", err)
		} else {
			sinks[domain.OutboxEffectAMQP] = amqpPub
		}
	}

	relay := outbox.New(outboxRepo, txManager, sinks, logger, outbox.Config{
		BatchSize:      cfg.OutboxBatchSize,
		PurgeAfter:     time.Duration(cfg.OutboxRetentionHours) * time.Hour,
		MaxConcurrency: cfg.BulkheadMaxConcurrent,
	})
	go relay.Run(rootCtx, cfg.OutboxPollInterval)

	registry := dispatch.NewRegistry()
	handler.RegisterStubs(registry)

	dlq := func(ctx context.Context, t *domain.Task, reason string) {
		logger.Error("task moved to dead-letter", "task_id", t.ID, "type", t.Type, "reason", reason, "target", dispatch.DLQTarget(t.Type))
	}
	pool := dispatch.New(broker, registry, taskRepo, runRepo, outboxRepo, txManager, poolQuerier, ids, logger, dispatch.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		WorkerReplicas: cfg.WorkerReplicas,
		LeaseDuration:  time.Duration(cfg.TaskLeaseSeconds) * time.Second,
		BackoffCap:     time.Duration(cfg.TaskBackoffMaxSec) * time.Second,
	}, dlq)

	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		pool.Run(rootCtx)
	}()

	// HTTP surface
	healthHandler := txhandler.NewCompositeHealthHandler(dbPool, broker)
	readyHandler := txhandler.NewReadyHandler(dbPool, logger)

	taskHandlers := &txhandler.TaskHandlers{
		TxM: txManager, PoolQ: poolQuerier, Tasks: taskRepo, Broker: broker,
		Gate: gate, Admission: admissionCtl, IDs: ids, Logger: logger,
	}
	webhookHandlers := &txhandler.WebhookHandlers{
		TxM: txManager, Tasks: taskRepo, Broker: broker, Gate: gate,
		Admission: admissionCtl, IDs: ids, Logger: logger, Secret: cfg.WebhookSigningSecret,
	}
	streamHandlers := &txhandler.StreamHandlers{Tasks: taskRepo, PoolQ: poolQuerier, Logger: logger}
	adminHandlers := &txhandler.AdminHandlers{
		TxM: txManager, PoolQ: poolQuerier, Tasks: taskRepo, Broker: broker,
		Circuits: circuits, Budget: accountant,
	}

	router := httpTransport.NewRouter(httpTransport.RouterConfig{
		Logger:        logger,
		HealthHandler: healthHandler,
		ReadyHandler:  readyHandler,
		Tasks:         taskHandlers,
		Webhooks:      webhookHandlers,
		Stream:        streamHandlers,
		Admin:         adminHandlers,
		Auth: middleware.ApiKeyAuthConfig{
			Repo: apiKeyRepo, Querier: poolQuerier, Salt: cfg.ApiKeyHashSalt, Logger: logger,
		},
		RateLimitRPS: cfg.RateLimitRPS,
		IdempotencyKeyConfig: middleware.IdempotencyConfig{
			Store: postgres.NewIdempotencyRepo(dbPool),
			TTL:   cfg.IdempotencyTTL,
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		MaxHeaderBytes:    cfg.HTTPMaxHeaderBytes,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.Int("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")

		steps := []func(context.Context) error{
			func(ctx context.Context) error {
				if err := srv.Shutdown(ctx); err != nil {
					srv.Close()
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			},
		}
		if tpShutdown != nil {
			steps = append(steps, func(ctx context.Context) error {
				if err := tpShutdown(ctx); err != nil {
					return fmt.Errorf("tracer: %w", err)
				}
				return nil
			})
		}
		if err := app.Shutdown(cfg.ShutdownTimeout, steps...); err != nil {
			logger.Error("graceful shutdown step failed", "error", err)
		}
	}

	workerWG.Wait()
	logger.Info("orchestrator stopped gracefully")
	return nil
}

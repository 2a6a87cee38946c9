/**
 * @description
 * This is the main entry point for the entitlement service. It initializes the
 * configuration, the store (Postgres or in-memory), Redis, RabbitMQ, the
 * ledger service, the occurrence materialization scheduler and the staff HTTP
 * API, then waits for a termination signal and shuts everything down.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 * - github.com/redis/go-redis/v9: purchase event idempotency guard.
 * - internal/api, internal/app, internal/config, internal/store: service packages.
 * - pkg/rabbitmq: event publishing and purchase event consumption.
 */
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/filipilijevski/sports-booking-sub001/internal/api"
	"github.com/filipilijevski/sports-booking-sub001/internal/app"
	"github.com/filipilijevski/sports-booking-sub001/internal/config"
	"github.com/filipilijevski/sports-booking-sub001/internal/logger"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
	"github.com/filipilijevski/sports-booking-sub001/internal/store/memory"
	"github.com/filipilijevski/sports-booking-sub001/pkg/rabbitmq"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting entitlement service", "port", cfg.ServerPort, "store", cfg.StoreDriver, "venue_timezone", cfg.VenueTimezone)

	ctx := context.Background()

	repository, closeStore, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: log}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, log)
		if err != nil {
			log.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		} else {
			defer producer.Close()
			publisher = producer
			log.Info("rabbitmq producer connected")
		}
	}

	service := app.NewService(repository, publisher, log, app.Options{
		Location:       cfg.Location,
		RetryLimit:     cfg.OptimisticRetryLimit,
		MaxHorizonDays: cfg.MaterializerMaxHorizonDays,
		Exchange:       cfg.EventsExchange,
	})

	guard, closeRedis := openIdempotencyGuard(cfg, log)
	defer closeRedis()

	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, log)
		if err != nil {
			log.Warn("rabbitmq consumer unavailable; purchase events will not be applied", "error", err)
		} else {
			defer consumer.Close()
			purchaseConsumer := app.NewPurchaseEventConsumer(service, guard, log, cfg.RequestTimeout())
			bindings := map[string]rabbitmq.Handler{
				app.RoutingPlanPurchased:    purchaseConsumer.HandlePlanPurchase,
				app.RoutingPackagePurchased: purchaseConsumer.HandlePackagePurchase,
			}
			if err := consumer.ConsumeWithBindings(cfg.EventsExchange, cfg.PurchaseEventQueue, bindings); err != nil {
				log.Error("purchase consumer start failed", "error", err)
				os.Exit(1)
			}
			log.Info("purchase consumer started", "queue", cfg.PurchaseEventQueue)
		}
	}

	var scheduler *app.Scheduler
	if cfg.MaterializerEnabled {
		jobs := app.NewJobs(service, log, cfg.MaterializerHorizonDays, 5*time.Minute)
		scheduler = app.NewScheduler(jobs, log, cfg.MaterializerSchedule, cfg.Location)
		if err := scheduler.Start(); err != nil {
			log.Error("scheduler start failed", "error", err)
			os.Exit(1)
		}
		log.Info("scheduler started")
	}

	if strings.TrimSpace(cfg.StaffJWTSecret) == "" {
		log.Warn("STAFF_JWT_SECRET is empty; every staff request will be rejected")
	}
	handlers := api.NewHandlers(service, log, cfg.MaterializerHorizonDays)
	router := api.NewRouter(handlers, api.RouterOptions{
		StaffJWTSecret: cfg.StaffJWTSecret,
		RequestTimeout: cfg.RequestTimeout(),
		MetricsEnabled: cfg.MetricsEnabled,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
		log.Info("scheduler stopped gracefully")
	}
	log.Info("server exited")
}

func openRepository(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	}

	if cfg.RunMigrations {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database migrations applied")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info("database connection established")

	return store.NewPostgresRepository(dbpool, cfg.LockTimeout()), dbpool.Close, nil
}

// openIdempotencyGuard connects to Redis when configured. Without Redis the
// grant and enrollment uniqueness constraints alone deduplicate events.
func openIdempotencyGuard(cfg config.Config, log *slog.Logger) (app.IdempotencyGuard, func()) {
	noop := func() {}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Warn("redis url missing; purchase event idempotency relies on database constraints", "env", "REDIS_URL")
		return nil, noop
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn("redis url parse failed; idempotency guard disabled", "error", err)
		return nil, noop
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis ping failed; idempotency guard disabled", "error", err)
		client.Close()
		return nil, noop
	}
	log.Info("redis connected")
	return app.NewRedisIdempotencyGuard(client, cfg.IdempotencyPrefix, cfg.IdempotencyTTL()), func() { client.Close() }
}

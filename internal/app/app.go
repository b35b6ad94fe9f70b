// Package app wires the service together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shopforge/inventory/internal/config"
	"github.com/shopforge/inventory/internal/event"
	httphandler "github.com/shopforge/inventory/internal/handler/http"
	"github.com/shopforge/inventory/internal/lock"
	"github.com/shopforge/inventory/internal/repository/postgres"
	"github.com/shopforge/inventory/internal/service"
	"github.com/shopforge/inventory/migrations"
	"github.com/shopforge/inventory/pkg/database"
	"github.com/shopforge/inventory/pkg/health"
	pkgkafka "github.com/shopforge/inventory/pkg/kafka"
	"github.com/shopforge/inventory/pkg/tracing"
)

// App holds the dependency graph. Components are started by Run and shut
// down in reverse order of construction.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool        *pgxpool.Pool
	redisClient *redis.Client
	producer    *pkgkafka.Producer
	dlq         *pkgkafka.DLQProducer
	consumers   []*pkgkafka.Consumer
	sweeper     *service.Sweeper
	httpServer  *http.Server

	tracerShutdown func(context.Context) error
}

// New builds the full dependency graph: storage, lock, messaging, domain
// services, and the HTTP surface.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	a.pool, err = database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		DBName:          cfg.Postgres.DBName,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := database.RunMigrations(ctx, a.pool, migrations.Files, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	database.RegisterPoolMetrics(a.pool, cfg.Service.Name)
	database.SetSlowQueryLogging(cfg.Postgres.SlowQueryThreshold, logger)

	a.redisClient, err = database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.Kafka.Brokers), logger)
	a.dlq = pkgkafka.NewDLQProducer(cfg.Kafka.Brokers, logger)

	repo := postgres.NewProductRepository(a.pool, logger)
	locker := lock.NewRedisLocker(a.redisClient, logger)
	if !cfg.Inventory.LockWatchdogEnabled {
		locker = locker.WithoutWatchdog()
	}
	publisher := event.NewPublisher(a.producer, cfg.Service.Name, logger)

	svc := service.NewInventoryService(repo, locker, publisher, logger, service.Config{
		ReservationTTL:           cfg.Inventory.ReservationTTL,
		LockWait:                 cfg.Inventory.LockWait,
		LockTTL:                  cfg.Inventory.LockTTL,
		SweepLockWait:            cfg.Inventory.SweepLockWait,
		SaveAttempts:             cfg.Inventory.SaveAttempts,
		SaveRetryBase:            cfg.Inventory.SaveRetryBase,
		PublishTimeout:           cfg.Inventory.PublishTimeout,
		DefaultLowStockThreshold: cfg.Inventory.DefaultLowStockThreshold,
	})

	a.sweeper = service.NewSweeper(svc, repo, logger, service.SweeperConfig{
		Interval: cfg.Inventory.SweepInterval,
		PageSize: cfg.Inventory.SweepPageSize,
	})

	a.buildConsumers(svc)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return a.redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return a.producer.Ping(ctx)
	})

	router := httphandler.NewRouter(
		httphandler.NewInventoryHandler(svc, logger),
		healthHandler,
		logger,
		cfg.Service.Name,
	)
	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return a, nil
}

// buildConsumers wires the order-event consumers with idempotent handling
// and DLQ diversion. Deduplication state lives in Redis so replicas share
// it.
func (a *App) buildConsumers(svc *service.InventoryService) {
	store := pkgkafka.NewRedisProcessedStore(a.redisClient, "inventory:processed:", a.cfg.Kafka.IdempotencyTTL)
	handlers := event.NewOrderHandlers(svc, a.logger)

	for topic, handle := range map[string]pkgkafka.Handler{
		event.TopicOrderCreated:   handlers.HandleOrderCreated,
		event.TopicOrderCancelled: handlers.HandleOrderCancelled,
	} {
		consumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:       a.cfg.Kafka.Brokers,
			GroupID:       a.cfg.Kafka.ConsumerGroup,
			Topic:         topic,
			MaxDeliveries: a.cfg.Kafka.MaxDeliveries,
			RetryBackoff:  a.cfg.Kafka.RetryBackoff,
		}, pkgkafka.IdempotentHandler(store, event.OrderEventID, handle, a.logger), a.dlq, a.logger)
		a.consumers = append(a.consumers, consumer)
	}
}

// Run starts the HTTP server, the consumers, and the sweeper, then blocks
// until the context is cancelled or a component fails fatally.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, len(a.consumers)+1)

	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, consumer := range a.consumers {
		go func(c *pkgkafka.Consumer) {
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("consumer: %w", err)
			}
		}(consumer)
	}

	go a.sweeper.Run(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		return a.shutdown()
	case err := <-errCh:
		a.logger.Error("component failed, shutting down", slog.String("error", err.Error()))
		shutdownErr := a.shutdown()
		return errors.Join(err, shutdownErr)
	}
}

// shutdown tears components down in reverse order of construction: stop
// accepting HTTP traffic, close consumers and producers, then the stores.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error

	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	for _, consumer := range a.consumers {
		if err := consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}
	if err := a.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close producer: %w", err))
	}
	if err := a.dlq.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dlq producer: %w", err))
	}
	if err := a.redisClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	a.pool.Close()

	if a.tracerShutdown != nil {
		tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer tcancel()
		if err := a.tracerShutdown(tctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

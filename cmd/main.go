package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/config"
	"stockledger/internal/events"
	"stockledger/internal/handlers"
	"stockledger/internal/jobs"
	"stockledger/internal/jobs/background"
	"stockledger/internal/metrics"
	"stockledger/internal/middleware"
	"stockledger/internal/repositories"
	"stockledger/internal/repositories/memory"
	"stockledger/internal/services"
	"stockledger/internal/storage"
	"stockledger/pkg/database"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("stockledger exited", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	clock := clockwork.NewRealClock()
	m := metrics.New(metrics.DefaultConfig())
	var shutdown []func()
	defer func() {
		for i := len(shutdown) - 1; i >= 0; i-- {
			shutdown[i]()
		}
	}()

	var checks []handlers.Dependency

	// Ledger store
	var store repositories.LedgerStore
	switch cfg.Database.Store {
	case "memory":
		logger.Warn("using in-memory ledger store; state is lost on restart")
		store = memory.NewStore()
	default:
		pool, err := database.NewPool(ctx, database.PoolConfig{DSN: cfg.Database.URL, MaxConns: int32(cfg.Database.MaxConns)}, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		shutdown = append(shutdown, pool.Close)
		applied, err := database.Migrate(ctx, pool, logger)
		if err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database schema up to date", zap.Int("applied", applied))
		store = repositories.NewPostgresStore(pool)
		checks = append(checks, handlers.Dependency{Name: "database", Pinger: pool, Critical: true})
	}

	// Availability cache
	var cache caching.AvailabilityCache = caching.NoopCache{}
	if cfg.Redis.Addr != "" {
		cache = caching.NewRedisCacheService(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		checks = append(checks, handlers.Dependency{Name: "redis", Pinger: cache, Critical: false})
	}

	deps := services.Deps{Store: store, Cache: cache, Clock: clock, Logger: logger, Metrics: m}

	// Stock events
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(
			events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.StockTopic),
			events.DefaultPublisherConfig(cfg.Kafka.StockTopic),
			logger, m)
		shutdown = append(shutdown, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("close stock event writer", zap.Error(err))
			}
		})
		deps.Publisher = publisher
		checks = append(checks, handlers.Dependency{Name: "kafka", Pinger: publisher, Critical: false})
	}

	ledger := services.NewStockLedger(deps, cfg.Redis.CacheTTL)
	reservations := services.NewReservationManager(deps, services.ReservationConfig{
		DefaultTTL: cfg.Reservations.DefaultTTL,
		MaxTTL:     cfg.Reservations.MaxTTL,
	})
	transfers := services.NewTransferCoordinator(deps, services.TransferConfig{HoldTTL: cfg.Reservations.TransferHoldTTL})
	buffers := services.NewChannelBufferAllocator(deps, services.BufferConfig{LookbackDays: cfg.Allocation.VelocityLookbackDays})
	bulk := services.NewBulkService(deps, ledger)

	// Audit exports
	var exporter services.AuditExporter
	if cfg.Minio.Endpoint != "" {
		objects, err := storage.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			return fmt.Errorf("create object store: %w", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure audit bucket %s: %w", cfg.Minio.Bucket, err)
		}
		exporter = services.NewAuditExporter(deps, objects)
		checks = append(checks, handlers.Dependency{Name: "storage", Pinger: objects, Critical: false})
	}

	// Order events
	if len(cfg.Kafka.Brokers) > 0 {
		listener := events.NewOrderListener(
			events.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic, cfg.Kafka.GroupID),
			reservations,
			events.ListenerConfig{Topic: cfg.Kafka.OrderTopic},
			clock, logger, m)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("order listener stopped", zap.Error(err))
			}
		}()
		shutdown = append(shutdown, func() {
			<-done
			if err := listener.Close(); err != nil {
				logger.Warn("close order reader", zap.Error(err))
			}
		})
	}

	// Background jobs
	sweeper := jobs.NewExpirationSweeper(reservations, jobs.SweeperConfig{
		BatchSize:               cfg.Sweeper.BatchSize,
		MaxBatches:              cfg.Sweeper.MaxBatches,
		ExpirationRateThreshold: cfg.Sweeper.ExpirationRateThreshold,
		LowStockThreshold:       cfg.Sweeper.LowStockThreshold,
	}, clock, logger, m)
	scheduler, err := background.NewJobScheduler(clock, logger)
	if err != nil {
		return err
	}
	if err := scheduler.RegisterLedgerJobs(background.LedgerJobsConfig{
		SweepInterval:           cfg.Sweeper.Interval,
		BufferRecomputeInterval: cfg.Allocation.RecomputeInterval,
	}, sweeper, buffers); err != nil {
		return err
	}
	scheduler.Start()
	shutdown = append(shutdown, func() {
		if err := scheduler.Stop(); err != nil {
			logger.Warn("stop scheduler", zap.Error(err))
		}
	})

	// HTTP
	if cfg.JWT.Generated {
		logger.Warn("JWT_SECRET not set; using a generated development secret")
	}
	auth, err := middleware.NewTenantJWT(middleware.JWTConfig{Secret: cfg.JWT.Secret, JWKSURL: cfg.JWT.JWKSURL}, logger)
	if err != nil {
		return err
	}
	shutdown = append(shutdown, auth.Close)

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())

	versionMiddleware := middleware.NewVersionMiddleware()
	e.Use(versionMiddleware.APIVersionResolver())
	e.Use(middleware.NewAuditMiddleware(logger, m).AuditRequest())

	healthHandlers := handlers.NewHealthHandlers(sweeper, version, checks...)
	e.GET("/health", healthHandlers.LivenessCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)
	e.GET("/health/sweeper", healthHandlers.SweeperHealth)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	v1 := e.Group("/v1", versionMiddleware.VersionHeader("v1"), auth.Middleware())
	handlers.RegisterRoutes(v1, &handlers.API{
		Inventory:    handlers.NewInventoryHandlers(ledger, bulk, exporter, logger),
		Reservations: handlers.NewReservationHandlers(reservations, logger),
		Transfers:    handlers.NewTransferHandlers(transfers, logger),
		BufferRules:  handlers.NewBufferRuleHandlers(buffers, logger),
		Jobs:         handlers.NewJobHandlers(scheduler, logger),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stockledger starting", zap.String("version", version), zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Database.Store))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

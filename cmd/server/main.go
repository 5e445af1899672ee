package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appfiscal "github.com/desdobra/backend/internal/application/fiscal"
	tradeapp "github.com/desdobra/backend/internal/application/trade"
	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/infrastructure/auth"
	"github.com/desdobra/backend/internal/infrastructure/authority"
	"github.com/desdobra/backend/internal/infrastructure/cache"
	"github.com/desdobra/backend/internal/infrastructure/certificate"
	"github.com/desdobra/backend/internal/infrastructure/config"
	"github.com/desdobra/backend/internal/infrastructure/drafting"
	"github.com/desdobra/backend/internal/infrastructure/event"
	"github.com/desdobra/backend/internal/infrastructure/logger"
	"github.com/desdobra/backend/internal/infrastructure/persistence"
	"github.com/desdobra/backend/internal/infrastructure/queue"
	"github.com/desdobra/backend/internal/infrastructure/storage"
	"github.com/desdobra/backend/internal/infrastructure/telemetry"
	"github.com/desdobra/backend/internal/interfaces/http/handler"
	"github.com/desdobra/backend/internal/interfaces/http/middleware"
	"github.com/desdobra/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// staticEnvironments resolves every company to the configured default
// environment. Per-company overrides arrive with the company registry.
type staticEnvironments struct {
	env fiscal.Environment
}

func (s staticEnvironments) EnvironmentFor(ctx context.Context, companyID uuid.UUID) fiscal.Environment {
	return s.env
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting fiscal emission backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected")

	// Repositories
	emissionRepo := persistence.NewGormEmissionRepository(db.DB)
	legacyRepo := persistence.NewGormLegacyEmissionRepository(db.DB)
	jobRepo := persistence.NewGormEmissionJobRepository(db.DB)
	orderRepo := persistence.NewGormSalesOrderRepository(db.DB)

	// Submission lock. Redis serializes across instances; without Redis
	// a single-process lock still covers one instance.
	var locks appfiscal.SubmissionLocker
	if cfg.Redis.Host != "" {
		redisLock, err := cache.NewRedisSubmissionLock(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		locks = redisLock
		log.Info("Redis submission lock enabled", zap.String("host", cfg.Redis.Host))
	} else {
		locks = cache.NewInMemorySubmissionLock()
		log.Warn("Redis not configured, submission lock is process local")
	}

	// Fiscal collaborators
	credentials := certificate.NewFileResolver(cfg.Certificate.Dir, cfg.Certificate.Password, cfg.Certificate.CacheTTL, log)
	signer := certificate.NewXMLSigner()
	authorityClient := authority.NewClient(authority.Options{
		Endpoint:      cfg.Authority.EndpointFor,
		SubmitTimeout: cfg.Authority.SubmitTimeout,
		QueryTimeout:  cfg.Authority.QueryTimeout,
	}, log)
	payloads, err := storage.NewFilesystemPayloadStore(cfg.Payload.Dir, log)
	if err != nil {
		log.Fatal("Failed to initialize payload store", zap.Error(err))
	}
	drafter := drafting.NewBuilder(credentials, fiscal.DefaultJurisdiction, 1)

	defaultEnv := fiscal.Environment(cfg.Authority.DefaultEnvironment)
	if !defaultEnv.IsValid() {
		defaultEnv = fiscal.EnvironmentHomologation
	}
	environments := staticEnvironments{env: defaultEnv}

	// Application services
	reconcileService := appfiscal.NewReconcileService(emissionRepo, legacyRepo, environments, log)
	emissionService := appfiscal.NewEmissionService(appfiscal.EmissionServiceDeps{
		EmissionRepo: emissionRepo,
		JobRepo:      jobRepo,
		OrderRepo:    orderRepo,
		Drafter:      drafter,
		Signer:       signer,
		Credentials:  credentials,
		Authority:    authorityClient,
		Payloads:     payloads,
		Locks:        locks,
		Reconciler:   reconcileService,
		Logger:       log,
	})

	// Cross-context integration: emission outcomes mirror onto orders
	eventBus := event.NewInMemoryEventBus(log)
	statusHandler := tradeapp.NewEmissionStatusHandler(orderRepo, log)
	eventBus.Subscribe(statusHandler, statusHandler.EventTypes()...)
	emissionService.SetEventPublisher(eventBus)

	// Telemetry
	ctx := context.Background()
	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()
	meterProvider, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Background worker pool
	queueConfig := queue.DefaultConfig()
	if cfg.Queue.Workers > 0 {
		queueConfig.Workers = cfg.Queue.Workers
	}
	if cfg.Queue.BufferSize > 0 {
		queueConfig.BufferSize = cfg.Queue.BufferSize
	}
	if cfg.Queue.PollInterval > 0 {
		queueConfig.PollInterval = cfg.Queue.PollInterval
	}
	if cfg.Queue.PollBatch > 0 {
		queueConfig.PollBatch = cfg.Queue.PollBatch
	}
	if cfg.Queue.JobTimeout > 0 {
		queueConfig.JobTimeout = cfg.Queue.JobTimeout
	}
	if cfg.Queue.MaxRetries > 0 {
		queueConfig.MaxRetries = cfg.Queue.MaxRetries
	}

	emissionQueue, err := queue.NewEmissionQueue(queueConfig, jobRepo, queue.NewEmitExecutor(emissionService), log)
	if err != nil {
		log.Fatal("Failed to create emission queue", zap.Error(err))
	}
	if meterProvider.IsEnabled() {
		fiscalMetrics, err := telemetry.NewFiscalMetrics(meterProvider.Meter("fiscal"), log)
		if err != nil {
			log.Fatal("Failed to create fiscal metrics", zap.Error(err))
		}
		emissionQueue.SetMetrics(fiscalMetrics)
		emissionService.SetMetrics(fiscalMetrics)
	}
	if err := emissionQueue.Start(ctx); err != nil {
		log.Fatal("Failed to start emission queue", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := emissionQueue.Stop(stopCtx); err != nil {
			log.Error("Error stopping emission queue", zap.Error(err))
		}
	}()
	emissionService.SetJobEnqueuer(emissionQueue)
	log.Info("Emission queue started",
		zap.Int("workers", queueConfig.Workers),
		zap.Duration("poll_interval", queueConfig.PollInterval),
	)

	// HTTP layer
	jwtService := auth.NewJWTService(cfg.JWT)
	fiscalHandler := handler.NewFiscalHandler(emissionService, reconcileService, payloads, defaultEnv, log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()
	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig()))
	engine.Use(middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService: jwtService,
		SkipPaths: []string{
			"/health",
			"/healthz",
		},
		Logger: log,
	}))

	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(fiscalHandler).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}

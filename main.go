// Package main provides the entry point of the Kusanagi engraving service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/Kusanagi/app/handlers"
	"github.com/amirphl/Kusanagi/app/router"
	"github.com/amirphl/Kusanagi/app/services"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/config"
	"github.com/amirphl/Kusanagi/placement"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	logger    *zap.Logger
	stopFuncs []func()
}

func main() {
	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, closeLogger, err := utils.NewLogger(utils.LogOptions{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		FilePath:     cfg.Logging.FilePath,
		MaxSize:      cfg.Logging.MaxSize,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAge:       cfg.Logging.MaxAge,
		Compress:     cfg.Logging.Compress,
		EnableCaller: cfg.Logging.EnableCaller,
	}, utils.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = closeLogger() }()

	logger.Info("Starting Kusanagi", deploymentFields(cfg.Deployment)...)

	app, err := initializeApplication(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Shutting down gracefully...")

	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// deploymentFields describes the running build for the startup log line
func deploymentFields(d config.DeploymentConfig) []zap.Field {
	return []zap.Field{
		zap.String("environment", d.Environment),
		zap.String("version", d.Version),
		zap.String("commit", d.CommitHash),
		zap.String("build_time", d.BuildTime),
	}
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	slow := cfg.SlowQueryTime
	if !cfg.SlowQueryLog {
		slow = 0
	}
	gormLog := gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
		SlowThreshold:             slow,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return db, nil
}

// initializeCache connects to redis when caching is enabled. A nil client
// disables the element config cache.
func initializeCache(cfg config.CacheConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB
	if cfg.RedisPassword != "" {
		opt.Password = cfg.RedisPassword
	}
	rc := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", opt.Addr), zap.Int("db", cfg.RedisDB))
	return rc, nil
}

// startCacheHealthMonitor periodically pings redis. The returned function stops it.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, logger *zap.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					logger.Warn("Redis healthcheck failed", zap.Error(err))
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeApplication wires repositories, flows, handlers and the router
func initializeApplication(cfg *config.ProductionConfig, logger *zap.Logger) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs,
			startCacheHealthMonitor(context.Background(), rc, cfg.Cache.HealthEvery, logger),
			func() { _ = rc.Close() },
		)
	}

	// Repositories
	tx := repository.NewTransactor(db)
	counterRepo := repository.NewSequenceCounterRepository(db)
	serialRepo := repository.NewSerialNumberRepository(db)
	batchRepo := repository.NewEngravingBatchRepository(db)
	rowRepo := repository.NewModuleRowRepository(db)
	identifierRepo := repository.NewQsaIdentifierRepository(db)
	configRepo := repository.NewElementConfigRepository(db)
	calibrationRepo := repository.NewArrayCalibrationRepository(db)

	// Flows
	policy := businessflow.AllocationPolicy{
		MaxRetries:     uint(cfg.Engraving.AllocationMaxRetries),
		InitialBackoff: cfg.Engraving.AllocationInitialBackoff,
		MaxBackoff:     cfg.Engraving.AllocationMaxBackoff,
	}
	ledger := businessflow.NewSerialLedger(counterRepo, serialRepo, tx, policy, logger.Named("ledger"))
	allocator := businessflow.NewDesignSequenceAllocator(counterRepo, identifierRepo, tx, policy, logger.Named("sequence"))
	placementFlow := businessflow.NewPlacementFlow(
		configRepo,
		calibrationRepo,
		rc,
		cfg.Cache.ConfigTTL,
		placement.Canvas{Width: cfg.Engraving.CanvasWidth, Height: cfg.Engraving.CanvasHeight},
		logger.Named("placement"),
	)
	batchFlow := businessflow.NewBatchFlow(
		tx,
		batchRepo,
		rowRepo,
		identifierRepo,
		ledger,
		allocator,
		placementFlow,
		cfg.Engraving.ArrayCapacity,
		policy,
		logger.Named("batch"),
	)
	configFlow := businessflow.NewElementConfigFlow(tx, configRepo, placementFlow, logger.Named("element_config"))

	var vision services.VisionClient
	if cfg.Vision.Enabled() {
		vision = services.NewVisionClient(services.VisionConfig{
			APIURL:     cfg.Vision.APIURL,
			APIKey:     cfg.Vision.APIKey,
			Model:      cfg.Vision.Model,
			Referer:    cfg.Vision.Referer,
			Timeout:    cfg.Vision.Timeout,
			RetryCount: cfg.Vision.RetryCount,
			RetryWait:  cfg.Vision.RetryWait,
		}, logger.Named("vision"))
	} else {
		logger.Warn("Vision API key not configured, image decoding is disabled")
	}
	decodeFlow := businessflow.NewDecodeFlow(
		ledger,
		rowRepo,
		batchRepo,
		vision,
		services.NewImagePreprocessor(cfg.Vision.MaxImageEdge),
		logger.Named("decode"),
	)

	// Handlers
	timeout := cfg.Server.RequestTimeout
	checks := []handlers.HealthCheck{{
		Name: "database",
		Ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if rc != nil {
		checks = append(checks, handlers.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rc.Ping(ctx).Err() },
		})
	}

	appRouter := router.NewFiberRouter(router.Handlers{
		Batch:         handlers.NewBatchHandler(batchFlow, logger, timeout),
		MicroID:       handlers.NewMicroIDHandler(decodeFlow, int64(cfg.Vision.MaxUpload), logger, timeout),
		ElementConfig: handlers.NewElementConfigHandler(configFlow, placementFlow, logger, timeout),
		Health:        handlers.NewHealthHandler(cfg.Deployment.Version, logger, checks...),
	}, cfg, logger)

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		logger:    logger,
		stopFuncs: stopFuncs,
	}, nil
}

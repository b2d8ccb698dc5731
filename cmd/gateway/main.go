package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tenant_gateway/internal/accounting"
	"tenant_gateway/internal/billing"
	"tenant_gateway/internal/cache"
	"tenant_gateway/internal/config"
	"tenant_gateway/internal/httpapi"
	"tenant_gateway/internal/logging"
	"tenant_gateway/internal/metrics"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/orchestrator"
	"tenant_gateway/internal/providers"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/ratelimit"
	"tenant_gateway/internal/router"
	"tenant_gateway/internal/storage"
	"tenant_gateway/internal/tenant"
	"tenant_gateway/internal/utils"
)

const shutdownTimeout = 30 * time.Second

var logger = utils.NewLogger("gateway")

func main() {
	if err := run(); err != nil {
		logger.Error("Gateway failed", "error", err)
		os.Exit(1)
	}
}

// gateway holds everything that must be stopped on shutdown, in stop order.
type gateway struct {
	server        *http.Server
	pipeline      *orchestrator.Pipeline
	recordWorker  *storage.RecordQueueWorker
	billingWorker *billing.QueueWorker
	archive       *logging.S3Archive
	healthChecker *providers.HealthChecker
	registry      *providers.Registry
	directory     *tenant.CachedDirectory
	redis         *redis.Client
	db            *storage.DB
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	gw, err := build(context.Background(), cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening", "addr", gw.server.Addr, "providers", gw.registry.Names())
		if err := gw.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			gw.shutdown()
			return fmt.Errorf("server error: %w", err)
		}
	}

	gw.shutdown()
	logger.Info("Gateway exited")
	return nil
}

func build(ctx context.Context, cfg *config.Config) (*gateway, error) {
	gw := &gateway{}

	if cfg.UsesDefaultJWTSecret() {
		logger.Warn("JWT_SECRET is not set, admin tokens are signed with the development default")
	}

	db, err := storage.NewDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gw.db = db
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	redisClient, err := storage.NewRedisClient(cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	gw.redis = redisClient

	// Tenants
	tenantRepo := db.NewTenantRepository()
	directory, err := tenant.NewCachedDirectory(tenantRepo, cfg.Cache.TenantCacheSize, cfg.Cache.TenantCacheTTL)
	if err != nil {
		gw.shutdown()
		return nil, fmt.Errorf("failed to create tenant directory: %w", err)
	}
	gw.directory = directory
	manager := tenant.NewManager(tenantRepo, cfg.Quota.DefaultLimit)

	// Request records: Postgres through a queue, optionally S3 as well
	recordRepo := db.NewRecordRepository()
	recordCfg := &queue.Config{
		Name:         "records",
		BatchSize:    cfg.Accounting.BatchSize,
		BatchTimeout: cfg.Accounting.BatchTimeout,
		MaxRetries:   cfg.Accounting.MaxRetries,
		RetryBackoff: cfg.Accounting.RetryBackoff,
	}
	recordQueue, recordDLQ, err := queue.New[*models.RequestRecord](cfg.Accounting.QueueBackend, redisClient, recordCfg)
	if err != nil {
		gw.shutdown()
		return nil, fmt.Errorf("failed to create record queue: %w", err)
	}
	gw.recordWorker = storage.NewRecordQueueWorker(recordQueue, recordDLQ, recordRepo, recordCfg)
	gw.recordWorker.Start(context.Background())

	appenders := []accounting.Appender{gw.recordWorker}
	if cfg.LoggingSink.Enabled {
		writer, err := logging.NewS3Writer(ctx, cfg.LoggingSink)
		if err != nil {
			gw.shutdown()
			return nil, fmt.Errorf("failed to create S3 writer: %w", err)
		}
		gw.archive = logging.NewS3Archive(writer, cfg.LoggingSink)
		appenders = append(appenders, gw.archive)
		logger.Info("S3 archive enabled", "bucket", cfg.LoggingSink.S3Bucket, "prefix", cfg.LoggingSink.S3Prefix)
	}

	// Monthly spend
	var (
		budget billing.Tracker = billing.NewNoopTracker()
		spend  orchestrator.SpendRecorder
	)
	if cfg.Billing.Enabled {
		tracker := billing.NewRedisTracker(redisClient, cfg.Billing.SpendTTL)
		spendCfg := queue.DefaultConfig("billing")
		spendCfg.MaxRetries = cfg.Billing.MaxRetries
		spendQueue, spendDLQ, err := queue.New[*billing.SpendUpdate](cfg.Accounting.QueueBackend, redisClient, spendCfg)
		if err != nil {
			gw.shutdown()
			return nil, fmt.Errorf("failed to create billing queue: %w", err)
		}
		gw.billingWorker = billing.NewQueueWorker(spendQueue, spendDLQ, tracker, spendCfg)
		gw.billingWorker.Start(context.Background())
		budget, spend = tracker, gw.billingWorker
	}

	// Providers and routing
	registry, err := providers.NewRegistry(
		providers.NewProviderFactory(),
		providers.ConfigsFromSpecs(cfg.Providers, providers.NewTiktokenEstimator()),
		providers.RegistryOptions{HealthTTL: cfg.Router.HealthTTL},
	)
	if err != nil {
		gw.shutdown()
		return nil, fmt.Errorf("failed to initialize provider registry: %w", err)
	}
	gw.registry = registry
	for _, name := range cfg.Router.Order {
		if !registry.Configured(name) {
			logger.Warn("Provider in fallback order is not configured and will be skipped", "provider", name)
		}
	}
	if cfg.Router.SkipUnhealthy {
		gw.healthChecker = providers.NewHealthChecker(registry, cfg.Router.HealthInterval)
		gw.healthChecker.Start(context.Background())
	}
	rt := router.New(registry, router.Options{
		AttemptTimeout: cfg.Router.AttemptTimeout,
		SkipUnhealthy:  cfg.Router.SkipUnhealthy,
	})

	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if cfg.Quota.Enabled {
		limiter = ratelimit.NewRateLimiterWithWindow(redisClient, cfg.Quota.Window)
	}

	var (
		pipelineMetrics orchestrator.Metrics = metrics.Noop{}
		metricsHandler  http.Handler
	)
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(cfg.Metrics, prometheus.NewRegistry())
		pipelineMetrics, metricsHandler = collector, collector.Handler()
	}

	pipeline, err := orchestrator.New(orchestrator.Deps{
		Directory:  directory,
		Limiter:    limiter,
		Budget:     budget,
		Spend:      spend,
		Cache:      cache.New(cfg.Cache.Enabled, redisClient),
		Router:     rt,
		Registry:   registry,
		Accounting: accounting.NewSink(utils.NewLogger("accounting"), appenders...),
		Metrics:    pipelineMetrics,
	}, orchestrator.Options{
		Order:             cfg.Router.Order,
		CacheEnabled:      cfg.Cache.Enabled,
		CacheTTL:          cfg.Cache.TTL,
		CacheWriteTimeout: cfg.Cache.WriteTimeout,
	})
	if err != nil {
		gw.shutdown()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	gw.pipeline = pipeline

	mux := httpapi.NewRouter(cfg, httpapi.Dependencies{
		Pipeline:  pipeline,
		Tenants:   manager,
		Usage:     recordRepo,
		Providers: registry,
		Metrics:   metricsHandler,
		HealthChecks: map[string]httpapi.HealthCheck{
			"database": db.Health,
			"redis":    storage.RedisHealth(redisClient),
		},
	})

	gw.server = &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Long enough for every provider in the order to time out once.
		WriteTimeout: cfg.Router.AttemptTimeout*time.Duration(len(cfg.Router.Order)+1) + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return gw, nil
}

// shutdown stops intake first, then lets background work settle, then drains
// the queues that background work feeds, and closes connections last.
func (gw *gateway) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if gw.server != nil {
		if err := gw.server.Shutdown(ctx); err != nil {
			logger.Warn("Server forced to shutdown", "error", err)
		}
	}
	if gw.pipeline != nil {
		gw.pipeline.Wait()
	}
	if gw.recordWorker != nil {
		if err := gw.recordWorker.Stop(); err != nil {
			logger.Warn("Record worker did not stop cleanly", "error", err)
		}
	}
	if gw.billingWorker != nil {
		if err := gw.billingWorker.Stop(); err != nil {
			logger.Warn("Billing worker did not stop cleanly", "error", err)
		}
	}
	if gw.archive != nil {
		gw.archive.Shutdown()
		if dropped := gw.archive.Dropped(); dropped > 0 {
			logger.Warn("S3 archive dropped records", "count", dropped)
		}
	}
	if gw.healthChecker != nil {
		gw.healthChecker.Stop()
	}
	if gw.registry != nil {
		if err := gw.registry.Close(); err != nil {
			logger.Warn("Failed to close providers", "error", err)
		}
	}
	if gw.directory != nil {
		gw.directory.Close()
	}
	if gw.redis != nil {
		gw.redis.Close()
	}
	if gw.db != nil {
		stats := gw.db.GetStats()
		logger.Debug("Database pool at shutdown", "open", stats.OpenConnections, "in_use", stats.InUse, "wait_count", stats.WaitCount, "wait", stats.WaitDuration)
		gw.db.Close()
	}
}

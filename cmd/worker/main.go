package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/cache"
	"github.com/mygrocart/price-indexer/internal/chains"
	"github.com/mygrocart/price-indexer/internal/config"
	"github.com/mygrocart/price-indexer/internal/discovery"
	"github.com/mygrocart/price-indexer/internal/extractor"
	"github.com/mygrocart/price-indexer/internal/fetcher"
	"github.com/mygrocart/price-indexer/internal/freshness"
	"github.com/mygrocart/price-indexer/internal/logger"
	"github.com/mygrocart/price-indexer/internal/matcher"
	"github.com/mygrocart/price-indexer/internal/queue"
	"github.com/mygrocart/price-indexer/internal/scrape"
	"github.com/mygrocart/price-indexer/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadWorkerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "scrape-worker",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting MyGroCart scrape worker")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to run migrations", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clock := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()

	// Connect to Redis; the worker degrades to local rate limits when it is
	// unreachable, at the cost of per-process instead of fleet-wide pacing
	var storeCache cache.Cache
	var limiter adapter.RedisRateLimiter
	redisClient := adapter.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisClient.Ping(ctx); err != nil {
		logger.WarnCtx(ctx, "Redis unreachable, using local rate limits",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err),
		)
		storeCache = cache.NewMemoryCache(clock)
	} else {
		defer func() { _ = redisClient.Close() }()
		storeCache = cache.NewRedisCache(redisClient)
		limiter = redisClient.NewRateLimiter()
		logger.InfoCtx(ctx, "Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Build the scrape pipeline
	fetch, err := fetcher.New(fetcher.Config{
		Sources: chains.FetcherSources(cfg.Chains),
	}, adapter.NewHTTPClient(30*time.Second), limiter, clock)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create fetcher", zap.Error(err))
	}
	defer fetch.Close()

	ext := extractor.New()
	chains.RegisterStrategies(ext)

	disco := discovery.New(discovery.Config{CacheTTL: cfg.Discovery.CacheTTL}, storeCache, dataStore, chains.Locators(cfg.Chains, fetch))
	tracker := freshness.New(freshness.Config{
		FreshnessWindow: cfg.Freshness.FreshWindow,
		CooldownWindow:  cfg.Freshness.CooldownWindow,
	}, dataStore, clock)
	match := matcher.New(matcher.Config{Threshold: cfg.Matcher.Threshold})
	runner := scrape.NewRunner(fetch, ext, match, disco, tracker, dataStore, clock, chains.Searches(cfg.Chains))

	// Connect to NATS; unlike the API there is no degraded mode, a worker
	// without the broker has nothing to consume
	var js adapter.JetStream
	connect := func() error {
		_, conn, err := adapter.NewNatsJetStream().Connect(cfg.NATS.URL,
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
			nats.Name(cfg.NATS.ConnectionName),
		)
		if err != nil {
			return err
		}
		js = conn
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.String("url", cfg.NATS.URL), zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to NATS JetStream", zap.String("url", cfg.NATS.URL))

	// The queue constructor owns stream creation; run it before the consumers
	if _, err := queue.NewJetStreamQueue(ctx, js, dataStore, jsonAdapter); err != nil {
		logger.FatalCtx(ctx, "Failed to create job stream", zap.Error(err))
	}

	worker, err := queue.NewWorker(ctx, queue.WorkerConfig{
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BackoffInitial: cfg.Queue.BackoffInitial,
		FetchWait:      cfg.Queue.FetchWait,
		AckWait:        cfg.Queue.AckWait,
		HistoryLimit:   cfg.Queue.HistoryLimit,
	}, js, dataStore, runner, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create worker", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- worker.Run(ctx)
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		// let the in-flight job settle
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(err, zap.String("component", "worker"))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCtx(ctx, err, zap.String("component", "worker"))
		}
		cancel()
	}

	logger.Info("Scrape worker stopped")
}

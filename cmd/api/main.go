package main

import (
	"context"
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
	"github.com/mygrocart/price-indexer/internal/api/server"
	"github.com/mygrocart/price-indexer/internal/cache"
	"github.com/mygrocart/price-indexer/internal/chains"
	"github.com/mygrocart/price-indexer/internal/config"
	"github.com/mygrocart/price-indexer/internal/discovery"
	"github.com/mygrocart/price-indexer/internal/extractor"
	"github.com/mygrocart/price-indexer/internal/fetcher"
	"github.com/mygrocart/price-indexer/internal/freshness"
	"github.com/mygrocart/price-indexer/internal/logger"
	"github.com/mygrocart/price-indexer/internal/matcher"
	"github.com/mygrocart/price-indexer/internal/orchestrator"
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
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
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
			"service": "price-api",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting MyGroCart price API")

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
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clock := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()

	// Connect to Redis; degrade to in-process cache and local rate limits
	// when it is unreachable
	var priceCache cache.Cache
	var limiter adapter.RedisRateLimiter
	redisClient := adapter.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisClient.Ping(ctx); err != nil {
		logger.WarnCtx(ctx, "Redis unreachable, using in-memory cache and local rate limits",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err),
		)
		priceCache = cache.NewMemoryCache(clock)
	} else {
		defer func() { _ = redisClient.Close() }()
		priceCache = cache.NewRedisCache(redisClient)
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

	disco := discovery.New(discovery.Config{CacheTTL: cfg.Discovery.CacheTTL}, priceCache, dataStore, chains.Locators(cfg.Chains, fetch))
	tracker := freshness.New(freshness.Config{
		FreshnessWindow: cfg.Freshness.FreshWindow,
		CooldownWindow:  cfg.Freshness.CooldownWindow,
	}, dataStore, clock)
	match := matcher.New(matcher.Config{Threshold: cfg.Matcher.Threshold})
	runner := scrape.NewRunner(fetch, ext, match, disco, tracker, dataStore, clock, chains.Searches(cfg.Chains))

	// Connect to NATS; fall back to the in-process queue when the broker is
	// unavailable so searches still work, without durable jobs
	jobQueue := connectQueue(ctx, cfg.NATS, dataStore, jsonAdapter, runner, clock)

	orch := orchestrator.New(orchestrator.Config{
		WaitTimeout:  cfg.Orchestrator.WaitTimeout,
		PollInterval: cfg.Orchestrator.PollInterval,
	}, dataStore, disco, tracker, jobQueue, clock)

	// Create and start server
	srv := server.New(server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		APIKeys:      cfg.Auth.APIKeys,
	}, dataStore, orch, disco, jobQueue, priceCache)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("API server stopped")
}

// connectQueue dials NATS with a bounded retry and returns the durable queue,
// or the degraded in-process queue when the broker stays unreachable
func connectQueue(ctx context.Context, cfg config.NATSConfig, dataStore store.Store, jsonAdapter adapter.JSON, runner *scrape.Runner, clock adapter.Clock) queue.Queue {
	var js adapter.JetStream

	connect := func() error {
		_, conn, err := adapter.NewNatsJetStream().Connect(cfg.URL,
			nats.MaxReconnects(cfg.MaxReconnects),
			nats.ReconnectWait(cfg.ReconnectWait),
			nats.Name(cfg.ConnectionName),
		)
		if err != nil {
			return err
		}
		js = conn
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		logger.WarnCtx(ctx, "NATS unreachable, falling back to in-process queue",
			zap.String("url", cfg.URL),
			zap.Error(err),
		)
		return queue.NewInlineQueue(runner, clock)
	}

	jobQueue, err := queue.NewJetStreamQueue(ctx, js, dataStore, jsonAdapter)
	if err != nil {
		logger.WarnCtx(ctx, "Failed to create job stream, falling back to in-process queue", zap.Error(err))
		return queue.NewInlineQueue(runner, clock)
	}
	logger.InfoCtx(ctx, "Connected to NATS JetStream", zap.String("url", cfg.URL))
	return jobQueue
}

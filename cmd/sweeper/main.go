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
	"github.com/mygrocart/price-indexer/internal/config"
	"github.com/mygrocart/price-indexer/internal/logger"
	"github.com/mygrocart/price-indexer/internal/queue"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/sweeper"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
	runOnce    = flag.Bool("once", false, "Run a single sweep immediately and exit")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadSweeperConfig(*configFile, *envPath)
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
			"service": "refresh-sweeper",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting MyGroCart refresh sweeper")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")
	dataStore := store.NewPGStore(db)

	// Connect to NATS; the sweeper only enqueues, so without the broker
	// there is nothing useful it can do
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

	jobQueue, err := queue.NewJetStreamQueue(ctx, js, dataStore, adapter.NewJSON())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create job stream", zap.Error(err))
	}

	sweep := sweeper.NewRefreshSweeper(sweeper.RefreshSweeperConfig{
		Schedule:         cfg.Refresh.Schedule,
		ActiveZipHorizon: cfg.Refresh.ActiveZipHorizon,
	}, dataStore, jobQueue, adapter.NewClock())

	if *runOnce {
		if err := sweep.RunSweep(ctx); err != nil {
			logger.FatalCtx(ctx, "Sweep failed", zap.Error(err))
		}
		logger.Info("Sweep finished")
		return
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sweep.Start(ctx)
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.ErrorCtx(ctx, err, zap.String("component", "sweeper"))
		}
		cancel()
		return
	}

	// Graceful stop with a bounded wait
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := sweep.Stop(stopCtx); err != nil {
		logger.Error(err, zap.String("component", "sweeper"))
	}
	cancel()

	logger.Info("Refresh sweeper stopped")
}

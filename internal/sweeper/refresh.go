package sweeper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/logger"
	"github.com/mygrocart/price-indexer/internal/queue"
	"github.com/mygrocart/price-indexer/internal/store"
)

// RefreshSweeperConfig holds configuration for the weekly refresh sweeper
type RefreshSweeperConfig struct {
	// Schedule is a 5-field cron expression for the sweep
	Schedule string
	// ActiveZipHorizon is how recently a ZIP must have been searched to be
	// refreshed; older ZIPs age out of the sweep
	ActiveZipHorizon time.Duration
}

// RefreshSweeper enqueues a forced low-priority refresh job per active
// search ZIP on a weekly schedule. It goes through the normal queue, so a
// ZIP a user is searching right now simply dedupes against the in-flight job.
type RefreshSweeper struct {
	config    RefreshSweeperConfig
	store     store.Store
	queue     queue.Queue
	clock     adapter.Clock
	cron      *cron.Cron
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewRefreshSweeper creates a new weekly refresh sweeper
func NewRefreshSweeper(cfg RefreshSweeperConfig, st store.Store, q queue.Queue, clock adapter.Clock) *RefreshSweeper {
	return &RefreshSweeper{
		config:    cfg,
		store:     st,
		queue:     q,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *RefreshSweeper) Name() string {
	return "refresh-sweeper"
}

// Start schedules the sweep and blocks until the context is canceled or Stop
// is called
func (s *RefreshSweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		if err := s.RunSweep(ctx); err != nil {
			logger.ErrorCtx(ctx, err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule '%s': %w", s.config.Schedule, err)
	}

	logger.InfoCtx(ctx, "Starting refresh sweeper",
		zap.String("schedule", s.config.Schedule),
		zap.Duration("active_zip_horizon", s.config.ActiveZipHorizon),
	)
	s.cron.Start()

	select {
	case <-ctx.Done():
		logger.InfoCtx(ctx, "Refresh sweeper stopping due to context cancellation", zap.Error(ctx.Err()))
	case <-s.stopChan:
		logger.InfoCtx(ctx, "Refresh sweeper stop requested")
	}

	// let an in-progress sweep finish
	<-s.cron.Stop().Done()
	return nil
}

// Stop gracefully stops the sweeper
func (s *RefreshSweeper) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	close(s.stopChan)

	select {
	case <-s.stoppedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for sweeper to stop: %w", ctx.Err())
	}
}

// RunSweep enqueues one forced refresh job per active search ZIP. Exported so
// the sweeper binary can run a one-off sweep outside the schedule.
func (s *RefreshSweeper) RunSweep(ctx context.Context) error {
	since := s.clock.Now().Add(-s.config.ActiveZipHorizon)
	zips, err := s.store.ListActiveSearchZips(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list active search ZIPs: %w", err)
	}
	if len(zips) == 0 {
		logger.InfoCtx(ctx, "Refresh sweep found no active search ZIPs")
		return nil
	}

	enqueued := 0
	for _, zip := range zips {
		_, err := s.queue.Enqueue(ctx, domain.ScrapeTask{
			Target:       domain.NewZipTarget(zip),
			Trigger:      domain.TriggerWeeklyRefresh,
			Priority:     domain.PriorityLow,
			ForceRefresh: true,
		})
		if err != nil {
			logger.WarnCtx(ctx, "Failed to enqueue refresh job",
				zap.String("zip", zip),
				zap.Error(err),
			)
			continue
		}
		enqueued++
	}

	logger.InfoCtx(ctx, "Refresh sweep enqueued jobs",
		zap.Int("active_zips", len(zips)),
		zap.Int("enqueued", enqueued),
	)
	return nil
}

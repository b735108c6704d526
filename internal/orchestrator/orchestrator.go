// Package orchestrator answers "find product X near ZIP Y" by composing
// store discovery, freshness partitioning, the scrape queue, and the price
// store into one strict pipeline with a bounded wait for fresh data.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/discovery"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/freshness"
	"github.com/mygrocart/price-indexer/internal/logger"
	"github.com/mygrocart/price-indexer/internal/queue"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

const (
	// DefaultWaitTimeout bounds how long a search waits for scrape jobs
	// before returning whatever is available
	DefaultWaitTimeout = 20 * time.Second

	// DefaultPollInterval is how often in-flight jobs are re-checked
	DefaultPollInterval = 500 * time.Millisecond

	// searchReadLimit overshoots the response limit so cross-store price
	// rows for the same product are not cut off prematurely
	searchReadLimit = 500
)

// Config holds orchestrator tuning
type Config struct {
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// Orchestrator runs the search pipeline
type Orchestrator struct {
	cfg   Config
	db    store.Store
	disco *discovery.Service
	fresh *freshness.Tracker
	queue queue.Queue
	clock adapter.Clock
}

// New creates an Orchestrator
func New(cfg Config, db store.Store, disco *discovery.Service, fresh *freshness.Tracker, q queue.Queue, clock adapter.Clock) *Orchestrator {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Orchestrator{cfg: cfg, db: db, disco: disco, fresh: fresh, queue: q, clock: clock}
}

// Search resolves stores for the ZIP, serves fresh prices from the store,
// submits scrape jobs for stale stores, waits up to the bounded timeout, and
// merges the result. Finding no stores is an empty success, not an error.
func (o *Orchestrator) Search(ctx context.Context, query domain.SearchQuery) (*domain.SearchResult, error) {
	query.Normalize()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	if err := o.db.TouchSearchZip(ctx, query.ZipCode, o.clock.Now()); err != nil {
		logger.WarnCtx(ctx, "Failed to record search ZIP", zap.Error(err))
	}

	stores, discoveryIncomplete, err := o.disco.FindAllStores(ctx, query.ZipCode, query.RadiusMiles)
	if err != nil {
		return nil, err
	}

	result := &domain.SearchResult{
		Products:           []domain.PricedProduct{},
		StoresSearched:     len(stores),
		PossiblyIncomplete: discoveryIncomplete,
	}
	if len(stores) == 0 {
		return result, nil
	}

	storeIDs := make([]int64, len(stores))
	for i, st := range stores {
		storeIDs[i] = st.ID
	}

	partition, err := o.fresh.Partition(ctx, storeIDs, query.ForceRefresh)
	if err != nil {
		return nil, err
	}
	result.CacheHit = len(partition.Fresh) > 0
	if len(partition.Cooling) > 0 {
		result.PossiblyIncomplete = true
	}

	completed, timedOut := o.scrapeStale(ctx, partition.Scrapeable, query)
	result.StoresScraped = completed
	result.FreshData = completed > 0
	if timedOut {
		result.PossiblyIncomplete = true
	}

	products, err := o.readPrices(ctx, storeIDs, query.Query, query.Limit)
	if err != nil {
		return nil, err
	}
	result.Products = products
	return result, nil
}

// scrapeStale enqueues one job per stale store and waits, bounded, for the
// batch to finish. Returns how many jobs completed and whether the wait
// deadline cut the batch short.
func (o *Orchestrator) scrapeStale(ctx context.Context, storeIDs []int64, query domain.SearchQuery) (int, bool) {
	if len(storeIDs) == 0 {
		return 0, false
	}

	jobIDs := make([]string, 0, len(storeIDs))
	for _, id := range storeIDs {
		target := domain.NewStoreTarget(id)
		_, err := o.queue.Enqueue(ctx, domain.ScrapeTask{
			Target:       target,
			Query:        query.Query,
			Trigger:      domain.TriggerUserSearch,
			Priority:     domain.PriorityHigh,
			ForceRefresh: query.ForceRefresh,
		})
		if err != nil {
			logger.WarnCtx(ctx, "Failed to enqueue scrape job",
				zap.String("target", target.String()),
				zap.Error(err),
			)
			continue
		}
		jobIDs = append(jobIDs, queue.JobID(target))
	}
	if len(jobIDs) == 0 {
		return 0, true
	}

	return o.awaitJobs(ctx, jobIDs)
}

// awaitJobs polls job rows until every job is terminal or the wait budget
// runs out
func (o *Orchestrator) awaitJobs(ctx context.Context, jobIDs []string) (int, bool) {
	deadline := o.clock.Now().Add(o.cfg.WaitTimeout)

	for {
		completed, pending := o.countJobStates(ctx, jobIDs)
		if pending == 0 {
			return completed, false
		}
		if !o.clock.Now().Before(deadline) {
			logger.Warn("Search wait budget exhausted, returning partial data",
				zap.Int("pending_jobs", pending),
			)
			return completed, true
		}
		select {
		case <-ctx.Done():
			return completed, true
		case <-o.clock.After(o.cfg.PollInterval):
		}
	}
}

func (o *Orchestrator) countJobStates(ctx context.Context, jobIDs []string) (completed, pending int) {
	for _, id := range jobIDs {
		job, err := o.queue.GetJob(ctx, id)
		if err != nil || job == nil {
			pending++
			continue
		}
		switch {
		case job.Status == schema.JobStatusCompleted:
			completed++
		case !job.Status.Terminal():
			pending++
		}
	}
	return completed, pending
}

// readPrices loads current price rows across all resolved stores and shapes
// them into the response, cheapest first, truncated to the limit. Rows are
// unique per (product, store), so the freshly scraped observation has already
// displaced any older row for the same pair.
func (o *Orchestrator) readPrices(ctx context.Context, storeIDs []int64, query string, limit int) ([]domain.PricedProduct, error) {
	rows, err := o.db.SearchPricedProducts(ctx, storeIDs, query, searchReadLimit)
	if err != nil {
		return nil, err
	}

	freshCutoff := o.clock.Now().Add(-o.fresh.FreshnessWindow())

	products := make([]domain.PricedProduct, 0, len(rows))
	for _, row := range rows {
		if row.Product == nil || row.Store == nil {
			continue
		}
		products = append(products, domain.PricedProduct{
			Identifier:  row.Product.Identifier,
			Name:        row.Product.Name,
			Brand:       row.Product.Brand,
			Size:        row.Product.Size,
			Category:    row.Product.Category,
			ImageURL:    row.Product.ImageURL,
			Price:       row.Price,
			DealType:    row.DealType,
			StoreID:     row.StoreID,
			StoreName:   row.Store.Name,
			Chain:       row.Store.Chain,
			LastUpdated: row.LastUpdated,
			Fresh:       row.LastUpdated.After(freshCutoff),
		})
		if len(products) >= limit {
			break
		}
	}
	return products, nil
}

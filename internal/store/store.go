package store

import (
	"context"
	"time"

	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

// StorePriceFreshness aggregates price timestamps for one store, used by the
// freshness/cooldown partitioner
type StorePriceFreshness struct {
	StoreID     int64
	LastUpdated time.Time
	LastCreated time.Time
}

// JobCounts holds per-status scrape job totals
type JobCounts struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
}

// Store defines the interface for database operations
type Store interface {
	// Ping checks database reachability
	Ping(ctx context.Context) error

	// Transaction runs fn inside a database transaction. The Store passed to
	// fn is scoped to that transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// UpsertStore inserts a store or updates its mutable fields, keyed on
	// (chain, external_store_id). The returned row carries the internal ID.
	UpsertStore(ctx context.Context, s *schema.Store) (*schema.Store, error)
	// GetStoresByIDs retrieves stores by internal IDs
	GetStoresByIDs(ctx context.Context, ids []int64) ([]schema.Store, error)
	// ListStoresByZipPrefix lists active stores of a chain whose ZIP starts
	// with the given prefix
	ListStoresByZipPrefix(ctx context.Context, chain domain.Chain, prefix string, limit int) ([]schema.Store, error)

	// GetProductByIdentifier retrieves a product by its primary identifier,
	// returning nil when absent
	GetProductByIdentifier(ctx context.Context, identifier string) (*schema.Product, error)
	// FindProductCandidates retrieves match candidates whose name or brand
	// contains any of the given tokens
	FindProductCandidates(ctx context.Context, tokens []string, limit int) ([]schema.Product, error)
	// CreateProduct inserts a new catalog product
	CreateProduct(ctx context.Context, p *schema.Product) error
	// SaveProduct persists updated product fields
	SaveProduct(ctx context.Context, p *schema.Product) error

	// GetStorePrice retrieves the current price row for (product, store),
	// returning nil when absent
	GetStorePrice(ctx context.Context, productID, storeID int64) (*schema.StorePrice, error)
	// UpsertStorePrice inserts or overwrites the price for (product, store)
	UpsertStorePrice(ctx context.Context, p *schema.StorePrice) error
	// GetStorePriceFreshness aggregates the newest last_updated and created_at
	// per store for the given store IDs; stores with no prices are omitted
	GetStorePriceFreshness(ctx context.Context, storeIDs []int64) ([]StorePriceFreshness, error)
	// SearchPricedProducts finds current prices at the given stores for
	// products whose name matches the query
	SearchPricedProducts(ctx context.Context, storeIDs []int64, query string, limit int) ([]schema.StorePrice, error)
	// ListStoreProductNames returns the names of products currently priced at
	// the store, most recently updated first. Refresh scrapes re-search these.
	ListStoreProductNames(ctx context.Context, storeID int64, limit int) ([]string, error)

	// GetJobByID retrieves a scrape job by its deterministic ID
	GetJobByID(ctx context.Context, jobID string) (*schema.ScrapeJob, error)
	// GetNonTerminalJobByTarget retrieves the waiting/active job for a target
	// key, returning nil when none exists
	GetNonTerminalJobByTarget(ctx context.Context, target domain.TargetKey) (*schema.ScrapeJob, error)
	// CreateJob inserts a new scrape job
	CreateJob(ctx context.Context, job *schema.ScrapeJob) error
	// SaveJob persists updated job fields
	SaveJob(ctx context.Context, job *schema.ScrapeJob) error
	// CountJobs returns per-status job totals
	CountJobs(ctx context.Context) (*JobCounts, error)
	// ListActiveTargets returns the target keys of waiting/active jobs
	ListActiveTargets(ctx context.Context) ([]domain.TargetKey, error)
	// ListTerminalJobs returns the most recently finished jobs, newest first
	ListTerminalJobs(ctx context.Context, limit int) ([]schema.ScrapeJob, error)
	// TrimJobHistory deletes terminal jobs beyond the newest keep rows
	TrimJobHistory(ctx context.Context, keep int) error

	// TouchSearchZip records one search from the given ZIP
	TouchSearchZip(ctx context.Context, zip string, at time.Time) error
	// ListActiveSearchZips returns ZIPs searched since the given time
	ListActiveSearchZips(ctx context.Context, since time.Time) ([]string, error)
}

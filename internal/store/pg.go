package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// AutoMigrate creates or updates the tables owned by this module
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Store{},
		&schema.Product{},
		&schema.StorePrice{},
		&schema.ScrapeJob{},
		&schema.SearchZip{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection, applying defaults for zero values
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// Ping checks database reachability
func (s *pgStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn inside a database transaction
func (s *pgStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&pgStore{db: tx})
	})
}

// UpsertStore inserts a store or updates its mutable fields, keyed on
// (chain, external_store_id)
func (s *pgStore) UpsertStore(ctx context.Context, st *schema.Store) (*schema.Store, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain"}, {Name: "external_store_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "address", "city", "state", "zip", "latitude", "longitude", "active", "updated_at",
		}),
	}).Create(st).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert store: %w", err)
	}

	// On conflict the returned ID is not populated by every driver; fetch the
	// canonical row so callers always get the internal ID.
	if st.ID == 0 {
		var existing schema.Store
		if err := s.db.WithContext(ctx).
			Where("chain = ? AND external_store_id = ?", st.Chain, st.ExternalStoreID).
			First(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to fetch upserted store: %w", err)
		}
		return &existing, nil
	}
	return st, nil
}

// GetStoresByIDs retrieves stores by internal IDs
func (s *pgStore) GetStoresByIDs(ctx context.Context, ids []int64) ([]schema.Store, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var stores []schema.Store
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("failed to get stores: %w", err)
	}
	return stores, nil
}

// ListStoresByZipPrefix lists active stores of a chain whose ZIP starts with
// the given prefix
func (s *pgStore) ListStoresByZipPrefix(ctx context.Context, chain domain.Chain, prefix string, limit int) ([]schema.Store, error) {
	var stores []schema.Store
	q := s.db.WithContext(ctx).
		Where("chain = ? AND active = ? AND zip LIKE ?", chain, true, prefix+"%").
		Order("zip ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("failed to list stores by zip prefix: %w", err)
	}
	return stores, nil
}

// GetProductByIdentifier retrieves a product by its primary identifier
func (s *pgStore) GetProductByIdentifier(ctx context.Context, identifier string) (*schema.Product, error) {
	var product schema.Product
	err := s.db.WithContext(ctx).Where("identifier = ?", identifier).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

// FindProductCandidates retrieves match candidates whose name or brand
// contains any of the given tokens. This is the cheap pre-filter in front of
// the matcher's scoring pass.
func (s *pgStore) FindProductCandidates(ctx context.Context, tokens []string, limit int) ([]schema.Product, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	q := s.db.WithContext(ctx)
	var conds []string
	var args []interface{}
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if len(token) < 3 {
			continue
		}
		conds = append(conds, "name ILIKE ? OR brand ILIKE ?")
		pattern := "%" + token + "%"
		args = append(args, pattern, pattern)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	var products []schema.Product
	err := q.Where(strings.Join(conds, " OR "), args...).
		Order("created_at ASC").
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find product candidates: %w", err)
	}
	return products, nil
}

// CreateProduct inserts a new catalog product
func (s *pgStore) CreateProduct(ctx context.Context, p *schema.Product) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// SaveProduct persists updated product fields
func (s *pgStore) SaveProduct(ctx context.Context, p *schema.Product) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// GetStorePrice retrieves the current price row for (product, store)
func (s *pgStore) GetStorePrice(ctx context.Context, productID, storeID int64) (*schema.StorePrice, error) {
	var price schema.StorePrice
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND store_id = ?", productID, storeID).
		First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get store price: %w", err)
	}
	return &price, nil
}

// UpsertStorePrice inserts or overwrites the price for (product, store).
// created_at is deliberately excluded from the update set: it anchors the
// scrape cooldown window.
func (s *pgStore) UpsertStorePrice(ctx context.Context, p *schema.StorePrice) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "store_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "deal_type", "last_updated"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("failed to upsert store price: %w", err)
	}
	return nil
}

// GetStorePriceFreshness aggregates the newest last_updated and created_at
// per store
func (s *pgStore) GetStorePriceFreshness(ctx context.Context, storeIDs []int64) ([]StorePriceFreshness, error) {
	if len(storeIDs) == 0 {
		return nil, nil
	}
	var rows []StorePriceFreshness
	err := s.db.WithContext(ctx).
		Model(&schema.StorePrice{}).
		Select("store_id, MAX(last_updated) AS last_updated, MAX(created_at) AS last_created").
		Where("store_id IN ?", storeIDs).
		Group("store_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get store price freshness: %w", err)
	}
	return rows, nil
}

// SearchPricedProducts finds current prices at the given stores for products
// whose name matches the query, cheapest first
func (s *pgStore) SearchPricedProducts(ctx context.Context, storeIDs []int64, query string, limit int) ([]schema.StorePrice, error) {
	if len(storeIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = domain.DefaultResultLimit
	}

	var prices []schema.StorePrice
	err := s.db.WithContext(ctx).
		Preload("Product").
		Preload("Store").
		Joins("JOIN products ON products.id = store_prices.product_id").
		Where("store_prices.store_id IN ?", storeIDs).
		Where("products.name ILIKE ?", "%"+query+"%").
		Order("store_prices.price ASC").
		Limit(limit).
		Find(&prices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search priced products: %w", err)
	}
	return prices, nil
}

// ListStoreProductNames returns the names of products currently priced at the
// store, most recently updated first
func (s *pgStore) ListStoreProductNames(ctx context.Context, storeID int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	var names []string
	err := s.db.WithContext(ctx).
		Model(&schema.StorePrice{}).
		Joins("JOIN products ON products.id = store_prices.product_id").
		Where("store_prices.store_id = ?", storeID).
		Order("store_prices.last_updated DESC").
		Limit(limit).
		Pluck("products.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list store product names: %w", err)
	}
	return names, nil
}

// GetJobByID retrieves a scrape job by its deterministic ID
func (s *pgStore) GetJobByID(ctx context.Context, jobID string) (*schema.ScrapeJob, error) {
	var job schema.ScrapeJob
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetNonTerminalJobByTarget retrieves the waiting/active job for a target key
func (s *pgStore) GetNonTerminalJobByTarget(ctx context.Context, target domain.TargetKey) (*schema.ScrapeJob, error) {
	var job schema.ScrapeJob
	err := s.db.WithContext(ctx).
		Where("target_key = ? AND status IN ?", target.String(), []schema.JobStatus{schema.JobStatusWaiting, schema.JobStatusActive}).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get non-terminal job: %w", err)
	}
	return &job, nil
}

// CreateJob inserts a new scrape job
func (s *pgStore) CreateJob(ctx context.Context, job *schema.ScrapeJob) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// SaveJob persists updated job fields
func (s *pgStore) SaveJob(ctx context.Context, job *schema.ScrapeJob) error {
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// CountJobs returns per-status job totals
func (s *pgStore) CountJobs(ctx context.Context) (*JobCounts, error) {
	var rows []struct {
		Status schema.JobStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&schema.ScrapeJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := &JobCounts{}
	for _, row := range rows {
		switch row.Status {
		case schema.JobStatusWaiting:
			counts.Waiting = row.Count
		case schema.JobStatusActive:
			counts.Active = row.Count
		case schema.JobStatusCompleted:
			counts.Completed = row.Count
		case schema.JobStatusFailed:
			counts.Failed = row.Count
		}
	}
	return counts, nil
}

// ListActiveTargets returns the target keys of waiting/active jobs
func (s *pgStore) ListActiveTargets(ctx context.Context) ([]domain.TargetKey, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&schema.ScrapeJob{}).
		Where("status IN ?", []schema.JobStatus{schema.JobStatusWaiting, schema.JobStatusActive}).
		Order("created_at ASC").
		Pluck("target_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active targets: %w", err)
	}

	targets := make([]domain.TargetKey, len(keys))
	for i, k := range keys {
		targets[i] = domain.TargetKey(k)
	}
	return targets, nil
}

// ListTerminalJobs returns the most recently finished jobs, newest first
func (s *pgStore) ListTerminalJobs(ctx context.Context, limit int) ([]schema.ScrapeJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []schema.ScrapeJob
	err := s.db.WithContext(ctx).
		Where("status IN ?", []schema.JobStatus{schema.JobStatusCompleted, schema.JobStatusFailed}).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal jobs: %w", err)
	}
	return jobs, nil
}

// TrimJobHistory deletes terminal jobs beyond the newest keep rows
func (s *pgStore) TrimJobHistory(ctx context.Context, keep int) error {
	if keep <= 0 {
		keep = 100
	}
	err := s.db.WithContext(ctx).Exec(`
		DELETE FROM scrape_jobs
		WHERE status IN ('completed', 'failed')
		AND job_id NOT IN (
			SELECT job_id FROM scrape_jobs
			WHERE status IN ('completed', 'failed')
			ORDER BY updated_at DESC
			LIMIT ?
		)`, keep).Error
	if err != nil {
		return fmt.Errorf("failed to trim job history: %w", err)
	}
	return nil
}

// TouchSearchZip records one search from the given ZIP
func (s *pgStore) TouchSearchZip(ctx context.Context, zip string, at time.Time) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "zip"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"search_count":     gorm.Expr("search_zips.search_count + 1"),
			"last_searched_at": at,
		}),
	}).Create(&schema.SearchZip{
		Zip:            zip,
		SearchCount:    1,
		LastSearchedAt: at,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to touch search zip: %w", err)
	}
	return nil
}

// ListActiveSearchZips returns ZIPs searched since the given time
func (s *pgStore) ListActiveSearchZips(ctx context.Context, since time.Time) ([]string, error) {
	var zips []string
	err := s.db.WithContext(ctx).
		Model(&schema.SearchZip{}).
		Where("last_searched_at >= ?", since).
		Order("last_searched_at DESC").
		Pluck("zip", &zips).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active search zips: %w", err)
	}
	return zips, nil
}

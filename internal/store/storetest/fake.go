// Package storetest provides an in-memory store.Store for tests
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

type priceKey struct {
	productID int64
	storeID   int64
}

// Fake is a thread-safe in-memory store.Store. Transactions run the callback
// directly against the same state; there is no rollback.
type Fake struct {
	mu sync.Mutex

	nextStoreID   int64
	nextProductID int64
	now           func() time.Time

	Stores     []*schema.Store
	Products   []*schema.Product
	Prices     map[priceKey]*schema.StorePrice
	Jobs       map[string]*schema.ScrapeJob
	SearchZips map[string]*schema.SearchZip

	// Err, when set, is returned by every operation
	Err error
}

// NewFake creates an empty Fake using wall-clock time
func NewFake() *Fake {
	return &Fake{
		nextStoreID:   1,
		nextProductID: 1,
		now:           time.Now,
		Prices:        make(map[priceKey]*schema.StorePrice),
		Jobs:          make(map[string]*schema.ScrapeJob),
		SearchZips:    make(map[string]*schema.SearchZip),
	}
}

// SetNow overrides the fake's clock
func (f *Fake) SetNow(now func() time.Time) {
	f.now = now
}

func (f *Fake) Ping(ctx context.Context) error {
	return f.Err
}

func (f *Fake) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	if f.Err != nil {
		return f.Err
	}
	return fn(f)
}

func (f *Fake) UpsertStore(ctx context.Context, s *schema.Store) (*schema.Store, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.Stores {
		if existing.Chain == s.Chain && existing.ExternalStoreID == s.ExternalStoreID {
			existing.Name = s.Name
			existing.Address = s.Address
			existing.City = s.City
			existing.State = s.State
			existing.Zip = s.Zip
			existing.Latitude = s.Latitude
			existing.Longitude = s.Longitude
			existing.Active = s.Active
			existing.UpdatedAt = f.now()
			copied := *existing
			return &copied, nil
		}
	}

	created := *s
	created.ID = f.nextStoreID
	f.nextStoreID++
	created.CreatedAt = f.now()
	created.UpdatedAt = created.CreatedAt
	f.Stores = append(f.Stores, &created)
	copied := created
	return &copied, nil
}

func (f *Fake) GetStoresByIDs(ctx context.Context, ids []int64) ([]schema.Store, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []schema.Store
	for _, s := range f.Stores {
		if want[s.ID] {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *Fake) ListStoresByZipPrefix(ctx context.Context, chain domain.Chain, prefix string, limit int) ([]schema.Store, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []schema.Store
	for _, s := range f.Stores {
		if s.Chain == chain && s.Active && strings.HasPrefix(s.Zip, prefix) {
			out = append(out, *s)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *Fake) GetProductByIdentifier(ctx context.Context, identifier string) (*schema.Product, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.Products {
		if p.Identifier == identifier {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *Fake) FindProductCandidates(ctx context.Context, tokens []string, limit int) ([]schema.Product, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []schema.Product
	for _, p := range f.Products {
		if matchesAnyToken(p, tokens) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesAnyToken(p *schema.Product, tokens []string) bool {
	name := strings.ToLower(p.Name)
	brand := ""
	if p.Brand != nil {
		brand = strings.ToLower(*p.Brand)
	}
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		if len(tok) < 3 {
			continue
		}
		if strings.Contains(name, tok) || strings.Contains(brand, tok) {
			return true
		}
	}
	return false
}

func (f *Fake) CreateProduct(ctx context.Context, p *schema.Product) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	p.ID = f.nextProductID
	f.nextProductID++
	if p.CreatedAt.IsZero() {
		p.CreatedAt = f.now()
	}
	copied := *p
	f.Products = append(f.Products, &copied)
	return nil
}

func (f *Fake) SaveProduct(ctx context.Context, p *schema.Product) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, existing := range f.Products {
		if existing.ID == p.ID {
			copied := *p
			f.Products[i] = &copied
			return nil
		}
	}
	return nil
}

func (f *Fake) GetStorePrice(ctx context.Context, productID, storeID int64) (*schema.StorePrice, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.Prices[priceKey{productID, storeID}]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, nil
}

func (f *Fake) UpsertStorePrice(ctx context.Context, p *schema.StorePrice) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := priceKey{p.ProductID, p.StoreID}
	if existing, ok := f.Prices[key]; ok {
		existing.Price = p.Price
		existing.DealType = p.DealType
		existing.LastUpdated = p.LastUpdated
		return nil
	}
	copied := *p
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = f.now()
	}
	f.Prices[key] = &copied
	return nil
}

func (f *Fake) GetStorePriceFreshness(ctx context.Context, storeIDs []int64) ([]store.StorePriceFreshness, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	want := make(map[int64]bool, len(storeIDs))
	for _, id := range storeIDs {
		want[id] = true
	}

	agg := make(map[int64]*store.StorePriceFreshness)
	for key, price := range f.Prices {
		if !want[key.storeID] {
			continue
		}
		entry, ok := agg[key.storeID]
		if !ok {
			entry = &store.StorePriceFreshness{StoreID: key.storeID}
			agg[key.storeID] = entry
		}
		if price.LastUpdated.After(entry.LastUpdated) {
			entry.LastUpdated = price.LastUpdated
		}
		if price.CreatedAt.After(entry.LastCreated) {
			entry.LastCreated = price.CreatedAt
		}
	}

	out := make([]store.StorePriceFreshness, 0, len(agg))
	for _, entry := range agg {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID < out[j].StoreID })
	return out, nil
}

func (f *Fake) SearchPricedProducts(ctx context.Context, storeIDs []int64, query string, limit int) ([]schema.StorePrice, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	want := make(map[int64]bool, len(storeIDs))
	for _, id := range storeIDs {
		want[id] = true
	}

	products := make(map[int64]*schema.Product, len(f.Products))
	for _, p := range f.Products {
		products[p.ID] = p
	}
	stores := make(map[int64]*schema.Store, len(f.Stores))
	for _, s := range f.Stores {
		stores[s.ID] = s
	}

	query = strings.ToLower(query)
	var out []schema.StorePrice
	for key, price := range f.Prices {
		if !want[key.storeID] {
			continue
		}
		product, ok := products[key.productID]
		if !ok || !strings.Contains(strings.ToLower(product.Name), query) {
			continue
		}
		copied := *price
		copiedProduct := *product
		copied.Product = &copiedProduct
		if st, ok := stores[key.storeID]; ok {
			copiedStore := *st
			copied.Store = &copiedStore
		}
		out = append(out, copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) ListStoreProductNames(ctx context.Context, storeID int64, limit int) ([]string, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	products := make(map[int64]*schema.Product, len(f.Products))
	for _, p := range f.Products {
		products[p.ID] = p
	}

	var priced []*schema.StorePrice
	for key, price := range f.Prices {
		if key.storeID == storeID {
			priced = append(priced, price)
		}
	}
	sort.Slice(priced, func(i, j int) bool { return priced[i].LastUpdated.After(priced[j].LastUpdated) })

	var names []string
	for _, price := range priced {
		if p, ok := products[price.ProductID]; ok {
			names = append(names, p.Name)
		}
		if limit > 0 && len(names) >= limit {
			break
		}
	}
	return names, nil
}

func (f *Fake) GetJobByID(ctx context.Context, jobID string) (*schema.ScrapeJob, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if job, ok := f.Jobs[jobID]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, nil
}

func (f *Fake) GetNonTerminalJobByTarget(ctx context.Context, target domain.TargetKey) (*schema.ScrapeJob, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, job := range f.Jobs {
		if job.TargetKey == target.String() && !job.Status.Terminal() {
			copied := *job
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *Fake) CreateJob(ctx context.Context, job *schema.ScrapeJob) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	copied := *job
	f.Jobs[job.JobID] = &copied
	return nil
}

func (f *Fake) SaveJob(ctx context.Context, job *schema.ScrapeJob) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	job.UpdatedAt = f.now()
	copied := *job
	f.Jobs[job.JobID] = &copied
	return nil
}

func (f *Fake) CountJobs(ctx context.Context) (*store.JobCounts, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	counts := &store.JobCounts{}
	for _, job := range f.Jobs {
		switch job.Status {
		case schema.JobStatusWaiting:
			counts.Waiting++
		case schema.JobStatusActive:
			counts.Active++
		case schema.JobStatusCompleted:
			counts.Completed++
		case schema.JobStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (f *Fake) ListActiveTargets(ctx context.Context) ([]domain.TargetKey, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.TargetKey
	for _, job := range f.Jobs {
		if !job.Status.Terminal() {
			out = append(out, domain.TargetKey(job.TargetKey))
		}
	}
	return out, nil
}

func (f *Fake) ListTerminalJobs(ctx context.Context, limit int) ([]schema.ScrapeJob, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []schema.ScrapeJob
	for _, job := range f.Jobs {
		if job.Status.Terminal() {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) TrimJobHistory(ctx context.Context, keep int) error {
	if f.Err != nil {
		return f.Err
	}
	terminal, err := f.ListTerminalJobs(ctx, 0)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := keep; i < len(terminal); i++ {
		delete(f.Jobs, terminal[i].JobID)
	}
	return nil
}

func (f *Fake) TouchSearchZip(ctx context.Context, zip string, at time.Time) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.SearchZips[zip]; ok {
		existing.SearchCount++
		existing.LastSearchedAt = at
		return nil
	}
	f.SearchZips[zip] = &schema.SearchZip{
		Zip:            zip,
		SearchCount:    1,
		LastSearchedAt: at,
		CreatedAt:      at,
	}
	return nil
}

func (f *Fake) ListActiveSearchZips(ctx context.Context, since time.Time) ([]string, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for zip, entry := range f.SearchZips {
		if !entry.LastSearchedAt.Before(since) {
			out = append(out, zip)
		}
	}
	sort.Strings(out)
	return out, nil
}

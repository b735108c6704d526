// Package scrape executes one scrape task end to end: resolve the target's
// stores, fetch each chain's search results, extract observations, match them
// into the catalog, and persist prices. Each store's batch commits atomically.
package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/discovery"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/extractor"
	"github.com/mygrocart/price-indexer/internal/fetcher"
	"github.com/mygrocart/price-indexer/internal/freshness"
	"github.com/mygrocart/price-indexer/internal/logger"
	"github.com/mygrocart/price-indexer/internal/matcher"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

const (
	candidateLimit = 200

	// refreshTermLimit caps how many catalog names a query-less refresh
	// re-searches per store
	refreshTermLimit = 25
)

// ChainSearch describes one chain's product-search endpoint
type ChainSearch struct {
	Chain domain.Chain
	// Source is both the fetcher source name and the extractor strategy key
	Source string
	URL    string
	// QueryParam carries the search term
	QueryParam string
	// StoreParam carries the chain's external store identifier
	StoreParam string
}

// Outcome summarizes one executed scrape task
type Outcome struct {
	StoresResolved  int
	StoresScraped   int
	StoresSkipped   int
	ProductsMatched int
	ProductsCreated int
	PricesWritten   int
}

// Runner executes scrape tasks
type Runner struct {
	fetch    fetcher.Fetcher
	extract  *extractor.Extractor
	match    *matcher.Matcher
	disco    *discovery.Service
	fresh    *freshness.Tracker
	db       store.Store
	clock    adapter.Clock
	searches map[domain.Chain]ChainSearch
}

// NewRunner creates a Runner
func NewRunner(
	fetch fetcher.Fetcher,
	extract *extractor.Extractor,
	match *matcher.Matcher,
	disco *discovery.Service,
	fresh *freshness.Tracker,
	db store.Store,
	clock adapter.Clock,
	searches []ChainSearch,
) *Runner {
	byChain := make(map[domain.Chain]ChainSearch, len(searches))
	for _, s := range searches {
		byChain[s.Chain] = s
	}
	return &Runner{
		fetch:    fetch,
		extract:  extract,
		match:    match,
		disco:    disco,
		fresh:    fresh,
		db:       db,
		clock:    clock,
		searches: byChain,
	}
}

// Run executes one scrape task. Per-store failures are absorbed so one broken
// chain cannot sink the whole target; the task fails only when every
// attempted store fails, which keeps it eligible for retry.
func (r *Runner) Run(ctx context.Context, task domain.ScrapeTask) (*Outcome, error) {
	stores, err := r.resolveStores(ctx, task.Target)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{StoresResolved: len(stores)}
	if len(stores) == 0 {
		return outcome, nil
	}

	ids := make([]int64, len(stores))
	byID := make(map[int64]schema.Store, len(stores))
	for i, st := range stores {
		ids[i] = st.ID
		byID[st.ID] = st
	}

	partition, err := r.fresh.Partition(ctx, ids, task.ForceRefresh)
	if err != nil {
		return nil, fmt.Errorf("freshness partition failed: %w", err)
	}
	outcome.StoresSkipped = len(partition.Fresh) + len(partition.Cooling)

	var attempted, failed int
	var lastErr error
	for _, id := range partition.Scrapeable {
		st := byID[id]
		attempted++
		if err := r.scrapeStore(ctx, st, task.Query, outcome); err != nil {
			failed++
			lastErr = err
			logger.WarnCtx(ctx, "Store scrape failed",
				zap.String("chain", string(st.Chain)),
				zap.Int64("store_id", st.ID),
				zap.Error(err),
			)
			continue
		}
		outcome.StoresScraped++
	}

	if attempted > 0 && failed == attempted {
		return outcome, fmt.Errorf("all %d store scrapes failed for %s: %w", attempted, task.Target, lastErr)
	}
	return outcome, nil
}

// Execute adapts Run to the queue's executor contract, discarding the outcome
func (r *Runner) Execute(ctx context.Context, task domain.ScrapeTask) error {
	_, err := r.Run(ctx, task)
	return err
}

// resolveStores expands a target key into concrete stores
func (r *Runner) resolveStores(ctx context.Context, target domain.TargetKey) ([]schema.Store, error) {
	if zip := target.Zip(); zip != "" {
		stores, _, err := r.disco.FindAllStores(ctx, zip, domain.DefaultRadiusMiles)
		if err != nil {
			return nil, fmt.Errorf("store discovery for %s failed: %w", target, err)
		}
		return stores, nil
	}

	rest, ok := strings.CutPrefix(target.String(), "store:")
	if !ok {
		return nil, fmt.Errorf("unrecognized target key '%s'", target)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed store target '%s'", target)
	}
	return r.db.GetStoresByIDs(ctx, []int64{id})
}

// scrapeStore refreshes one store. A task with a query searches that term; a
// query-less task is a refresh pass and re-searches the names the store's
// catalog already carries, since a blank search fetches nothing useful.
func (r *Runner) scrapeStore(ctx context.Context, st schema.Store, query string, outcome *Outcome) error {
	cfg, ok := r.searches[st.Chain]
	if !ok {
		return fmt.Errorf("no search endpoint configured for chain %s", st.Chain)
	}

	terms := []string{query}
	if query == "" {
		names, err := r.db.ListStoreProductNames(ctx, st.ID, refreshTermLimit)
		if err != nil {
			return fmt.Errorf("failed to load refresh terms: %w", err)
		}
		if len(names) == 0 {
			logger.Debug("No catalog to refresh",
				zap.String("chain", string(st.Chain)),
				zap.Int64("store_id", st.ID),
			)
			return nil
		}
		terms = names
	}

	var failed int
	var lastErr error
	for _, term := range terms {
		if err := r.searchStore(ctx, cfg, st, term, outcome); err != nil {
			failed++
			lastErr = err
		}
	}
	if failed == len(terms) {
		return lastErr
	}
	if lastErr != nil {
		logger.WarnCtx(ctx, "Some refresh searches failed",
			zap.Int64("store_id", st.ID),
			zap.Int("failed", failed),
			zap.Int("terms", len(terms)),
			zap.Error(lastErr),
		)
	}
	return nil
}

// searchStore fetches one search term's results at a store and ingests the
// batch
func (r *Runner) searchStore(ctx context.Context, cfg ChainSearch, st schema.Store, query string, outcome *Outcome) error {
	params := url.Values{}
	params.Set(cfg.QueryParam, query)
	params.Set(cfg.StoreParam, st.ExternalStoreID)

	body, err := r.fetch.Fetch(ctx, cfg.Source, fetcher.Request{URL: cfg.URL, Query: params})
	if err != nil {
		return err
	}

	products, err := r.extract.Extract(cfg.Source, body)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		logger.Debug("Scrape produced no products",
			zap.String("chain", string(st.Chain)),
			zap.String("query", query),
		)
		return nil
	}

	// one transaction per store batch: either all of this store's observed
	// prices land or none do
	return r.db.Transaction(ctx, func(tx store.Store) error {
		for _, raw := range products {
			if err := r.ingest(ctx, tx, st, raw, outcome); err != nil {
				return err
			}
		}
		return nil
	})
}

// ingest matches one observation into the catalog and records its price
func (r *Runner) ingest(ctx context.Context, tx store.Store, st schema.Store, raw domain.RawProduct, outcome *Outcome) error {
	product, err := r.resolveProduct(ctx, tx, raw, outcome)
	if err != nil {
		return err
	}

	if raw.Price == nil {
		// observed without a price; catalog entry exists but no price row
		return nil
	}

	now := r.clock.Now()

	existing, err := tx.GetStorePrice(ctx, product.ID, st.ID)
	if err != nil {
		return err
	}
	if err := tx.UpsertStorePrice(ctx, &schema.StorePrice{
		ProductID:   product.ID,
		StoreID:     st.ID,
		Price:       *raw.Price,
		DealType:    raw.DealType,
		LastUpdated: now,
		CreatedAt:   now,
	}); err != nil {
		return err
	}
	outcome.PricesWritten++

	if existing == nil {
		product.DiscoveryCount++
	}
	product.LastPriceUpdate = &now
	return tx.SaveProduct(ctx, product)
}

// resolveProduct finds the catalog product an observation refers to, creating
// it when nothing matches. Matched products get missing fields backfilled.
func (r *Runner) resolveProduct(ctx context.Context, tx store.Store, raw domain.RawProduct, outcome *Outcome) (*schema.Product, error) {
	if existing, err := tx.GetProductByIdentifier(ctx, raw.Identifier); err != nil {
		return nil, err
	} else if existing != nil {
		outcome.ProductsMatched++
		if backfill(existing, raw) {
			if err := tx.SaveProduct(ctx, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	candidates, err := tx.FindProductCandidates(ctx, nameTokens(raw.Name), candidateLimit)
	if err != nil {
		return nil, err
	}
	refs := make([]*schema.Product, len(candidates))
	for i := range candidates {
		refs[i] = &candidates[i]
	}

	if match, _ := r.match.Match(raw, refs); match != nil {
		outcome.ProductsMatched++
		if backfill(match, raw) {
			if err := tx.SaveProduct(ctx, match); err != nil {
				return nil, err
			}
		}
		return match, nil
	}

	created := &schema.Product{
		Identifier: raw.Identifier,
		Name:       raw.Name,
		Brand:      raw.Brand,
		Size:       raw.Size,
		Category:   raw.Category,
		ImageURL:   raw.ImageURL,
	}
	if err := tx.CreateProduct(ctx, created); err != nil {
		return nil, err
	}
	outcome.ProductsCreated++
	return created, nil
}

// backfill fills fields the catalog record lacks from a new observation,
// reporting whether anything changed. Existing values are never overwritten.
func backfill(product *schema.Product, raw domain.RawProduct) bool {
	changed := false
	if isEmpty(product.Brand) && !isEmpty(raw.Brand) {
		product.Brand = raw.Brand
		changed = true
	}
	if isEmpty(product.Size) && !isEmpty(raw.Size) {
		product.Size = raw.Size
		changed = true
	}
	if isEmpty(product.Category) && !isEmpty(raw.Category) {
		product.Category = raw.Category
		changed = true
	}
	if isEmpty(product.ImageURL) && !isEmpty(raw.ImageURL) {
		product.ImageURL = raw.ImageURL
		changed = true
	}
	return changed
}

func isEmpty(s *string) bool {
	return s == nil || *s == ""
}

func nameTokens(name string) []string {
	fields := strings.Fields(name)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ",.")
		if len(f) >= 3 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/cache"
	"github.com/mygrocart/price-indexer/internal/discovery"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/extractor"
	"github.com/mygrocart/price-indexer/internal/fetcher"
	"github.com/mygrocart/price-indexer/internal/freshness"
	"github.com/mygrocart/price-indexer/internal/matcher"
	"github.com/mygrocart/price-indexer/internal/store/schema"
	"github.com/mygrocart/price-indexer/internal/store/storetest"
)

type fakeFetcher struct {
	payloads map[string][]byte
	err      error
	calls    int
	queries  []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, source string, req fetcher.Request) ([]byte, error) {
	f.calls++
	f.queries = append(f.queries, req.Query.Get("q"))
	if f.err != nil {
		return nil, f.err
	}
	payload, ok := f.payloads[source]
	if !ok {
		return nil, errors.New("no payload for source " + source)
	}
	return payload, nil
}

func (f *fakeFetcher) Close() {}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time                         { return c.now }
func (c *fixedClock) Since(t time.Time) time.Duration       { return c.now.Sub(t) }
func (c *fixedClock) Sleep(d time.Duration)                  {}
func (c *fixedClock) After(d time.Duration) <-chan time.Time { return time.After(0) }

type staticLocator struct {
	chain  domain.Chain
	stores []schema.Store
}

func (l *staticLocator) Chain() domain.Chain { return l.chain }
func (l *staticLocator) FindStores(ctx context.Context, zip string) ([]schema.Store, error) {
	return l.stores, nil
}

const shopriteSearchPayload = `{
	"items": [
		{"name": "Whole Milk, 1 gal", "price": "3.49", "upc": "011110491"},
		{"name": "2% Reduced Fat Milk, 0.5 gal", "price": 2.29, "upc": "011110492"}
	]
}`

func newRunner(t *testing.T, db *storetest.Fake, fetch fetcher.Fetcher, now time.Time) *Runner {
	t.Helper()

	ext := extractor.New()
	ext.Register("shoprite-search", extractor.NewJSONStrategy(extractor.JSONStrategyConfig{
		ItemsPath: []string{"items"},
		Fields:    extractor.JSONFieldMap{Name: "name", Price: "price", Identifier: "upc"},
	}))

	locator := &staticLocator{
		chain: domain.ChainShopRite,
		stores: []schema.Store{{
			Chain:           domain.ChainShopRite,
			ExternalStoreID: "s-100",
			Name:            "ShopRite Elizabeth",
			Zip:             "07202",
			Active:          true,
		}},
	}
	disco := discovery.New(discovery.Config{}, cache.NewMemoryCache(adapter.NewClock()), db, []discovery.Locator{locator})

	clock := &fixedClock{now: now}
	return NewRunner(
		fetch,
		ext,
		matcher.New(matcher.Config{}),
		disco,
		freshness.New(freshness.Config{}, db, clock),
		db,
		clock,
		[]ChainSearch{{
			Chain:      domain.ChainShopRite,
			Source:     "shoprite-search",
			URL:        "https://shoprite.example.com/search",
			QueryParam: "q",
			StoreParam: "storeId",
		}},
	)
}

func TestRunScrapesZipTarget(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	db := storetest.NewFake()
	fetch := &fakeFetcher{payloads: map[string][]byte{"shoprite-search": []byte(shopriteSearchPayload)}}
	runner := newRunner(t, db, fetch, now)

	outcome, err := runner.Run(context.Background(), domain.ScrapeTask{
		Target: domain.NewZipTarget("07202"),
		Query:  "milk",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.StoresResolved)
	assert.Equal(t, 1, outcome.StoresScraped)
	assert.Equal(t, 2, outcome.ProductsCreated)
	assert.Equal(t, 0, outcome.ProductsMatched)
	assert.Equal(t, 2, outcome.PricesWritten)

	require.Len(t, db.Products, 2)
	assert.Equal(t, 1, db.Products[0].DiscoveryCount)
	require.NotNil(t, db.Products[0].LastPriceUpdate)
	assert.Equal(t, now, *db.Products[0].LastPriceUpdate)

	// size backfilled from the cleaned name
	require.NotNil(t, db.Products[0].Size)
	assert.Equal(t, "1 gal", *db.Products[0].Size)
}

func TestRunSecondScrapeOverwritesPrices(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	db := storetest.NewFake()
	fetch := &fakeFetcher{payloads: map[string][]byte{"shoprite-search": []byte(shopriteSearchPayload)}}
	runner := newRunner(t, db, fetch, now)

	task := domain.ScrapeTask{Target: domain.NewZipTarget("07202"), Query: "milk", ForceRefresh: true}

	_, err := runner.Run(context.Background(), task)
	require.NoError(t, err)

	fetch.payloads["shoprite-search"] = []byte(`{
		"items": [{"name": "Whole Milk, 1 gal", "price": "3.99", "upc": "011110491"}]
	}`)
	outcome, err := runner.Run(context.Background(), task)
	require.NoError(t, err)

	// second observation matched the existing catalog entry
	assert.Equal(t, 1, outcome.ProductsMatched)
	assert.Equal(t, 0, outcome.ProductsCreated)
	require.Len(t, db.Products, 2)

	// still one price row per (product, store), price overwritten
	require.Len(t, db.Prices, 2)
	price, err := db.GetStorePrice(context.Background(), db.Products[0].ID, 1)
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.InDelta(t, 3.99, price.Price, 0.0001)

	// discovery count is distinct stores, not observations
	assert.Equal(t, 1, db.Products[0].DiscoveryCount)
}

func TestRunSkipsFreshStores(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	db := storetest.NewFake()
	fetch := &fakeFetcher{payloads: map[string][]byte{"shoprite-search": []byte(shopriteSearchPayload)}}
	runner := newRunner(t, db, fetch, now)

	// first run persists the store and its prices
	task := domain.ScrapeTask{Target: domain.NewZipTarget("07202"), Query: "milk"}
	_, err := runner.Run(context.Background(), task)
	require.NoError(t, err)
	fetchCallsAfterFirst := fetch.calls

	// second run finds the store fresh and issues no fetches beyond discovery
	outcome, err := runner.Run(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.StoresScraped)
	assert.Equal(t, 1, outcome.StoresSkipped)
	assert.Equal(t, fetchCallsAfterFirst, fetch.calls)
}

func TestRunFailsWhenEveryStoreFails(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	db := storetest.NewFake()

	// persist a store directly so discovery is not involved
	st, err := db.UpsertStore(context.Background(), &schema.Store{
		Chain: domain.ChainShopRite, ExternalStoreID: "s-1", Zip: "07202", Active: true,
	})
	require.NoError(t, err)

	fetch := &fakeFetcher{err: errors.New("anti-bot wall")}
	runner := newRunner(t, db, fetch, now)

	_, err = runner.Run(context.Background(), domain.ScrapeTask{
		Target: domain.NewStoreTarget(st.ID),
		Query:  "milk",
	})
	assert.Error(t, err)
}

func TestRunStoreTargetResolvesSingleStore(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	db := storetest.NewFake()
	fetch := &fakeFetcher{payloads: map[string][]byte{"shoprite-search": []byte(shopriteSearchPayload)}}
	runner := newRunner(t, db, fetch, now)

	st, err := db.UpsertStore(context.Background(), &schema.Store{
		Chain: domain.ChainShopRite, ExternalStoreID: "s-1", Zip: "07202", Active: true,
	})
	require.NoError(t, err)

	outcome, err := runner.Run(context.Background(), domain.ScrapeTask{
		Target: domain.NewStoreTarget(st.ID),
		Query:  "milk",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.StoresResolved)
	assert.Equal(t, 1, outcome.StoresScraped)
}

func TestRunRefreshWithoutQuerySearchesCatalog(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	db := storetest.NewFake()
	fetch := &fakeFetcher{payloads: map[string][]byte{"shoprite-search": []byte(shopriteSearchPayload)}}
	runner := newRunner(t, db, fetch, now)

	// seed the catalog the refresh should re-search
	st, err := db.UpsertStore(context.Background(), &schema.Store{
		Chain: domain.ChainShopRite, ExternalStoreID: "s-100", Zip: "07202", Active: true,
	})
	require.NoError(t, err)
	for i, name := range []string{"Whole Milk, 1 gal", "2% Reduced Fat Milk, 0.5 gal"} {
		p := &schema.Product{Identifier: domain.SyntheticIdentifier(name, "seed"), Name: name}
		require.NoError(t, db.CreateProduct(context.Background(), p))
		require.NoError(t, db.UpsertStorePrice(context.Background(), &schema.StorePrice{
			ProductID: p.ID, StoreID: st.ID, Price: 3.49,
			LastUpdated: now.Add(-time.Duration(48+i) * time.Hour),
			CreatedAt:   now.Add(-time.Duration(48+i) * time.Hour),
		}))
	}

	outcome, err := runner.Run(context.Background(), domain.ScrapeTask{
		Target:       domain.NewZipTarget("07202"),
		Trigger:      domain.TriggerWeeklyRefresh,
		ForceRefresh: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.StoresScraped)

	// one search per catalog name, never a blank search
	require.Len(t, fetch.queries, 2)
	assert.ElementsMatch(t, []string{"Whole Milk, 1 gal", "2% Reduced Fat Milk, 0.5 gal"}, fetch.queries)
	for _, q := range fetch.queries {
		assert.NotEmpty(t, q)
	}
}

func TestRunRefreshSkipsStoreWithEmptyCatalog(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	db := storetest.NewFake()
	fetch := &fakeFetcher{payloads: map[string][]byte{"shoprite-search": []byte(shopriteSearchPayload)}}
	runner := newRunner(t, db, fetch, now)

	st, err := db.UpsertStore(context.Background(), &schema.Store{
		Chain: domain.ChainShopRite, ExternalStoreID: "s-100", Zip: "07202", Active: true,
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), domain.ScrapeTask{
		Target:       domain.NewStoreTarget(st.ID),
		Trigger:      domain.TriggerWeeklyRefresh,
		ForceRefresh: true,
	})
	require.NoError(t, err)
	assert.Empty(t, fetch.queries)
}

func TestRunUnknownTarget(t *testing.T) {
	db := storetest.NewFake()
	runner := newRunner(t, db, &fakeFetcher{}, time.Now())

	_, err := runner.Run(context.Background(), domain.ScrapeTask{Target: "bogus:1"})
	assert.Error(t, err)
}

package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/cache"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/store/schema"
	"github.com/mygrocart/price-indexer/internal/store/storetest"
)

type fakeLocator struct {
	chain  domain.Chain
	stores []schema.Store
	err    error
	calls  int
}

func (l *fakeLocator) Chain() domain.Chain { return l.chain }

func (l *fakeLocator) FindStores(ctx context.Context, zip string) ([]schema.Store, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.stores, nil
}

func floatPtr(v float64) *float64 { return &v }

func elizabethStore(chain domain.Chain, externalID, zip string, lat, lng float64) schema.Store {
	return schema.Store{
		Chain:           chain,
		ExternalStoreID: externalID,
		Name:            string(chain) + " " + externalID,
		Zip:             zip,
		Latitude:        floatPtr(lat),
		Longitude:       floatPtr(lng),
		Active:          true,
	}
}

func newService(locators ...Locator) (*Service, *storetest.Fake) {
	db := storetest.NewFake()
	c := cache.NewMemoryCache(adapter.NewClock())
	return New(Config{}, c, db, locators), db
}

func TestFindStoresCacheFirst(t *testing.T) {
	locator := &fakeLocator{
		chain: domain.ChainShopRite,
		stores: []schema.Store{
			elizabethStore(domain.ChainShopRite, "s-1", "07202", 40.664, -74.211),
		},
	}
	svc, db := newService(locator)

	first, err := svc.FindStores(context.Background(), domain.ChainShopRite, "07202", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, locator.calls)

	// the store was persisted with an internal ID
	require.Len(t, db.Stores, 1)
	assert.NotZero(t, first[0].ID)

	// second lookup is served from cache without touching the locator
	second, err := svc.FindStores(context.Background(), domain.ChainShopRite, "07202", 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, locator.calls)

	// a different radius is a different cache entry
	_, err = svc.FindStores(context.Background(), domain.ChainShopRite, "07202", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, locator.calls)
}

func TestFindStoresUpsertOnRediscovery(t *testing.T) {
	locator := &fakeLocator{
		chain: domain.ChainAcme,
		stores: []schema.Store{
			elizabethStore(domain.ChainAcme, "a-7", "07202", 40.66, -74.21),
		},
	}
	svc, db := newService(locator)

	_, err := svc.FindStores(context.Background(), domain.ChainAcme, "07202", 10)
	require.NoError(t, err)

	// rediscovery with a changed name must update, not duplicate
	locator.stores[0].Name = "Acme Elizabeth Renovated"
	_, err = svc.FindStores(context.Background(), domain.ChainAcme, "07202", 5)
	require.NoError(t, err)

	require.Len(t, db.Stores, 1)
	assert.Equal(t, "Acme Elizabeth Renovated", db.Stores[0].Name)
}

func TestFindStoresRadiusFilter(t *testing.T) {
	locator := &fakeLocator{
		chain: domain.ChainWalmart,
		stores: []schema.Store{
			elizabethStore(domain.ChainWalmart, "near", "07202", 40.664, -74.211),
			// Newark is roughly 5 miles north
			elizabethStore(domain.ChainWalmart, "newark", "07102", 40.735, -74.172),
			// Trenton is roughly 45 miles away
			elizabethStore(domain.ChainWalmart, "far", "08608", 40.220, -74.764),
		},
	}
	svc, _ := newService(locator)

	stores, err := svc.FindStores(context.Background(), domain.ChainWalmart, "07202", 10)
	require.NoError(t, err)
	require.Len(t, stores, 2)

	// nearest first
	assert.Equal(t, "near", stores[0].ExternalStoreID)
	assert.Equal(t, "newark", stores[1].ExternalStoreID)
}

func TestFindStoresZipPrefixFallbackWithoutCoordinates(t *testing.T) {
	noCoords := schema.Store{
		Chain: domain.ChainTarget, ExternalStoreID: "t-1", Zip: "07205", Active: true,
	}
	otherArea := schema.Store{
		Chain: domain.ChainTarget, ExternalStoreID: "t-2", Zip: "11201", Active: true,
	}
	locator := &fakeLocator{chain: domain.ChainTarget, stores: []schema.Store{noCoords, otherArea}}
	svc, _ := newService(locator)

	stores, err := svc.FindStores(context.Background(), domain.ChainTarget, "07202", 10)
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, "t-1", stores[0].ExternalStoreID)
}

func TestZipPrefixFallbackWidensProgressively(t *testing.T) {
	exact := schema.Store{Chain: domain.ChainTarget, ExternalStoreID: "exact", Zip: "07202", Active: true}
	fourDigit := schema.Store{Chain: domain.ChainTarget, ExternalStoreID: "four", Zip: "07205", Active: true}
	threeDigit := schema.Store{Chain: domain.ChainTarget, ExternalStoreID: "three", Zip: "07901", Active: true}

	// an exact-ZIP store wins over wider tiers
	kept := filterByZipPrefix([]schema.Store{threeDigit, fourDigit, exact}, "07202")
	require.Len(t, kept, 1)
	assert.Equal(t, "exact", kept[0].ExternalStoreID)

	// without it, the 4-digit tier comes next
	kept = filterByZipPrefix([]schema.Store{threeDigit, fourDigit}, "07202")
	require.Len(t, kept, 1)
	assert.Equal(t, "four", kept[0].ExternalStoreID)

	// the 3-digit sectional area is the last resort, not the default
	kept = filterByZipPrefix([]schema.Store{threeDigit}, "07202")
	require.Len(t, kept, 1)
	assert.Equal(t, "three", kept[0].ExternalStoreID)

	assert.Empty(t, filterByZipPrefix([]schema.Store{{Zip: "11201"}}, "07202"))
}

func TestFindStoresLocatorFailureFallsBackToPersisted(t *testing.T) {
	locator := &fakeLocator{chain: domain.ChainShopRite, err: errors.New("locator down")}
	svc, db := newService(locator)

	persisted := elizabethStore(domain.ChainShopRite, "old-1", "07206", 40.66, -74.2)
	_, err := db.UpsertStore(context.Background(), &persisted)
	require.NoError(t, err)

	stores, err := svc.FindStores(context.Background(), domain.ChainShopRite, "07202", 10)
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, "old-1", stores[0].ExternalStoreID)
}

func TestFindStoresLocatorFailureWithNothingPersisted(t *testing.T) {
	locator := &fakeLocator{chain: domain.ChainShopRite, err: errors.New("locator down")}
	svc, _ := newService(locator)

	_, err := svc.FindStores(context.Background(), domain.ChainShopRite, "07202", 10)
	assert.Error(t, err)
}

func TestFindStoresRejectsBadInput(t *testing.T) {
	svc, _ := newService()

	_, err := svc.FindStores(context.Background(), "krogers", "07202", 10)
	assert.Error(t, err)

	_, err = svc.FindStores(context.Background(), domain.ChainAcme, "0720", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidZip)
}

func TestFindAllStoresAbsorbsChainFailure(t *testing.T) {
	healthy := &fakeLocator{
		chain: domain.ChainShopRite,
		stores: []schema.Store{
			elizabethStore(domain.ChainShopRite, "s-1", "07202", 40.664, -74.211),
		},
	}
	broken := &fakeLocator{chain: domain.ChainWalmart, err: errors.New("anti-bot wall")}
	svc, _ := newService(healthy, broken)

	stores, incomplete, err := svc.FindAllStores(context.Background(), "07202", 10)
	require.NoError(t, err)
	assert.True(t, incomplete)
	require.Len(t, stores, 1)
	assert.Equal(t, domain.ChainShopRite, stores[0].Chain)
}

func TestFindAllStoresDeduplicates(t *testing.T) {
	locator := &fakeLocator{
		chain: domain.ChainAcme,
		stores: []schema.Store{
			elizabethStore(domain.ChainAcme, "a-1", "07202", 40.664, -74.211),
			elizabethStore(domain.ChainAcme, "a-1", "07202", 40.664, -74.211),
		},
	}
	svc, _ := newService(locator)

	stores, incomplete, err := svc.FindAllStores(context.Background(), "07202", 10)
	require.NoError(t, err)
	assert.False(t, incomplete)
	assert.Len(t, stores, 1)
}

func TestHaversineMiles(t *testing.T) {
	// Elizabeth NJ to Newark NJ is about 5 miles
	d := haversineMiles(40.664, -74.211, 40.735, -74.172)
	assert.InDelta(t, 5.3, d, 1.0)

	assert.InDelta(t, 0, haversineMiles(40.0, -74.0, 40.0, -74.0), 0.0001)
}

// Package discovery resolves which physical stores serve a ZIP code. Results
// are cached for a long horizon because store footprints change rarely; on a
// miss each chain's locator endpoint is queried and the stores upserted.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mygrocart/price-indexer/internal/cache"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/logger"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

const (
	// DefaultCacheTTL is how long a (chain, zip, radius) discovery result
	// stays cached. Store footprints change on the scale of months.
	DefaultCacheTTL = 30 * 24 * time.Hour

	// minZipPrefixLen is the widest ZIP-prefix tier for proximity fallback
	// when coordinates are unavailable; 3 digits cover a sectional center area
	minZipPrefixLen = 3

	earthRadiusMiles = 3958.8

	maxStoresPerChain = 25
)

// Config holds discovery tuning
type Config struct {
	// CacheTTL overrides DefaultCacheTTL when positive
	CacheTTL time.Duration
	// CacheKeyPrefix namespaces discovery cache keys
	CacheKeyPrefix string
}

// Service finds and persists stores near a ZIP code
type Service struct {
	cfg      Config
	cache    cache.Cache
	db       store.Store
	locators map[domain.Chain]Locator
}

// New creates a discovery Service
func New(cfg Config, c cache.Cache, db store.Store, locators []Locator) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheKeyPrefix == "" {
		cfg.CacheKeyPrefix = "mygrocart:discovery:"
	}

	byChain := make(map[domain.Chain]Locator, len(locators))
	for _, l := range locators {
		byChain[l.Chain()] = l
	}
	return &Service{cfg: cfg, cache: c, db: db, locators: byChain}
}

func (s *Service) cacheKey(chain domain.Chain, zip string, radius float64) string {
	return fmt.Sprintf("%s%s:%s:%g", s.cfg.CacheKeyPrefix, chain, zip, radius)
}

// FindStores returns the chain's stores within the radius of the ZIP,
// cache-first. On a cache miss the chain's locator is queried, every result
// upserted on (chain, external store id), and the filtered list cached.
// Locator failure falls back to previously persisted stores near the ZIP.
func (s *Service) FindStores(ctx context.Context, chain domain.Chain, zip string, radiusMiles float64) ([]schema.Store, error) {
	if !domain.IsValidChain(chain) {
		return nil, fmt.Errorf("unsupported chain '%s'", chain)
	}
	if !domain.ValidZip(zip) {
		return nil, domain.ErrInvalidZip
	}

	key := s.cacheKey(chain, zip, radiusMiles)
	var cached []schema.Store
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		logger.WarnCtx(ctx, "Discovery cache read failed",
			zap.String("chain", string(chain)),
			zap.Error(err),
		)
	}

	stores, fromLocator, err := s.discover(ctx, chain, zip, radiusMiles)
	if err != nil {
		return nil, err
	}

	// only genuine locator results earn the long TTL; a stale-DB fallback
	// cached for a month would mask the locator's recovery
	if fromLocator {
		if err := s.cache.Set(ctx, key, stores, s.cfg.CacheTTL); err != nil {
			logger.WarnCtx(ctx, "Discovery cache write failed",
				zap.String("chain", string(chain)),
				zap.Error(err),
			)
		}
	}
	return stores, nil
}

// discover queries the chain's locator and persists the results. When the
// locator fails, previously persisted stores near the ZIP serve as fallback;
// a failure with nothing persisted is a real error.
func (s *Service) discover(ctx context.Context, chain domain.Chain, zip string, radiusMiles float64) ([]schema.Store, bool, error) {
	locator, ok := s.locators[chain]
	if !ok {
		stores, err := s.persistedFallback(ctx, chain, zip)
		return stores, false, err
	}

	found, locErr := locator.FindStores(ctx, zip)
	if locErr != nil {
		logger.WarnCtx(ctx, "Store locator failed, using persisted stores",
			zap.String("chain", string(chain)),
			zap.String("zip", zip),
			zap.Error(locErr),
		)
		stores, err := s.persistedFallback(ctx, chain, zip)
		if err != nil {
			return nil, false, err
		}
		if len(stores) == 0 {
			return nil, false, locErr
		}
		return stores, false, nil
	}

	persisted := make([]schema.Store, 0, len(found))
	for i := range found {
		saved, err := s.db.UpsertStore(ctx, &found[i])
		if err != nil {
			return nil, false, fmt.Errorf("failed to persist store %s/%s: %w", chain, found[i].ExternalStoreID, err)
		}
		persisted = append(persisted, *saved)
	}

	return filterByProximity(persisted, zip, radiusMiles), true, nil
}

func (s *Service) persistedFallback(ctx context.Context, chain domain.Chain, zip string) ([]schema.Store, error) {
	stores, err := s.db.ListStoresByZipPrefix(ctx, chain, zip[:minZipPrefixLen], maxStoresPerChain)
	if err != nil {
		return nil, fmt.Errorf("store fallback lookup failed: %w", err)
	}
	// the query fetched the widest tier; narrow to the closest non-empty one
	return filterByZipPrefix(stores, zip), nil
}

// FindAllStores unions discovery across every supported chain, deduplicated
// on (chain, external store id). A failing chain is absorbed: its stores are
// simply missing from the result and incomplete is set.
func (s *Service) FindAllStores(ctx context.Context, zip string, radiusMiles float64) ([]schema.Store, bool, error) {
	if !domain.ValidZip(zip) {
		return nil, false, domain.ErrInvalidZip
	}

	type chainKey struct {
		chain      domain.Chain
		externalID string
	}

	seen := make(map[chainKey]bool)
	var union []schema.Store
	incomplete := false

	for _, chain := range domain.SupportedChains {
		stores, err := s.FindStores(ctx, chain, zip, radiusMiles)
		if err != nil {
			incomplete = true
			logger.WarnCtx(ctx, "Chain discovery failed, continuing without it",
				zap.String("chain", string(chain)),
				zap.String("zip", zip),
				zap.Error(err),
			)
			continue
		}
		for _, st := range stores {
			k := chainKey{chain: st.Chain, externalID: st.ExternalStoreID}
			if seen[k] {
				continue
			}
			seen[k] = true
			union = append(union, st)
		}
	}
	return union, incomplete, nil
}

// filterByProximity keeps stores within the radius of the ZIP and orders them
// nearest first. The anchor point is the centroid of stores reporting the
// exact query ZIP; when no coordinates are available at all, a ZIP-prefix
// match substitutes for distance.
func filterByProximity(stores []schema.Store, zip string, radiusMiles float64) []schema.Store {
	anchorLat, anchorLng, ok := anchorPoint(stores, zip)
	if !ok {
		return filterByZipPrefix(stores, zip)
	}

	type scored struct {
		store    schema.Store
		distance float64
	}
	var kept []scored
	for _, st := range stores {
		if st.Latitude == nil || st.Longitude == nil {
			// no coordinates: keep only on prefix affinity
			if hasZipPrefix(st.Zip, zip) {
				kept = append(kept, scored{store: st, distance: radiusMiles})
			}
			continue
		}
		d := haversineMiles(anchorLat, anchorLng, *st.Latitude, *st.Longitude)
		if d <= radiusMiles {
			kept = append(kept, scored{store: st, distance: d})
		}
	}

	// insertion sort by distance; chain locators return short lists
	for i := 1; i < len(kept); i++ {
		for j := i; j > 0 && kept[j].distance < kept[j-1].distance; j-- {
			kept[j], kept[j-1] = kept[j-1], kept[j]
		}
	}

	result := make([]schema.Store, len(kept))
	for i, s := range kept {
		result[i] = s.store
	}
	return result
}

// anchorPoint averages the coordinates of stores in the exact query ZIP
func anchorPoint(stores []schema.Store, zip string) (float64, float64, bool) {
	var latSum, lngSum float64
	var n int
	for _, st := range stores {
		if st.Zip == zip && st.Latitude != nil && st.Longitude != nil {
			latSum += *st.Latitude
			lngSum += *st.Longitude
			n++
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return latSum / float64(n), lngSum / float64(n), true
}

// filterByZipPrefix matches on a progressively widening ZIP prefix: the exact
// ZIP first, then 4 digits, then 3, returning the first non-empty tier so
// nearby stores are never drowned out by same-sectional-area ones.
func filterByZipPrefix(stores []schema.Store, zip string) []schema.Store {
	for n := len(zip); n >= minZipPrefixLen; n-- {
		var kept []schema.Store
		for _, st := range stores {
			if len(st.Zip) >= n && st.Zip[:n] == zip[:n] {
				kept = append(kept, st)
			}
		}
		if len(kept) > 0 {
			return kept
		}
	}
	return nil
}

func hasZipPrefix(storeZip, queryZip string) bool {
	if len(storeZip) < minZipPrefixLen || len(queryZip) < minZipPrefixLen {
		return false
	}
	return storeZip[:minZipPrefixLen] == queryZip[:minZipPrefixLen]
}

// haversineMiles computes the great-circle distance between two points
func haversineMiles(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(a))
}

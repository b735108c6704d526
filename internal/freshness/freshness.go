// Package freshness decides, per store, whether persisted prices can be
// served as-is, whether a new scrape is permitted, or whether the store is in
// its post-scrape cooldown.
package freshness

import (
	"context"
	"time"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/store"
)

const (
	// DefaultFreshnessWindow is the maximum age of a price observation still
	// served without rescraping
	DefaultFreshnessWindow = 24 * time.Hour

	// DefaultCooldownWindow is the minimum time between scrape attempts for
	// the same store, regardless of staleness
	DefaultCooldownWindow = 30 * time.Minute
)

// Config holds the freshness and cooldown windows
type Config struct {
	FreshnessWindow time.Duration
	CooldownWindow  time.Duration
}

// Partition buckets store IDs by scrape eligibility. A store appears in
// exactly one bucket.
type Partition struct {
	// Fresh stores have at least one price inside the freshness window;
	// their cached prices are served and no scrape happens
	Fresh []int64
	// Scrapeable stores are stale and past cooldown
	Scrapeable []int64
	// Cooling stores are stale but had a price row created inside the
	// cooldown window; they are skipped this round
	Cooling []int64
}

// Tracker evaluates freshness per store against persisted price timestamps
type Tracker struct {
	cfg   Config
	db    store.Store
	clock adapter.Clock
}

// New creates a Tracker, applying default windows for unset config
func New(cfg Config, db store.Store, clock adapter.Clock) *Tracker {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = DefaultCooldownWindow
	}
	return &Tracker{cfg: cfg, db: db, clock: clock}
}

// FreshnessWindow returns the configured freshness window
func (t *Tracker) FreshnessWindow() time.Duration {
	return t.cfg.FreshnessWindow
}

// Partition classifies each store. Freshness is per store, not per product:
// any sufficiently recent price row marks the whole store fresh. forceRefresh
// bypasses both windows and marks every store scrapeable; per-target dedup in
// the job queue remains the only brake on forced scrapes.
func (t *Tracker) Partition(ctx context.Context, storeIDs []int64, forceRefresh bool) (*Partition, error) {
	p := &Partition{}
	if len(storeIDs) == 0 {
		return p, nil
	}
	if forceRefresh {
		p.Scrapeable = append(p.Scrapeable, storeIDs...)
		return p, nil
	}

	rows, err := t.db.GetStorePriceFreshness(ctx, storeIDs)
	if err != nil {
		return nil, err
	}
	byStore := make(map[int64]store.StorePriceFreshness, len(rows))
	for _, row := range rows {
		byStore[row.StoreID] = row
	}

	now := t.clock.Now()
	freshCutoff := now.Add(-t.cfg.FreshnessWindow)
	cooldownCutoff := now.Add(-t.cfg.CooldownWindow)

	for _, id := range storeIDs {
		row, ok := byStore[id]
		if !ok {
			// never scraped
			p.Scrapeable = append(p.Scrapeable, id)
			continue
		}
		switch {
		case row.LastUpdated.After(freshCutoff):
			p.Fresh = append(p.Fresh, id)
		case row.LastCreated.After(cooldownCutoff):
			p.Cooling = append(p.Cooling, id)
		default:
			p.Scrapeable = append(p.Scrapeable, id)
		}
	}
	return p, nil
}

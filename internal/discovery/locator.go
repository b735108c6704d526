package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/fetcher"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

// Locator finds a chain's physical stores near a ZIP code
type Locator interface {
	Chain() domain.Chain

	// FindStores returns the chain's stores near the ZIP, unpersisted.
	// ExternalStoreID must be set on every returned store.
	FindStores(ctx context.Context, zip string) ([]schema.Store, error)
}

// StoreFieldMap names the JSON keys carrying each store field inside one
// locator result item. Empty keys are not read.
type StoreFieldMap struct {
	ExternalID string
	Name       string
	Address    string
	City       string
	State      string
	Zip        string
	Latitude   string
	Longitude  string
}

// HTTPLocatorConfig describes one chain's store-locator endpoint
type HTTPLocatorConfig struct {
	Chain domain.Chain
	// Source is the fetcher source name carrying this chain's rate policy
	Source string
	// URL is the locator endpoint
	URL string
	// ZipParam is the query parameter carrying the ZIP code
	ZipParam string
	// ItemsPath leads to the store array in the response JSON
	ItemsPath []string
	Fields    StoreFieldMap
}

// httpLocator is a Locator backed by a chain's JSON store-locator endpoint
type httpLocator struct {
	cfg   HTTPLocatorConfig
	fetch fetcher.Fetcher
}

// NewHTTPLocator creates a Locator for a JSON locator endpoint
func NewHTTPLocator(cfg HTTPLocatorConfig, fetch fetcher.Fetcher) Locator {
	return &httpLocator{cfg: cfg, fetch: fetch}
}

func (l *httpLocator) Chain() domain.Chain {
	return l.cfg.Chain
}

func (l *httpLocator) FindStores(ctx context.Context, zip string) ([]schema.Store, error) {
	query := url.Values{}
	query.Set(l.cfg.ZipParam, zip)

	body, err := l.fetch.Fetch(ctx, l.cfg.Source, fetcher.Request{URL: l.cfg.URL, Query: query})
	if err != nil {
		return nil, fmt.Errorf("locator fetch for chain %s failed: %w", l.cfg.Chain, err)
	}
	return l.parse(body)
}

func (l *httpLocator) parse(payload []byte) ([]schema.Store, error) {
	var root interface{}
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("invalid locator JSON for chain %s: %w", l.cfg.Chain, err)
	}

	node := root
	for _, key := range l.cfg.ItemsPath {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("locator payload shape mismatch at key '%s'", key)
		}
		node = obj[key]
	}
	items, ok := node.([]interface{})
	if !ok {
		return nil, fmt.Errorf("locator store array not found for chain %s", l.cfg.Chain)
	}

	stores := make([]schema.Store, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		s := schema.Store{
			Chain:           l.cfg.Chain,
			ExternalStoreID: fieldString(item, l.cfg.Fields.ExternalID),
			Name:            fieldString(item, l.cfg.Fields.Name),
			Address:         fieldString(item, l.cfg.Fields.Address),
			City:            fieldString(item, l.cfg.Fields.City),
			State:           fieldString(item, l.cfg.Fields.State),
			Zip:             fieldString(item, l.cfg.Fields.Zip),
			Latitude:        fieldFloat(item, l.cfg.Fields.Latitude),
			Longitude:       fieldFloat(item, l.cfg.Fields.Longitude),
			Active:          true,
		}
		if s.ExternalStoreID == "" {
			continue
		}
		stores = append(stores, s)
	}
	return stores, nil
}

func fieldString(item map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	switch v := item[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func fieldFloat(item map[string]interface{}, key string) *float64 {
	if key == "" {
		return nil
	}
	switch v := item[key].(type) {
	case float64:
		return &v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// Package chains bundles the per-retailer wiring: which fetcher source, parse
// strategy, store locator and search endpoint each supported chain uses. The
// endpoint URLs and fetch policies come from configuration; the response
// shapes are fixed per retailer and live here.
package chains

import (
	"github.com/mygrocart/price-indexer/internal/config"
	"github.com/mygrocart/price-indexer/internal/discovery"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/extractor"
	"github.com/mygrocart/price-indexer/internal/fetcher"
	"github.com/mygrocart/price-indexer/internal/scrape"
)

// SearchSource is the fetcher source name for a chain's product search
func SearchSource(chain domain.Chain) string {
	return string(chain) + "-search"
}

// LocatorSource is the fetcher source name for a chain's store locator
func LocatorSource(chain domain.Chain) string {
	return string(chain) + "-locator"
}

// FetcherSources builds one fetcher source per chain endpoint, carrying that
// chain's rate policy from configuration
func FetcherSources(cfgs map[string]config.ChainConfig) []fetcher.Source {
	var sources []fetcher.Source
	for _, chain := range domain.SupportedChains {
		cfg := cfgs[string(chain)]
		for _, name := range []string{SearchSource(chain), LocatorSource(chain)} {
			sources = append(sources, fetcher.Source{
				Name:             name,
				MinInterval:      cfg.MinInterval,
				Timeout:          cfg.Timeout,
				RotateUserAgent:  cfg.RotateUserAgent,
				MinResponseBytes: cfg.MinResponseBytes,
			})
		}
	}
	return sources
}

// RegisterStrategies registers every chain's parse strategy with the
// extractor. ShopRite, Acme and Walmart expose JSON search APIs; Target's
// search results are scraped from product-tile markup.
func RegisterStrategies(ext *extractor.Extractor) {
	ext.Register(SearchSource(domain.ChainShopRite), extractor.NewJSONStrategy(extractor.JSONStrategyConfig{
		ItemsPath: []string{"items"},
		Fields: extractor.JSONFieldMap{
			Name:       "name",
			Brand:      "brand",
			Size:       "size",
			Price:      "price",
			SalePrice:  "sale_price",
			Identifier: "upc",
			ImageURL:   "image_url",
			Category:   "category",
		},
	}))

	ext.Register(SearchSource(domain.ChainAcme), extractor.NewJSONStrategy(extractor.JSONStrategyConfig{
		ItemsPath: []string{"response", "docs"},
		Fields: extractor.JSONFieldMap{
			Name:       "name",
			Brand:      "brandName",
			Size:       "unitQuantity",
			Price:      "basePrice",
			SalePrice:  "salePrice",
			Identifier: "upc",
			ImageURL:   "imageUrl",
			Category:   "departmentName",
		},
	}))

	ext.Register(SearchSource(domain.ChainWalmart), extractor.NewJSONStrategy(extractor.JSONStrategyConfig{
		ItemsPath: []string{"data", "search", "items"},
		Fields: extractor.JSONFieldMap{
			Name:       "title",
			Brand:      "brand",
			Price:      "price",
			SalePrice:  "specialPrice",
			Identifier: "upc",
			ImageURL:   "thumbnailUrl",
			Category:   "category",
		},
	}))

	ext.Register(SearchSource(domain.ChainTarget), extractor.NewHTMLStrategy(extractor.HTMLStrategyConfig{
		ItemSelector:      "[data-test=product-card]",
		NameSelector:      "[data-test=product-title]",
		BrandSelector:     "[data-test=product-brand]",
		PriceSelector:     "[data-test=current-price]",
		SalePriceSelector: "[data-test=sale-price]",
		IdentifierAttr:    "data-tcin",
		ImageSelector:     "img",
		CategorySelector:  "[data-test=breadcrumb]",
	}))
}

// Locators builds a store locator per chain that has one configured
func Locators(cfgs map[string]config.ChainConfig, fetch fetcher.Fetcher) []discovery.Locator {
	fields := map[domain.Chain]struct {
		itemsPath []string
		fieldMap  discovery.StoreFieldMap
	}{
		domain.ChainShopRite: {
			itemsPath: []string{"stores"},
			fieldMap: discovery.StoreFieldMap{
				ExternalID: "store_id",
				Name:       "name",
				Address:    "address",
				City:       "city",
				State:      "state",
				Zip:        "zip",
				Latitude:   "latitude",
				Longitude:  "longitude",
			},
		},
		domain.ChainAcme: {
			itemsPath: []string{"stores"},
			fieldMap: discovery.StoreFieldMap{
				ExternalID: "storeId",
				Name:       "storeName",
				Address:    "addressLine1",
				City:       "city",
				State:      "state",
				Zip:        "zipCode",
				Latitude:   "lat",
				Longitude:  "lng",
			},
		},
		domain.ChainWalmart: {
			itemsPath: []string{"payload", "stores"},
			fieldMap: discovery.StoreFieldMap{
				ExternalID: "id",
				Name:       "displayName",
				Address:    "address",
				City:       "city",
				State:      "stateProvCode",
				Zip:        "postalCode",
				Latitude:   "latitude",
				Longitude:  "longitude",
			},
		},
		domain.ChainTarget: {
			itemsPath: []string{"locations"},
			fieldMap: discovery.StoreFieldMap{
				ExternalID: "location_id",
				Name:       "location_name",
				Address:    "address_line1",
				City:       "city",
				State:      "region",
				Zip:        "postal_code",
				Latitude:   "latitude",
				Longitude:  "longitude",
			},
		},
	}

	var locators []discovery.Locator
	for _, chain := range domain.SupportedChains {
		cfg := cfgs[string(chain)]
		if cfg.LocatorURL == "" {
			continue
		}
		shape := fields[chain]
		locators = append(locators, discovery.NewHTTPLocator(discovery.HTTPLocatorConfig{
			Chain:     chain,
			Source:    LocatorSource(chain),
			URL:       cfg.LocatorURL,
			ZipParam:  cfg.ZipParam,
			ItemsPath: shape.itemsPath,
			Fields:    shape.fieldMap,
		}, fetch))
	}
	return locators
}

// Searches builds a scrape search endpoint per chain that has one configured
func Searches(cfgs map[string]config.ChainConfig) []scrape.ChainSearch {
	var searches []scrape.ChainSearch
	for _, chain := range domain.SupportedChains {
		cfg := cfgs[string(chain)]
		if cfg.SearchURL == "" {
			continue
		}
		searches = append(searches, scrape.ChainSearch{
			Chain:      chain,
			Source:     SearchSource(chain),
			URL:        cfg.SearchURL,
			QueryParam: cfg.QueryParam,
			StoreParam: cfg.StoreParam,
		})
	}
	return searches
}

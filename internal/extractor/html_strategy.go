package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mygrocart/price-indexer/internal/domain"
)

// HTMLStrategyConfig holds the CSS selectors for one source's product grid.
// ItemSelector scopes one product tile; the rest select within a tile.
// Empty selectors are simply not read.
type HTMLStrategyConfig struct {
	ItemSelector  string
	NameSelector  string
	BrandSelector string
	SizeSelector  string
	PriceSelector string
	// SalePriceSelector, when it matches, overrides PriceSelector and tags
	// the observation as a sale price
	SalePriceSelector string
	// IdentifierAttr reads the identifier from an attribute on the tile
	// element itself (e.g. "data-sku")
	IdentifierAttr string
	ImageSelector  string
	// ImageAttr defaults to "src"
	ImageAttr        string
	CategorySelector string
}

// htmlStrategy parses sources that only render product data as server-side
// HTML, scoped per product tile via CSS selectors
type htmlStrategy struct {
	cfg HTMLStrategyConfig
}

// NewHTMLStrategy creates a Strategy for HTML payloads
func NewHTMLStrategy(cfg HTMLStrategyConfig) Strategy {
	if cfg.ImageAttr == "" {
		cfg.ImageAttr = "src"
	}
	return &htmlStrategy{cfg: cfg}
}

func (s *htmlStrategy) Parse(payload []byte) ([]Observation, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid HTML: %w", err)
	}

	var observations []Observation
	doc.Find(s.cfg.ItemSelector).Each(func(_ int, tile *goquery.Selection) {
		obs := Observation{
			Name:     selectorText(tile, s.cfg.NameSelector),
			Brand:    selectorText(tile, s.cfg.BrandSelector),
			Size:     selectorText(tile, s.cfg.SizeSelector),
			Category: selectorText(tile, s.cfg.CategorySelector),
		}

		obs.Price = selectorText(tile, s.cfg.PriceSelector)
		if sale := selectorText(tile, s.cfg.SalePriceSelector); sale != "" {
			obs.Price = sale
			obs.DealType = domain.DealTypeSale
		}

		if s.cfg.IdentifierAttr != "" {
			obs.Identifier, _ = tile.Attr(s.cfg.IdentifierAttr)
		}
		if s.cfg.ImageSelector != "" {
			obs.ImageURL, _ = tile.Find(s.cfg.ImageSelector).First().Attr(s.cfg.ImageAttr)
		}

		observations = append(observations, obs)
	})
	return observations, nil
}

func selectorText(scope *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(scope.Find(selector).First().Text())
}

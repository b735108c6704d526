package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mygrocart/price-indexer/internal/domain"
)

// JSONFieldMap names the keys carrying each product field inside one item
// object. Empty keys are simply not read.
type JSONFieldMap struct {
	Name       string
	Brand      string
	Size       string
	Price      string
	SalePrice  string
	Identifier string
	ImageURL   string
	Category   string
}

// JSONStrategyConfig describes where product items live inside a source's
// JSON payload and how their fields are keyed
type JSONStrategyConfig struct {
	// ItemsPath is the sequence of object keys leading to the item array,
	// e.g. ["data", "search", "products"]
	ItemsPath []string
	Fields    JSONFieldMap
}

// jsonStrategy parses sources that embed product state as JSON, either as an
// API response body or as a state blob lifted out of a page
type jsonStrategy struct {
	cfg JSONStrategyConfig
}

// NewJSONStrategy creates a Strategy for JSON payloads
func NewJSONStrategy(cfg JSONStrategyConfig) Strategy {
	return &jsonStrategy{cfg: cfg}
}

func (s *jsonStrategy) Parse(payload []byte) ([]Observation, error) {
	var root interface{}
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	items, err := walkToItems(root, s.cfg.ItemsPath)
	if err != nil {
		return nil, err
	}

	observations := make([]Observation, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		obs := Observation{
			Name:       stringField(item, s.cfg.Fields.Name),
			Brand:      stringField(item, s.cfg.Fields.Brand),
			Size:       stringField(item, s.cfg.Fields.Size),
			Identifier: stringField(item, s.cfg.Fields.Identifier),
			ImageURL:   stringField(item, s.cfg.Fields.ImageURL),
			Category:   stringField(item, s.cfg.Fields.Category),
		}

		obs.Price = stringField(item, s.cfg.Fields.Price)
		if sale := stringField(item, s.cfg.Fields.SalePrice); sale != "" {
			obs.Price = sale
			obs.DealType = domain.DealTypeSale
		}

		observations = append(observations, obs)
	}
	return observations, nil
}

// walkToItems descends the key path to the item array
func walkToItems(root interface{}, path []string) ([]interface{}, error) {
	node := root
	for _, key := range path {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("payload shape mismatch at key '%s'", key)
		}
		node = obj[key]
	}
	items, ok := node.([]interface{})
	if !ok {
		return nil, fmt.Errorf("item array not found at configured path")
	}
	return items, nil
}

// stringField reads a field as a string, rendering numeric values so price
// fields may be either "3.99" or 3.99 in the payload
func stringField(item map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	switch v := item[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

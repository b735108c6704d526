// Package extractor turns raw retailer payloads into normalized product
// observations. Parsing is strategy-driven per source; the post-processing
// contract (name cleaning, price normalization, brand/size backfill,
// identifier fallback) is shared and applies to every strategy's output.
package extractor

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/logger"
)

// Observation is one product as a strategy saw it, before post-processing.
// All fields are raw strings straight from the payload.
type Observation struct {
	Name       string
	Brand      string
	Size       string
	Price      string
	DealType   domain.DealType
	Identifier string
	ImageURL   string
	Category   string
}

// Strategy parses one source's payload format into raw observations
type Strategy interface {
	// Parse decodes the payload into raw observations. Entries that cannot
	// be parsed at all are skipped, not fatal.
	Parse(payload []byte) ([]Observation, error)
}

// Extractor dispatches payloads to per-source strategies and applies the
// shared post-processing contract to their output
type Extractor struct {
	strategies map[string]Strategy
}

// New creates an Extractor with an empty strategy registry
func New() *Extractor {
	return &Extractor{strategies: make(map[string]Strategy)}
}

// Register binds a strategy to a source identifier, replacing any previous
// binding for that source
func (e *Extractor) Register(source string, strategy Strategy) {
	e.strategies[source] = strategy
}

// Extract parses the payload with the source's registered strategy and
// post-processes every observation. Observations that end up without a usable
// name are dropped.
func (e *Extractor) Extract(source string, payload []byte) ([]domain.RawProduct, error) {
	strategy, ok := e.strategies[source]
	if !ok {
		return nil, fmt.Errorf("no extraction strategy registered for source '%s'", source)
	}

	observations, err := strategy.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", source, err)
	}

	products := make([]domain.RawProduct, 0, len(observations))
	dropped := 0
	for _, obs := range observations {
		product, ok := Finalize(source, obs)
		if !ok {
			dropped++
			continue
		}
		products = append(products, product)
	}

	if dropped > 0 {
		logger.Debug("Dropped unusable observations",
			zap.String("source", source),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(products)),
		)
	}
	return products, nil
}

// Finalize applies the post-processing contract to one observation: clean the
// name, normalize the price, backfill brand and size from the name when the
// source omitted them, and synthesize an identifier when the source provided
// none. Returns false when the observation has no usable name.
func Finalize(source string, obs Observation) (domain.RawProduct, bool) {
	name := CleanName(obs.Name)
	if name == "" {
		return domain.RawProduct{}, false
	}

	product := domain.RawProduct{
		Name:     name,
		Price:    NormalizePrice(obs.Price),
		DealType: obs.DealType,
	}
	if product.DealType == "" {
		product.DealType = domain.DealTypeRegular
	}

	if brand := strings.TrimSpace(obs.Brand); brand != "" {
		product.Brand = &brand
	} else {
		product.Brand = DeriveBrand(name)
	}

	if size := strings.TrimSpace(obs.Size); size != "" {
		product.Size = &size
	} else {
		product.Size = DeriveSize(name)
	}

	if id := strings.TrimSpace(obs.Identifier); id != "" {
		product.Identifier = id
	} else {
		product.Identifier = domain.SyntheticIdentifier(name, source)
	}

	if img := strings.TrimSpace(obs.ImageURL); img != "" {
		product.ImageURL = &img
	}
	if cat := strings.TrimSpace(obs.Category); cat != "" {
		product.Category = &cat
	}
	return product, true
}

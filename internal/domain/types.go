package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Chain identifies a supported grocery retail chain
type Chain string

const (
	ChainShopRite Chain = "shoprite"
	ChainAcme     Chain = "acme"
	ChainWalmart  Chain = "walmart"
	ChainTarget   Chain = "target"
)

// SupportedChains lists every chain the discovery and scrape pipeline knows about
var SupportedChains = []Chain{ChainShopRite, ChainAcme, ChainWalmart, ChainTarget}

// IsValidChain checks if a chain is supported
func IsValidChain(chain Chain) bool {
	for _, c := range SupportedChains {
		if c == chain {
			return true
		}
	}
	return false
}

// DealType tags how a price was offered at the store
type DealType string

const (
	DealTypeRegular   DealType = "regular"
	DealTypeSale      DealType = "sale"
	DealTypeClearance DealType = "clearance"
	DealTypeCoupon    DealType = "coupon"
)

// TriggerReason records why a scrape job was created
type TriggerReason string

const (
	TriggerUserSearch    TriggerReason = "user_search"
	TriggerWeeklyRefresh TriggerReason = "weekly_refresh"
	TriggerManual        TriggerReason = "manual"
)

// Priority is the scrape job priority tier. It affects queue ordering only;
// it never bypasses per-target dedup or the single-worker concurrency limit.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// IsValidPriority checks if a priority tier is known
func IsValidPriority(p Priority) bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// RawProduct is the normalized output of an Extractor: one observed product at
// one source. Name and Identifier are always set; everything else is
// best-effort. A nil Price means the observation cannot produce a price row.
type RawProduct struct {
	Name       string   `json:"name"`
	Brand      *string  `json:"brand,omitempty"`
	Size       *string  `json:"size,omitempty"`
	Price      *float64 `json:"price,omitempty"`
	DealType   DealType `json:"deal_type,omitempty"`
	Identifier string   `json:"identifier"`
	ImageURL   *string  `json:"image_url,omitempty"`
	Category   *string  `json:"category,omitempty"`
}

// TargetKey is the dedup key for scrape jobs: the unit of scrape work.
// Format: "zip:07001" or "store:42".
type TargetKey string

// NewZipTarget builds a target key for a ZIP-wide scrape
func NewZipTarget(zip string) TargetKey {
	return TargetKey("zip:" + zip)
}

// NewStoreTarget builds a target key for a single-store scrape
func NewStoreTarget(storeID int64) TargetKey {
	return TargetKey(fmt.Sprintf("store:%d", storeID))
}

func (t TargetKey) String() string {
	return string(t)
}

// Zip returns the ZIP code component of a zip-scoped target key, or "" when
// the target is store-scoped
func (t TargetKey) Zip() string {
	if rest, ok := strings.CutPrefix(string(t), "zip:"); ok {
		return rest
	}
	return ""
}

// Valid checks that a target key has a recognized scope prefix
func (t TargetKey) Valid() bool {
	return strings.HasPrefix(string(t), "zip:") || strings.HasPrefix(string(t), "store:")
}

var zipPattern = regexp.MustCompile(`^\d{5}$`)

// ValidZip checks a 5-digit US ZIP code
func ValidZip(zip string) bool {
	return zipPattern.MatchString(zip)
}

const (
	// MinRadiusMiles and MaxRadiusMiles bound the discovery search radius
	MinRadiusMiles = 1.0
	MaxRadiusMiles = 50.0

	// DefaultRadiusMiles is used when a search does not specify a radius
	DefaultRadiusMiles = 10.0

	// DefaultResultLimit caps the merged product list returned by a search
	DefaultResultLimit = 50
)

// SearchQuery is the Orchestrator's input contract
type SearchQuery struct {
	Query        string  `json:"query"`
	ZipCode      string  `json:"zip_code"`
	RadiusMiles  float64 `json:"radius_miles"`
	Limit        int     `json:"limit"`
	ForceRefresh bool    `json:"force_refresh"`
}

// Normalize applies defaults for unset optional fields
func (q *SearchQuery) Normalize() {
	if q.RadiusMiles == 0 {
		q.RadiusMiles = DefaultRadiusMiles
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = DefaultResultLimit
	}
	q.Query = strings.TrimSpace(q.Query)
}

// Validate rejects malformed input before any work is scheduled
func (q *SearchQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return ErrEmptyQuery
	}
	if !ValidZip(q.ZipCode) {
		return ErrInvalidZip
	}
	if q.RadiusMiles < MinRadiusMiles || q.RadiusMiles > MaxRadiusMiles {
		return ErrInvalidRadius
	}
	return nil
}

// ScrapeTask is the payload of one scrape job: refresh prices for the target
// by running the query against every eligible store the target covers
type ScrapeTask struct {
	Target       TargetKey     `json:"target"`
	Query        string        `json:"query"`
	Trigger      TriggerReason `json:"trigger"`
	Priority     Priority      `json:"priority"`
	ForceRefresh bool          `json:"force_refresh"`
}

// PricedProduct is one merged search result: a catalog product with its
// current price at a specific store
type PricedProduct struct {
	Identifier  string    `json:"identifier"`
	Name        string    `json:"name"`
	Brand       *string   `json:"brand,omitempty"`
	Size        *string   `json:"size,omitempty"`
	Category    *string   `json:"category,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
	Price       float64   `json:"price"`
	DealType    DealType  `json:"deal_type"`
	StoreID     int64     `json:"store_id"`
	StoreName   string    `json:"store_name"`
	Chain       Chain     `json:"chain"`
	LastUpdated time.Time `json:"last_updated"`
	Fresh       bool      `json:"fresh"`
}

// SearchResult is the Orchestrator's output contract, including the metadata
// the UI uses to set expectations
type SearchResult struct {
	Products           []PricedProduct `json:"products"`
	FreshData          bool            `json:"fresh_data"`
	CacheHit           bool            `json:"cache_hit"`
	StoresSearched     int             `json:"stores_searched"`
	StoresScraped      int             `json:"stores_scraped"`
	PossiblyIncomplete bool            `json:"possibly_incomplete"`
}

// SyntheticIDPrefix marks identifiers synthesized by the extractor when a
// source provides no barcode or SKU. Synthetic identifiers are lower-trust
// and eligible for replacement once enrichment discovers a real barcode.
const SyntheticIDPrefix = "MGC-"

// SyntheticIdentifier derives a deterministic pseudo-identifier from a cleaned
// product name and its source. The same observation always maps to the same
// identifier so repeated scrapes collide instead of duplicating products.
func SyntheticIdentifier(cleanedName string, source string) string {
	sum := sha1.Sum([]byte(strings.ToLower(cleanedName) + "|" + source))
	return SyntheticIDPrefix + hex.EncodeToString(sum[:8])
}

// IsSyntheticIdentifier reports whether an identifier was synthesized rather
// than sourced from a real barcode/SKU
func IsSyntheticIdentifier(id string) bool {
	return strings.HasPrefix(id, SyntheticIDPrefix)
}

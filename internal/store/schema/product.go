package schema

import "time"

// Product represents the products table - one catalog item, canonical across
// all stores and chains. Identity is the primary identifier (a real barcode
// when known, or a synthetic pseudo-identifier). Rows are never deleted and
// identifiers are never reused.
type Product struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Identifier is the primary product identifier (barcode/UPC or synthetic)
	Identifier string `gorm:"column:identifier;not null;uniqueIndex;type:text"`
	// Name is the cleaned display name
	Name string `gorm:"column:name;not null;type:text;index:idx_products_name"`
	// Brand is nil when no brand could be determined
	Brand *string `gorm:"column:brand;type:text"`
	// Size is the size/quantity string (e.g. "10 oz")
	Size *string `gorm:"column:size;type:text"`
	// Category is a coarse catalog category
	Category *string `gorm:"column:category;type:text"`
	// ImageURL points at product imagery when a source supplied one
	ImageURL *string `gorm:"column:image_url;type:text"`
	// Enriched marks products whose fields were backfilled from a reference source
	Enriched bool `gorm:"column:enriched;not null;default:false"`
	// DiscoveryCount is the number of distinct stores that have reported a price
	DiscoveryCount int `gorm:"column:discovery_count;not null;default:0"`
	// LastPriceUpdate is the most recent price observation for this product
	LastPriceUpdate *time.Time `gorm:"column:last_price_update"`
	// CreatedAt is when this product was first observed
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`

	// Associations
	Prices []StorePrice `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Product model
func (Product) TableName() string {
	return "products"
}

// Completeness counts the non-null optional fields, used by the matcher
// tie-break which prefers the most complete record
func (p *Product) Completeness() int {
	n := 0
	if p.Brand != nil && *p.Brand != "" {
		n++
	}
	if p.Size != nil && *p.Size != "" {
		n++
	}
	if p.Category != nil && *p.Category != "" {
		n++
	}
	if p.ImageURL != nil && *p.ImageURL != "" {
		n++
	}
	return n
}

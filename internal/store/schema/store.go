package schema

import (
	"time"

	"github.com/mygrocart/price-indexer/internal/domain"
)

// Store represents the stores table - one physical retail location.
// Identity is (chain, external_store_id); stores are deactivated, never deleted.
type Store struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Chain is the retail chain this store belongs to
	Chain domain.Chain `gorm:"column:chain;not null;type:text;uniqueIndex:idx_stores_chain_external,priority:1"`
	// ExternalStoreID is the chain-assigned store identifier
	ExternalStoreID string `gorm:"column:external_store_id;not null;type:text;uniqueIndex:idx_stores_chain_external,priority:2"`
	// Name is the store's display name
	Name string `gorm:"column:name;not null;type:text"`
	// Address is the street address
	Address string `gorm:"column:address;type:text"`
	// City is the city name
	City string `gorm:"column:city;type:text"`
	// State is the two-letter state code
	State string `gorm:"column:state;type:text"`
	// Zip is the 5-digit ZIP code
	Zip string `gorm:"column:zip;not null;type:text;index:idx_stores_zip"`
	// Latitude is nil until geocoding resolves the location
	Latitude *float64 `gorm:"column:latitude"`
	// Longitude is nil until geocoding resolves the location
	Longitude *float64 `gorm:"column:longitude"`
	// Active is cleared instead of deleting the row when a store closes
	Active bool `gorm:"column:active;not null;default:true"`
	// CreatedAt is when this store was first discovered
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	// UpdatedAt is bumped on rediscovery
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`

	// Associations
	Prices []StorePrice `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Store model
func (Store) TableName() string {
	return "stores"
}

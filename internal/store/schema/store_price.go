package schema

import (
	"time"

	"github.com/mygrocart/price-indexer/internal/domain"
)

// StorePrice represents the store_prices table - the current price of one
// product at one store. Identity is (product_id, store_id): a new observation
// overwrites price/deal_type/last_updated, no history rows are kept.
type StorePrice struct {
	// ProductID references the catalog product
	ProductID int64 `gorm:"column:product_id;primaryKey;autoIncrement:false"`
	// StoreID references the physical store
	StoreID int64 `gorm:"column:store_id;primaryKey;autoIncrement:false;index:idx_store_prices_store"`
	// Price is the observed price, always >= 0
	Price float64 `gorm:"column:price;not null;check:price >= 0"`
	// DealType tags how the price was offered
	DealType domain.DealType `gorm:"column:deal_type;not null;type:text;default:regular"`
	// LastUpdated is bumped on every observation and drives freshness
	LastUpdated time.Time `gorm:"column:last_updated;not null;index:idx_store_prices_updated"`
	// CreatedAt is set once on the first observation and drives the cooldown
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`

	// Associations
	Product *Product `gorm:"foreignKey:ProductID"`
	Store   *Store   `gorm:"foreignKey:StoreID"`
}

// TableName specifies the table name for the StorePrice model
func (StorePrice) TableName() string {
	return "store_prices"
}

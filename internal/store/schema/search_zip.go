package schema

import "time"

// SearchZip represents the search_zips table - the set of ZIP codes with
// search activity. The weekly refresh sweep enumerates this table to keep
// price data from going stale in areas with active users.
type SearchZip struct {
	// Zip is the 5-digit ZIP code
	Zip string `gorm:"column:zip;primaryKey;type:text"`
	// SearchCount is the running number of searches from this ZIP
	SearchCount int64 `gorm:"column:search_count;not null;default:0"`
	// LastSearchedAt is the most recent search from this ZIP
	LastSearchedAt time.Time `gorm:"column:last_searched_at;not null"`
	// CreatedAt is when this ZIP was first seen
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

// TableName specifies the table name for the SearchZip model
func (SearchZip) TableName() string {
	return "search_zips"
}

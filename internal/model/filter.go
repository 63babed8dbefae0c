package model

import "time"

type Filter struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	AuthorID      int64     `json:"author_id"`
	ImagePath     string    `json:"image_path"`
	IsPublic      bool      `json:"is_public"`
	CategoryID    *int64    `json:"category_id"`
	SubCategoryID *int64    `json:"sub_category_id"`
	SortOrder     int       `json:"sort_order"`
	ExportCount   int64     `json:"export_count"`
	Popularity    int64     `json:"popularity"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Items is populated on single-filter reads; list queries leave it nil.
	Items []FilterItem `json:"items,omitempty"`
}

// FilterItem is one row of a filter: either a concrete game item or a whole
// game item category, never both, plus its conveyor thresholds.
type FilterItem struct {
	ID              int64  `json:"id"`
	FilterID        int64  `json:"filter_id"`
	ItemID          *int64 `json:"item_id"`
	CategoryID      *int64 `json:"category_id"`
	MaxThreshold    int    `json:"max_threshold"`
	BufferThreshold int    `json:"buffer_threshold"`
	MinThreshold    int    `json:"min_threshold"`
	SortOrder       int    `json:"sort_order"`
}

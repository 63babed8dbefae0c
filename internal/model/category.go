package model

import "time"

// UserCategory is a top-level, user-owned category for organizing filters.
type UserCategory struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubCategory is the second (and last) level of the hierarchy. ParentID
// points at a UserCategory owned by the same user.
type SubCategory struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ParentID  int64     `json:"parent_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CategoryNode is one top-level entry of the assembled hierarchy.
type CategoryNode struct {
	Category      UserCategory      `json:"category"`
	Filters       []Filter          `json:"filters"`
	SubCategories []SubCategoryNode `json:"sub_categories"`
}

// SubCategoryNode is a subcategory with its ordered filters.
type SubCategoryNode struct {
	SubCategory SubCategory `json:"sub_category"`
	Filters     []Filter    `json:"filters"`
}

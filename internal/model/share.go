package model

import "time"

// ShareToken is a user's opaque capability string. At most one non-revoked
// token exists per user; revocation reissues a fresh string and carries
// existing grants over to it.
type ShareToken struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Token     string    `json:"token"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// SharedFilter records that a sender granted one filter to the holder of a
// share token.
type SharedFilter struct {
	ID           int64     `json:"id"`
	FilterID     int64     `json:"filter_id"`
	ShareTokenID int64     `json:"share_token_id"`
	SenderID     int64     `json:"sender_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ShareCategoryResult reports partial-success counts for a bulk share.
type ShareCategoryResult struct {
	TotalFilters  int `json:"total_filters"`
	SharedCount   int `json:"shared_count"`
	AlreadyShared int `json:"already_shared_count"`
}

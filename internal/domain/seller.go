package domain

import (
	"time"
)

// Seller is an anonymous marketplace seller identified by a device cookie.
type Seller struct {
	SellerID    string    `json:"seller_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListingStatus is the lifecycle state of a persisted listing.
type ListingStatus string

const (
	ListingDraft    ListingStatus = "draft"
	ListingActive   ListingStatus = "active"
	ListingSold     ListingStatus = "sold"
	ListingInactive ListingStatus = "inactive"
)

// Listing is a persisted marketplace listing.
type Listing struct {
	ListingID string        `json:"listing_id"`
	SellerID  string        `json:"seller_id"`
	Product   ProductDraft  `json:"product"`
	Status    ListingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
